package store

import (
	"context"
	"testing"
	"time"

	"github.com/somnialabs/somnia/backend/internal/dreams"
	"github.com/somnialabs/somnia/backend/internal/tables"
)

func waitForDreamCount(t *testing.T, store *DreamStore, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if len(store.Dreams()) == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected %d dreams, got %d", want, len(store.Dreams()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAddDreamAssignsIdentifierAndDefaults(t *testing.T) {
	store := NewDreamStore(DreamStoreConfig{})

	created, err := store.AddDream(context.Background(), dreams.Dream{
		UserID:   "1",
		Content:  "a hallway of doors",
		Likes:    -5,
		Comments: -2,
	})
	if err != nil {
		t.Fatalf("failed to add dream: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected an assigned identifier")
	}
	if created.Likes != 0 || created.Comments != 0 {
		t.Fatalf("expected counters clamped to zero, got %d/%d", created.Likes, created.Comments)
	}
	if created.Privacy != dreams.PrivacyPublic {
		t.Fatalf("expected public default, got %s", created.Privacy)
	}
	if created.CreatedAt.IsZero() {
		t.Fatal("expected a creation timestamp")
	}

	rows := store.Dreams()
	if len(rows) != 1 || rows[0].ID != created.ID {
		t.Fatalf("expected the dream cached at the head, got %#v", rows)
	}
}

func TestAddDreamKeepsProvidedIdentifier(t *testing.T) {
	store := NewDreamStore(DreamStoreConfig{})

	created, err := store.AddDream(context.Background(), dreams.Dream{
		ID:      "dream-fixed",
		UserID:  "1",
		Content: "same id in and out",
	})
	if err != nil {
		t.Fatalf("failed to add dream: %v", err)
	}
	if created.ID != "dream-fixed" {
		t.Fatalf("expected identifier preserved, got %s", created.ID)
	}
}

func TestAddDreamPrependsNewest(t *testing.T) {
	store := NewDreamStore(DreamStoreConfig{})
	ctx := context.Background()

	if _, err := store.AddDream(ctx, dreams.Dream{ID: "first", UserID: "1", Content: "one"}); err != nil {
		t.Fatalf("failed to add: %v", err)
	}
	if _, err := store.AddDream(ctx, dreams.Dream{ID: "second", UserID: "1", Content: "two"}); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	rows := store.Dreams()
	if rows[0].ID != "second" || rows[1].ID != "first" {
		t.Fatalf("expected newest first, got %s then %s", rows[0].ID, rows[1].ID)
	}
}

func TestLikeDreamIncrementsByOne(t *testing.T) {
	store := NewDreamStore(DreamStoreConfig{})
	ctx := context.Background()

	if _, err := store.AddDream(ctx, dreams.Dream{ID: "dream-1", UserID: "1", Content: "x"}); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	if err := store.LikeDream(ctx, "dream-1"); err != nil {
		t.Fatalf("failed to like: %v", err)
	}
	if err := store.LikeDream(ctx, "dream-unknown"); err != nil {
		t.Fatalf("expected unknown id to be a no-op: %v", err)
	}

	dream, found := store.Get("dream-1")
	if !found {
		t.Fatal("expected dream cached")
	}
	if dream.Likes != 1 {
		t.Fatalf("expected exactly one like, got %d", dream.Likes)
	}
}

func TestGetVisibleDreamsHonorsPrivacy(t *testing.T) {
	store := NewDreamStore(DreamStoreConfig{})
	ctx := context.Background()

	entries := []dreams.Dream{
		{ID: "public-a", UserID: "A", Content: "a", Privacy: dreams.PrivacyPublic},
		{ID: "private-b", UserID: "B", Content: "b", Privacy: dreams.PrivacyPrivate},
		{ID: "anon-b", UserID: "B", Content: "b2", Privacy: dreams.PrivacyAnonymous},
	}
	for _, entry := range entries {
		if _, err := store.AddDream(ctx, entry); err != nil {
			t.Fatalf("failed to add %s: %v", entry.ID, err)
		}
	}

	anonymous := store.GetVisibleDreams("")
	if len(anonymous) != 1 || anonymous[0].ID != "public-a" {
		t.Fatalf("expected only the public dream without a viewer, got %#v", anonymous)
	}

	asOwner := store.GetVisibleDreams("B")
	if len(asOwner) != 3 {
		t.Fatalf("expected the owner to see all three, got %d", len(asOwner))
	}

	asOther := store.GetVisibleDreams("A")
	if len(asOther) != 1 || asOther[0].ID != "public-a" {
		t.Fatalf("expected an unrelated viewer to see only public, got %#v", asOther)
	}
}

func TestUpdateAndDeleteDream(t *testing.T) {
	store := NewDreamStore(DreamStoreConfig{})
	ctx := context.Background()

	if _, err := store.AddDream(ctx, dreams.Dream{ID: "dream-1", UserID: "1", Content: "before"}); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	updated := dreams.Dream{ID: "dream-1", UserID: "1", Content: "after", Privacy: dreams.PrivacyPublic}
	if err := store.UpdateDream(ctx, updated); err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	dream, _ := store.Get("dream-1")
	if dream.Content != "after" {
		t.Fatalf("expected updated content, got %q", dream.Content)
	}

	if err := store.DeleteDream(ctx, "dream-1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, found := store.Get("dream-1"); found {
		t.Fatal("expected dream removed")
	}
	if err := store.DeleteDream(ctx, "dream-1"); err != nil {
		t.Fatalf("expected repeat delete to be a no-op: %v", err)
	}
}

func TestDreamStoreAppliesFeedEvents(t *testing.T) {
	feed := tables.NewFeed()
	store := NewDreamStore(DreamStoreConfig{Feed: feed})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)

	// Give the subscription a moment to register.
	time.Sleep(20 * time.Millisecond)

	row := dreams.Dream{ID: "dream-1", UserID: "1", Content: "from the feed", Privacy: dreams.PrivacyPublic}
	feed.Publish(tables.NewEvent(tables.TableDreams, tables.EventInsert, row, nil))
	waitForDreamCount(t, store, 1)

	row.Content = "updated on the feed"
	feed.Publish(tables.NewEvent(tables.TableDreams, tables.EventUpdate, row, nil))
	deadline := time.After(time.Second)
	for {
		dream, _ := store.Get("dream-1")
		if dream.Content == "updated on the feed" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected feed update applied, got %q", dream.Content)
		case <-time.After(5 * time.Millisecond):
		}
	}

	feed.Publish(tables.NewEvent(tables.TableDreams, tables.EventDelete, nil, row))
	waitForDreamCount(t, store, 0)
}

func TestDreamStoreAppliesEventsPublishedBeforeRun(t *testing.T) {
	feed := tables.NewFeed()
	store := NewDreamStore(DreamStoreConfig{Feed: feed})

	// The subscription exists from construction, so this event waits in
	// the buffer until the loop starts.
	row := dreams.Dream{ID: "dream-early", UserID: "1", Content: "published first", Privacy: dreams.PrivacyPublic}
	feed.Publish(tables.NewEvent(tables.TableDreams, tables.EventInsert, row, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)

	waitForDreamCount(t, store, 1)
	if dream, _ := store.Get("dream-early"); dream.Content != "published first" {
		t.Fatalf("unexpected cached row %#v", dream)
	}
}

func TestDreamStoreFeedUpdateKeepsTagsAndAnalysis(t *testing.T) {
	feed := tables.NewFeed()
	store := NewDreamStore(DreamStoreConfig{Feed: feed})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)

	row := dreams.Dream{ID: "dream-1", UserID: "1", Content: "tagged", Privacy: dreams.PrivacyPublic}
	row.SetTags([]string{"flying"})
	row.SetAnalysis(dreams.Analysis{
		Symbols:        []string{"wings", "sky", "wind"},
		Interpretation: "freedom",
		Mood:           "peaceful",
		Themes:         []string{"escape", "height", "air"},
	})
	if _, err := store.AddDream(ctx, row); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	// A counter bump arrives as a full-row update, the way the backends
	// publish reloaded rows.
	bumped := row
	bumped.Comments = 1
	feed.Publish(tables.NewEvent(tables.TableDreams, tables.EventUpdate, bumped, nil))

	deadline := time.After(time.Second)
	for {
		dream, _ := store.Get("dream-1")
		if dream.Comments == 1 {
			if tags := dream.Tags(); len(tags) != 1 || tags[0] != "flying" {
				t.Fatalf("expected tags to survive the update, got %#v", tags)
			}
			if analysis := dream.Analysis(); analysis == nil || analysis.Mood != "peaceful" {
				t.Fatalf("expected analysis to survive the update, got %#v", analysis)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected the counter update applied, got %#v", dream)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// likeBackendStub confirms like increments and lets the test inject the
// matching feed event at a chosen point in the sequence.
type likeBackendStub struct {
	tables.Client
	count  int64
	onLike func(count int64)
}

func (s *likeBackendStub) IncrementDreamLikes(context.Context, string) (int64, error) {
	s.count++
	if s.onLike != nil {
		s.onLike(s.count)
	}
	return s.count, nil
}

func TestLikeDreamConvergesWhenFeedEventArrivesFirst(t *testing.T) {
	backend := &likeBackendStub{}
	store := NewDreamStore(DreamStoreConfig{Client: backend})

	seed := dreams.Dream{ID: "dream-1", UserID: "1", Content: "x", Privacy: dreams.PrivacyPublic}
	store.mu.Lock()
	store.applyInsert(seed)
	store.mu.Unlock()

	// The backend publishes the updated row before the local merge runs.
	backend.onLike = func(count int64) {
		updated := seed
		updated.Likes = count
		store.applyEvent(tables.NewEvent(tables.TableDreams, tables.EventUpdate, updated, nil))
	}

	if err := store.LikeDream(context.Background(), "dream-1"); err != nil {
		t.Fatalf("failed to like: %v", err)
	}
	if dream, _ := store.Get("dream-1"); dream.Likes != 1 {
		t.Fatalf("expected the event and the local merge to agree on one like, got %d", dream.Likes)
	}

	if err := store.LikeDream(context.Background(), "dream-1"); err != nil {
		t.Fatalf("failed to like: %v", err)
	}
	if dream, _ := store.Get("dream-1"); dream.Likes != 2 {
		t.Fatalf("expected two likes after the second call, got %d", dream.Likes)
	}
}

func TestLikeDreamConvergesWhenFeedEventArrivesAfter(t *testing.T) {
	backend := &likeBackendStub{}
	store := NewDreamStore(DreamStoreConfig{Client: backend})

	seed := dreams.Dream{ID: "dream-1", UserID: "1", Content: "x", Privacy: dreams.PrivacyPublic}
	store.mu.Lock()
	store.applyInsert(seed)
	store.mu.Unlock()

	if err := store.LikeDream(context.Background(), "dream-1"); err != nil {
		t.Fatalf("failed to like: %v", err)
	}
	updated := seed
	updated.Likes = 1
	store.applyEvent(tables.NewEvent(tables.TableDreams, tables.EventUpdate, updated, nil))

	if dream, _ := store.Get("dream-1"); dream.Likes != 1 {
		t.Fatalf("expected the late event to be a no-op, got %d likes", dream.Likes)
	}
}

func TestDreamStoreDropsMalformedAndDuplicateEvents(t *testing.T) {
	feed := tables.NewFeed()
	store := NewDreamStore(DreamStoreConfig{Feed: feed})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	feed.Publish(tables.Event{Table: tables.TableDreams, Type: tables.EventInsert, New: []byte("{not json")})
	feed.Publish(tables.NewEvent(tables.TableDreams, tables.EventInsert, dreams.Dream{ID: "  "}, nil))

	row := dreams.Dream{ID: "dream-1", UserID: "1", Content: "once"}
	feed.Publish(tables.NewEvent(tables.TableDreams, tables.EventInsert, row, nil))
	feed.Publish(tables.NewEvent(tables.TableDreams, tables.EventInsert, row, nil))

	waitForDreamCount(t, store, 1)
	time.Sleep(50 * time.Millisecond)
	if got := len(store.Dreams()); got != 1 {
		t.Fatalf("expected duplicate insert ignored, got %d rows", got)
	}
}

func TestDreamStoreStats(t *testing.T) {
	store := NewDreamStore(DreamStoreConfig{})
	ctx := context.Background()

	first := dreams.Dream{ID: "dream-1", UserID: "1", Content: "a", Likes: 2, Comments: 1, Clarity: 8}
	first.SetTags([]string{"flying", "lucid"})
	second := dreams.Dream{ID: "dream-2", UserID: "2", Content: "b", Likes: 1, Clarity: 4}
	second.SetTags([]string{"flying"})
	for _, entry := range []dreams.Dream{first, second} {
		if _, err := store.AddDream(ctx, entry); err != nil {
			t.Fatalf("failed to add %s: %v", entry.ID, err)
		}
	}

	stats := store.Stats()
	if stats.TotalDreams != 2 {
		t.Fatalf("expected 2 dreams, got %d", stats.TotalDreams)
	}
	if stats.TotalLikes != 3 {
		t.Fatalf("expected 3 likes, got %d", stats.TotalLikes)
	}
	if stats.TotalComments != 1 {
		t.Fatalf("expected 1 comment, got %d", stats.TotalComments)
	}
	if stats.AverageClarity != 6 {
		t.Fatalf("expected mean clarity 6, got %v", stats.AverageClarity)
	}
	if stats.TagCounts["flying"] != 2 || stats.TagCounts["lucid"] != 1 {
		t.Fatalf("unexpected tag counts %#v", stats.TagCounts)
	}
}
