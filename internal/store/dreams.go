package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/somnialabs/somnia/backend/internal/dreams"
	"github.com/somnialabs/somnia/backend/internal/tables"
	"go.uber.org/zap"
)

const (
	opAddDream    = "dreams.add"
	opLikeDream   = "dreams.like"
	opUpdateDream = "dreams.update"
	opDeleteDream = "dreams.delete"
	opRefreshFeed = "dreams.refresh"
)

// DreamStoreConfig bundles the dependencies of a DreamStore.
// Client is optional: without it the store runs pure-local, which is
// what the demo mode and most tests use.
type DreamStoreConfig struct {
	Client     tables.Client
	Feed       *tables.Feed
	IDProvider dreams.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// DreamStore caches the session's view of the dreams table, newest
// first. Direct mutations and feed reconciliation share the same merge
// functions, so both paths converge on identical state.
type DreamStore struct {
	mu      sync.RWMutex
	rows    []dreams.Dream
	lastErr error

	client      tables.Client
	events      <-chan tables.Event
	unsubscribe func()
	idProvider  dreams.IDProvider
	clock       func() time.Time
	logger      *zap.Logger
}

// NewDreamStore constructs a DreamStore.
func NewDreamStore(cfg DreamStoreConfig) *DreamStore {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = dreams.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &DreamStore{
		client:     cfg.Client,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
	}
	// The subscription is taken here rather than in Run so events
	// published between construction and the Run goroutine starting
	// are buffered, not lost.
	if cfg.Feed != nil {
		store.events, store.unsubscribe = cfg.Feed.Subscribe(context.Background(), tables.TableDreams)
	}
	return store
}

// Run consumes the dreams change feed until the context is done.
// Feed events apply in arrival order through the same merge functions
// used by direct mutations.
func (s *DreamStore) Run(ctx context.Context) {
	if s.events == nil {
		return
	}
	defer s.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.events:
			if !ok {
				return
			}
			s.applyEvent(event)
		}
	}
}

// Refresh replaces the cached rows with the backend's current state.
func (s *DreamStore) Refresh(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	rows, err := s.client.ListDreams(ctx, tables.DreamFilter{})
	if err != nil {
		wrapped := remoteErr(opRefreshFeed, err)
		s.setErr(wrapped)
		return wrapped
	}
	s.mu.Lock()
	s.rows = rows
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// AddDream inserts a dream at the head of the cache, assigning an
// identifier when absent and defaulting counters to zero. With a
// backend configured the row is created remotely first and the
// acknowledged row is merged, so a racing feed insert cannot
// duplicate it.
func (s *DreamStore) AddDream(ctx context.Context, dream dreams.Dream) (dreams.Dream, error) {
	if dream.ID == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.setErr(err)
			return dreams.Dream{}, err
		}
		dream.ID = id
	}
	if dream.Likes < 0 {
		dream.Likes = 0
	}
	if dream.Comments < 0 {
		dream.Comments = 0
	}
	if dream.Privacy == "" {
		dream.Privacy = dreams.PrivacyPublic
	}
	if dream.CreatedAt.IsZero() {
		dream.CreatedAt = s.clock().UTC()
	}
	if dream.TagsJSON == "" {
		dream.SetTags(nil)
	}

	if s.client != nil {
		created, err := s.client.InsertDream(ctx, dream)
		if err != nil {
			wrapped := remoteErr(opAddDream, err)
			s.setErr(wrapped)
			return dreams.Dream{}, wrapped
		}
		dream = created
	}

	s.mu.Lock()
	s.applyInsert(dream)
	s.lastErr = nil
	s.mu.Unlock()
	return dream, nil
}

// LikeDream increments the matching dream's like counter by exactly
// one. An unknown identifier is a no-op, not an error. With a backend
// configured the increment is delegated so it stays atomic there, and
// the cache only advances toward the confirmed count; the feed event
// carrying the same state then applies as a no-op instead of a second
// bump.
func (s *DreamStore) LikeDream(ctx context.Context, id string) error {
	confirmed := int64(0)
	if s.client != nil {
		count, err := s.client.IncrementDreamLikes(ctx, id)
		if err != nil {
			wrapped := remoteErr(opLikeDream, err)
			s.setErr(wrapped)
			return wrapped
		}
		confirmed = count
	}
	s.mu.Lock()
	for index := range s.rows {
		if s.rows[index].ID != id {
			continue
		}
		if s.client == nil {
			s.rows[index].Likes++
		} else if confirmed > s.rows[index].Likes {
			s.rows[index].Likes = confirmed
		}
		break
	}
	s.mu.Unlock()
	return nil
}

// UpdateDream replaces the cached row matching the dream's identifier,
// leaving its position unchanged. Unknown identifiers are ignored.
func (s *DreamStore) UpdateDream(ctx context.Context, dream dreams.Dream) error {
	if s.client != nil {
		updated, err := s.client.UpdateDream(ctx, dream)
		if err != nil {
			wrapped := remoteErr(opUpdateDream, err)
			s.setErr(wrapped)
			return wrapped
		}
		dream = updated
	}
	s.mu.Lock()
	s.applyUpdate(dream)
	s.mu.Unlock()
	return nil
}

// DeleteDream removes the dream from the backend and the cache.
func (s *DreamStore) DeleteDream(ctx context.Context, id string) error {
	if s.client != nil {
		if err := s.client.DeleteDream(ctx, id); err != nil {
			wrapped := remoteErr(opDeleteDream, err)
			s.setErr(wrapped)
			return wrapped
		}
	}
	s.mu.Lock()
	s.applyDelete(id)
	s.mu.Unlock()
	return nil
}

// Dreams returns a snapshot of every cached dream, newest first.
func (s *DreamStore) Dreams() []dreams.Dream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]dreams.Dream, len(s.rows))
	copy(snapshot, s.rows)
	return snapshot
}

// GetVisibleDreams returns the dreams the viewer may see: public ones,
// plus the viewer's own regardless of privacy. Order is preserved.
// An empty viewer id yields public dreams only.
func (s *DreamStore) GetVisibleDreams(viewerID string) []dreams.Dream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	visible := make([]dreams.Dream, 0, len(s.rows))
	for _, dream := range s.rows {
		if dream.Privacy == dreams.PrivacyPublic {
			visible = append(visible, dream)
			continue
		}
		if viewerID != "" && dream.UserID == viewerID {
			visible = append(visible, dream)
		}
	}
	return visible
}

// Get returns the cached dream with the given identifier.
func (s *DreamStore) Get(id string) (dreams.Dream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, dream := range s.rows {
		if dream.ID == id {
			return dream, true
		}
	}
	return dreams.Dream{}, false
}

// Err returns the last error recorded by a store operation.
func (s *DreamStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Stats summarizes the cached dreams.
type Stats struct {
	TotalDreams    int            `json:"total_dreams"`
	TotalLikes     int64          `json:"total_likes"`
	TotalComments  int64          `json:"total_comments"`
	AverageClarity float64        `json:"average_clarity"`
	TagCounts      map[string]int `json:"tag_counts"`
}

// Stats computes aggregate figures over the cached dreams.
func (s *DreamStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{TagCounts: make(map[string]int)}
	var claritySum int64
	for _, dream := range s.rows {
		stats.TotalDreams++
		stats.TotalLikes += dream.Likes
		stats.TotalComments += dream.Comments
		claritySum += dream.Clarity
		for _, tag := range dream.Tags() {
			stats.TagCounts[tag]++
		}
	}
	if stats.TotalDreams > 0 {
		stats.AverageClarity = float64(claritySum) / float64(stats.TotalDreams)
	}
	return stats
}

func (s *DreamStore) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// applyEvent merges one feed event into the cache. Malformed payloads
// are dropped without error: reconciliation runs with no caller to
// report to.
func (s *DreamStore) applyEvent(event tables.Event) {
	switch event.Type {
	case tables.EventInsert, tables.EventUpdate:
		var row dreams.Dream
		if err := json.Unmarshal(event.New, &row); err != nil || strings.TrimSpace(row.ID) == "" {
			s.logger.Debug("dropping malformed dream event", zap.String("event_type", string(event.Type)))
			return
		}
		s.mu.Lock()
		if event.Type == tables.EventInsert {
			s.applyInsert(row)
		} else {
			s.applyUpdate(row)
		}
		s.mu.Unlock()
	case tables.EventDelete:
		var row dreams.Dream
		if err := json.Unmarshal(event.Old, &row); err != nil || strings.TrimSpace(row.ID) == "" {
			s.logger.Debug("dropping malformed dream event", zap.String("event_type", string(event.Type)))
			return
		}
		s.mu.Lock()
		s.applyDelete(row.ID)
		s.mu.Unlock()
	}
}

// applyInsert prepends the row unless the identifier is already
// cached; a duplicate insert is a no-op.
func (s *DreamStore) applyInsert(row dreams.Dream) {
	for _, existing := range s.rows {
		if existing.ID == row.ID {
			return
		}
	}
	s.rows = append([]dreams.Dream{row}, s.rows...)
}

// applyUpdate replaces the matching row in place; unknown identifiers
// are ignored.
func (s *DreamStore) applyUpdate(row dreams.Dream) {
	for index := range s.rows {
		if s.rows[index].ID == row.ID {
			s.rows[index] = row
			return
		}
	}
}

// applyDelete removes the matching row; unknown identifiers are
// ignored.
func (s *DreamStore) applyDelete(id string) {
	for index := range s.rows {
		if s.rows[index].ID == id {
			s.rows = append(s.rows[:index], s.rows[index+1:]...)
			return
		}
	}
}
