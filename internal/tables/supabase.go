package tables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/somnialabs/somnia/backend/internal/dreams"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
)

const (
	rpcIncrementDreamLikes    = "increment_dream_likes"
	rpcIncrementDreamComments = "increment_dream_comments"
	rpcIncrementCommentLikes  = "increment_comment_likes"
)

var (
	errMissingSupabaseURL = errors.New("tables: supabase url is required")
	errMissingSupabaseKey = errors.New("tables: supabase key is required")
	errRPCFailed          = errors.New("tables: rpc call failed")
)

// SupabaseClientConfig bundles the hosted backend credentials.
type SupabaseClientConfig struct {
	URL    string
	APIKey string
	Feed   *Feed
	Logger *zap.Logger
}

// SupabaseClient is the hosted table backend over PostgREST. Like
// increments go through rpc functions so they stay atomic on the
// database. Successful writes are announced on the in-process feed;
// the hosted change stream itself is not bridged.
type SupabaseClient struct {
	client *supabase.Client
	feed   *Feed
	logger *zap.Logger
}

// NewSupabaseClient constructs the hosted backend client.
func NewSupabaseClient(cfg SupabaseClientConfig) (*SupabaseClient, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errMissingSupabaseURL
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errMissingSupabaseKey
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("tables: supabase client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupabaseClient{
		client: client,
		feed:   cfg.Feed,
		logger: logger,
	}, nil
}

// Raw returns the underlying supabase client for auth integrations.
func (c *SupabaseClient) Raw() *supabase.Client {
	return c.client
}

func (c *SupabaseClient) publish(event Event) {
	if c.feed == nil {
		return
	}
	c.feed.Publish(event)
}

// dreamRow is the wire shape of a dreams row on the hosted backend,
// where tags and analysis are native JSON values.
type dreamRow struct {
	ID        string          `json:"id,omitempty"`
	UserID    string          `json:"user_id"`
	Content   string          `json:"content"`
	Tags      []string        `json:"tags"`
	Likes     int64           `json:"likes"`
	Comments  int64           `json:"comments"`
	Clarity   int64           `json:"clarity"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
	Privacy   string          `json:"privacy"`
	ImageURL  string          `json:"image_url,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

func toDreamRow(dream dreams.Dream) dreamRow {
	row := dreamRow{
		ID:        dream.ID,
		UserID:    dream.UserID,
		Content:   dream.Content,
		Tags:      dream.Tags(),
		Likes:     dream.Likes,
		Comments:  dream.Comments,
		Clarity:   dream.Clarity,
		Privacy:   string(dream.Privacy),
		ImageURL:  dream.ImageURL,
		CreatedAt: dream.CreatedAt,
	}
	if row.Tags == nil {
		row.Tags = []string{}
	}
	if strings.TrimSpace(dream.AnalysisJSON) != "" {
		row.Analysis = json.RawMessage(dream.AnalysisJSON)
	}
	return row
}

func (row dreamRow) toDream() dreams.Dream {
	dream := dreams.Dream{
		ID:        row.ID,
		UserID:    row.UserID,
		Content:   row.Content,
		Likes:     row.Likes,
		Comments:  row.Comments,
		Clarity:   row.Clarity,
		Privacy:   dreams.Privacy(row.Privacy),
		ImageURL:  row.ImageURL,
		CreatedAt: row.CreatedAt,
	}
	dream.SetTags(row.Tags)
	if len(row.Analysis) > 0 {
		dream.AnalysisJSON = string(row.Analysis)
	}
	return dream
}

// ListDreams returns dreams newest first, optionally narrowed by filter.
func (c *SupabaseClient) ListDreams(_ context.Context, filter DreamFilter) ([]dreams.Dream, error) {
	builder := c.client.From(TableDreams).
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false})
	if filter.UserID != "" {
		builder = builder.Eq("user_id", filter.UserID)
	}
	if filter.PublicOnly {
		builder = builder.Eq("privacy", string(dreams.PrivacyPublic))
	}
	var rows []dreamRow
	if _, err := builder.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("tables: list dreams: %w", err)
	}
	result := make([]dreams.Dream, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDream())
	}
	return result, nil
}

// InsertDream creates the row on the hosted backend and announces it.
func (c *SupabaseClient) InsertDream(_ context.Context, dream dreams.Dream) (dreams.Dream, error) {
	var created []dreamRow
	if _, err := c.client.From(TableDreams).
		Insert(toDreamRow(dream), false, "", "representation", "").
		ExecuteTo(&created); err != nil {
		return dreams.Dream{}, fmt.Errorf("tables: insert dream: %w", err)
	}
	if len(created) == 0 {
		return dreams.Dream{}, fmt.Errorf("tables: insert dream: empty response")
	}
	inserted := created[0].toDream()
	c.publish(NewEvent(TableDreams, EventInsert, inserted, nil))
	return inserted, nil
}

// UpdateDream replaces the stored row and announces the new state.
func (c *SupabaseClient) UpdateDream(_ context.Context, dream dreams.Dream) (dreams.Dream, error) {
	var updated []dreamRow
	if _, err := c.client.From(TableDreams).
		Update(toDreamRow(dream), "representation", "").
		Eq("id", dream.ID).
		ExecuteTo(&updated); err != nil {
		return dreams.Dream{}, fmt.Errorf("tables: update dream: %w", err)
	}
	if len(updated) == 0 {
		return dreams.Dream{}, fmt.Errorf("tables: update dream: no matching row")
	}
	result := updated[0].toDream()
	c.publish(NewEvent(TableDreams, EventUpdate, result, nil))
	return result, nil
}

// DeleteDream removes the row and announces the deletion.
func (c *SupabaseClient) DeleteDream(_ context.Context, id string) error {
	if _, _, err := c.client.From(TableDreams).
		Delete("", "").
		Eq("id", id).
		Execute(); err != nil {
		return fmt.Errorf("tables: delete dream: %w", err)
	}
	c.publish(NewEvent(TableDreams, EventDelete, nil, dreams.Dream{ID: id}))
	return nil
}

// IncrementDreamLikes delegates to the backend increment function and
// returns the confirmed count.
func (c *SupabaseClient) IncrementDreamLikes(ctx context.Context, id string) (int64, error) {
	return c.callIncrement(ctx, rpcIncrementDreamLikes, "dream_id", id)
}

// IncrementDreamComments delegates to the backend increment function
// and returns the confirmed count.
func (c *SupabaseClient) IncrementDreamComments(ctx context.Context, id string) (int64, error) {
	return c.callIncrement(ctx, rpcIncrementDreamComments, "dream_id", id)
}

// IncrementCommentLikes delegates to the increment_comment_likes
// function so concurrent likers never lose updates.
func (c *SupabaseClient) IncrementCommentLikes(ctx context.Context, id string) (int64, error) {
	return c.callIncrement(ctx, rpcIncrementCommentLikes, "comment_id", id)
}

// callIncrement invokes one of the counter functions. The functions
// return the new counter value, so an empty response means the call
// did not go through.
func (c *SupabaseClient) callIncrement(_ context.Context, name, param, id string) (int64, error) {
	response := c.client.Rpc(name, "", map[string]string{param: id})
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: %s", errRPCFailed, name)
	}
	count, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: unexpected response %q", errRPCFailed, name, response)
	}
	return count, nil
}

// ListComments returns one dream's comments newest first.
func (c *SupabaseClient) ListComments(_ context.Context, dreamID string) ([]dreams.Comment, error) {
	var rows []dreams.Comment
	if _, err := c.client.From(TableComments).
		Select("*", "", false).
		Eq("dream_id", dreamID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("tables: list comments: %w", err)
	}
	return rows, nil
}

// InsertComment creates the row; the owning dream's counter is bumped
// by a database trigger on the hosted backend.
func (c *SupabaseClient) InsertComment(_ context.Context, comment dreams.Comment) (dreams.Comment, error) {
	var created []dreams.Comment
	if _, err := c.client.From(TableComments).
		Insert(comment, false, "", "representation", "").
		ExecuteTo(&created); err != nil {
		return dreams.Comment{}, fmt.Errorf("tables: insert comment: %w", err)
	}
	if len(created) == 0 {
		return dreams.Comment{}, fmt.Errorf("tables: insert comment: empty response")
	}
	c.publish(NewEvent(TableComments, EventInsert, created[0], nil))
	return created[0], nil
}

// DeleteComment removes the row and announces the deletion.
func (c *SupabaseClient) DeleteComment(_ context.Context, id string) error {
	if _, _, err := c.client.From(TableComments).
		Delete("", "").
		Eq("id", id).
		Execute(); err != nil {
		return fmt.Errorf("tables: delete comment: %w", err)
	}
	c.publish(NewEvent(TableComments, EventDelete, nil, dreams.Comment{ID: id}))
	return nil
}

// ListProfiles returns every registered profile.
func (c *SupabaseClient) ListProfiles(_ context.Context) ([]dreams.Profile, error) {
	var rows []dreams.Profile
	if _, err := c.client.From(TableProfiles).
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("tables: list profiles: %w", err)
	}
	return rows, nil
}

// GetProfile returns one profile row by identifier.
func (c *SupabaseClient) GetProfile(_ context.Context, id string) (dreams.Profile, error) {
	var rows []dreams.Profile
	if _, err := c.client.From(TableProfiles).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows); err != nil {
		return dreams.Profile{}, fmt.Errorf("tables: get profile: %w", err)
	}
	if len(rows) == 0 {
		return dreams.Profile{}, fmt.Errorf("tables: get profile: not found")
	}
	return rows[0], nil
}

// InsertProfile persists a new profile row.
func (c *SupabaseClient) InsertProfile(_ context.Context, profile dreams.Profile) (dreams.Profile, error) {
	var created []dreams.Profile
	if _, err := c.client.From(TableProfiles).
		Insert(profile, false, "", "representation", "").
		ExecuteTo(&created); err != nil {
		return dreams.Profile{}, fmt.Errorf("tables: insert profile: %w", err)
	}
	if len(created) == 0 {
		return dreams.Profile{}, fmt.Errorf("tables: insert profile: empty response")
	}
	c.publish(NewEvent(TableProfiles, EventInsert, created[0], nil))
	return created[0], nil
}

// ListCollections returns one user's collections, oldest first.
func (c *SupabaseClient) ListCollections(_ context.Context, userID string) ([]dreams.Collection, error) {
	var rows []dreams.Collection
	if _, err := c.client.From(TableCollections).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("tables: list collections: %w", err)
	}
	return rows, nil
}

// InsertCollection persists a new collection row.
func (c *SupabaseClient) InsertCollection(_ context.Context, collection dreams.Collection) (dreams.Collection, error) {
	var created []dreams.Collection
	if _, err := c.client.From(TableCollections).
		Insert(collection, false, "", "representation", "").
		ExecuteTo(&created); err != nil {
		return dreams.Collection{}, fmt.Errorf("tables: insert collection: %w", err)
	}
	if len(created) == 0 {
		return dreams.Collection{}, fmt.Errorf("tables: insert collection: empty response")
	}
	c.publish(NewEvent(TableCollections, EventInsert, created[0], nil))
	return created[0], nil
}

// DeleteCollection removes the collection; join rows cascade on the
// hosted backend.
func (c *SupabaseClient) DeleteCollection(_ context.Context, id string) error {
	if _, _, err := c.client.From(TableCollections).
		Delete("", "").
		Eq("id", id).
		Execute(); err != nil {
		return fmt.Errorf("tables: delete collection: %w", err)
	}
	c.publish(NewEvent(TableCollections, EventDelete, nil, dreams.Collection{ID: id}))
	return nil
}

// AddDreamToCollection records the join with its addition time.
func (c *SupabaseClient) AddDreamToCollection(_ context.Context, collectionID, dreamID string, addedAt time.Time) error {
	join := dreams.CollectionDream{
		CollectionID: collectionID,
		DreamID:      dreamID,
		AddedAt:      addedAt,
	}
	if _, _, err := c.client.From(TableCollectionDreams).
		Insert(join, true, "collection_id,dream_id", "", "").
		Execute(); err != nil {
		return fmt.Errorf("tables: add dream to collection: %w", err)
	}
	c.publish(NewEvent(TableCollectionDreams, EventInsert, join, nil))
	return nil
}

// RemoveDreamFromCollection drops the join row.
func (c *SupabaseClient) RemoveDreamFromCollection(_ context.Context, collectionID, dreamID string) error {
	if _, _, err := c.client.From(TableCollectionDreams).
		Delete("", "").
		Eq("collection_id", collectionID).
		Eq("dream_id", dreamID).
		Execute(); err != nil {
		return fmt.Errorf("tables: remove dream from collection: %w", err)
	}
	c.publish(NewEvent(TableCollectionDreams, EventDelete, nil, dreams.CollectionDream{CollectionID: collectionID, DreamID: dreamID}))
	return nil
}

// ListCollectionDreams returns the join rows for one collection.
func (c *SupabaseClient) ListCollectionDreams(_ context.Context, collectionID string) ([]dreams.CollectionDream, error) {
	var rows []dreams.CollectionDream
	if _, err := c.client.From(TableCollectionDreams).
		Select("*", "", false).
		Eq("collection_id", collectionID).
		Order("added_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("tables: list collection dreams: %w", err)
	}
	return rows, nil
}
