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
	opFetchComments = "comments.fetch"
	opAddComment    = "comments.add"
	opLikeComment   = "comments.like"
	opDeleteComment = "comments.delete"
)

// CommentStoreConfig bundles the dependencies of a CommentStore.
type CommentStoreConfig struct {
	Client     tables.Client
	Feed       *tables.Feed
	IDProvider dreams.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// CommentStore caches per-dream comment sequences, newest first,
// keyed by dream identifier. A bucket exists only after an explicit
// fetch; feed events for unfetched dreams are dropped rather than
// creating buckets implicitly.
type CommentStore struct {
	mu      sync.RWMutex
	buckets map[string][]dreams.Comment
	loading bool
	lastErr error

	client      tables.Client
	events      <-chan tables.Event
	unsubscribe func()
	idProvider  dreams.IDProvider
	clock       func() time.Time
	logger      *zap.Logger
}

// NewCommentStore constructs a CommentStore.
func NewCommentStore(cfg CommentStoreConfig) *CommentStore {
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
	store := &CommentStore{
		buckets:    make(map[string][]dreams.Comment),
		client:     cfg.Client,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
	}
	// Subscribing here buffers events published before Run starts.
	if cfg.Feed != nil {
		store.events, store.unsubscribe = cfg.Feed.Subscribe(context.Background(), tables.TableComments)
	}
	return store
}

// Run consumes the comments change feed until the context is done.
func (s *CommentStore) Run(ctx context.Context) {
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

// FetchComments replaces the cached bucket for the dream with the full
// backend result set, newest first. The loading flag is cleared on
// every exit path, including failure.
func (s *CommentStore) FetchComments(ctx context.Context, dreamID string) error {
	s.mu.Lock()
	s.loading = true
	s.lastErr = nil
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	if s.client == nil {
		s.mu.Lock()
		if _, ok := s.buckets[dreamID]; !ok {
			s.buckets[dreamID] = []dreams.Comment{}
		}
		s.mu.Unlock()
		return nil
	}

	rows, err := s.client.ListComments(ctx, dreamID)
	if err != nil {
		wrapped := remoteErr(opFetchComments, err)
		s.setErr(wrapped)
		return wrapped
	}
	s.mu.Lock()
	s.buckets[dreamID] = rows
	s.mu.Unlock()
	return nil
}

// AddComment creates a comment authored by the given actor and
// prepends it to the dream's bucket. Without an actor the operation
// fails with ErrUnauthorized.
func (s *CommentStore) AddComment(ctx context.Context, actorID, dreamID, content string) (dreams.Comment, error) {
	if strings.TrimSpace(actorID) == "" {
		s.setErr(ErrUnauthorized)
		return dreams.Comment{}, ErrUnauthorized
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.setErr(err)
		return dreams.Comment{}, err
	}
	comment := dreams.Comment{
		ID:        id,
		DreamID:   dreamID,
		UserID:    actorID,
		Content:   content,
		CreatedAt: s.clock().UTC(),
	}
	if s.client != nil {
		created, clientErr := s.client.InsertComment(ctx, comment)
		if clientErr != nil {
			wrapped := remoteErr(opAddComment, clientErr)
			s.setErr(wrapped)
			return dreams.Comment{}, wrapped
		}
		comment = created
	}
	s.mu.Lock()
	s.insertComment(comment)
	s.lastErr = nil
	s.mu.Unlock()
	return comment, nil
}

// LikeComment delegates the increment to the backend, where it is
// atomic, then advances the local copy in every bucket holding the
// comment toward the confirmed count. The feed event carrying the same
// state then applies as a no-op, so the two paths cannot double-count.
func (s *CommentStore) LikeComment(ctx context.Context, commentID string) error {
	confirmed := int64(0)
	if s.client != nil {
		count, err := s.client.IncrementCommentLikes(ctx, commentID)
		if err != nil {
			wrapped := remoteErr(opLikeComment, err)
			s.setErr(wrapped)
			return wrapped
		}
		confirmed = count
	}
	s.mu.Lock()
	for dreamID, bucket := range s.buckets {
		for index := range bucket {
			if bucket[index].ID != commentID {
				continue
			}
			if s.client == nil {
				bucket[index].Likes++
			} else if confirmed > bucket[index].Likes {
				bucket[index].Likes = confirmed
			}
		}
		s.buckets[dreamID] = bucket
	}
	s.mu.Unlock()
	return nil
}

// DeleteComment removes the comment from the backend, then from every
// bucket that contains it.
func (s *CommentStore) DeleteComment(ctx context.Context, commentID string) error {
	if s.client != nil {
		if err := s.client.DeleteComment(ctx, commentID); err != nil {
			wrapped := remoteErr(opDeleteComment, err)
			s.setErr(wrapped)
			return wrapped
		}
	}
	s.mu.Lock()
	s.removeComment(commentID)
	s.mu.Unlock()
	return nil
}

// Comments returns a snapshot of the cached bucket for one dream.
func (s *CommentStore) Comments(dreamID string) []dreams.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.buckets[dreamID]
	if !ok {
		return nil
	}
	snapshot := make([]dreams.Comment, len(bucket))
	copy(snapshot, bucket)
	return snapshot
}

// Loading reports whether a fetch is in flight.
func (s *CommentStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the last error recorded by a store operation.
func (s *CommentStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *CommentStore) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// applyEvent merges one feed event, scoped to the dream identifier on
// the payload. Malformed payloads are dropped silently.
func (s *CommentStore) applyEvent(event tables.Event) {
	payload := event.New
	if event.Type == tables.EventDelete {
		payload = event.Old
	}
	var row dreams.Comment
	if err := json.Unmarshal(payload, &row); err != nil || strings.TrimSpace(row.ID) == "" || strings.TrimSpace(row.DreamID) == "" {
		s.logger.Debug("dropping malformed comment event", zap.String("event_type", string(event.Type)))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, cached := s.buckets[row.DreamID]; !cached {
		return
	}
	switch event.Type {
	case tables.EventInsert:
		s.insertComment(row)
	case tables.EventUpdate:
		bucket := s.buckets[row.DreamID]
		for index := range bucket {
			if bucket[index].ID == row.ID {
				bucket[index] = row
				break
			}
		}
		s.buckets[row.DreamID] = bucket
	case tables.EventDelete:
		s.removeComment(row.ID)
	}
}

// insertComment prepends the comment to its dream's bucket unless the
// identifier is already present.
func (s *CommentStore) insertComment(comment dreams.Comment) {
	bucket := s.buckets[comment.DreamID]
	for _, existing := range bucket {
		if existing.ID == comment.ID {
			return
		}
	}
	s.buckets[comment.DreamID] = append([]dreams.Comment{comment}, bucket...)
}

// removeComment drops the comment from every bucket holding it.
func (s *CommentStore) removeComment(commentID string) {
	for dreamID, bucket := range s.buckets {
		filtered := bucket[:0]
		for _, comment := range bucket {
			if comment.ID != commentID {
				filtered = append(filtered, comment)
			}
		}
		s.buckets[dreamID] = filtered
	}
}
