package tables

import (
	"context"
	"time"

	"github.com/somnialabs/somnia/backend/internal/dreams"
)

// DreamFilter narrows a dream listing. Zero value lists every row,
// newest first.
type DreamFilter struct {
	// UserID restricts the listing to one author when set.
	UserID string
	// PublicOnly restricts the listing to public dreams.
	PublicOnly bool
}

// Client is the table backend the stores write through. The embedded
// SQLite implementation and the hosted Supabase implementation both
// satisfy it. Counter increments are atomic on the backend so
// concurrent likers never lose updates, and they return the confirmed
// count so callers can merge it idempotently against the matching
// feed event. A zero count means the row did not exist.
type Client interface {
	ListDreams(ctx context.Context, filter DreamFilter) ([]dreams.Dream, error)
	InsertDream(ctx context.Context, dream dreams.Dream) (dreams.Dream, error)
	UpdateDream(ctx context.Context, dream dreams.Dream) (dreams.Dream, error)
	DeleteDream(ctx context.Context, id string) error
	IncrementDreamLikes(ctx context.Context, id string) (int64, error)
	IncrementDreamComments(ctx context.Context, id string) (int64, error)

	ListComments(ctx context.Context, dreamID string) ([]dreams.Comment, error)
	InsertComment(ctx context.Context, comment dreams.Comment) (dreams.Comment, error)
	DeleteComment(ctx context.Context, id string) error
	IncrementCommentLikes(ctx context.Context, id string) (int64, error)

	ListProfiles(ctx context.Context) ([]dreams.Profile, error)
	GetProfile(ctx context.Context, id string) (dreams.Profile, error)
	InsertProfile(ctx context.Context, profile dreams.Profile) (dreams.Profile, error)

	ListCollections(ctx context.Context, userID string) ([]dreams.Collection, error)
	InsertCollection(ctx context.Context, collection dreams.Collection) (dreams.Collection, error)
	DeleteCollection(ctx context.Context, id string) error
	AddDreamToCollection(ctx context.Context, collectionID, dreamID string, addedAt time.Time) error
	RemoveDreamFromCollection(ctx context.Context, collectionID, dreamID string) error
	ListCollectionDreams(ctx context.Context, collectionID string) ([]dreams.CollectionDream, error)
}
