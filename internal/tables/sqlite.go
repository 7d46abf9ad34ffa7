package tables

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/somnialabs/somnia/backend/internal/dreams"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("tables: database handle is required")

// SQLiteClientConfig bundles the dependencies of the embedded backend.
type SQLiteClientConfig struct {
	Database *gorm.DB
	Feed     *Feed
	Logger   *zap.Logger
}

// SQLiteClient is the embedded table backend. Every successful
// mutation is announced on the feed so local caches stay in sync with
// the rows.
type SQLiteClient struct {
	db     *gorm.DB
	feed   *Feed
	logger *zap.Logger
}

// NewSQLiteClient constructs the embedded backend.
func NewSQLiteClient(cfg SQLiteClientConfig) (*SQLiteClient, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteClient{
		db:     cfg.Database,
		feed:   cfg.Feed,
		logger: logger,
	}, nil
}

func (c *SQLiteClient) publish(event Event) {
	if c.feed == nil {
		return
	}
	c.feed.Publish(event)
}

// ListDreams returns dreams newest first, optionally narrowed by filter.
func (c *SQLiteClient) ListDreams(ctx context.Context, filter DreamFilter) ([]dreams.Dream, error) {
	query := c.db.WithContext(ctx).Order("created_at DESC")
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.PublicOnly {
		query = query.Where("privacy = ?", dreams.PrivacyPublic)
	}
	var rows []dreams.Dream
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tables: list dreams: %w", err)
	}
	return rows, nil
}

// InsertDream persists a new dream row and announces it.
func (c *SQLiteClient) InsertDream(ctx context.Context, dream dreams.Dream) (dreams.Dream, error) {
	if err := c.db.WithContext(ctx).Create(&dream).Error; err != nil {
		return dreams.Dream{}, fmt.Errorf("tables: insert dream: %w", err)
	}
	c.publish(NewEvent(TableDreams, EventInsert, dream, nil))
	return dream, nil
}

// UpdateDream replaces the stored row and announces the new state.
func (c *SQLiteClient) UpdateDream(ctx context.Context, dream dreams.Dream) (dreams.Dream, error) {
	if err := c.db.WithContext(ctx).Save(&dream).Error; err != nil {
		return dreams.Dream{}, fmt.Errorf("tables: update dream: %w", err)
	}
	c.publish(NewEvent(TableDreams, EventUpdate, dream, nil))
	return dream, nil
}

// DeleteDream removes the row and its comments, announcing both deletions.
func (c *SQLiteClient) DeleteDream(ctx context.Context, id string) error {
	var existing dreams.Dream
	err := c.db.WithContext(ctx).Where("id = ?", id).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tables: delete dream: %w", err)
	}
	if err := c.db.WithContext(ctx).Where("dream_id = ?", id).Delete(&dreams.Comment{}).Error; err != nil {
		return fmt.Errorf("tables: delete dream comments: %w", err)
	}
	if err := c.db.WithContext(ctx).Where("id = ?", id).Delete(&dreams.Dream{}).Error; err != nil {
		return fmt.Errorf("tables: delete dream: %w", err)
	}
	c.publish(NewEvent(TableDreams, EventDelete, nil, existing))
	return nil
}

// IncrementDreamLikes bumps the like counter atomically on the row and
// returns the new count. Unknown identifiers report zero without error.
func (c *SQLiteClient) IncrementDreamLikes(ctx context.Context, id string) (int64, error) {
	updated, bumped, err := c.incrementDreamColumn(ctx, id, "likes")
	if err != nil || !bumped {
		return 0, err
	}
	return updated.Likes, nil
}

// IncrementDreamComments bumps the comment counter atomically on the
// row and returns the new count.
func (c *SQLiteClient) IncrementDreamComments(ctx context.Context, id string) (int64, error) {
	updated, bumped, err := c.incrementDreamColumn(ctx, id, "comments")
	if err != nil || !bumped {
		return 0, err
	}
	return updated.Comments, nil
}

func (c *SQLiteClient) incrementDreamColumn(ctx context.Context, id, column string) (dreams.Dream, bool, error) {
	result := c.db.WithContext(ctx).Model(&dreams.Dream{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + 1"))
	if result.Error != nil {
		return dreams.Dream{}, false, fmt.Errorf("tables: increment dream %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return dreams.Dream{}, false, nil
	}
	var updated dreams.Dream
	if err := c.db.WithContext(ctx).Where("id = ?", id).Take(&updated).Error; err != nil {
		c.logger.Warn("dream reload after increment failed", zap.String("dream_id", id), zap.Error(err))
		return dreams.Dream{}, false, nil
	}
	c.publish(NewEvent(TableDreams, EventUpdate, updated, nil))
	return updated, true, nil
}

// ListComments returns one dream's comments newest first.
func (c *SQLiteClient) ListComments(ctx context.Context, dreamID string) ([]dreams.Comment, error) {
	var rows []dreams.Comment
	if err := c.db.WithContext(ctx).
		Where("dream_id = ?", dreamID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tables: list comments: %w", err)
	}
	return rows, nil
}

// InsertComment persists a comment, bumps the owning dream's counter
// and announces both changes.
func (c *SQLiteClient) InsertComment(ctx context.Context, comment dreams.Comment) (dreams.Comment, error) {
	var owner dreams.Dream
	if err := c.db.WithContext(ctx).Where("id = ?", comment.DreamID).Take(&owner).Error; err != nil {
		return dreams.Comment{}, fmt.Errorf("tables: insert comment: owning dream: %w", err)
	}
	if err := c.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return dreams.Comment{}, fmt.Errorf("tables: insert comment: %w", err)
	}
	c.publish(NewEvent(TableComments, EventInsert, comment, nil))
	if _, err := c.IncrementDreamComments(ctx, comment.DreamID); err != nil {
		c.logger.Warn("comment counter bump failed", zap.String("dream_id", comment.DreamID), zap.Error(err))
	}
	return comment, nil
}

// DeleteComment removes the row and announces the deletion. Unknown
// identifiers are a silent no-op.
func (c *SQLiteClient) DeleteComment(ctx context.Context, id string) error {
	var existing dreams.Comment
	err := c.db.WithContext(ctx).Where("id = ?", id).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tables: delete comment: %w", err)
	}
	if err := c.db.WithContext(ctx).Where("id = ?", id).Delete(&dreams.Comment{}).Error; err != nil {
		return fmt.Errorf("tables: delete comment: %w", err)
	}
	c.publish(NewEvent(TableComments, EventDelete, nil, existing))
	return nil
}

// IncrementCommentLikes bumps the like counter atomically on the row
// and returns the new count, mirroring the increment_comment_likes
// backend procedure.
func (c *SQLiteClient) IncrementCommentLikes(ctx context.Context, id string) (int64, error) {
	result := c.db.WithContext(ctx).Model(&dreams.Comment{}).
		Where("id = ?", id).
		UpdateColumn("likes", gorm.Expr("likes + 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("tables: increment comment likes: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, nil
	}
	var updated dreams.Comment
	if err := c.db.WithContext(ctx).Where("id = ?", id).Take(&updated).Error; err != nil {
		c.logger.Warn("comment reload after increment failed", zap.String("comment_id", id), zap.Error(err))
		return 0, nil
	}
	c.publish(NewEvent(TableComments, EventUpdate, updated, nil))
	return updated.Likes, nil
}

// ListProfiles returns every registered profile.
func (c *SQLiteClient) ListProfiles(ctx context.Context) ([]dreams.Profile, error) {
	var rows []dreams.Profile
	if err := c.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tables: list profiles: %w", err)
	}
	return rows, nil
}

// GetProfile returns one profile row by identifier.
func (c *SQLiteClient) GetProfile(ctx context.Context, id string) (dreams.Profile, error) {
	var row dreams.Profile
	if err := c.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return dreams.Profile{}, fmt.Errorf("tables: get profile: %w", err)
	}
	return row, nil
}

// InsertProfile persists a new profile row.
func (c *SQLiteClient) InsertProfile(ctx context.Context, profile dreams.Profile) (dreams.Profile, error) {
	if err := c.db.WithContext(ctx).Create(&profile).Error; err != nil {
		return dreams.Profile{}, fmt.Errorf("tables: insert profile: %w", err)
	}
	c.publish(NewEvent(TableProfiles, EventInsert, profile, nil))
	return profile, nil
}

// ListCollections returns one user's collections, oldest first.
func (c *SQLiteClient) ListCollections(ctx context.Context, userID string) ([]dreams.Collection, error) {
	var rows []dreams.Collection
	if err := c.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tables: list collections: %w", err)
	}
	return rows, nil
}

// InsertCollection persists a new collection row.
func (c *SQLiteClient) InsertCollection(ctx context.Context, collection dreams.Collection) (dreams.Collection, error) {
	if err := c.db.WithContext(ctx).Create(&collection).Error; err != nil {
		return dreams.Collection{}, fmt.Errorf("tables: insert collection: %w", err)
	}
	c.publish(NewEvent(TableCollections, EventInsert, collection, nil))
	return collection, nil
}

// DeleteCollection removes the collection and its join rows.
func (c *SQLiteClient) DeleteCollection(ctx context.Context, id string) error {
	if err := c.db.WithContext(ctx).Where("collection_id = ?", id).Delete(&dreams.CollectionDream{}).Error; err != nil {
		return fmt.Errorf("tables: delete collection joins: %w", err)
	}
	if err := c.db.WithContext(ctx).Where("id = ?", id).Delete(&dreams.Collection{}).Error; err != nil {
		return fmt.Errorf("tables: delete collection: %w", err)
	}
	c.publish(NewEvent(TableCollections, EventDelete, nil, dreams.Collection{ID: id}))
	return nil
}

// AddDreamToCollection records the join with its addition time.
// Repeated additions keep the first added_at.
func (c *SQLiteClient) AddDreamToCollection(ctx context.Context, collectionID, dreamID string, addedAt time.Time) error {
	join := dreams.CollectionDream{
		CollectionID: collectionID,
		DreamID:      dreamID,
		AddedAt:      addedAt,
	}
	err := c.db.WithContext(ctx).Create(&join).Error
	if err != nil {
		var existing dreams.CollectionDream
		lookupErr := c.db.WithContext(ctx).
			Where("collection_id = ? AND dream_id = ?", collectionID, dreamID).
			Take(&existing).Error
		if lookupErr == nil {
			return nil
		}
		return fmt.Errorf("tables: add dream to collection: %w", err)
	}
	c.publish(NewEvent(TableCollectionDreams, EventInsert, join, nil))
	return nil
}

// RemoveDreamFromCollection drops the join row.
func (c *SQLiteClient) RemoveDreamFromCollection(ctx context.Context, collectionID, dreamID string) error {
	if err := c.db.WithContext(ctx).
		Where("collection_id = ? AND dream_id = ?", collectionID, dreamID).
		Delete(&dreams.CollectionDream{}).Error; err != nil {
		return fmt.Errorf("tables: remove dream from collection: %w", err)
	}
	c.publish(NewEvent(TableCollectionDreams, EventDelete, nil, dreams.CollectionDream{CollectionID: collectionID, DreamID: dreamID}))
	return nil
}

// ListCollectionDreams returns the join rows for one collection,
// ordered by addition time.
func (c *SQLiteClient) ListCollectionDreams(ctx context.Context, collectionID string) ([]dreams.CollectionDream, error) {
	var rows []dreams.CollectionDream
	if err := c.db.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("added_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tables: list collection dreams: %w", err)
	}
	return rows, nil
}
