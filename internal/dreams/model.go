package dreams

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Privacy enumerates who may see a dream in the shared feed.
type Privacy string

const (
	// PrivacyPublic makes the dream visible to every viewer.
	PrivacyPublic Privacy = "public"
	// PrivacyAnonymous shows the dream without attributing its author.
	PrivacyAnonymous Privacy = "anonymous"
	// PrivacyPrivate restricts the dream to its author.
	PrivacyPrivate Privacy = "private"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDreamID indicates that a dream identifier is empty or exceeds storage bounds.
	ErrInvalidDreamID = errors.New("dreams: invalid dream id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("dreams: invalid user id")
	// ErrInvalidCommentID indicates that a comment identifier is empty or exceeds storage bounds.
	ErrInvalidCommentID = errors.New("dreams: invalid comment id")
	// ErrInvalidPrivacy indicates a privacy value outside the enumerated set.
	ErrInvalidPrivacy = errors.New("dreams: invalid privacy")
)

// DreamID represents a validated dream identifier.
type DreamID string

// NewDreamID validates raw input and returns a DreamID.
func NewDreamID(rawInput string) (DreamID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDreamID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDreamID, maxIdentifierLength)
	}
	return DreamID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DreamID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// CommentID represents a validated comment identifier.
type CommentID string

// NewCommentID validates raw input and returns a CommentID.
func NewCommentID(rawInput string) (CommentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCommentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCommentID, maxIdentifierLength)
	}
	return CommentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CommentID) String() string {
	return string(id)
}

// ParsePrivacy validates raw input against the enumerated privacy values.
func ParsePrivacy(rawInput string) (Privacy, error) {
	switch Privacy(strings.ToLower(strings.TrimSpace(rawInput))) {
	case PrivacyPublic:
		return PrivacyPublic, nil
	case PrivacyAnonymous:
		return PrivacyAnonymous, nil
	case PrivacyPrivate:
		return PrivacyPrivate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPrivacy, rawInput)
	}
}

// Analysis captures the structured AI reading attached to a dream.
type Analysis struct {
	Symbols        []string `json:"symbols"`
	Interpretation string   `json:"interpretation"`
	Mood           string   `json:"mood"`
	Themes         []string `json:"themes"`
}

// Dream models a persisted journal entry with its social counters.
type Dream struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index:idx_dreams_user_created,priority:1" json:"user_id"`
	Content      string    `gorm:"column:content;type:text;not null" json:"content"`
	TagsJSON     string    `gorm:"column:tags;type:text;not null;default:'[]'" json:"-"`
	Likes        int64     `gorm:"column:likes;not null;default:0" json:"likes"`
	Comments     int64     `gorm:"column:comments;not null;default:0" json:"comments"`
	Clarity      int64     `gorm:"column:clarity;not null;default:0" json:"clarity"`
	AnalysisJSON string    `gorm:"column:analysis;type:text" json:"-"`
	Privacy      Privacy   `gorm:"column:privacy;size:16;not null;default:'public'" json:"privacy"`
	ImageURL     string    `gorm:"column:image_url;size:512" json:"image_url,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_dreams_user_created,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Dream) TableName() string {
	return "dreams"
}

// dreamJSON is the serialized shape of a Dream, with tags and analysis
// expanded from their stored text columns.
type dreamJSON struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	Likes     int64     `json:"likes"`
	Comments  int64     `json:"comments"`
	Clarity   int64     `json:"clarity"`
	Analysis  *Analysis `json:"analysis,omitempty"`
	Privacy   Privacy   `json:"privacy"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalJSON expands the stored tag and analysis columns so change
// events and API payloads carry them as structured values.
func (d Dream) MarshalJSON() ([]byte, error) {
	tags := d.Tags()
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(dreamJSON{
		ID:        d.ID,
		UserID:    d.UserID,
		Content:   d.Content,
		Tags:      tags,
		Likes:     d.Likes,
		Comments:  d.Comments,
		Clarity:   d.Clarity,
		Analysis:  d.Analysis(),
		Privacy:   d.Privacy,
		ImageURL:  d.ImageURL,
		CreatedAt: d.CreatedAt,
	})
}

// UnmarshalJSON folds structured tags and analysis back into the
// stored columns.
func (d *Dream) UnmarshalJSON(data []byte) error {
	var decoded dreamJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	d.ID = decoded.ID
	d.UserID = decoded.UserID
	d.Content = decoded.Content
	d.Likes = decoded.Likes
	d.Comments = decoded.Comments
	d.Clarity = decoded.Clarity
	d.Privacy = decoded.Privacy
	d.ImageURL = decoded.ImageURL
	d.CreatedAt = decoded.CreatedAt
	d.SetTags(decoded.Tags)
	d.AnalysisJSON = ""
	if decoded.Analysis != nil {
		d.SetAnalysis(*decoded.Analysis)
	}
	return nil
}

// Tags decodes the stored tag set; a corrupt column yields no tags.
func (d Dream) Tags() []string {
	if d.TagsJSON == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(d.TagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

// SetTags encodes the tag set onto the row.
func (d *Dream) SetTags(tags []string) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		d.TagsJSON = "[]"
		return
	}
	d.TagsJSON = string(encoded)
}

// Analysis decodes the stored analysis payload, if any.
func (d Dream) Analysis() *Analysis {
	if strings.TrimSpace(d.AnalysisJSON) == "" {
		return nil
	}
	var analysis Analysis
	if err := json.Unmarshal([]byte(d.AnalysisJSON), &analysis); err != nil {
		return nil
	}
	return &analysis
}

// SetAnalysis encodes the analysis payload onto the row.
func (d *Dream) SetAnalysis(analysis Analysis) {
	encoded, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	d.AnalysisJSON = string(encoded)
}

// Comment models a reply attached to a dream.
type Comment struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	DreamID   string    `gorm:"column:dream_id;size:190;not null;index:idx_comments_dream_created,priority:1" json:"dream_id"`
	UserID    string    `gorm:"column:user_id;size:190;not null" json:"user_id"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	Likes     int64     `gorm:"column:likes;not null;default:0" json:"likes"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_comments_dream_created,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// Profile models a registered account visible to other users.
type Profile struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Email     string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	Name      string    `gorm:"column:name;size:320;not null" json:"name"`
	AvatarURL string    `gorm:"column:avatar_url;size:512" json:"avatar_url"`
	Bio       string    `gorm:"column:bio;type:text" json:"bio,omitempty"`
	Seeded    bool      `gorm:"column:seeded;not null;default:false" json:"-"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "profiles"
}

// Collection groups dreams under a user-chosen label.
type Collection struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	Name        string    `gorm:"column:name;size:320;not null" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description,omitempty"`
	Icon        string    `gorm:"column:icon;size:64" json:"icon,omitempty"`
	Color       string    `gorm:"column:color;size:32" json:"color,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Collection) TableName() string {
	return "collections"
}

// CollectionDream joins dreams into collections with the time of addition.
type CollectionDream struct {
	CollectionID string    `gorm:"column:collection_id;primaryKey;size:190;not null" json:"collection_id"`
	DreamID      string    `gorm:"column:dream_id;primaryKey;size:190;not null" json:"dream_id"`
	AddedAt      time.Time `gorm:"column:added_at;not null" json:"added_at"`
}

// TableName provides the explicit table binding for GORM.
func (CollectionDream) TableName() string {
	return "collection_dreams"
}
