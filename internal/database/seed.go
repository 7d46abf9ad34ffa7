package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/somnialabs/somnia/backend/internal/dreams"
)

// DemoProfiles returns the seeded demo roster. These accounts unlock
// with the demo password.
func DemoProfiles() []dreams.Profile {
	return []dreams.Profile{
		{
			ID:        "1",
			Email:     "luna@example.com",
			Name:      "Luna Dreamweaver",
			AvatarURL: "https://images.unsplash.com/photo-1494790108377-be9c29b29330?w=150",
			Bio:       "Exploring the depths of consciousness through lucid dreaming",
			Seeded:    true,
			CreatedAt: time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:        "2",
			Email:     "aiden@example.com",
			Name:      "Aiden Starlight",
			AvatarURL: "https://images.unsplash.com/photo-1507003211169-0a1dd7228f2d?w=150",
			Bio:       "Dream researcher and consciousness explorer",
			Seeded:    true,
			CreatedAt: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:        "3",
			Email:     "maya@example.com",
			Name:      "Maya Nightshade",
			AvatarURL: "https://images.unsplash.com/photo-1438761681033-6461ffad8d80?w=150",
			Bio:       "Recording my dream journey one night at a time",
			Seeded:    true,
			CreatedAt: time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC),
		},
	}
}

// DemoDreams returns a small set of public entries so a fresh install
// has a feed to show.
func DemoDreams() []dreams.Dream {
	first := dreams.Dream{
		ID:        "seed-dream-1",
		UserID:    "1",
		Content:   "I was flying over a city made of glass. Every building reflected a different night sky, and I could choose which one to land in.",
		Clarity:   8,
		Privacy:   dreams.PrivacyPublic,
		CreatedAt: time.Date(2024, time.March, 2, 6, 30, 0, 0, time.UTC),
	}
	first.SetTags([]string{"flying", "lucid", "city"})

	second := dreams.Dream{
		ID:        "seed-dream-2",
		UserID:    "3",
		Content:   "An ocean the color of amber, perfectly still. When I touched the surface it rang like a bell and the sound carried for miles.",
		Clarity:   6,
		Privacy:   dreams.PrivacyPublic,
		CreatedAt: time.Date(2024, time.March, 5, 7, 15, 0, 0, time.UTC),
	}
	second.SetTags([]string{"ocean", "sound"})

	return []dreams.Dream{first, second}
}

// SeedDemoData installs the demo roster and sample dreams. Existing
// rows are left untouched, so a restart never overwrites edits.
func SeedDemoData(db *gorm.DB, logger *zap.Logger) error {
	for _, profile := range DemoProfiles() {
		var existing dreams.Profile
		err := db.Where("id = ?", profile.ID).Take(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(&profile).Error; err != nil {
			return err
		}
	}
	for _, dream := range DemoDreams() {
		var existing dreams.Dream
		err := db.Where("id = ?", dream.ID).Take(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(&dream).Error; err != nil {
			return err
		}
	}
	if logger != nil {
		logger.Info("demo data seeded",
			zap.Int("profiles", len(DemoProfiles())),
			zap.Int("dreams", len(DemoDreams())))
	}
	return nil
}
