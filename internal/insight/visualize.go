package insight

import (
	"context"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"
)

// Mood categories used to pick a visualization image.
const (
	MoodPeaceful = "peaceful"
	MoodMystical = "mystical"
	MoodSurreal  = "surreal"
	MoodEthereal = "ethereal"
	MoodDark     = "dark"
)

// fallbackMood is substituted whenever classification is unavailable
// or yields a value outside the known set.
const fallbackMood = MoodMystical

const moodPrompt = `Analyze this dream and return ONLY ONE of these moods: peaceful, mystical, surreal, ethereal, dark.
Consider the emotional tone, imagery, symbolism, and overall atmosphere of the dream.
Base your choice on these mood definitions:
- peaceful: calming, serene, tranquil scenes
- mystical: magical, enchanted, otherworldly
- surreal: strange, dreamlike, abstract
- ethereal: heavenly, delicate, light
- dark: mysterious, shadowy, intense

Dream: "{dream}"
Return only the mood word, nothing else.
`

// moodImages is the curated image list per mood category.
var moodImages = map[string][]string{
	MoodPeaceful: {
		"https://images.unsplash.com/photo-1507525428034-b723cf961d3e?w=1200&q=80",
		"https://images.unsplash.com/photo-1497436072909-60f360e1d4b1?w=1200&q=80",
		"https://images.unsplash.com/photo-1506477331477-33d5d8b3dc85?w=1200&q=80",
		"https://images.unsplash.com/photo-1534447677768-be436bb09401?w=1200&q=80",
	},
	MoodMystical: {
		"https://images.unsplash.com/photo-1518066000714-58c45f1a2c0a?w=1200&q=80",
		"https://images.unsplash.com/photo-1502581827181-9cf3c3ee0106?w=1200&q=80",
		"https://images.unsplash.com/photo-1505506874110-6a7a69069a08?w=1200&q=80",
		"https://images.unsplash.com/photo-1519681393784-d120267933ba?w=1200&q=80",
	},
	MoodSurreal: {
		"https://images.unsplash.com/photo-1536152470836-b943b246224c?w=1200&q=80",
		"https://images.unsplash.com/photo-1566808907623-57c6d5b1e640?w=1200&q=80",
		"https://images.unsplash.com/photo-1509114397022-ed747cca3f65?w=1200&q=80",
		"https://images.unsplash.com/photo-1512686096451-a15c19314d59?w=1200&q=80",
	},
	MoodEthereal: {
		"https://images.unsplash.com/photo-1513151233558-d860c5398176?w=1200&q=80",
		"https://images.unsplash.com/photo-1479267658415-f47a5f0c9861?w=1200&q=80",
		"https://images.unsplash.com/photo-1502581827181-9cf3c3ee0106?w=1200&q=80",
		"https://images.unsplash.com/photo-1507499739999-097706ad8914?w=1200&q=80",
	},
	MoodDark: {
		"https://images.unsplash.com/photo-1478760329108-5c3ed9d495a0?w=1200&q=80",
		"https://images.unsplash.com/photo-1499988921418-b7df40ff03f9?w=1200&q=80",
		"https://images.unsplash.com/photo-1516339901601-2e1b62dc0c45?w=1200&q=80",
		"https://images.unsplash.com/photo-1504123010103-b1f3fe484a32?w=1200&q=80",
	},
}

// Visualization is the selected image plus the mood it was chosen for.
// Note carries a human-readable explanation when a fallback occurred.
type Visualization struct {
	URL  string `json:"url"`
	Mood string `json:"mood"`
	Note string `json:"note,omitempty"`
}

// VisualizerConfig bundles the dependencies of a Visualizer.
// Pick overrides the random index selection (tests).
type VisualizerConfig struct {
	Generator TextGenerator
	Logger    *zap.Logger
	Pick      func(n int) int
}

// Visualizer maps a dream's mood onto a curated image. There is no
// hard-failure outcome: every path returns a valid image reference.
type Visualizer struct {
	generator TextGenerator
	logger    *zap.Logger
	pick      func(n int) int
}

// NewVisualizer constructs a Visualizer. A nil generator selects the
// unconfigured variant.
func NewVisualizer(cfg VisualizerConfig) *Visualizer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pick := cfg.Pick
	if pick == nil {
		pick = rand.IntN
	}
	return &Visualizer{
		generator: cfg.Generator,
		logger:    logger,
		pick:      pick,
	}
}

// Visualize classifies the dream into one of the five moods and picks
// an image from that mood's list, uniformly at random.
func (v *Visualizer) Visualize(ctx context.Context, content string) Visualization {
	if v.generator == nil {
		return Visualization{
			URL:  v.pickImage(fallbackMood),
			Mood: fallbackMood,
			Note: "Using default visualization (demo mode)",
		}
	}

	prompt := strings.Replace(moodPrompt, "{dream}", content, 1)
	text, err := v.generator.GenerateText(ctx, prompt)
	if err != nil {
		v.logger.Warn("mood classification failed", zap.Error(err))
		return v.fallback()
	}

	mood := strings.ToLower(strings.TrimSpace(text))
	if _, known := moodImages[mood]; !known {
		v.logger.Warn("mood classification out of range", zap.String("mood", mood))
		return v.fallback()
	}
	return Visualization{
		URL:  v.pickImage(mood),
		Mood: mood,
	}
}

func (v *Visualizer) fallback() Visualization {
	return Visualization{
		URL:  v.pickImage(fallbackMood),
		Mood: fallbackMood,
		Note: "Using fallback visualization",
	}
}

func (v *Visualizer) pickImage(mood string) string {
	images := moodImages[mood]
	return images[v.pick(len(images))]
}
