package insight

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/somnialabs/somnia/backend/internal/dreams"
	"go.uber.org/zap"
)

const (
	requiredSymbols = 3
	requiredThemes  = 3
)

const analysisPrompt = `Analyze this dream and provide detailed insights in the following JSON format:
{
  "symbols": ["symbol1", "symbol2", "symbol3"],
  "interpretation": "A comprehensive interpretation of the dream's meaning, including psychological and emotional aspects",
  "mood": "single word describing the overall emotional tone",
  "themes": ["theme1", "theme2", "theme3"]
}

Provide deep psychological insights and meaningful interpretations. Ensure exactly 3 symbols and 3 themes.

Dream:
`

// DefaultAnalysis is the fixed payload substituted whenever the model
// is unavailable or returns something unusable.
func DefaultAnalysis() dreams.Analysis {
	return dreams.Analysis{
		Symbols:        []string{"Dream", "Subconscious", "Memory"},
		Interpretation: "Your dream reflects personal experiences and emotions. Consider how it relates to your current life situation.",
		Mood:           "Reflective",
		Themes:         []string{"Personal", "Experience", "Emotion"},
	}
}

// AnalyzerConfig bundles the dependencies of an Analyzer.
type AnalyzerConfig struct {
	Generator TextGenerator
	Logger    *zap.Logger
}

// Analyzer produces a structured reading of a dream. It never fails:
// a missing insight must not block a successfully saved entry, so
// every failure path substitutes the default payload.
type Analyzer struct {
	generator TextGenerator
	logger    *zap.Logger
}

// NewAnalyzer constructs an Analyzer. A nil generator selects the
// unconfigured variant.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		generator: cfg.Generator,
		logger:    logger,
	}
}

// Analyze returns the model's reading of the dream content, normalized
// to exactly three symbols and three themes.
func (a *Analyzer) Analyze(ctx context.Context, content string) dreams.Analysis {
	if a.generator == nil {
		return DefaultAnalysis()
	}

	text, err := a.generator.GenerateText(ctx, analysisPrompt+content)
	if err != nil {
		a.logger.Warn("dream analysis call failed", zap.Error(err))
		return DefaultAnalysis()
	}

	var parsed dreams.Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		a.logger.Warn("dream analysis response unparseable", zap.Error(err))
		return DefaultAnalysis()
	}
	return normalizeAnalysis(parsed)
}

// normalizeAnalysis truncates overlong lists, backfills short ones from
// the default payload, and substitutes defaults for empty scalars.
func normalizeAnalysis(parsed dreams.Analysis) dreams.Analysis {
	fallback := DefaultAnalysis()
	normalized := dreams.Analysis{
		Symbols:        fitToCount(parsed.Symbols, fallback.Symbols, requiredSymbols),
		Interpretation: parsed.Interpretation,
		Mood:           strings.TrimSpace(parsed.Mood),
		Themes:         fitToCount(parsed.Themes, fallback.Themes, requiredThemes),
	}
	if strings.TrimSpace(normalized.Interpretation) == "" {
		normalized.Interpretation = fallback.Interpretation
	}
	if normalized.Mood == "" {
		normalized.Mood = fallback.Mood
	}
	return normalized
}

func fitToCount(values, fallback []string, required int) []string {
	cleaned := make([]string, 0, required)
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		cleaned = append(cleaned, trimmed)
		if len(cleaned) == required {
			return cleaned
		}
	}
	for _, value := range fallback {
		if len(cleaned) == required {
			break
		}
		cleaned = append(cleaned, value)
	}
	return cleaned
}
