package store

import (
	"strings"
	"sync"

	"github.com/somnialabs/somnia/backend/internal/dreams"
)

// SearchStore holds the active feed filter criteria. FilterDreams is
// pure: no network, no mutation of the input.
type SearchStore struct {
	mu    sync.RWMutex
	query string
	tags  []string
}

// NewSearchStore constructs an empty SearchStore.
func NewSearchStore() *SearchStore {
	return &SearchStore{}
}

// SetQuery replaces the free-text criterion.
func (s *SearchStore) SetQuery(query string) {
	s.mu.Lock()
	s.query = strings.TrimSpace(query)
	s.mu.Unlock()
}

// ToggleTag adds the tag to the criteria, or removes it if present.
func (s *SearchStore) ToggleTag(tag string) {
	trimmed := strings.TrimSpace(tag)
	if trimmed == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for index, existing := range s.tags {
		if strings.EqualFold(existing, trimmed) {
			s.tags = append(s.tags[:index], s.tags[index+1:]...)
			return
		}
	}
	s.tags = append(s.tags, trimmed)
}

// SetTags replaces the tag criteria.
func (s *SearchStore) SetTags(tags []string) {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	s.mu.Lock()
	s.tags = cleaned
	s.mu.Unlock()
}

// Clear resets every criterion.
func (s *SearchStore) Clear() {
	s.mu.Lock()
	s.query = ""
	s.tags = nil
	s.mu.Unlock()
}

// Criteria returns the active query and tags.
func (s *SearchStore) Criteria() (string, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]string, len(s.tags))
	copy(tags, s.tags)
	return s.query, tags
}

// FilterDreams returns the subsequence matching every active
// criterion: case-insensitive substring for the free text (content or
// tags), and every selected tag present on the dream.
func (s *SearchStore) FilterDreams(input []dreams.Dream) []dreams.Dream {
	s.mu.RLock()
	query := strings.ToLower(s.query)
	tags := make([]string, len(s.tags))
	copy(tags, s.tags)
	s.mu.RUnlock()

	if query == "" && len(tags) == 0 {
		return input
	}

	matched := make([]dreams.Dream, 0, len(input))
	for _, dream := range input {
		if query != "" && !matchesQuery(dream, query) {
			continue
		}
		if !matchesTags(dream, tags) {
			continue
		}
		matched = append(matched, dream)
	}
	return matched
}

func matchesQuery(dream dreams.Dream, loweredQuery string) bool {
	if strings.Contains(strings.ToLower(dream.Content), loweredQuery) {
		return true
	}
	for _, tag := range dream.Tags() {
		if strings.Contains(strings.ToLower(tag), loweredQuery) {
			return true
		}
	}
	return false
}

func matchesTags(dream dreams.Dream, selected []string) bool {
	if len(selected) == 0 {
		return true
	}
	owned := dream.Tags()
	for _, want := range selected {
		found := false
		for _, have := range owned {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
