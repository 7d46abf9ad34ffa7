package auth

import (
	"errors"
	"net/url"
	"strings"
)

// confirmationType is the only link type the confirmation flow accepts.
const confirmationType = "signup"

// ErrInvalidLink marks a confirmation fragment that is missing a token
// or carries the wrong type.
var ErrInvalidLink = errors.New("auth: invalid confirmation link")

// ConfirmationTokens are the credentials carried in a confirmation-link
// URL fragment.
type ConfirmationTokens struct {
	AccessToken  string
	RefreshToken string
	Type         string
}

// ParseConfirmationFragment extracts the signup tokens from a
// confirmation-link URL fragment. The fragment is query-encoded, with
// or without the leading "#". Both tokens must be present and the type
// must be "signup".
func ParseConfirmationFragment(fragment string) (ConfirmationTokens, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(fragment), "#")
	if trimmed == "" {
		return ConfirmationTokens{}, ErrInvalidLink
	}

	values, err := url.ParseQuery(trimmed)
	if err != nil {
		return ConfirmationTokens{}, ErrInvalidLink
	}

	tokens := ConfirmationTokens{
		AccessToken:  values.Get("access_token"),
		RefreshToken: values.Get("refresh_token"),
		Type:         values.Get("type"),
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return ConfirmationTokens{}, ErrInvalidLink
	}
	if tokens.Type != confirmationType {
		return ConfirmationTokens{}, ErrInvalidLink
	}
	return tokens, nil
}
