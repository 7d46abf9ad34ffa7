package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

var errMissingSupabaseClient = errors.New("auth: supabase client must be provided")

// SupabaseVerifier validates confirmation access tokens against the
// hosted auth service.
type SupabaseVerifier struct {
	client *supabase.Client
}

// NewSupabaseVerifier wraps an initialized hosted-backend client.
func NewSupabaseVerifier(client *supabase.Client) (*SupabaseVerifier, error) {
	if client == nil {
		return nil, errMissingSupabaseClient
	}
	return &SupabaseVerifier{client: client}, nil
}

// VerifySession resolves the token to the hosted user it was issued to.
func (v *SupabaseVerifier) VerifySession(_ context.Context, accessToken string) (string, error) {
	user, err := v.client.Auth.WithToken(accessToken).GetUser()
	if err != nil {
		return "", fmt.Errorf("auth: verify hosted session: %w", err)
	}
	if user == nil {
		return "", errors.New("auth: hosted session has no user")
	}
	return user.ID.String(), nil
}
