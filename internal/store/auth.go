package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/somnialabs/somnia/backend/internal/auth"
	"github.com/somnialabs/somnia/backend/internal/dreams"
	"github.com/somnialabs/somnia/backend/internal/tables"
	"go.uber.org/zap"
)

const (
	opLogin    = "auth.login"
	opRegister = "auth.register"
	opConfirm  = "auth.confirm"

	// demoPassword unlocks the seeded roster accounts.
	demoPassword = "demo"

	// defaultLoginLatency keeps the loading transition observable;
	// the UI contract depends on seeing it.
	defaultLoginLatency = 500 * time.Millisecond
)

// SessionVerifier validates a confirmation access token and returns
// the user identifier it belongs to.
type SessionVerifier interface {
	VerifySession(ctx context.Context, accessToken string) (string, error)
}

// AuthStoreConfig bundles the dependencies of an AuthStore.
// Latency zero means the default; a negative value disables the
// simulated delay entirely (tests).
type AuthStoreConfig struct {
	Client   tables.Client
	Verifier SessionVerifier
	Latency  time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// AuthStore holds the current session and the registered-account
// roster. The roster is durable (it lives in the profiles table); the
// session itself is ephemeral.
type AuthStore struct {
	mu      sync.RWMutex
	roster  []dreams.Profile
	session *dreams.Profile
	loading bool
	lastErr error

	client   tables.Client
	verifier SessionVerifier
	latency  time.Duration
	clock    func() time.Time
	logger   *zap.Logger
}

// NewAuthStore constructs an AuthStore.
func NewAuthStore(cfg AuthStoreConfig) *AuthStore {
	latency := cfg.Latency
	if latency < 0 {
		latency = 0
	} else if latency == 0 {
		latency = defaultLoginLatency
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthStore{
		client:   cfg.Client,
		verifier: cfg.Verifier,
		latency:  latency,
		clock:    clock,
		logger:   logger,
	}
}

// LoadRoster replaces the in-memory roster with the persisted one.
func (s *AuthStore) LoadRoster(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	profiles, err := s.client.ListProfiles(ctx)
	if err != nil {
		wrapped := remoteErr(opLogin, err)
		s.setErr(wrapped)
		return wrapped
	}
	s.mu.Lock()
	s.roster = profiles
	s.mu.Unlock()
	return nil
}

// SeedRoster installs accounts directly into the in-memory roster.
// Intended for the pure-local mode and tests.
func (s *AuthStore) SeedRoster(profiles []dreams.Profile) {
	s.mu.Lock()
	s.roster = append([]dreams.Profile(nil), profiles...)
	s.mu.Unlock()
}

// Login matches the email case-insensitively against the roster.
// Seeded demo accounts accept only the demo password; accounts created
// through Register have no stored secret and accept any. The deliberate
// latency keeps the loading transition observable to callers.
func (s *AuthStore) Login(ctx context.Context, email, password string) (dreams.Profile, error) {
	s.beginLoading()
	defer s.endLoading()

	if err := s.simulateLatency(ctx); err != nil {
		s.setErr(err)
		return dreams.Profile{}, err
	}

	normalized := strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, profile := range s.roster {
		if strings.ToLower(profile.Email) != normalized {
			continue
		}
		if profile.Seeded && password != demoPassword {
			break
		}
		matched := profile
		s.session = &matched
		s.lastErr = nil
		return matched, nil
	}
	s.session = nil
	s.lastErr = ErrInvalidCredentials
	return dreams.Profile{}, ErrInvalidCredentials
}

// Register creates a roster account, persists it, and signs it in.
// A known email (case-insensitive) fails with ErrEmailAlreadyRegistered
// and leaves the roster untouched.
func (s *AuthStore) Register(ctx context.Context, email, password, name string) (dreams.Profile, error) {
	s.beginLoading()
	defer s.endLoading()

	if err := s.simulateLatency(ctx); err != nil {
		s.setErr(err)
		return dreams.Profile{}, err
	}

	trimmedEmail := strings.TrimSpace(email)
	normalized := strings.ToLower(trimmedEmail)
	s.mu.Lock()
	for _, existing := range s.roster {
		if strings.ToLower(existing.Email) == normalized {
			s.mu.Unlock()
			s.setErr(ErrEmailAlreadyRegistered)
			return dreams.Profile{}, ErrEmailAlreadyRegistered
		}
	}
	// Reserving the roster slot under the lock closes the window where
	// two registrations for the same email both pass the check.
	profile := dreams.Profile{
		ID:        s.nextRosterID(),
		Email:     trimmedEmail,
		Name:      strings.TrimSpace(name),
		AvatarURL: fmt.Sprintf("https://ui-avatars.com/api/?name=%s", url.QueryEscape(strings.TrimSpace(name))),
		CreatedAt: s.clock().UTC(),
	}
	s.roster = append(s.roster, profile)
	s.mu.Unlock()

	if s.client != nil {
		created, err := s.client.InsertProfile(ctx, profile)
		if err != nil {
			s.dropRosterID(profile.ID)
			wrapped := remoteErr(opRegister, err)
			s.setErr(wrapped)
			return dreams.Profile{}, wrapped
		}
		s.mu.Lock()
		for index := range s.roster {
			if s.roster[index].ID == profile.ID {
				s.roster[index] = created
				break
			}
		}
		s.mu.Unlock()
		profile = created
	}

	s.mu.Lock()
	matched := profile
	s.session = &matched
	s.lastErr = nil
	s.mu.Unlock()
	return profile, nil
}

// Logout clears the session synchronously. It is idempotent.
func (s *AuthStore) Logout() {
	s.mu.Lock()
	s.session = nil
	s.loading = false
	s.lastErr = nil
	s.mu.Unlock()
}

// ConfirmSession consumes a confirmation-link URL fragment, validates
// its tokens, and establishes the session from the stored profile.
// Any missing or invalid part yields ErrInvalidLink without touching
// the session.
func (s *AuthStore) ConfirmSession(ctx context.Context, fragment string) (dreams.Profile, error) {
	tokens, err := auth.ParseConfirmationFragment(fragment)
	if err != nil {
		s.setErr(ErrInvalidLink)
		return dreams.Profile{}, ErrInvalidLink
	}
	if s.verifier == nil {
		s.setErr(ErrInvalidLink)
		return dreams.Profile{}, ErrInvalidLink
	}
	userID, err := s.verifier.VerifySession(ctx, tokens.AccessToken)
	if err != nil {
		s.logger.Info("confirmation token rejected", zap.Error(err))
		s.setErr(ErrInvalidLink)
		return dreams.Profile{}, ErrInvalidLink
	}

	profile, found := s.rosterLookup(userID)
	if !found && s.client != nil {
		remote, getErr := s.client.GetProfile(ctx, userID)
		if getErr != nil {
			wrapped := remoteErr(opConfirm, getErr)
			s.setErr(wrapped)
			return dreams.Profile{}, wrapped
		}
		profile = remote
		s.mu.Lock()
		s.roster = append(s.roster, remote)
		s.mu.Unlock()
		found = true
	}
	if !found {
		s.setErr(ErrInvalidLink)
		return dreams.Profile{}, ErrInvalidLink
	}

	s.mu.Lock()
	matched := profile
	s.session = &matched
	s.lastErr = nil
	s.mu.Unlock()
	return profile, nil
}

// CurrentUser returns the active session's profile, if any.
func (s *AuthStore) CurrentUser() (dreams.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return dreams.Profile{}, false
	}
	return *s.session, true
}

// Roster returns a snapshot of the known accounts.
func (s *AuthStore) Roster() []dreams.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]dreams.Profile, len(s.roster))
	copy(snapshot, s.roster)
	return snapshot
}

// Loading reports whether a login or registration is in flight.
func (s *AuthStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the last error recorded by a store operation.
func (s *AuthStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// nextRosterID synthesizes an identifier strictly greater than every
// numeric identifier in the roster. Callers hold the lock.
func (s *AuthStore) nextRosterID() string {
	highest := int64(0)
	for _, profile := range s.roster {
		numeric, err := strconv.ParseInt(profile.ID, 10, 64)
		if err != nil {
			continue
		}
		if numeric > highest {
			highest = numeric
		}
	}
	return strconv.FormatInt(highest+1, 10)
}

// dropRosterID rolls back a reserved roster entry after a failed
// persist.
func (s *AuthStore) dropRosterID(id string) {
	s.mu.Lock()
	for index := range s.roster {
		if s.roster[index].ID == id {
			s.roster = append(s.roster[:index], s.roster[index+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (s *AuthStore) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *AuthStore) rosterLookup(userID string) (dreams.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, profile := range s.roster {
		if profile.ID == userID {
			return profile, true
		}
	}
	return dreams.Profile{}, false
}

func (s *AuthStore) beginLoading() {
	s.mu.Lock()
	s.loading = true
	s.lastErr = nil
	s.mu.Unlock()
}

func (s *AuthStore) endLoading() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
}

// simulateLatency waits the configured interval so loading-state UI
// has something to render. Context cancellation cuts it short.
func (s *AuthStore) simulateLatency(ctx context.Context) error {
	if s.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(s.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
