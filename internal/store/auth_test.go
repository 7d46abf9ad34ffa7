package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/somnialabs/somnia/backend/internal/dreams"
	"github.com/somnialabs/somnia/backend/internal/tables"
)

func seededRoster() []dreams.Profile {
	return []dreams.Profile{
		{ID: "1", Email: "luna@example.com", Name: "Luna Dreamweaver", Seeded: true},
		{ID: "2", Email: "aiden@example.com", Name: "Aiden Starlight", Seeded: true},
		{ID: "3", Email: "maya@example.com", Name: "Maya Nightshade", Seeded: true},
	}
}

func newTestAuthStore() *AuthStore {
	store := NewAuthStore(AuthStoreConfig{Latency: -1})
	store.SeedRoster(seededRoster())
	return store
}

func TestLoginAcceptsDemoPassword(t *testing.T) {
	store := newTestAuthStore()

	profile, err := store.Login(context.Background(), "LUNA@example.com", "demo")
	if err != nil {
		t.Fatalf("expected login to succeed: %v", err)
	}
	if profile.ID != "1" {
		t.Fatalf("unexpected profile %s", profile.ID)
	}
	current, ok := store.CurrentUser()
	if !ok || current.ID != "1" {
		t.Fatal("expected session established")
	}
}

func TestLoginRejectsWrongPasswordForSeededAccount(t *testing.T) {
	store := newTestAuthStore()

	_, err := store.Login(context.Background(), "luna@example.com", "password123")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, ok := store.CurrentUser(); ok {
		t.Fatal("expected no session after failed login")
	}
	if !errors.Is(store.Err(), ErrInvalidCredentials) {
		t.Fatalf("expected error recorded, got %v", store.Err())
	}
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	store := newTestAuthStore()

	_, err := store.Login(context.Background(), "nobody@example.com", "demo")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginObservesLatency(t *testing.T) {
	store := NewAuthStore(AuthStoreConfig{Latency: 50 * time.Millisecond})
	store.SeedRoster(seededRoster())

	started := time.Now()
	if _, err := store.Login(context.Background(), "luna@example.com", "demo"); err != nil {
		t.Fatalf("expected login to succeed: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 50*time.Millisecond {
		t.Fatalf("expected the configured latency observed, finished in %v", elapsed)
	}
}

func TestLoginLatencyCancellable(t *testing.T) {
	store := NewAuthStore(AuthStoreConfig{Latency: 5 * time.Second})
	store.SeedRoster(seededRoster())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := store.Login(ctx, "luna@example.com", "demo")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if store.Loading() {
		t.Fatal("expected loading cleared after cancellation")
	}
}

func TestRegisterAssignsNextNumericID(t *testing.T) {
	store := newTestAuthStore()

	profile, err := store.Register(context.Background(), "nova@example.com", "whatever", "Nova Frost")
	if err != nil {
		t.Fatalf("expected registration to succeed: %v", err)
	}
	if profile.ID != "4" {
		t.Fatalf("expected id 4, got %s", profile.ID)
	}
	if profile.AvatarURL != "https://ui-avatars.com/api/?name=Nova+Frost" {
		t.Fatalf("unexpected avatar url %s", profile.AvatarURL)
	}
	current, ok := store.CurrentUser()
	if !ok || current.ID != "4" {
		t.Fatal("expected registration to sign the account in")
	}

	// The new account has no stored secret, so any password logs in.
	store.Logout()
	if _, err := store.Login(context.Background(), "nova@example.com", "anything"); err != nil {
		t.Fatalf("expected registered account login: %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	store := newTestAuthStore()

	_, err := store.Register(context.Background(), "Luna@Example.com", "x", "Impostor")
	if !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("expected ErrEmailAlreadyRegistered, got %v", err)
	}
	if len(store.Roster()) != 3 {
		t.Fatalf("expected roster unchanged, got %d entries", len(store.Roster()))
	}
}

func TestRegisterConcurrentSameEmailSingleWinner(t *testing.T) {
	store := newTestAuthStore()

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Register(context.Background(), "race@example.com", "pw", "Racer")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrEmailAlreadyRegistered):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != attempts-1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d rejections", succeeded, rejected)
	}
	if got := len(store.Roster()); got != 4 {
		t.Fatalf("expected a single new roster entry, got %d total", got)
	}
}

// failingProfileBackendStub rejects every profile insert.
type failingProfileBackendStub struct {
	tables.Client
}

func (failingProfileBackendStub) InsertProfile(context.Context, dreams.Profile) (dreams.Profile, error) {
	return dreams.Profile{}, errors.New("disk full")
}

func TestRegisterRollsBackReservationWhenPersistFails(t *testing.T) {
	store := NewAuthStore(AuthStoreConfig{Latency: -1, Client: failingProfileBackendStub{}})
	store.SeedRoster(seededRoster())

	_, err := store.Register(context.Background(), "nova@example.com", "pw", "Nova Frost")
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected a remote error, got %v", err)
	}
	if len(store.Roster()) != 3 {
		t.Fatalf("expected the reservation rolled back, got %d entries", len(store.Roster()))
	}
	if store.Err() == nil {
		t.Fatal("expected the failure recorded on the store")
	}
	if _, ok := store.CurrentUser(); ok {
		t.Fatal("expected no session after a failed registration")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	store := newTestAuthStore()

	if _, err := store.Login(context.Background(), "maya@example.com", "demo"); err != nil {
		t.Fatalf("expected login to succeed: %v", err)
	}
	store.Logout()
	store.Logout()
	if _, ok := store.CurrentUser(); ok {
		t.Fatal("expected no session after logout")
	}
}

type stubVerifier struct {
	userID string
	err    error
}

func (v stubVerifier) VerifySession(context.Context, string) (string, error) {
	return v.userID, v.err
}

func TestConfirmSessionEstablishesSession(t *testing.T) {
	store := NewAuthStore(AuthStoreConfig{Latency: -1, Verifier: stubVerifier{userID: "2"}})
	store.SeedRoster(seededRoster())

	profile, err := store.ConfirmSession(context.Background(), "#access_token=a&refresh_token=b&type=signup")
	if err != nil {
		t.Fatalf("expected confirmation to succeed: %v", err)
	}
	if profile.ID != "2" {
		t.Fatalf("unexpected profile %s", profile.ID)
	}
	if _, ok := store.CurrentUser(); !ok {
		t.Fatal("expected session established")
	}
}

func TestConfirmSessionRejectsBadFragment(t *testing.T) {
	store := NewAuthStore(AuthStoreConfig{Latency: -1, Verifier: stubVerifier{userID: "2"}})
	store.SeedRoster(seededRoster())

	cases := []string{
		"",
		"#access_token=a",
		"#access_token=a&refresh_token=b&type=recovery",
	}
	for _, fragment := range cases {
		if _, err := store.ConfirmSession(context.Background(), fragment); !errors.Is(err, ErrInvalidLink) {
			t.Fatalf("fragment %q: expected ErrInvalidLink, got %v", fragment, err)
		}
		if _, ok := store.CurrentUser(); ok {
			t.Fatalf("fragment %q: expected no session", fragment)
		}
	}
}

func TestConfirmSessionRejectsVerifierFailure(t *testing.T) {
	store := NewAuthStore(AuthStoreConfig{Latency: -1, Verifier: stubVerifier{err: errors.New("expired")}})
	store.SeedRoster(seededRoster())

	_, err := store.ConfirmSession(context.Background(), "#access_token=a&refresh_token=b&type=signup")
	if !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink, got %v", err)
	}
}

func TestConfirmSessionWithoutVerifier(t *testing.T) {
	store := newTestAuthStore()

	_, err := store.ConfirmSession(context.Background(), "#access_token=a&refresh_token=b&type=signup")
	if !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink, got %v", err)
	}
}
