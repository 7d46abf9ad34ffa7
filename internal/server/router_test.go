package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/somnialabs/somnia/backend/internal/auth"
	"github.com/somnialabs/somnia/backend/internal/dreams"
	"github.com/somnialabs/somnia/backend/internal/insight"
	"github.com/somnialabs/somnia/backend/internal/store"
	"github.com/somnialabs/somnia/backend/internal/tables"
)

const jsonContentType = "application/json"

type testEnv struct {
	handler http.Handler
	auth    *store.AuthStore
	dreams  *store.DreamStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("router-test-secret")})

	authStore := store.NewAuthStore(store.AuthStoreConfig{Latency: -1, Verifier: tokens})
	authStore.SeedRoster([]dreams.Profile{
		{ID: "1", Email: "luna@example.com", Name: "Luna Dreamweaver", Seeded: true},
		{ID: "2", Email: "aiden@example.com", Name: "Aiden Starlight", Seeded: true},
	})
	dreamStore := store.NewDreamStore(store.DreamStoreConfig{})
	commentStore := store.NewCommentStore(store.CommentStoreConfig{})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokens,
		AuthStore:    authStore,
		DreamStore:   dreamStore,
		CommentStore: commentStore,
		Analyzer:     insight.NewAnalyzer(insight.AnalyzerConfig{}),
		Visualizer:   insight.NewVisualizer(insight.VisualizerConfig{Pick: func(int) int { return 0 }}),
		Feed:         tables.NewFeed(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testEnv{handler: handler, auth: authStore, dreams: dreamStore}
}

func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func (env *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	recorder := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected login 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response sessionResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if response.AccessToken == "" || response.TokenType != "Bearer" {
		t.Fatalf("unexpected session payload %#v", response)
	}
	return response.AccessToken
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "luna@example.com",
		"password": "nope",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestRegisterConflictOnKnownEmail(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "luna@example.com",
		"password": "x",
		"name":     "Impostor",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestConfirmRejectsInvalidFragment(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodGet, "/auth/confirm?fragment=access_token%3Da", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestCreateLikeAndListDreamFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "luna@example.com", "demo")

	created := env.do(t, http.MethodPost, "/dreams", token, map[string]interface{}{
		"content": "I was flying over a luminous sea",
		"tags":    []string{"flying", "sea"},
		"clarity": 7,
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	var dream dreamPayload
	if err := json.Unmarshal(created.Body.Bytes(), &dream); err != nil {
		t.Fatalf("failed to decode dream: %v", err)
	}
	if dream.ID == "" || dream.UserID != "1" {
		t.Fatalf("unexpected dream payload %#v", dream)
	}
	if dream.Analysis == nil || len(dream.Analysis.Symbols) != 3 {
		t.Fatalf("expected the static analysis attached, got %#v", dream.Analysis)
	}
	if dream.ImageURL == "" {
		t.Fatal("expected a visualization image url")
	}

	liked := env.do(t, http.MethodPost, "/dreams/"+dream.ID+"/like", token, nil)
	if liked.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", liked.Code)
	}

	listed := env.do(t, http.MethodGet, "/dreams", "", nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listed.Code)
	}
	var listing struct {
		Dreams []dreamPayload `json:"dreams"`
	}
	if err := json.Unmarshal(listed.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Dreams) != 1 {
		t.Fatalf("expected one public dream, got %d", len(listing.Dreams))
	}
	if listing.Dreams[0].Likes != 1 {
		t.Fatalf("expected one like, got %d", listing.Dreams[0].Likes)
	}
}

func TestCreateDreamRequiresAuthorization(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/dreams", "", map[string]string{"content": "no token"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestListDreamsHidesPrivateFromOtherViewers(t *testing.T) {
	env := newTestEnv(t)
	lunaToken := env.login(t, "luna@example.com", "demo")
	aidenToken := env.login(t, "aiden@example.com", "demo")

	created := env.do(t, http.MethodPost, "/dreams", lunaToken, map[string]interface{}{
		"content": "a secret hallway",
		"privacy": "private",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", created.Code)
	}

	var listing struct {
		Dreams []dreamPayload `json:"dreams"`
	}

	asAiden := env.do(t, http.MethodGet, "/dreams", aidenToken, nil)
	if err := json.Unmarshal(asAiden.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Dreams) != 0 {
		t.Fatalf("expected the private dream hidden, got %d", len(listing.Dreams))
	}

	asLuna := env.do(t, http.MethodGet, "/dreams", lunaToken, nil)
	if err := json.Unmarshal(asLuna.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Dreams) != 1 {
		t.Fatalf("expected the author to see their dream, got %d", len(listing.Dreams))
	}
}

func TestListDreamsAppliesSearchCriteria(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "luna@example.com", "demo")

	for _, payload := range []map[string]interface{}{
		{"content": "flying over mountains", "tags": []string{"flying"}},
		{"content": "an ocean of glass", "tags": []string{"ocean"}},
	} {
		if recorder := env.do(t, http.MethodPost, "/dreams", token, payload); recorder.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", recorder.Code)
		}
	}

	var listing struct {
		Dreams []dreamPayload `json:"dreams"`
	}
	filtered := env.do(t, http.MethodGet, "/dreams?q=ocean", "", nil)
	if err := json.Unmarshal(filtered.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Dreams) != 1 || listing.Dreams[0].Content != "an ocean of glass" {
		t.Fatalf("expected the ocean dream only, got %#v", listing.Dreams)
	}

	byTag := env.do(t, http.MethodGet, "/dreams?tags=flying", "", nil)
	if err := json.Unmarshal(byTag.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Dreams) != 1 || listing.Dreams[0].Content != "flying over mountains" {
		t.Fatalf("expected the flying dream only, got %#v", listing.Dreams)
	}
}

func TestDeleteDreamEnforcesOwnership(t *testing.T) {
	env := newTestEnv(t)
	lunaToken := env.login(t, "luna@example.com", "demo")
	aidenToken := env.login(t, "aiden@example.com", "demo")

	created := env.do(t, http.MethodPost, "/dreams", lunaToken, map[string]string{"content": "mine"})
	var dream dreamPayload
	if err := json.Unmarshal(created.Body.Bytes(), &dream); err != nil {
		t.Fatalf("failed to decode dream: %v", err)
	}

	if recorder := env.do(t, http.MethodDelete, "/dreams/"+dream.ID, aidenToken, nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-owner, got %d", recorder.Code)
	}
	if recorder := env.do(t, http.MethodDelete, "/dreams/"+dream.ID, lunaToken, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for the owner, got %d", recorder.Code)
	}
	if recorder := env.do(t, http.MethodDelete, "/dreams/"+dream.ID, lunaToken, nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after deletion, got %d", recorder.Code)
	}
}

func TestCommentFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "luna@example.com", "demo")

	created := env.do(t, http.MethodPost, "/dreams", token, map[string]string{"content": "commentable"})
	var dream dreamPayload
	if err := json.Unmarshal(created.Body.Bytes(), &dream); err != nil {
		t.Fatalf("failed to decode dream: %v", err)
	}

	if recorder := env.do(t, http.MethodPost, "/dreams/"+dream.ID+"/comments", "", map[string]string{"content": "anon"}); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", recorder.Code)
	}

	posted := env.do(t, http.MethodPost, "/dreams/"+dream.ID+"/comments", token, map[string]string{"content": "beautiful"})
	if posted.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", posted.Code, posted.Body.String())
	}
	var comment dreams.Comment
	if err := json.Unmarshal(posted.Body.Bytes(), &comment); err != nil {
		t.Fatalf("failed to decode comment: %v", err)
	}

	if recorder := env.do(t, http.MethodPost, "/comments/"+comment.ID+"/like", token, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}

	listed := env.do(t, http.MethodGet, "/dreams/"+dream.ID+"/comments", "", nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listed.Code)
	}
	var listing struct {
		Comments []dreams.Comment `json:"comments"`
	}
	if err := json.Unmarshal(listed.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode comments: %v", err)
	}
	if len(listing.Comments) != 1 || listing.Comments[0].Likes != 1 {
		t.Fatalf("unexpected comment listing %#v", listing.Comments)
	}
}

func TestCollectionsUnavailableWithoutClient(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "luna@example.com", "demo")

	recorder := env.do(t, http.MethodGet, "/collections", token, nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "luna@example.com", "demo")

	if recorder := env.do(t, http.MethodPost, "/dreams", token, map[string]interface{}{"content": "counted", "clarity": 5}); recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}

	recorder := env.do(t, http.MethodGet, "/stats", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var stats store.Stats
	if err := json.Unmarshal(recorder.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalDreams != 1 || stats.AverageClarity != 5 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}
