package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/somnialabs/somnia/backend/internal/dreams"
	"github.com/somnialabs/somnia/backend/internal/insight"
	"github.com/somnialabs/somnia/backend/internal/store"
	"github.com/somnialabs/somnia/backend/internal/tables"
)

const userIDContextKey = "somnia_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingAuthStore     = errors.New("auth store dependency required")
	errMissingDreamStore    = errors.New("dream store dependency required")
	errMissingCommentStore  = errors.New("comment store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates the bearer tokens the API
// hands out on login.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the stores, adapters, and supporting services
// into the HTTP handler. TableClient and IDProvider back the
// collections routes; without a TableClient those routes report the
// feature unavailable.
type Dependencies struct {
	TokenManager SessionTokenManager
	AuthStore    *store.AuthStore
	DreamStore   *store.DreamStore
	CommentStore *store.CommentStore
	Analyzer     *insight.Analyzer
	Visualizer   *insight.Visualizer
	TableClient  tables.Client
	Feed         *tables.Feed
	IDProvider   dreams.IDProvider
	Clock        func() time.Time
	Logger       *zap.Logger
}

// NewHTTPHandler assembles the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.AuthStore == nil {
		return nil, errMissingAuthStore
	}
	if deps.DreamStore == nil {
		return nil, errMissingDreamStore
	}
	if deps.CommentStore == nil {
		return nil, errMissingCommentStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := deps.IDProvider
	if idProvider == nil {
		idProvider = dreams.NewUUIDProvider()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		authStore:  deps.AuthStore,
		dreamStore: deps.DreamStore,
		comments:   deps.CommentStore,
		analyzer:   deps.Analyzer,
		visualizer: deps.Visualizer,
		client:     deps.TableClient,
		feed:       deps.Feed,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
	}

	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/logout", handler.handleLogout)
	router.GET("/auth/confirm", handler.handleConfirm)

	router.GET("/dreams", handler.handleListDreams)
	router.GET("/dreams/stream", handler.handleStream)
	router.GET("/dreams/:id/comments", handler.handleListComments)
	router.GET("/stats", handler.handleStats)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/dreams", handler.handleCreateDream)
	protected.POST("/dreams/:id/like", handler.handleLikeDream)
	protected.DELETE("/dreams/:id", handler.handleDeleteDream)
	protected.POST("/dreams/:id/comments", handler.handleCreateComment)
	protected.POST("/comments/:id/like", handler.handleLikeComment)
	protected.DELETE("/comments/:id", handler.handleDeleteComment)
	protected.GET("/collections", handler.handleListCollections)
	protected.POST("/collections", handler.handleCreateCollection)
	protected.DELETE("/collections/:id", handler.handleDeleteCollection)
	protected.GET("/collections/:id/dreams", handler.handleListCollectionDreams)
	protected.POST("/collections/:id/dreams/:dreamID", handler.handleAddCollectionDream)
	protected.DELETE("/collections/:id/dreams/:dreamID", handler.handleRemoveCollectionDream)

	return router, nil
}

type httpHandler struct {
	tokens     SessionTokenManager
	authStore  *store.AuthStore
	dreamStore *store.DreamStore
	comments   *store.CommentStore
	analyzer   *insight.Analyzer
	visualizer *insight.Visualizer
	client     tables.Client
	feed       *tables.Feed
	idProvider dreams.IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type sessionResponsePayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	User        dreams.Profile `json:"user"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.authStore.Login(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.respondWithSession(c, http.StatusOK, profile)
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Email) == "" || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.authStore.Register(c.Request.Context(), request.Email, request.Password, request.Name)
	if err != nil {
		if errors.Is(err, store.ErrEmailAlreadyRegistered) {
			c.JSON(http.StatusConflict, gin.H{"error": "email_already_registered"})
			return
		}
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	h.respondWithSession(c, http.StatusCreated, profile)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.authStore.Logout()
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleConfirm(c *gin.Context) {
	fragment := c.Query("fragment")
	profile, err := h.authStore.ConfirmSession(c.Request.Context(), fragment)
	if err != nil {
		if errors.Is(err, store.ErrInvalidLink) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_link"})
			return
		}
		h.logger.Error("confirmation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "confirmation_failed"})
		return
	}

	h.respondWithSession(c, http.StatusOK, profile)
}

func (h *httpHandler) respondWithSession(c *gin.Context, status int, profile dreams.Profile) {
	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), profile.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        profile,
	})
}

type dreamPayload struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Content   string           `json:"content"`
	Tags      []string         `json:"tags"`
	Likes     int64            `json:"likes"`
	Comments  int64            `json:"comments"`
	Clarity   int64            `json:"clarity"`
	Analysis  *dreams.Analysis `json:"analysis,omitempty"`
	Privacy   string           `json:"privacy"`
	ImageURL  string           `json:"image_url,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func dreamToPayload(dream dreams.Dream) dreamPayload {
	tags := dream.Tags()
	if tags == nil {
		tags = []string{}
	}
	payload := dreamPayload{
		ID:        dream.ID,
		UserID:    dream.UserID,
		Content:   dream.Content,
		Tags:      tags,
		Likes:     dream.Likes,
		Comments:  dream.Comments,
		Clarity:   dream.Clarity,
		Analysis:  dream.Analysis(),
		Privacy:   string(dream.Privacy),
		ImageURL:  dream.ImageURL,
		CreatedAt: dream.CreatedAt,
	}
	if dream.Privacy == dreams.PrivacyAnonymous {
		payload.UserID = ""
	}
	return payload
}

func (h *httpHandler) handleListDreams(c *gin.Context) {
	viewerID, ok := h.optionalIdentity(c)
	if !ok {
		return
	}

	visible := h.dreamStore.GetVisibleDreams(viewerID)

	query := c.Query("q")
	tagsParam := c.Query("tags")
	if query != "" || tagsParam != "" {
		filter := store.NewSearchStore()
		filter.SetQuery(query)
		if tagsParam != "" {
			filter.SetTags(strings.Split(tagsParam, ","))
		}
		visible = filter.FilterDreams(visible)
	}

	payloads := make([]dreamPayload, 0, len(visible))
	for _, dream := range visible {
		payload := dreamToPayload(dream)
		// Authors still see their own anonymous entries attributed.
		if dream.UserID == viewerID && viewerID != "" {
			payload.UserID = dream.UserID
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"dreams": payloads})
}

type createDreamPayload struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	Clarity int64    `json:"clarity"`
	Privacy string   `json:"privacy"`
}

func (h *httpHandler) handleCreateDream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request createDreamPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	privacy := dreams.PrivacyPublic
	if strings.TrimSpace(request.Privacy) != "" {
		parsed, err := dreams.ParsePrivacy(request.Privacy)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_privacy"})
			return
		}
		privacy = parsed
	}

	dream := dreams.Dream{
		UserID:  userID,
		Content: request.Content,
		Clarity: request.Clarity,
		Privacy: privacy,
	}
	dream.SetTags(request.Tags)

	if h.analyzer != nil {
		dream.SetAnalysis(h.analyzer.Analyze(c.Request.Context(), request.Content))
	}
	if h.visualizer != nil {
		dream.ImageURL = h.visualizer.Visualize(c.Request.Context(), request.Content).URL
	}

	created, err := h.dreamStore.AddDream(c.Request.Context(), dream)
	if err != nil {
		h.logger.Error("failed to create dream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	payload := dreamToPayload(created)
	payload.UserID = created.UserID
	c.JSON(http.StatusCreated, payload)
}

func (h *httpHandler) handleLikeDream(c *gin.Context) {
	if err := h.dreamStore.LikeDream(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("failed to like dream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "like_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteDream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	dreamID := c.Param("id")

	dream, found := h.dreamStore.Get(dreamID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if dream.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if err := h.dreamStore.DeleteDream(c.Request.Context(), dreamID); err != nil {
		h.logger.Error("failed to delete dream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	dreamID := c.Param("id")
	if err := h.comments.FetchComments(c.Request.Context(), dreamID); err != nil {
		h.logger.Error("failed to fetch comments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed"})
		return
	}
	bucket := h.comments.Comments(dreamID)
	if bucket == nil {
		bucket = []dreams.Comment{}
	}
	c.JSON(http.StatusOK, gin.H{"comments": bucket})
}

type createCommentPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request createCommentPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	comment, err := h.comments.AddComment(c.Request.Context(), userID, c.Param("id"), request.Content)
	if err != nil {
		if errors.Is(err, store.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to create comment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *httpHandler) handleLikeComment(c *gin.Context) {
	if err := h.comments.LikeComment(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("failed to like comment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "like_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	if err := h.comments.DeleteComment(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("failed to delete comment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.dreamStore.Stats())
}

func (h *httpHandler) handleListCollections(c *gin.Context) {
	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collections_unavailable"})
		return
	}
	collections, err := h.client.ListCollections(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("failed to list collections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if collections == nil {
		collections = []dreams.Collection{}
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections})
}

type createCollectionPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
}

func (h *httpHandler) handleCreateCollection(c *gin.Context) {
	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collections_unavailable"})
		return
	}

	var request createCollectionPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	id, err := h.idProvider.NewID()
	if err != nil {
		h.logger.Error("failed to assign collection id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	now := h.clock().UTC()
	collection := dreams.Collection{
		ID:          id,
		UserID:      c.GetString(userIDContextKey),
		Name:        strings.TrimSpace(request.Name),
		Description: request.Description,
		Icon:        request.Icon,
		Color:       request.Color,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := h.client.InsertCollection(c.Request.Context(), collection)
	if err != nil {
		h.logger.Error("failed to create collection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleDeleteCollection(c *gin.Context) {
	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collections_unavailable"})
		return
	}
	if err := h.client.DeleteCollection(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("failed to delete collection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListCollectionDreams(c *gin.Context) {
	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collections_unavailable"})
		return
	}
	members, err := h.client.ListCollectionDreams(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("failed to list collection dreams", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if members == nil {
		members = []dreams.CollectionDream{}
	}
	c.JSON(http.StatusOK, gin.H{"dreams": members})
}

func (h *httpHandler) handleAddCollectionDream(c *gin.Context) {
	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collections_unavailable"})
		return
	}
	err := h.client.AddDreamToCollection(c.Request.Context(), c.Param("id"), c.Param("dreamID"), h.clock().UTC())
	if err != nil {
		h.logger.Error("failed to add dream to collection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRemoveCollectionDream(c *gin.Context) {
	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collections_unavailable"})
		return
	}
	err := h.client.RemoveDreamFromCollection(c.Request.Context(), c.Param("id"), c.Param("dreamID"))
	if err != nil {
		h.logger.Error("failed to remove dream from collection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// authorizeRequest rejects requests without a valid bearer token and
// stashes the validated user id in the gin context.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// optionalIdentity resolves the viewer for public routes. No header
// means anonymous; a present but invalid token is still rejected.
func (h *httpHandler) optionalIdentity(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", true
	}
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return subject, true
}
