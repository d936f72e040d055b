package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/auth"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/backup"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/metrics"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/shares"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userKeyContextKey = "travelmaps_user_key"
	sessionContextKey = "travelmaps_session"

	confirmQueryParameter    = "confirm"
	backupFormField          = "file"
	maxBackupBytes           = 256 << 20
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingIdentityResolver = errors.New("identity resolver dependency required")
	errMissingSessionManager   = errors.New("session manager dependency required")
	errMissingDispatcher       = errors.New("realtime dispatcher dependency required")
	errEmptyBackup             = errors.New("backup archive is empty")
)

// SessionValidator authenticates a request from its session cookie or bearer header.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.Session, error)
}

// IdentityResolver maps session claims to the key of the user's snapshot.
type IdentityResolver interface {
	ResolveUserKey(ctx context.Context, claims auth.SessionClaims) (places.UserKey, error)
}

// ShareGateway forwards share and friend requests to the companion backend.
type ShareGateway interface {
	SharePin(ctx context.Context, token, pinID string, toUserIDs []string, pinData any) (json.RawMessage, error)
	ShareCategory(ctx context.Context, token, categoryID string, toUserIDs []string) (json.RawMessage, error)
	SearchUsers(ctx context.Context, token, query string) (json.RawMessage, error)
	SendFriendRequest(ctx context.Context, token, friendID string) (json.RawMessage, error)
	AcceptFriendRequest(ctx context.Context, token, friendshipID string) (json.RawMessage, error)
	RejectFriendRequest(ctx context.Context, token, friendshipID string) (json.RawMessage, error)
	RemoveFriend(ctx context.Context, token, friendshipID string) (json.RawMessage, error)
	Friends(ctx context.Context, token string) (json.RawMessage, error)
	PendingRequests(ctx context.Context, token string) (json.RawMessage, error)
}

// Dependencies wires the HTTP API. Shares and Metrics are optional.
type Dependencies struct {
	Validator         SessionValidator
	Identities        IdentityResolver
	Sessions          *SessionManager
	Dispatcher        *RealtimeDispatcher
	Shares            ShareGateway
	Metrics           *metrics.Collector
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Validator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityResolver
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(metricsMiddleware(deps.Metrics))
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		validator:  deps.Validator,
		identities: deps.Identities,
		sessions:   deps.Sessions,
		dispatcher: deps.Dispatcher,
		shares:     deps.Shares,
		heartbeat:  heartbeat,
		clock:      clock,
		logger:     logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/places", handler.handleListPlaces)
	protected.POST("/places", handler.handleAddPlace)
	protected.DELETE("/places", handler.handleClearPlaces)
	protected.DELETE("/places/:id", handler.handleRemovePlace)
	protected.PUT("/places/:id/category", handler.handleUpdatePlaceCategory)
	protected.POST("/places/:id/select", handler.handleSelectPlace)
	protected.POST("/places/:id/approve", handler.handleApprovePlace)
	protected.POST("/places/:id/requests", handler.handleSubmitRequest)
	protected.POST("/places/:id/memories", handler.handleAddMemory)
	protected.GET("/places/:id/memories/:memoryId", handler.handleGetMemory)
	protected.DELETE("/places/:id/memories/:memoryId", handler.handleRemoveMemory)
	protected.POST("/places/:id/share", handler.handleSharePlace)

	protected.GET("/categories", handler.handleListCategories)
	protected.POST("/categories", handler.handleAddCategory)
	protected.POST("/categories/:name/share", handler.handleShareCategory)
	protected.GET("/settings", handler.handleGetSettings)
	protected.PUT("/settings/category", handler.handleSetCategory)

	protected.GET("/backup", handler.handleExportBackup)
	protected.POST("/backup", handler.handleImportBackup)

	protected.GET("/friends", handler.handleFriends)
	protected.GET("/friends/pending", handler.handlePendingFriends)
	protected.GET("/friends/search", handler.handleSearchUsers)
	protected.POST("/friends/request", handler.handleFriendRequest)
	protected.PUT("/friends/:id/accept", handler.handleAcceptFriend)
	protected.PUT("/friends/:id/reject", handler.handleRejectFriend)
	protected.DELETE("/friends/:id", handler.handleRemoveFriend)

	protected.GET("/events", handler.handleEvents)
	protected.POST("/session/logout", handler.handleLogout)

	return router, nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func metricsMiddleware(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(started))
	}
}

type httpHandler struct {
	validator  SessionValidator
	identities IdentityResolver
	sessions   *SessionManager
	dispatcher *RealtimeDispatcher
	shares     ShareGateway
	heartbeat  time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	session, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userKey, err := h.identities.ResolveUserKey(c.Request.Context(), session.Claims)
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userKeyContextKey, userKey)
	c.Set(sessionContextKey, session)
	c.Next()
}

func requestUserKey(c *gin.Context) places.UserKey {
	value, _ := c.Get(userKeyContextKey)
	userKey, _ := value.(places.UserKey)
	return userKey
}

func requestSession(c *gin.Context) auth.Session {
	value, _ := c.Get(sessionContextKey)
	session, _ := value.(auth.Session)
	return session
}

// withStore runs fn against the caller's store and writes the mapped error
// response when it fails.
func (h *httpHandler) withStore(c *gin.Context, fn func(*places.Store) error) {
	session := requestSession(c)
	err := h.sessions.WithStore(c.Request.Context(), requestUserKey(c), session.Token, fn)
	if err != nil {
		h.respondError(c, err)
	}
}

type placesResponse struct {
	Places        []places.Place `json:"places"`
	ActivePlaceID string         `json:"activePlaceId,omitempty"`
}

func (h *httpHandler) handleListPlaces(c *gin.Context) {
	h.withStore(c, func(store *places.Store) error {
		c.JSON(http.StatusOK, placesResponse{Places: store.Places(), ActivePlaceID: store.ActivePlaceID()})
		return nil
	})
}

func (h *httpHandler) handleAddPlace(c *gin.Context) {
	var candidate places.Candidate
	if err := c.ShouldBindJSON(&candidate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.withStore(c, func(store *places.Store) error {
		place, err := store.AddPlace(candidate)
		if err != nil {
			return err
		}
		c.JSON(http.StatusCreated, place)
		return nil
	})
}

func (h *httpHandler) handleClearPlaces(c *gin.Context) {
	ctx, state := h.confirmationContext(c)
	h.withStore(c, func(store *places.Store) error {
		cleared, err := store.ClearAll(ctx)
		if err != nil {
			return err
		}
		if !cleared {
			respondConfirmationRequired(c, state)
			return nil
		}
		c.JSON(http.StatusOK, gin.H{"cleared": true})
		return nil
	})
}

func (h *httpHandler) handleRemovePlace(c *gin.Context) {
	ctx, state := h.confirmationContext(c)
	h.withStore(c, func(store *places.Store) error {
		removed, err := store.RemovePlace(ctx, c.Param("id"))
		if err != nil {
			return err
		}
		if !removed && state.asked != nil {
			respondConfirmationRequired(c, state)
			return nil
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
		return nil
	})
}

type categoryPayload struct {
	Category string `json:"category"`
}

func (h *httpHandler) handleUpdatePlaceCategory(c *gin.Context) {
	var request categoryPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Category) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.withStore(c, func(store *places.Store) error {
		place, err := store.UpdatePlaceCategory(c.Param("id"), strings.TrimSpace(request.Category))
		if err != nil {
			return err
		}
		c.JSON(http.StatusOK, place)
		return nil
	})
}

func (h *httpHandler) handleSelectPlace(c *gin.Context) {
	h.withStore(c, func(store *places.Store) error {
		if err := store.SetActivePlace(c.Param("id")); err != nil {
			return err
		}
		c.Status(http.StatusNoContent)
		return nil
	})
}

func (h *httpHandler) handleApprovePlace(c *gin.Context) {
	h.withStore(c, func(store *places.Store) error {
		place, err := store.ApprovePlace(c.Param("id"))
		if err != nil {
			return err
		}
		c.JSON(http.StatusOK, place)
		return nil
	})
}

func (h *httpHandler) handleSubmitRequest(c *gin.Context) {
	var request places.AccessRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.withStore(c, func(store *places.Store) error {
		place, err := store.SubmitRequest(c.Param("id"), request)
		if err != nil {
			return err
		}
		c.JSON(http.StatusCreated, place)
		return nil
	})
}

func (h *httpHandler) handleAddMemory(c *gin.Context) {
	var memory places.Memory
	if err := c.ShouldBindJSON(&memory); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.withStore(c, func(store *places.Store) error {
		added, err := store.AddMemory(c.Param("id"), memory)
		if err != nil {
			return err
		}
		c.JSON(http.StatusCreated, added)
		return nil
	})
}

func (h *httpHandler) handleGetMemory(c *gin.Context) {
	h.withStore(c, func(store *places.Store) error {
		memory, err := store.FindMemory(c.Param("id"), c.Param("memoryId"))
		if err != nil {
			return err
		}
		c.JSON(http.StatusOK, memory)
		return nil
	})
}

func (h *httpHandler) handleRemoveMemory(c *gin.Context) {
	ctx, state := h.confirmationContext(c)
	h.withStore(c, func(store *places.Store) error {
		removed, err := store.RemoveMemory(ctx, c.Param("id"), c.Param("memoryId"))
		if err != nil {
			return err
		}
		if !removed && state.asked != nil {
			respondConfirmationRequired(c, state)
			return nil
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
		return nil
	})
}

type sharePayload struct {
	ToUserIDs []string `json:"toUserIds"`
}

func bindShareTargets(c *gin.Context) ([]string, bool) {
	var request sharePayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.ToUserIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return nil, false
	}
	return request.ToUserIDs, true
}

func (h *httpHandler) handleSharePlace(c *gin.Context) {
	if !h.requireShares(c) {
		return
	}
	targets, ok := bindShareTargets(c)
	if !ok {
		return
	}
	var place places.Place
	h.withStore(c, func(store *places.Store) error {
		found, exists := store.Place(c.Param("id"))
		if !exists {
			return places.ErrPlaceNotFound
		}
		place = found
		return nil
	})
	if c.IsAborted() {
		return
	}
	response, err := h.shares.SharePin(c.Request.Context(), requestSession(c).Token, place.ID, targets, place)
	h.respondRaw(c, response, err)
}

func (h *httpHandler) handleListCategories(c *gin.Context) {
	h.withStore(c, func(store *places.Store) error {
		c.JSON(http.StatusOK, gin.H{"categories": store.Categories()})
		return nil
	})
}

type addCategoryPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleAddCategory(c *gin.Context) {
	var request addCategoryPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.withStore(c, func(store *places.Store) error {
		settings := store.AddCategory(strings.TrimSpace(request.Name))
		c.JSON(http.StatusOK, gin.H{"creation": settings, "categories": store.Categories()})
		return nil
	})
}

func (h *httpHandler) handleShareCategory(c *gin.Context) {
	if !h.requireShares(c) {
		return
	}
	targets, ok := bindShareTargets(c)
	if !ok {
		return
	}
	response, err := h.shares.ShareCategory(c.Request.Context(), requestSession(c).Token, c.Param("name"), targets)
	h.respondRaw(c, response, err)
}

type settingsResponse struct {
	Creation   places.CreationSettings `json:"creation"`
	Categories []string                `json:"categories"`
	Persistent bool                    `json:"persistent"`
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	h.withStore(c, func(store *places.Store) error {
		c.JSON(http.StatusOK, settingsResponse{
			Creation:   store.CreationSettings(),
			Categories: store.Categories(),
			Persistent: store.Persistent(),
		})
		return nil
	})
}

func (h *httpHandler) handleSetCategory(c *gin.Context) {
	var request categoryPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Category) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.withStore(c, func(store *places.Store) error {
		c.JSON(http.StatusOK, store.SetCategory(strings.TrimSpace(request.Category)))
		return nil
	})
}

func (h *httpHandler) handleExportBackup(c *gin.Context) {
	username := requestSession(c).Claims.DisplayUsername()
	h.withStore(c, func(store *places.Store) error {
		data, err := store.ExportBackup(c.Request.Context(), username)
		if err != nil {
			return err
		}
		c.Header("Content-Disposition", `attachment; filename="`+backup.FileName(h.clock())+`"`)
		c.Data(http.StatusOK, "application/zip", data)
		return nil
	})
}

type importResponse struct {
	Places         int      `json:"places"`
	Categories     []string `json:"categories"`
	MissingEntries []string `json:"missingEntries,omitempty"`
}

func (h *httpHandler) handleImportBackup(c *gin.Context) {
	data, err := readBackupUpload(c)
	if err != nil {
		h.logger.Info("backup upload rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_archive"})
		return
	}
	h.withStore(c, func(store *places.Store) error {
		archive, err := store.ImportBackup(c.Request.Context(), data)
		if err != nil {
			return err
		}
		c.JSON(http.StatusOK, importResponse{
			Places:         len(archive.Places),
			Categories:     store.Categories(),
			MissingEntries: archive.MissingEntries,
		})
		return nil
	})
}

// readBackupUpload accepts either a multipart form file or the raw archive body.
func readBackupUpload(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBackupBytes)
	var reader io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile(backupFormField)
		if err != nil {
			return nil, err
		}
		file, err := header.Open()
		if err != nil {
			return nil, err
		}
		defer file.Close()
		reader = file
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyBackup
	}
	return data, nil
}

func (h *httpHandler) handleFriends(c *gin.Context) {
	if !h.requireShares(c) {
		return
	}
	response, err := h.shares.Friends(c.Request.Context(), requestSession(c).Token)
	h.respondRaw(c, response, err)
}

func (h *httpHandler) handlePendingFriends(c *gin.Context) {
	if !h.requireShares(c) {
		return
	}
	response, err := h.shares.PendingRequests(c.Request.Context(), requestSession(c).Token)
	h.respondRaw(c, response, err)
}

func (h *httpHandler) handleSearchUsers(c *gin.Context) {
	if !h.requireShares(c) {
		return
	}
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	response, err := h.shares.SearchUsers(c.Request.Context(), requestSession(c).Token, query)
	h.respondRaw(c, response, err)
}

type friendRequestPayload struct {
	FriendID string `json:"friendId"`
}

func (h *httpHandler) handleFriendRequest(c *gin.Context) {
	if !h.requireShares(c) {
		return
	}
	var request friendRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.FriendID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	response, err := h.shares.SendFriendRequest(c.Request.Context(), requestSession(c).Token, strings.TrimSpace(request.FriendID))
	h.respondRaw(c, response, err)
}

func (h *httpHandler) handleAcceptFriend(c *gin.Context) {
	if !h.requireShares(c) {
		return
	}
	response, err := h.shares.AcceptFriendRequest(c.Request.Context(), requestSession(c).Token, c.Param("id"))
	h.respondRaw(c, response, err)
}

func (h *httpHandler) handleRejectFriend(c *gin.Context) {
	if !h.requireShares(c) {
		return
	}
	response, err := h.shares.RejectFriendRequest(c.Request.Context(), requestSession(c).Token, c.Param("id"))
	h.respondRaw(c, response, err)
}

func (h *httpHandler) handleRemoveFriend(c *gin.Context) {
	if !h.requireShares(c) {
		return
	}
	response, err := h.shares.RemoveFriend(c.Request.Context(), requestSession(c).Token, c.Param("id"))
	h.respondRaw(c, response, err)
}

type realtimePayload struct {
	PlaceID   string `json:"placeId,omitempty"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.dispatcher.Subscribe(ctx, requestUserKey(c))
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, realtimePayload{
				PlaceID:   message.PlaceID,
				Timestamp: message.Timestamp.Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, realtimePayload{
				Timestamp: tick.UTC().Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			return true
		}
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context(), requestUserKey(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) confirmationContext(c *gin.Context) (context.Context, *confirmationState) {
	approved, _ := strconv.ParseBool(c.Query(confirmQueryParameter))
	return withConfirmation(c.Request.Context(), approved)
}

func respondConfirmationRequired(c *gin.Context, state *confirmationState) {
	body := gin.H{"error": "confirmation_required"}
	if state.asked != nil {
		body["title"] = state.asked.Title
		body["message"] = state.asked.Message
	}
	c.JSON(http.StatusPreconditionRequired, body)
}

func (h *httpHandler) requireShares(c *gin.Context) bool {
	if h.shares == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sharing_disabled"})
		return false
	}
	return true
}

func (h *httpHandler) respondRaw(c *gin.Context, payload json.RawMessage, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(payload) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, code := classifyError(err)
	body := gin.H{"error": code}
	if status < http.StatusInternalServerError {
		body["message"] = err.Error()
		h.logger.Info("request rejected",
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	} else {
		h.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func classifyError(err error) (int, string) {
	var statusErr *shares.StatusError
	switch {
	case errors.Is(err, places.ErrDuplicatePlace):
		return http.StatusConflict, "duplicate_place"
	case errors.Is(err, places.ErrPlaceNotFound):
		return http.StatusNotFound, "place_not_found"
	case errors.Is(err, places.ErrMemoryNotFound):
		return http.StatusNotFound, "memory_not_found"
	case errors.Is(err, places.ErrInvalidCandidate):
		return http.StatusBadRequest, "invalid_candidate"
	case errors.Is(err, places.ErrInvalidMemory):
		return http.StatusBadRequest, "invalid_memory"
	case errors.Is(err, places.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_access_request"
	case errors.Is(err, places.ErrInvalidUserKey):
		return http.StatusBadRequest, "invalid_user_key"
	case errors.Is(err, backup.ErrInvalidArchive):
		return http.StatusBadRequest, "invalid_archive"
	case errors.Is(err, shares.ErrUnavailable):
		return http.StatusServiceUnavailable, "share_backend_unavailable"
	case errors.As(err, &statusErr):
		if statusErr.StatusCode >= http.StatusBadRequest && statusErr.StatusCode < http.StatusInternalServerError {
			return statusErr.StatusCode, "share_request_rejected"
		}
		return http.StatusBadGateway, "share_backend_failed"
	case errors.Is(err, shares.ErrMissingToken):
		return http.StatusUnauthorized, "unauthorized"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
