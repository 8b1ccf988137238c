package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/auth"
	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"github.com/MarcoPoloResearchLab/corkboard/internal/notifications"
	"github.com/MarcoPoloResearchLab/corkboard/internal/presence"
	"github.com/MarcoPoloResearchLab/corkboard/internal/versioning"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityContextKey = "corkboard_identity"

var (
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingInbox         = errors.New("inbox dependency required")
	errMissingHistory       = errors.New("history dependency required")
	errMissingInvites       = errors.New("invites dependency required")
	errMissingPresence      = errors.New("presence dependency required")
	errMissingRealtime      = errors.New("realtime handler dependency required")
)

// Authenticator resolves the caller of an HTTP request.
type Authenticator interface {
	ValidateRequest(r *http.Request) (auth.Identity, error)
}

// Inbox lists and acknowledges notifications.
type Inbox interface {
	List(ctx context.Context, userID boards.UserID, unreadOnly bool, limit int) ([]notifications.Notification, error)
	MarkRead(ctx context.Context, userID boards.UserID, notificationID string) (notifications.Notification, error)
}

// HistoryReader lists the versions of an element.
type HistoryReader interface {
	History(ctx context.Context, boardID boards.BoardID, elementID boards.ElementID, readerID boards.UserID) ([]versioning.ElementVersion, error)
}

// InviteIssuer issues board share codes.
type InviteIssuer interface {
	Issue(ctx context.Context, boardID boards.BoardID, userID boards.UserID) (boards.BoardInvite, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Authenticator  Authenticator
	Inbox          Inbox
	History        HistoryReader
	Invites        InviteIssuer
	Presence       *presence.Store
	Realtime       http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router for the REST endpoints and the
// websocket upgrade route.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Authenticator == nil:
		return nil, errMissingAuthenticator
	case deps.Inbox == nil:
		return nil, errMissingInbox
	case deps.History == nil:
		return nil, errMissingHistory
	case deps.Invites == nil:
		return nil, errMissingInvites
	case deps.Presence == nil:
		return nil, errMissingPresence
	case deps.Realtime == nil:
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		authenticator: deps.Authenticator,
		inbox:         deps.Inbox,
		history:       deps.History,
		invites:       deps.Invites,
		presence:      deps.Presence,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", gin.WrapH(deps.Realtime))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/:id/read", handler.handleMarkRead)
	protected.GET("/boards/:boardID/elements/:elementID/versions", handler.handleHistory)
	protected.POST("/boards/:boardID/invites", handler.handleIssueInvite)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	authenticator Authenticator
	inbox         Inbox
	history       HistoryReader
	invites       InviteIssuer
	presence      *presence.Store
	logger        *zap.Logger
}

type errorResponsePayload struct {
	Error   boards.Code `json:"error"`
	Message string      `json:"message"`
}

type healthResponsePayload struct {
	Status   string         `json:"status"`
	Presence presence.Stats `json:"presence"`
}

type notificationsResponsePayload struct {
	Notifications []notifications.Notification `json:"notifications"`
}

type historyResponsePayload struct {
	ElementID int64                       `json:"elementId"`
	Versions  []versioning.ElementVersion `json:"versions"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponsePayload{Status: "ok", Presence: h.presence.Snapshot()})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	identity := callerIdentity(c)
	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.respondError(c, boards.NewError(boards.CodeValidation, "limit must be a positive integer", err))
			return
		}
		limit = parsed
	}

	items, err := h.inbox.List(c.Request.Context(), identity.UserID, unreadOnly, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if items == nil {
		items = []notifications.Notification{}
	}
	c.JSON(http.StatusOK, notificationsResponsePayload{Notifications: items})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	identity := callerIdentity(c)
	item, err := h.inbox.MarkRead(c.Request.Context(), identity.UserID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	identity := callerIdentity(c)
	boardID, err := parseBoardID(c.Param("boardID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	rawElementID, err := strconv.ParseInt(c.Param("elementID"), 10, 64)
	if err != nil {
		h.respondError(c, boards.NewError(boards.CodeValidation, "elementID must be an integer", err))
		return
	}
	elementID, err := boards.NewElementID(rawElementID)
	if err != nil {
		h.respondError(c, boards.NewError(boards.CodeValidation, "elementID must be positive", err))
		return
	}

	versions, err := h.history.History(c.Request.Context(), boardID, elementID, identity.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if versions == nil {
		versions = []versioning.ElementVersion{}
	}
	c.JSON(http.StatusOK, historyResponsePayload{ElementID: elementID.Int64(), Versions: versions})
}

func (h *httpHandler) handleIssueInvite(c *gin.Context) {
	identity := callerIdentity(c)
	boardID, err := parseBoardID(c.Param("boardID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	invite, err := h.invites.Issue(c.Request.Context(), boardID, identity.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invite)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	identity, err := h.authenticator.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Debug("request authentication failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponsePayload{
			Error:   boards.CodeUnauthenticated,
			Message: "authentication required",
		})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	code := boards.CodeOf(err)
	if code == boards.CodeInternal {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(statusFor(code), errorResponsePayload{Error: code, Message: boards.MessageOf(err)})
}

func callerIdentity(c *gin.Context) auth.Identity {
	value, _ := c.Get(identityContextKey)
	identity, _ := value.(auth.Identity)
	return identity
}

func parseBoardID(raw string) (boards.BoardID, error) {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, boards.NewError(boards.CodeValidation, "boardID must be an integer", err)
	}
	boardID, err := boards.NewBoardID(value)
	if err != nil {
		return 0, boards.NewError(boards.CodeValidation, "boardID must be positive", err)
	}
	return boardID, nil
}

func statusFor(code boards.Code) int {
	switch code {
	case boards.CodeUnauthenticated:
		return http.StatusUnauthorized
	case boards.CodeForbidden:
		return http.StatusForbidden
	case boards.CodeNotFound:
		return http.StatusNotFound
	case boards.CodeConflict, boards.CodeDuplicate:
		return http.StatusConflict
	case boards.CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
