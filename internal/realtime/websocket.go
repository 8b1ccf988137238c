package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/auth"
	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultAuthTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxFrameBytes       = 128 << 10

	opServe = "realtime.serve"
)

var (
	errMissingManager  = errors.New("session manager is required")
	errMissingVerifier = errors.New("credential verifier is required")
	errAuthFrame       = errors.New("first frame must be an auth request")
)

// Verifier resolves a bearer credential to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

// HandlerConfig configures the websocket endpoint.
type HandlerConfig struct {
	Manager      *Manager
	Verifier     Verifier
	CookieName   string
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
	// BaseContext bounds every connection; cancelling it closes all sockets.
	BaseContext context.Context
	Logger      *zap.Logger
}

// Handler upgrades HTTP requests to realtime sessions.
type Handler struct {
	manager      *Manager
	verifier     Verifier
	cookieName   string
	authTimeout  time.Duration
	writeTimeout time.Duration
	baseContext  context.Context
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// NewHandler validates cfg and constructs a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Manager == nil {
		return nil, errMissingManager
	}
	if cfg.Verifier == nil {
		return nil, errMissingVerifier
	}
	authTimeout := cfg.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = defaultAuthTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	baseContext := cfg.BaseContext
	if baseContext == nil {
		baseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager:      cfg.Manager,
		verifier:     cfg.Verifier,
		cookieName:   cfg.CookieName,
		authTimeout:  authTimeout,
		writeTimeout: writeTimeout,
		baseContext:  baseContext,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger: logger,
	}, nil
}

// ServeHTTP authenticates the handshake credential when one is present and
// otherwise expects an auth frame right after the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var identity auth.Identity
	token := auth.TokenFromRequest(r, h.cookieName)
	if token != "" {
		verified, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			h.logger.Debug("websocket handshake rejected", zap.String("operation", opServe), zap.Error(err))
			writeUnauthorized(w)
			return
		}
		identity = verified
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("operation", opServe), zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	authRequestID := ""
	if token == "" {
		identity, authRequestID, err = h.awaitAuthFrame(conn)
		if err != nil {
			h.reject(conn, err)
			return
		}
	}

	session, err := h.manager.Open(identity)
	if err != nil {
		h.reject(conn, err)
		return
	}
	h.serve(conn, session, authRequestID)
}

func (h *Handler) awaitAuthFrame(conn *websocket.Conn) (auth.Identity, string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.authTimeout)); err != nil {
		return auth.Identity{}, "", err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return auth.Identity{}, "", err
	}
	var request Request
	if err := json.Unmarshal(data, &request); err != nil || request.Type != RequestAuth {
		return auth.Identity{}, "", errAuthFrame
	}
	ctx, cancel := context.WithTimeout(h.baseContext, h.authTimeout)
	defer cancel()
	identity, err := h.verifier.Verify(ctx, request.Token)
	if err != nil {
		return auth.Identity{}, "", err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return auth.Identity{}, "", err
	}
	return identity, request.ID, nil
}

func (h *Handler) reject(conn *websocket.Conn, cause error) {
	h.logger.Debug("websocket authentication failed", zap.String("operation", opServe), zap.Error(cause))
	deadline := time.Now().Add(h.writeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(ErrorFrame{Type: FrameError, Error: boards.CodeUnauthenticated, Message: "authentication required"})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(CloseUnauthenticated, "unauthenticated"), deadline)
}

func (h *Handler) serve(conn *websocket.Conn, session *Session, authRequestID string) {
	ctx, cancel := context.WithCancel(h.baseContext)
	defer cancel()

	outbound := make(chan any, h.manager.SendBuffer())
	outbound <- Ready{Type: FrameReady, ConnectionID: session.ID(), UserID: session.Identity().UserID.String()}
	if authRequestID != "" {
		outbound <- okAck(authRequestID)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, cancel, conn, session, outbound)
	}()

	h.readLoop(ctx, conn, session, outbound)
	cancel()
	<-writerDone
	h.manager.Close(context.WithoutCancel(ctx), session)
}

// readLoop is the only reader of conn. Requests run in arrival order.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, session *Session, outbound chan<- any) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed",
					zap.String("operation", opServe),
					zap.String("connection_id", session.ID()),
					zap.Error(err))
			}
			return
		}
		ack := h.manager.Handle(ctx, session, data)
		select {
		case outbound <- ack:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop is the only writer of conn. Closing conn on exit unblocks readLoop.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, session *Session, outbound <-chan any) {
	defer conn.Close()
	defer cancel()
	for {
		var frame any
		select {
		case <-ctx.Done():
			return
		case frame = <-outbound:
		case frame = <-session.Events():
		}
		if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return
		}
		if err := conn.WriteJSON(frame); err != nil {
			h.logger.Debug("websocket write failed",
				zap.String("operation", opServe),
				zap.String("connection_id", session.ID()),
				zap.Error(err))
			return
		}
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorFrame{Type: FrameError, Error: boards.CodeUnauthenticated, Message: "authentication required"})
}
