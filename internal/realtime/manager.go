// Package realtime runs authenticated client connections: board room
// membership, presence, and the request/ack protocol over edits and reactions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/corkboard/internal/auth"
	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"github.com/MarcoPoloResearchLab/corkboard/internal/broadcast"
	"github.com/MarcoPoloResearchLab/corkboard/internal/idgen"
	"github.com/MarcoPoloResearchLab/corkboard/internal/presence"
	"github.com/MarcoPoloResearchLab/corkboard/internal/reactions"
	"github.com/MarcoPoloResearchLab/corkboard/internal/versioning"
	"go.uber.org/zap"
)

const (
	defaultSendBuffer = 64

	opOpen     = "realtime.open"
	opHandle   = "realtime.handle"
	opClose    = "realtime.close"
	opPresence = "realtime.presence"
)

var (
	errMissingFabric     = errors.New("broadcast fabric is required")
	errMissingPresence   = errors.New("presence store is required")
	errMissingAuthorizer = errors.New("authorizer is required")
	errMissingEdits      = errors.New("edit log is required")
	errMissingReactions  = errors.New("reaction aggregator is required")
)

// Fabric is the subset of the broadcast hub a session needs.
type Fabric interface {
	broadcast.Publisher
	Subscribe(room string, subscriber *broadcast.Subscriber)
	Unsubscribe(room, subscriberID string)
	UnsubscribeAll(subscriberID string) []string
}

// EditLog applies versioned text edits.
type EditLog interface {
	ProposeEdit(ctx context.Context, proposal versioning.Proposal) (versioning.EditOutcome, error)
	Restore(ctx context.Context, request versioning.RestoreRequest) (versioning.EditOutcome, error)
}

// ReactionToggler flips a user's reaction on an element.
type ReactionToggler interface {
	Toggle(ctx context.Context, boardID boards.BoardID, elementID boards.ElementID, userID boards.UserID, symbol string) (reactions.ToggleResult, error)
}

// ManagerConfig wires the collaborators of a Manager.
type ManagerConfig struct {
	Fabric     Fabric
	Presence   *presence.Store
	Authorizer boards.Authorizer
	Edits      EditLog
	Reactions  ReactionToggler
	IDProvider idgen.Provider
	SendBuffer int
	Logger     *zap.Logger
}

// Manager owns the lifecycle of authenticated sessions.
type Manager struct {
	fabric     Fabric
	presence   *presence.Store
	authorizer boards.Authorizer
	edits      EditLog
	reactions  ReactionToggler
	ids        idgen.Provider
	sendBuffer int
	logger     *zap.Logger
}

// NewManager validates cfg and constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	switch {
	case cfg.Fabric == nil:
		return nil, errMissingFabric
	case cfg.Presence == nil:
		return nil, errMissingPresence
	case cfg.Authorizer == nil:
		return nil, errMissingAuthorizer
	case cfg.Edits == nil:
		return nil, errMissingEdits
	case cfg.Reactions == nil:
		return nil, errMissingReactions
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = idgen.NewNanoProvider("conn-", 12)
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		fabric:     cfg.Fabric,
		presence:   cfg.Presence,
		authorizer: cfg.Authorizer,
		edits:      cfg.Edits,
		reactions:  cfg.Reactions,
		ids:        ids,
		sendBuffer: sendBuffer,
		logger:     logger,
	}, nil
}

// SendBuffer is the per-connection outbound queue size.
func (m *Manager) SendBuffer() int {
	return m.sendBuffer
}

// Session is one authenticated connection.
type Session struct {
	id         string
	identity   auth.Identity
	subscriber *broadcast.Subscriber

	mu     sync.Mutex
	joined map[int64]struct{}
	closed bool
}

// ID returns the connection id.
func (s *Session) ID() string {
	return s.id
}

// Identity returns the authenticated user.
func (s *Session) Identity() auth.Identity {
	return s.identity
}

// Events streams room events addressed to the session.
func (s *Session) Events() <-chan broadcast.Envelope {
	return s.subscriber.Stream()
}

// JoinedBoards lists the boards the session is in, ascending.
func (s *Session) JoinedBoards() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedBoards(s.joined)
}

func (s *Session) markJoined(boardID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.joined[boardID] = struct{}{}
	return true
}

func (s *Session) markLeft(boardID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.joined[boardID]; !ok {
		return false
	}
	delete(s.joined, boardID)
	return true
}

func (s *Session) drain() ([]int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	joined := sortedBoards(s.joined)
	s.joined = map[int64]struct{}{}
	return joined, true
}

func sortedBoards(set map[int64]struct{}) []int64 {
	result := make([]int64, 0, len(set))
	for boardID := range set {
		result = append(result, boardID)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Open registers an authenticated connection and subscribes it to its user room.
func (m *Manager) Open(identity auth.Identity) (*Session, error) {
	if _, err := boards.NewUserID(identity.UserID.String()); err != nil {
		return nil, boards.NewError(boards.CodeUnauthenticated, "identity required", err)
	}
	connectionID, err := m.ids.NewID()
	if err != nil {
		m.logger.Error("connection id generation failed",
			zap.String("operation", opOpen),
			zap.String("reason", "id_generation_failed"),
			zap.Error(err))
		return nil, boards.NewError(boards.CodeInternal, "connection id unavailable", err)
	}
	session := &Session{
		id:         connectionID,
		identity:   identity,
		subscriber: broadcast.NewSubscriber(connectionID, m.sendBuffer),
		joined:     map[int64]struct{}{},
	}
	m.fabric.Subscribe(broadcast.UserRoom(identity.UserID.String()), session.subscriber)
	m.logger.Debug("realtime connection opened",
		zap.String("connection_id", connectionID),
		zap.String("user_id", identity.UserID.String()))
	return session, nil
}

// Handle decodes one request frame and returns its reply.
func (m *Manager) Handle(ctx context.Context, session *Session, raw []byte) Ack {
	var request Request
	if err := json.Unmarshal(raw, &request); err != nil {
		return validationAck("", "malformed frame")
	}
	return m.Dispatch(ctx, session, request)
}

// Dispatch runs a decoded request. Every request yields exactly one Ack.
func (m *Manager) Dispatch(ctx context.Context, session *Session, request Request) Ack {
	if request.ID == "" {
		return validationAck("", "request id required")
	}
	switch request.Type {
	case RequestJoin:
		return m.join(ctx, session, request)
	case RequestLeave:
		return m.leave(ctx, session, request)
	case RequestEditPropose:
		return m.proposeEdit(ctx, session, request)
	case RequestEditRestore:
		return m.restore(ctx, session, request)
	case RequestReactionToggle:
		return m.toggleReaction(ctx, session, request)
	case RequestPing:
		ack := okAck(request.ID)
		ack.Type = FramePong
		return ack
	case RequestAuth:
		return validationAck(request.ID, "already authenticated")
	default:
		return validationAck(request.ID, fmt.Sprintf("unknown request type %q", request.Type))
	}
}

func (m *Manager) join(ctx context.Context, session *Session, request Request) Ack {
	boardID, err := boards.NewBoardID(request.BoardID)
	if err != nil {
		return validationAck(request.ID, "boardId must be positive")
	}
	if err := boards.RequireRead(ctx, m.authorizer, boardID, session.identity.UserID); err != nil {
		return m.failed(request, err)
	}
	if !session.markJoined(boardID.Int64()) {
		return validationAck(request.ID, "connection closed")
	}
	m.fabric.Subscribe(broadcast.BoardRoom(boardID.Int64()), session.subscriber)
	m.presence.Add(boardID.Int64(), session.identity.UserID.String(), session.id)
	m.publishPresence(ctx, boardID.Int64())

	ack := okAck(request.ID)
	ack.BoardID = int64Ref(boardID.Int64())
	return ack
}

func (m *Manager) leave(ctx context.Context, session *Session, request Request) Ack {
	boardID, err := boards.NewBoardID(request.BoardID)
	if err != nil {
		return validationAck(request.ID, "boardId must be positive")
	}
	if session.markLeft(boardID.Int64()) {
		m.fabric.Unsubscribe(broadcast.BoardRoom(boardID.Int64()), session.id)
		m.presence.Remove(boardID.Int64(), session.identity.UserID.String(), session.id)
		m.publishPresence(ctx, boardID.Int64())
	}
	ack := okAck(request.ID)
	ack.BoardID = int64Ref(boardID.Int64())
	return ack
}

func (m *Manager) proposeEdit(ctx context.Context, session *Session, request Request) Ack {
	boardID, elementID, ok := parseTarget(request)
	if !ok {
		return validationAck(request.ID, "boardId and elementId must be positive")
	}
	outcome, err := m.edits.ProposeEdit(ctx, versioning.Proposal{
		BoardID:     boardID,
		ElementID:   elementID,
		Text:        request.Text,
		BaseVersion: request.BaseVersion,
		EditorID:    session.identity.UserID,
		ChangeKind:  versioning.ChangeKindEdit,
	})
	return m.editAck(request, elementID, outcome, err)
}

func (m *Manager) restore(ctx context.Context, session *Session, request Request) Ack {
	boardID, elementID, ok := parseTarget(request)
	if !ok {
		return validationAck(request.ID, "boardId and elementId must be positive")
	}
	if request.Version <= 0 {
		return validationAck(request.ID, "version must be positive")
	}
	outcome, err := m.edits.Restore(ctx, versioning.RestoreRequest{
		BoardID:     boardID,
		ElementID:   elementID,
		Version:     request.Version,
		BaseVersion: request.BaseVersion,
		EditorID:    session.identity.UserID,
	})
	return m.editAck(request, elementID, outcome, err)
}

func (m *Manager) editAck(request Request, elementID boards.ElementID, outcome versioning.EditOutcome, err error) Ack {
	if err != nil {
		return m.failed(request, err)
	}
	if !outcome.Accepted {
		currentText := outcome.CurrentText
		return Ack{
			Type:           FrameAck,
			ID:             request.ID,
			ElementID:      int64Ref(elementID.Int64()),
			Error:          boards.CodeConflict,
			Message:        "element changed since base version",
			CurrentVersion: int64Ref(outcome.CurrentVersion),
			CurrentText:    &currentText,
		}
	}
	ack := okAck(request.ID)
	ack.ElementID = int64Ref(elementID.Int64())
	ack.Version = int64Ref(outcome.Version)
	return ack
}

func (m *Manager) toggleReaction(ctx context.Context, session *Session, request Request) Ack {
	boardID, elementID, ok := parseTarget(request)
	if !ok {
		return validationAck(request.ID, "boardId and elementId must be positive")
	}
	result, err := m.reactions.Toggle(ctx, boardID, elementID, session.identity.UserID, request.Symbol)
	if err != nil {
		return m.failed(request, err)
	}
	ack := okAck(request.ID)
	ack.ElementID = int64Ref(elementID.Int64())
	current := result.Reactions
	if current == nil {
		current = boards.Reactions{}
	}
	didAdd := result.DidAdd
	ack.Reactions = &current
	ack.DidAdd = &didAdd
	return ack
}

func (m *Manager) failed(request Request, err error) Ack {
	if boards.CodeOf(err) == boards.CodeInternal {
		m.logger.Error("realtime request failed",
			zap.String("operation", opHandle),
			zap.String("reason", request.Type),
			zap.String("request_id", request.ID),
			zap.Error(err))
	}
	return errorAck(request.ID, err)
}

func parseTarget(request Request) (boards.BoardID, boards.ElementID, bool) {
	boardID, err := boards.NewBoardID(request.BoardID)
	if err != nil {
		return 0, 0, false
	}
	elementID, err := boards.NewElementID(request.ElementID)
	if err != nil {
		return 0, 0, false
	}
	return boardID, elementID, true
}

// Close tears the session down: presence is withdrawn and republished for
// every joined board before the subscriptions go. Safe to call more than once.
func (m *Manager) Close(ctx context.Context, session *Session) {
	joined, first := session.drain()
	if !first {
		return
	}
	userID := session.identity.UserID.String()
	for _, boardID := range joined {
		m.presence.Remove(boardID, userID, session.id)
		m.publishPresence(ctx, boardID)
	}
	m.fabric.UnsubscribeAll(session.id)
	if stale := m.presence.RemoveConnectionEverywhere(session.id); len(stale) > 0 {
		m.logger.Warn("presence held boards the session never joined",
			zap.String("operation", opClose),
			zap.String("connection_id", session.id),
			zap.Int64s("board_ids", stale))
	}
	m.logger.Debug("realtime connection closed",
		zap.String("connection_id", session.id),
		zap.String("user_id", userID))
}

func (m *Manager) publishPresence(ctx context.Context, boardID int64) {
	event := PresenceChanged{BoardID: boardID, Users: m.presence.ListUsers(boardID)}
	if err := m.fabric.Publish(ctx, broadcast.BoardRoom(boardID), broadcast.EventPresence, event); err != nil {
		m.logger.Error("presence publish failed",
			zap.String("operation", opPresence),
			zap.String("reason", "publish_failed"),
			zap.Int64("board_id", boardID),
			zap.Error(err))
	}
}
