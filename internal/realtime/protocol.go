package realtime

import (
	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
)

// Request frame types accepted from clients.
const (
	RequestAuth           = "auth"
	RequestJoin           = "join"
	RequestLeave          = "leave"
	RequestEditPropose    = "editPropose"
	RequestEditRestore    = "editRestore"
	RequestReactionToggle = "reactionToggle"
	RequestPing           = "ping"
)

// Frame types sent to clients besides relayed room events.
const (
	FrameAck   = "ack"
	FramePong  = "pong"
	FrameReady = "ready"
	FrameError = "error"
)

// CloseUnauthenticated is the websocket close code sent when a connection
// fails authentication after the upgrade.
const CloseUnauthenticated = 4401

// Request is a client frame. Fields not used by a request type are ignored.
type Request struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	BoardID     int64  `json:"boardId,omitempty"`
	ElementID   int64  `json:"elementId,omitempty"`
	Text        string `json:"text,omitempty"`
	Version     int64  `json:"version,omitempty"`
	BaseVersion *int64 `json:"baseVersion,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
}

// Ack answers exactly one Request.
type Ack struct {
	Type           string            `json:"type"`
	ID             string            `json:"id"`
	OK             bool              `json:"ok"`
	BoardID        *int64            `json:"boardId,omitempty"`
	ElementID      *int64            `json:"elementId,omitempty"`
	Version        *int64            `json:"version,omitempty"`
	Reactions      *boards.Reactions `json:"reactions,omitempty"`
	DidAdd         *bool             `json:"didAdd,omitempty"`
	Error          boards.Code       `json:"error,omitempty"`
	Message        string            `json:"message,omitempty"`
	CurrentVersion *int64            `json:"currentVersion,omitempty"`
	CurrentText    *string           `json:"currentText,omitempty"`
}

// Ready is sent once a connection is authenticated.
type Ready struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// ErrorFrame reports a connection-level failure before the socket closes.
type ErrorFrame struct {
	Type    string      `json:"type"`
	Error   boards.Code `json:"error"`
	Message string      `json:"message"`
}

// PresenceChanged is the payload of presence events in a board room.
type PresenceChanged struct {
	BoardID int64    `json:"boardId"`
	Users   []string `json:"users"`
}

func okAck(id string) Ack {
	return Ack{Type: FrameAck, ID: id, OK: true}
}

func errorAck(id string, err error) Ack {
	return Ack{Type: FrameAck, ID: id, Error: boards.CodeOf(err), Message: boards.MessageOf(err)}
}

func validationAck(id, message string) Ack {
	return Ack{Type: FrameAck, ID: id, Error: boards.CodeValidation, Message: message}
}

func int64Ref(value int64) *int64 {
	return &value
}
