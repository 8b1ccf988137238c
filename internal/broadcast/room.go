// Package broadcast multiplexes realtime events onto board and user rooms.
package broadcast

import (
	"encoding/json"
	"strconv"
)

const (
	boardRoomPrefix = "board:"
	userRoomPrefix  = "user:"
)

// Event types delivered through rooms.
const (
	EventPresence         = "presence"
	EventEditApplied      = "editApplied"
	EventReactionsChanged = "reactionsChanged"
	EventNotification     = "notification"
)

// BoardRoom names the room shared by every connection that joined boardID.
func BoardRoom(boardID int64) string {
	return boardRoomPrefix + strconv.FormatInt(boardID, 10)
}

// UserRoom names the room every connection of userID is subscribed to.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// Envelope is one event addressed to a room. It is also the relay wire format.
type Envelope struct {
	Room    string          `json:"room"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
