package boards

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ElementKind enumerates the closed set of element payload kinds.
type ElementKind string

const (
	// ElementKindNote is a sticky note with free text.
	ElementKindNote ElementKind = "note"
	// ElementKindText is a free-floating text block.
	ElementKindText ElementKind = "text"
	// ElementKindLink is a bookmarked URL with an editable caption.
	ElementKindLink ElementKind = "link"
	// ElementKindDocument is an attached document with an editable description.
	ElementKindDocument ElementKind = "document"
	// ElementKindDrawing is a freehand drawing.
	ElementKindDrawing ElementKind = "drawing"
	// ElementKindConnector is an arrow between two elements.
	ElementKindConnector ElementKind = "connector"
)

// ErrInvalidElementKind indicates that an element kind is outside the supported set.
var ErrInvalidElementKind = errors.New("boards: invalid element kind")

// ParseElementKind validates raw input and returns an ElementKind.
func ParseElementKind(rawInput string) (ElementKind, error) {
	kind := ElementKind(strings.ToLower(strings.TrimSpace(rawInput)))
	switch kind {
	case ElementKindNote, ElementKindText, ElementKindLink, ElementKindDocument, ElementKindDrawing, ElementKindConnector:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidElementKind, rawInput)
	}
}

// Editable reports whether the kind carries collaboratively edited text.
func (kind ElementKind) Editable() bool {
	switch kind {
	case ElementKindNote, ElementKindText, ElementKindLink, ElementKindDocument:
		return true
	default:
		return false
	}
}

// Reactable reports whether users may attach reactions to the kind.
func (kind ElementKind) Reactable() bool {
	return kind != ElementKindDrawing && kind != ""
}

// GroupRole captures a member's role inside a group.
type GroupRole string

const (
	GroupRoleOwner  GroupRole = "owner"
	GroupRoleEditor GroupRole = "editor"
	GroupRoleViewer GroupRole = "viewer"
)

// CanWrite reports whether the role grants write access to group boards.
func (role GroupRole) CanWrite() bool {
	return role == GroupRoleOwner || role == GroupRoleEditor
}

// Board is a canvas scoped either to its owner or to a group.
type Board struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index"`
	GroupID          *int64 `gorm:"column:group_id;index"`
	Title            string `gorm:"column:title;size:200;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Board) TableName() string {
	return "boards"
}

// Shared reports whether the board is group-scoped rather than personal.
func (board Board) Shared() bool {
	return board.GroupID != nil
}

// GroupMember maps a user into a group with a role.
type GroupMember struct {
	GroupID int64     `gorm:"column:group_id;primaryKey"`
	UserID  string    `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	Role    GroupRole `gorm:"column:role;size:16;not null;default:'viewer'"`
}

// TableName provides the explicit table binding for GORM.
func (GroupMember) TableName() string {
	return "group_members"
}

// Element is one positioned item on a board. Text holds the current payload
// of editable kinds; its history lives in element_versions.
type Element struct {
	ID               int64       `gorm:"column:id;primaryKey;autoIncrement"`
	BoardID          int64       `gorm:"column:board_id;not null;index"`
	Kind             ElementKind `gorm:"column:kind;size:32;not null"`
	X                float64     `gorm:"column:x;not null;default:0"`
	Y                float64     `gorm:"column:y;not null;default:0"`
	Width            float64     `gorm:"column:width;not null;default:0"`
	Height           float64     `gorm:"column:height;not null;default:0"`
	ZIndex           int64       `gorm:"column:z_index;not null;default:0"`
	Text             string      `gorm:"column:text;type:text;not null;default:''"`
	Reactions        Reactions   `gorm:"column:reactions;type:text"`
	UpdatedAtSeconds int64       `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Element) TableName() string {
	return "elements"
}

// Reactions maps a reaction symbol to the ordered, duplicate-free list of users
// who reacted with it. Symbols with no reactors are never stored.
type Reactions map[string][]string

// Clone returns a deep copy that never aliases the receiver.
func (reactions Reactions) Clone() Reactions {
	cloned := make(Reactions, len(reactions))
	for symbol, users := range reactions {
		cloned[symbol] = slices.Clone(users)
	}
	return cloned
}

// Toggle flips userID's membership for symbol and reports whether it was added.
// The receiver is left untouched.
func (reactions Reactions) Toggle(symbol, userID string) (Reactions, bool) {
	updated := reactions.Clone()
	users := updated[symbol]
	if index := slices.Index(users, userID); index >= 0 {
		users = slices.Delete(users, index, index+1)
		if len(users) == 0 {
			delete(updated, symbol)
		} else {
			updated[symbol] = users
		}
		return updated, false
	}
	updated[symbol] = append(users, userID)
	return updated, true
}

// Normalize drops empty symbols, blank users and duplicate users while keeping
// first-seen order.
func (reactions Reactions) Normalize() Reactions {
	normalized := make(Reactions, len(reactions))
	for symbol, users := range reactions {
		if strings.TrimSpace(symbol) == "" {
			continue
		}
		kept := make([]string, 0, len(users))
		for _, user := range users {
			if user == "" || slices.Contains(kept, user) {
				continue
			}
			kept = append(kept, user)
		}
		if len(kept) > 0 {
			normalized[symbol] = kept
		}
	}
	return normalized
}

// Equal reports whether both maps hold the same symbols and ordered users.
func (reactions Reactions) Equal(other Reactions) bool {
	if len(reactions) != len(other) {
		return false
	}
	for symbol, users := range reactions {
		otherUsers, ok := other[symbol]
		if !ok || !slices.Equal(users, otherUsers) {
			return false
		}
	}
	return true
}

// Value stores the map as JSON text.
func (reactions Reactions) Value() (driver.Value, error) {
	if reactions == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(reactions)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan decodes the JSON text column. NULL and empty text decode to an empty map.
func (reactions *Reactions) Scan(value any) error {
	var raw []byte
	switch typed := value.(type) {
	case nil:
		*reactions = Reactions{}
		return nil
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		return fmt.Errorf("boards: cannot scan %T into reactions", value)
	}
	if len(raw) == 0 {
		*reactions = Reactions{}
		return nil
	}
	decoded := Reactions{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("boards: decode reactions: %w", err)
	}
	*reactions = decoded
	return nil
}
