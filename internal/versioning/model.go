package versioning

import (
	"errors"
	"fmt"
	"strings"
)

// ChangeKind tags why a version was appended.
type ChangeKind string

const (
	// ChangeKindEdit is a regular text replacement.
	ChangeKindEdit ChangeKind = "edit"
	// ChangeKindRestore re-applies the snapshot of an earlier version.
	ChangeKindRestore ChangeKind = "restore"
)

// ErrInvalidChangeKind indicates that a change kind is outside the supported set.
var ErrInvalidChangeKind = errors.New("versioning: invalid change kind")

// ParseChangeKind validates raw input; empty input means an edit.
func ParseChangeKind(rawInput string) (ChangeKind, error) {
	switch kind := ChangeKind(strings.ToLower(strings.TrimSpace(rawInput))); kind {
	case "":
		return ChangeKindEdit, nil
	case ChangeKindEdit, ChangeKindRestore:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChangeKind, rawInput)
	}
}

// ElementVersion is one append-only snapshot of an element's text. Versions
// of an element run gap-free from 1.
type ElementVersion struct {
	ID               int64      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	ElementID        int64      `gorm:"column:element_id;not null;uniqueIndex:idx_element_versions_element_version,priority:1" json:"elementId"`
	Version          int64      `gorm:"column:version;not null;uniqueIndex:idx_element_versions_element_version,priority:2" json:"version"`
	Text             string     `gorm:"column:text;type:text;not null" json:"text"`
	EditorID         string     `gorm:"column:editor_id;size:190;not null" json:"editorId"`
	ChangeKind       ChangeKind `gorm:"column:change_kind;size:16;not null" json:"changeKind"`
	AppliedAtSeconds int64      `gorm:"column:applied_at_s;not null" json:"appliedAt"`
}

// TableName provides the explicit table binding for GORM.
func (ElementVersion) TableName() string {
	return "element_versions"
}

// EditApplied is the board room event emitted after a version is appended.
type EditApplied struct {
	BoardID    int64      `json:"boardId"`
	ElementID  int64      `json:"elementId"`
	Text       string     `json:"text"`
	Version    int64      `json:"version"`
	EditorID   string     `json:"editorId"`
	ChangeKind ChangeKind `json:"changeKind"`
}
