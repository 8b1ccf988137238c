package boards

import (
	"errors"
	"testing"
)

func TestParseElementKind(t *testing.T) {
	kind, err := ParseElementKind(" Note ")
	if err != nil || kind != ElementKindNote {
		t.Fatalf("expected note, got %q, %v", kind, err)
	}
	if _, err := ParseElementKind("sticker"); !errors.Is(err, ErrInvalidElementKind) {
		t.Fatalf("expected invalid element kind, got %v", err)
	}
}

func TestElementKindCapabilities(t *testing.T) {
	testCases := []struct {
		kind      ElementKind
		editable  bool
		reactable bool
	}{
		{ElementKindNote, true, true},
		{ElementKindText, true, true},
		{ElementKindLink, true, true},
		{ElementKindDocument, true, true},
		{ElementKindDrawing, false, false},
		{ElementKindConnector, false, true},
	}
	for _, testCase := range testCases {
		if testCase.kind.Editable() != testCase.editable {
			t.Fatalf("%s: unexpected editable %v", testCase.kind, testCase.kind.Editable())
		}
		if testCase.kind.Reactable() != testCase.reactable {
			t.Fatalf("%s: unexpected reactable %v", testCase.kind, testCase.kind.Reactable())
		}
	}
}

func TestReactionsToggleDoesNotMutateReceiver(t *testing.T) {
	original := Reactions{"👍": {"alice"}}

	added, didAdd := original.Toggle("👍", "bob")
	if !didAdd || len(added["👍"]) != 2 {
		t.Fatalf("expected bob to be added, got %v", added)
	}
	if len(original["👍"]) != 1 {
		t.Fatalf("receiver was mutated: %v", original)
	}

	removed, didAdd := Reactions{"👍": {"alice"}}.Toggle("👍", "alice")
	if didAdd {
		t.Fatalf("expected removal")
	}
	if _, ok := removed["👍"]; ok {
		t.Fatalf("expected empty symbol to be dropped, got %v", removed)
	}
}

func TestReactionsNormalize(t *testing.T) {
	normalized := Reactions{
		"👍": {"alice", "", "alice", "bob"},
		" ":  {"carol"},
		"🎉": {},
	}.Normalize()

	expected := Reactions{"👍": {"alice", "bob"}}
	if !normalized.Equal(expected) {
		t.Fatalf("expected %v, got %v", expected, normalized)
	}
}

func TestReactionsScanAndValue(t *testing.T) {
	value, err := Reactions(nil).Value()
	if err != nil || value != "{}" {
		t.Fatalf("expected nil map to store as {}, got %v, %v", value, err)
	}

	var scanned Reactions
	if err := scanned.Scan([]byte(`{"👍":["alice"]}`)); err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if !scanned.Equal(Reactions{"👍": {"alice"}}) {
		t.Fatalf("unexpected scanned map %v", scanned)
	}
	if err := scanned.Scan(nil); err != nil || len(scanned) != 0 {
		t.Fatalf("expected NULL to scan as empty map, got %v, %v", scanned, err)
	}
	if err := scanned.Scan(42); err == nil {
		t.Fatalf("expected unsupported type to fail")
	}
}

func TestIdentifiers(t *testing.T) {
	if _, err := NewBoardID(0); !errors.Is(err, ErrInvalidBoardID) {
		t.Fatalf("expected invalid board id, got %v", err)
	}
	if _, err := NewElementID(-3); !errors.Is(err, ErrInvalidElementID) {
		t.Fatalf("expected invalid element id, got %v", err)
	}
	userID, err := NewUserID("  alice ")
	if err != nil || userID.String() != "alice" {
		t.Fatalf("expected trimmed user id, got %q, %v", userID, err)
	}
	if _, err := NewUserID("   "); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected invalid user id, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), NewError(CodeConflict, "stale", nil))
	if CodeOf(wrapped) != CodeConflict || !IsCode(wrapped, CodeConflict) {
		t.Fatalf("expected CONFLICT through wrapping, got %s", CodeOf(wrapped))
	}
	if CodeOf(errors.New("boom")) != CodeInternal || MessageOf(errors.New("boom")) != "internal error" {
		t.Fatalf("unclassified errors must be internal")
	}
	if CodeOf(nil) != "" || IsCode(nil, CodeInternal) {
		t.Fatalf("nil error must carry no code")
	}
}
