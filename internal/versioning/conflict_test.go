package versioning

import "testing"

func TestResolveEditWithoutBaseVersionAlwaysWins(t *testing.T) {
	outcome := resolveEdit(3, "old", "new", nil)
	if !outcome.Accepted {
		t.Fatalf("expected proposal without base version to be accepted")
	}
	if outcome.Version != 4 || outcome.CurrentText != "new" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestResolveEditMatchingBaseVersion(t *testing.T) {
	base := int64(0)
	outcome := resolveEdit(0, "", "first", &base)
	if !outcome.Accepted || outcome.Version != 1 {
		t.Fatalf("expected first version to be 1, got %+v", outcome)
	}
}

func TestResolveEditStaleBaseVersion(t *testing.T) {
	base := int64(2)
	outcome := resolveEdit(4, "persisted", "mine", &base)
	if outcome.Accepted {
		t.Fatalf("expected stale proposal to be rejected")
	}
	if outcome.CurrentVersion != 4 || outcome.CurrentText != "persisted" {
		t.Fatalf("expected persisted state in outcome, got %+v", outcome)
	}
	if outcome.Version != 0 {
		t.Fatalf("rejected outcome must not claim a version, got %d", outcome.Version)
	}
}

func TestResolveEditBaseVersionAhead(t *testing.T) {
	base := int64(9)
	if resolveEdit(4, "persisted", "mine", &base).Accepted {
		t.Fatalf("expected base version ahead of current to be rejected")
	}
}

func TestParseChangeKind(t *testing.T) {
	kind, err := ParseChangeKind("")
	if err != nil || kind != ChangeKindEdit {
		t.Fatalf("expected empty kind to default to edit, got %q, %v", kind, err)
	}
	kind, err = ParseChangeKind(" Restore ")
	if err != nil || kind != ChangeKindRestore {
		t.Fatalf("expected restore, got %q, %v", kind, err)
	}
	if _, err := ParseChangeKind("merge"); err == nil {
		t.Fatalf("expected unknown change kind to fail")
	}
}
