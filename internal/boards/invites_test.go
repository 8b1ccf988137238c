package boards_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"github.com/MarcoPoloResearchLab/corkboard/internal/storetest"
	"go.uber.org/zap"
)

type scriptedCodes struct {
	codes []string
	index int
}

func (codes *scriptedCodes) NewID() (string, error) {
	if codes.index >= len(codes.codes) {
		return "", errors.New("exhausted codes")
	}
	code := codes.codes[codes.index]
	codes.index++
	return code, nil
}

func newInviteService(t *testing.T, codes *scriptedCodes) (*boards.InviteService, boards.Board) {
	t.Helper()
	db := storetest.Open(t, &boards.BoardInvite{})
	access, err := boards.NewAccessControl(db, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to construct access control: %v", err)
	}
	cfg := boards.InviteServiceConfig{Database: db, Authorizer: access}
	if codes != nil {
		cfg.Codes = codes
	}
	service, err := boards.NewInviteService(cfg)
	if err != nil {
		t.Fatalf("failed to construct invite service: %v", err)
	}
	return service, storetest.PersonalBoard(t, db, "alice")
}

func TestInviteIssueRetriesOnCodeCollision(t *testing.T) {
	codes := &scriptedCodes{codes: []string{"inv_same", "inv_same", "inv_fresh"}}
	service, board := newInviteService(t, codes)
	ctx := context.Background()

	first, err := service.Issue(ctx, boards.BoardID(board.ID), "alice")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	second, err := service.Issue(ctx, boards.BoardID(board.ID), "alice")
	if err != nil {
		t.Fatalf("expected collision to be retried, got %v", err)
	}
	if first.Code != "inv_same" || second.Code != "inv_fresh" {
		t.Fatalf("unexpected codes %q and %q", first.Code, second.Code)
	}
}

func TestInviteIssueExhaustsOnPersistentCollision(t *testing.T) {
	codes := &scriptedCodes{codes: []string{"inv_a", "inv_a", "inv_a", "inv_a"}}
	service, board := newInviteService(t, codes)
	ctx := context.Background()

	if _, err := service.Issue(ctx, boards.BoardID(board.ID), "alice"); err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	_, err := service.Issue(ctx, boards.BoardID(board.ID), "alice")
	if boards.CodeOf(err) != boards.CodeInternal {
		t.Fatalf("expected INTERNAL after exhausting attempts, got %v", err)
	}
}

func TestInviteIssueDefaultsAndAccess(t *testing.T) {
	service, board := newInviteService(t, nil)
	ctx := context.Background()

	invite, err := service.Issue(ctx, boards.BoardID(board.ID), "alice")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if !strings.HasPrefix(invite.Code, "inv_") || len(invite.Code) != len("inv_")+10 {
		t.Fatalf("unexpected default code %q", invite.Code)
	}
	if _, err := service.Issue(ctx, boards.BoardID(board.ID), "mallory"); boards.CodeOf(err) != boards.CodeNotFound {
		t.Fatalf("expected NOT_FOUND for stranger, got %v", err)
	}
}
