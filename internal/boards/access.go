package boards

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opAccessResolve  = "boards.access.resolve"
	queryBoardByID   = "id = ?"
	queryMembership  = "group_id = ? AND user_id = ?"
	queryElementByID = "id = ? AND board_id = ?"
)

var errMissingDatabase = errors.New("database handle is required")

// Authorizer answers board-level access questions. Implementations must treat
// missing boards as unreadable.
type Authorizer interface {
	CanRead(ctx context.Context, boardID BoardID, userID UserID) (bool, error)
	CanWrite(ctx context.Context, boardID BoardID, userID UserID) (bool, error)
}

// AccessControl resolves access from board ownership and group membership rows.
type AccessControl struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAccessControl constructs an Authorizer backed by the boards tables.
func NewAccessControl(db *gorm.DB, logger *zap.Logger) (*AccessControl, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessControl{db: db, logger: logger}, nil
}

// CanRead reports whether userID may view the board.
func (access *AccessControl) CanRead(ctx context.Context, boardID BoardID, userID UserID) (bool, error) {
	readable, _, err := access.resolve(ctx, boardID, userID)
	return readable, err
}

// CanWrite reports whether userID may modify elements on the board.
func (access *AccessControl) CanWrite(ctx context.Context, boardID BoardID, userID UserID) (bool, error) {
	_, writable, err := access.resolve(ctx, boardID, userID)
	return writable, err
}

func (access *AccessControl) resolve(ctx context.Context, boardID BoardID, userID UserID) (bool, bool, error) {
	var board Board
	err := access.db.WithContext(ctx).Where(queryBoardByID, boardID.Int64()).Take(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, false, nil
	}
	if err != nil {
		access.logger.Error("board access lookup failed",
			zap.String("operation", opAccessResolve),
			zap.Int64("board_id", boardID.Int64()),
			zap.Error(err))
		return false, false, err
	}

	if !board.Shared() {
		owner := board.OwnerID == userID.String()
		return owner, owner, nil
	}

	var member GroupMember
	err = access.db.WithContext(ctx).Where(queryMembership, *board.GroupID, userID.String()).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, false, nil
	}
	if err != nil {
		access.logger.Error("group membership lookup failed",
			zap.String("operation", opAccessResolve),
			zap.Int64("board_id", boardID.Int64()),
			zap.Error(err))
		return false, false, err
	}
	return true, member.Role.CanWrite(), nil
}

// RequireRead returns NOT_FOUND unless userID can read the board, so callers
// never learn whether an unreadable board exists.
func RequireRead(ctx context.Context, authorizer Authorizer, boardID BoardID, userID UserID) error {
	readable, err := authorizer.CanRead(ctx, boardID, userID)
	if err != nil {
		return NewError(CodeInternal, "access check failed", err)
	}
	if !readable {
		return notFound("board")
	}
	return nil
}

// RequireWrite returns NOT_FOUND for unreadable boards and FORBIDDEN for
// read-only access.
func RequireWrite(ctx context.Context, authorizer Authorizer, boardID BoardID, userID UserID) error {
	if err := RequireRead(ctx, authorizer, boardID, userID); err != nil {
		return err
	}
	writable, err := authorizer.CanWrite(ctx, boardID, userID)
	if err != nil {
		return NewError(CodeInternal, "access check failed", err)
	}
	if !writable {
		return NewError(CodeForbidden, "write access required", nil)
	}
	return nil
}

// LockElement loads an element of boardID inside transaction, taking a row
// lock where the dialect supports one. The stored kind is normalized, and a
// kind outside the known set is an internal error.
func LockElement(transaction *gorm.DB, boardID BoardID, elementID ElementID) (Element, error) {
	var element Element
	err := transaction.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryElementByID, elementID.Int64(), boardID.Int64()).
		Take(&element).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Element{}, notFound("element")
	}
	if err != nil {
		return Element{}, NewError(CodeInternal, "element lookup failed", err)
	}
	kind, err := ParseElementKind(string(element.Kind))
	if err != nil {
		return Element{}, NewError(CodeInternal, "stored element kind is invalid", err)
	}
	element.Kind = kind
	return element, nil
}
