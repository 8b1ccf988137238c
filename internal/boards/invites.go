package boards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/idgen"
	"github.com/MarcoPoloResearchLab/corkboard/internal/unique"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	inviteCodePrefix = "inv_"
	inviteCodeLength = 10
	opInviteIssue    = "boards.invites.issue"
)

var errMissingAuthorizer = errors.New("authorizer is required")

// BoardInvite is a share code granting a link to a board.
type BoardInvite struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	BoardID          int64  `gorm:"column:board_id;not null;index" json:"boardId"`
	Code             string `gorm:"column:code;size:64;not null;uniqueIndex" json:"code"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null" json:"createdBy"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (BoardInvite) TableName() string {
	return "board_invites"
}

// InviteServiceConfig wires the invite issuer.
type InviteServiceConfig struct {
	Database    *gorm.DB
	Authorizer  Authorizer
	Codes       idgen.Provider
	Clock       func() time.Time
	MaxAttempts int
	Logger      *zap.Logger
}

// InviteService issues collision-free share codes.
type InviteService struct {
	db          *gorm.DB
	authorizer  Authorizer
	codes       idgen.Provider
	clock       func() time.Time
	maxAttempts int
	logger      *zap.Logger
}

// NewInviteService validates cfg. Codes default to prefixed nanoids.
func NewInviteService(cfg InviteServiceConfig) (*InviteService, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Authorizer == nil {
		return nil, errMissingAuthorizer
	}
	codes := cfg.Codes
	if codes == nil {
		codes = idgen.NewNanoProvider(inviteCodePrefix, inviteCodeLength)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InviteService{
		db:          cfg.Database,
		authorizer:  cfg.Authorizer,
		codes:       codes,
		clock:       clock,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}, nil
}

// Issue creates a new invite for boardID. Callers need write access.
func (service *InviteService) Issue(ctx context.Context, boardID BoardID, userID UserID) (BoardInvite, error) {
	if err := RequireWrite(ctx, service.authorizer, boardID, userID); err != nil {
		return BoardInvite{}, err
	}

	var invite BoardInvite
	err := unique.Retry(ctx, service.maxAttempts, func(int) error {
		code, err := service.codes.NewID()
		if err != nil {
			return fmt.Errorf("generate invite code: %w", err)
		}
		invite = BoardInvite{
			BoardID:          boardID.Int64(),
			Code:             code,
			CreatedBy:        userID.String(),
			CreatedAtSeconds: service.clock().UTC().Unix(),
		}
		return service.db.WithContext(ctx).Create(&invite).Error
	})
	if err != nil {
		service.logger.Error("invite issue failed",
			zap.String("operation", opInviteIssue),
			zap.Int64("board_id", boardID.Int64()),
			zap.Error(err))
		return BoardInvite{}, NewError(CodeInternal, "could not issue invite", err)
	}
	return invite, nil
}
