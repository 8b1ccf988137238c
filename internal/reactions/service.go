// Package reactions aggregates per-element reaction toggles.
package reactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"github.com/MarcoPoloResearchLab/corkboard/internal/broadcast"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxSymbolLength bounds a reaction symbol in runes; enough for any emoji
// sequence and short text reactions.
const MaxSymbolLength = 16

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingAuthorizer = errors.New("authorizer is required")
	errMissingPublisher  = errors.New("publisher is required")
)

// ServiceError carries a dotted operation code for unexpected failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "reactions.service.new"
	opToggle     = "reactions.toggle"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig wires the aggregator dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Authorizer boards.Authorizer
	Publisher  broadcast.Publisher
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service toggles reactions under a per-element row lock.
type Service struct {
	db         *gorm.DB
	authorizer boards.Authorizer
	publisher  broadcast.Publisher
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates cfg and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Authorizer == nil {
		return nil, newServiceError(opServiceNew, "missing_authorizer", errMissingAuthorizer)
	}
	if cfg.Publisher == nil {
		return nil, newServiceError(opServiceNew, "missing_publisher", errMissingPublisher)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		authorizer: cfg.Authorizer,
		publisher:  cfg.Publisher,
		clock:      clock,
		logger:     logger,
	}, nil
}

// ToggleResult is the full reaction map after a toggle.
type ToggleResult struct {
	Reactions boards.Reactions
	DidAdd    bool
}

// ReactionsChanged is the board room event carrying the entire map.
type ReactionsChanged struct {
	BoardID   int64            `json:"boardId"`
	ElementID int64            `json:"elementId"`
	Reactions boards.Reactions `json:"reactions"`
}

// ParseSymbol trims and validates a reaction symbol.
func ParseSymbol(rawInput string) (string, error) {
	symbol := strings.TrimSpace(rawInput)
	if symbol == "" {
		return "", boards.NewError(boards.CodeValidation, "reaction symbol is required", nil)
	}
	if !utf8.ValidString(symbol) || utf8.RuneCountInString(symbol) > MaxSymbolLength {
		return "", boards.NewError(boards.CodeValidation, "reaction symbol is too long", nil)
	}
	return symbol, nil
}

// Toggle adds userID to the reactors of symbol, or removes them when already
// present, and publishes the resulting map to the board room.
func (s *Service) Toggle(ctx context.Context, boardID boards.BoardID, elementID boards.ElementID, userID boards.UserID, rawSymbol string) (ToggleResult, error) {
	symbol, err := ParseSymbol(rawSymbol)
	if err != nil {
		return ToggleResult{}, err
	}
	if err := boards.RequireWrite(ctx, s.authorizer, boardID, userID); err != nil {
		return ToggleResult{}, err
	}

	var result ToggleResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		element, err := boards.LockElement(tx, boardID, elementID)
		if err != nil {
			return err
		}
		if !element.Kind.Reactable() {
			return boards.NewError(boards.CodeValidation, fmt.Sprintf("%s elements do not accept reactions", element.Kind), nil)
		}

		updated, added := element.Reactions.Normalize().Toggle(symbol, userID.String())
		if err := tx.Model(&boards.Element{}).
			Where("id = ?", element.ID).
			Updates(map[string]any{
				"reactions":    updated,
				"updated_at_s": s.clock().UTC().Unix(),
			}).Error; err != nil {
			s.logError(opToggle, "element_update_failed", err, zap.Int64("element_id", element.ID))
			return newServiceError(opToggle, "element_update_failed", err)
		}
		result = ToggleResult{Reactions: updated, DidAdd: added}
		return nil
	})
	if txErr != nil {
		return ToggleResult{}, txErr
	}

	event := ReactionsChanged{BoardID: boardID.Int64(), ElementID: elementID.Int64(), Reactions: result.Reactions}
	if err := s.publisher.Publish(ctx, broadcast.BoardRoom(event.BoardID), broadcast.EventReactionsChanged, event); err != nil {
		s.logError(opToggle, "publish_failed", err, zap.Int64("element_id", event.ElementID))
	}
	return result, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("reactions service error", attrs...)
}
