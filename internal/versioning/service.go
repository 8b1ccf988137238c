// Package versioning keeps per-element text history with compare-and-swap
// proposals.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"github.com/MarcoPoloResearchLab/corkboard/internal/broadcast"
	"github.com/MarcoPoloResearchLab/corkboard/internal/unique"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxTextLength bounds the text of a single proposal in bytes.
const MaxTextLength = 64 * 1024

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingAuthorizer = errors.New("authorizer is required")
	errMissingPublisher  = errors.New("publisher is required")
	noOpLogger           = zap.NewNop()
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
	opServiceNew   = "versioning.service.new"
	opProposeEdit  = "versioning.propose_edit"
	opHistory      = "versioning.history"
	opVersionAt    = "versioning.version_at"
	opPublishApply = "versioning.publish_edit_applied"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires the edit log dependencies.
type ServiceConfig struct {
	Database    *gorm.DB
	Authorizer  boards.Authorizer
	Publisher   broadcast.Publisher
	Clock       func() time.Time
	MaxAttempts int
	Logger      *zap.Logger
}

// Service appends element versions under optimistic concurrency.
type Service struct {
	db          *gorm.DB
	authorizer  boards.Authorizer
	publisher   broadcast.Publisher
	clock       func() time.Time
	maxAttempts int
	logger      *zap.Logger
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
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = unique.DefaultAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:          cfg.Database,
		authorizer:  cfg.Authorizer,
		publisher:   cfg.Publisher,
		clock:       clock,
		maxAttempts: maxAttempts,
		logger:      logger,
	}, nil
}

// Proposal is a full-text replacement for one element.
type Proposal struct {
	BoardID     boards.BoardID
	ElementID   boards.ElementID
	Text        string
	BaseVersion *int64
	EditorID    boards.UserID
	ChangeKind  ChangeKind
}

// RestoreRequest re-applies the snapshot stored at Version.
type RestoreRequest struct {
	BoardID     boards.BoardID
	ElementID   boards.ElementID
	Version     int64
	BaseVersion *int64
	EditorID    boards.UserID
}

// ProposeEdit replaces the element text when the proposal is based on the
// current version. A stale base version yields a rejected outcome and no write.
func (s *Service) ProposeEdit(ctx context.Context, proposal Proposal) (EditOutcome, error) {
	kind, err := ParseChangeKind(string(proposal.ChangeKind))
	if err != nil {
		return EditOutcome{}, boards.NewError(boards.CodeValidation, "unknown change kind", err)
	}
	proposal.ChangeKind = kind
	if len(proposal.Text) > MaxTextLength || !utf8.ValidString(proposal.Text) {
		return EditOutcome{}, boards.NewError(boards.CodeValidation, "text is too long or not valid UTF-8", nil)
	}
	if proposal.BaseVersion != nil && *proposal.BaseVersion < 0 {
		return EditOutcome{}, boards.NewError(boards.CodeValidation, "base version must not be negative", nil)
	}
	if err := boards.RequireWrite(ctx, s.authorizer, proposal.BoardID, proposal.EditorID); err != nil {
		return EditOutcome{}, err
	}

	var outcome EditOutcome
	err = unique.Retry(ctx, s.maxAttempts, func(attempt int) error {
		if attempt > 0 {
			s.logger.Info("version collision, retrying",
				zap.String("operation", opProposeEdit),
				zap.Int64("element_id", proposal.ElementID.Int64()),
				zap.Int("attempt", attempt+1))
		}
		var attemptErr error
		outcome, attemptErr = s.appendVersion(ctx, proposal)
		return attemptErr
	})
	if err != nil {
		var classified *boards.Error
		if errors.As(err, &classified) {
			return EditOutcome{}, err
		}
		if errors.Is(err, unique.ErrExhausted) {
			s.logError(opProposeEdit, "retries_exhausted", err,
				zap.Int64("element_id", proposal.ElementID.Int64()))
			return EditOutcome{}, newServiceError(opProposeEdit, "retries_exhausted", err)
		}
		return EditOutcome{}, err
	}

	if outcome.Accepted {
		s.publishApplied(ctx, proposal, outcome.Version)
	}
	return outcome, nil
}

// Restore appends a new version whose text equals the snapshot at
// request.Version, tagged as a restore. History stays linear.
func (s *Service) Restore(ctx context.Context, request RestoreRequest) (EditOutcome, error) {
	if err := boards.RequireWrite(ctx, s.authorizer, request.BoardID, request.EditorID); err != nil {
		return EditOutcome{}, err
	}
	snapshot, err := s.VersionAt(ctx, request.BoardID, request.ElementID, request.Version, request.EditorID)
	if err != nil {
		return EditOutcome{}, err
	}
	return s.ProposeEdit(ctx, Proposal{
		BoardID:     request.BoardID,
		ElementID:   request.ElementID,
		Text:        snapshot.Text,
		BaseVersion: request.BaseVersion,
		EditorID:    request.EditorID,
		ChangeKind:  ChangeKindRestore,
	})
}

// History lists every version of the element, oldest first.
func (s *Service) History(ctx context.Context, boardID boards.BoardID, elementID boards.ElementID, readerID boards.UserID) ([]ElementVersion, error) {
	if err := s.requireElement(ctx, opHistory, boardID, elementID, readerID); err != nil {
		return nil, err
	}
	var versions []ElementVersion
	if err := s.db.WithContext(ctx).
		Where("element_id = ?", elementID.Int64()).
		Order("version ASC").
		Find(&versions).Error; err != nil {
		s.logError(opHistory, "query_failed", err, zap.Int64("element_id", elementID.Int64()))
		return nil, newServiceError(opHistory, "query_failed", err)
	}
	return versions, nil
}

// VersionAt returns the snapshot stored at version.
func (s *Service) VersionAt(ctx context.Context, boardID boards.BoardID, elementID boards.ElementID, version int64, readerID boards.UserID) (ElementVersion, error) {
	if version <= 0 {
		return ElementVersion{}, boards.NewError(boards.CodeValidation, "version must be positive", nil)
	}
	if err := s.requireElement(ctx, opVersionAt, boardID, elementID, readerID); err != nil {
		return ElementVersion{}, err
	}
	var snapshot ElementVersion
	err := s.db.WithContext(ctx).
		Where("element_id = ? AND version = ?", elementID.Int64(), version).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ElementVersion{}, boards.NewError(boards.CodeNotFound, "version not found", nil)
	}
	if err != nil {
		s.logError(opVersionAt, "query_failed", err, zap.Int64("element_id", elementID.Int64()))
		return ElementVersion{}, newServiceError(opVersionAt, "query_failed", err)
	}
	return snapshot, nil
}

func (s *Service) appendVersion(ctx context.Context, proposal Proposal) (EditOutcome, error) {
	var outcome EditOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		element, err := boards.LockElement(tx, proposal.BoardID, proposal.ElementID)
		if err != nil {
			return err
		}
		if !element.Kind.Editable() {
			return boards.NewError(boards.CodeValidation, fmt.Sprintf("%s elements do not carry editable text", element.Kind), nil)
		}

		current, err := currentVersion(tx, element.ID)
		if err != nil {
			s.logError(opProposeEdit, "version_select_failed", err, zap.Int64("element_id", element.ID))
			return newServiceError(opProposeEdit, "version_select_failed", err)
		}

		outcome = resolveEdit(current, element.Text, proposal.Text, proposal.BaseVersion)
		if !outcome.Accepted {
			return nil
		}

		appliedAt := s.clock().UTC().Unix()
		if err := tx.Model(&boards.Element{}).
			Where("id = ?", element.ID).
			Updates(map[string]any{"text": proposal.Text, "updated_at_s": appliedAt}).Error; err != nil {
			s.logError(opProposeEdit, "element_update_failed", err, zap.Int64("element_id", element.ID))
			return newServiceError(opProposeEdit, "element_update_failed", err)
		}

		record := ElementVersion{
			ElementID:        element.ID,
			Version:          outcome.Version,
			Text:             proposal.Text,
			EditorID:         proposal.EditorID.String(),
			ChangeKind:       proposal.ChangeKind,
			AppliedAtSeconds: appliedAt,
		}
		if err := tx.Create(&record).Error; err != nil {
			if unique.IsViolation(err) {
				return err
			}
			s.logError(opProposeEdit, "version_insert_failed", err, zap.Int64("element_id", element.ID))
			return newServiceError(opProposeEdit, "version_insert_failed", err)
		}
		return nil
	})
	return outcome, err
}

func currentVersion(tx *gorm.DB, elementID int64) (int64, error) {
	var current int64
	err := tx.Model(&ElementVersion{}).
		Select("COALESCE(MAX(version), 0)").
		Where("element_id = ?", elementID).
		Scan(&current).Error
	return current, err
}

func (s *Service) requireElement(ctx context.Context, operation string, boardID boards.BoardID, elementID boards.ElementID, readerID boards.UserID) error {
	if err := boards.RequireRead(ctx, s.authorizer, boardID, readerID); err != nil {
		return err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&boards.Element{}).
		Where("id = ? AND board_id = ?", elementID.Int64(), boardID.Int64()).
		Count(&count).Error; err != nil {
		s.logError(operation, "element_select_failed", err, zap.Int64("element_id", elementID.Int64()))
		return newServiceError(operation, "element_select_failed", err)
	}
	if count == 0 {
		return boards.NewError(boards.CodeNotFound, "element not found", nil)
	}
	return nil
}

func (s *Service) publishApplied(ctx context.Context, proposal Proposal, version int64) {
	event := EditApplied{
		BoardID:    proposal.BoardID.Int64(),
		ElementID:  proposal.ElementID.Int64(),
		Text:       proposal.Text,
		Version:    version,
		EditorID:   proposal.EditorID.String(),
		ChangeKind: proposal.ChangeKind,
	}
	if err := s.publisher.Publish(ctx, broadcast.BoardRoom(event.BoardID), broadcast.EventEditApplied, event); err != nil {
		s.logError(opPublishApply, "publish_failed", err, zap.Int64("element_id", event.ElementID))
	}
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
	s.logger.Error("versioning service error", attrs...)
}
