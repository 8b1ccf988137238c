package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"github.com/MarcoPoloResearchLab/corkboard/internal/broadcast"
	"github.com/MarcoPoloResearchLab/corkboard/internal/idgen"
	"github.com/MarcoPoloResearchLab/corkboard/internal/unique"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultInterval    = time.Minute
	defaultTickTimeout = 30 * time.Second

	opDispatcherNew = "notifications.dispatcher.new"
	opTick          = "notifications.dispatcher.tick"
	opRecord        = "notifications.dispatcher.record"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingPublisher = errors.New("publisher is required")
	errInvalidInterval  = errors.New("interval must be positive and shorter than the smallest lead time")
	errAlreadyNotified  = boards.NewError(boards.CodeDuplicate, "threshold already notified", nil)
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

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// DispatcherConfig wires the dispatcher.
type DispatcherConfig struct {
	Database    *gorm.DB
	Publisher   broadcast.Publisher
	IDProvider  idgen.Provider
	Clock       func() time.Time
	Interval    time.Duration
	TickTimeout time.Duration
	Logger      *zap.Logger
}

// Dispatcher polls confirmed commitments and fires each threshold once.
type Dispatcher struct {
	db          *gorm.DB
	publisher   broadcast.Publisher
	idProvider  idgen.Provider
	clock       func() time.Time
	interval    time.Duration
	tickTimeout time.Duration
	logger      *zap.Logger
	running     atomic.Bool
}

// TickReport summarises one tick.
type TickReport struct {
	Commitments int
	Fired       int
	Duplicates  int
	Failed      int
}

type commitment struct {
	EventID         int64  `gorm:"column:event_id"`
	UserID          string `gorm:"column:user_id"`
	GroupID         int64  `gorm:"column:group_id"`
	Title           string `gorm:"column:title"`
	StartsAtSeconds int64  `gorm:"column:starts_at_s"`
}

// NewDispatcher validates cfg and constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opDispatcherNew, "missing_database", errMissingDatabase)
	}
	if cfg.Publisher == nil {
		return nil, newServiceError(opDispatcherNew, "missing_publisher", errMissingPublisher)
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	if interval < 0 || interval >= minLead() {
		return nil, newServiceError(opDispatcherNew, "invalid_interval", errInvalidInterval)
	}
	tickTimeout := cfg.TickTimeout
	if tickTimeout <= 0 {
		tickTimeout = defaultTickTimeout
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = idgen.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		db:          cfg.Database,
		publisher:   cfg.Publisher,
		idProvider:  idProvider,
		clock:       clock,
		interval:    interval,
		tickTimeout: tickTimeout,
		logger:      logger,
	}, nil
}

// Run ticks every interval until ctx ends, starting immediately. A tick that
// comes due while the previous one is still running is skipped.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tickCtx, cancel := context.WithTimeout(ctx, d.tickTimeout)
			defer cancel()
			_, _, _ = d.TryTick(tickCtx)
		}()
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	launch()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			launch()
		}
	}
}

// TryTick runs Tick unless another tick of this dispatcher is in flight, in
// which case it reports ran=false without doing any work.
func (d *Dispatcher) TryTick(ctx context.Context) (TickReport, bool, error) {
	if !d.running.CompareAndSwap(false, true) {
		d.logger.Warn("dispatcher tick skipped, previous tick still running", zap.String("operation", opTick))
		return TickReport{}, false, nil
	}
	defer d.running.Store(false)
	report, err := d.Tick(ctx)
	return report, true, err
}

// Tick evaluates every confirmed commitment inside the lookahead window and
// records each threshold it crosses. Per-commitment failures are logged and
// counted; only a failed window query fails the tick.
func (d *Dispatcher) Tick(ctx context.Context) (TickReport, error) {
	now := d.clock().UTC().Truncate(time.Second)
	horizon := now.Add(maxLead() + d.interval)

	var rows []commitment
	if err := d.db.WithContext(ctx).
		Table(EventInvite{}.TableName()).
		Select("event_invites.event_id, event_invites.user_id, calendar_events.group_id, calendar_events.title, calendar_events.starts_at_s").
		Joins("JOIN calendar_events ON calendar_events.id = event_invites.event_id").
		Where("event_invites.status = ? AND calendar_events.starts_at_s > ? AND calendar_events.starts_at_s <= ?",
			InviteStatusConfirmed, now.Unix(), horizon.Unix()).
		Order("calendar_events.starts_at_s ASC, event_invites.user_id ASC").
		Scan(&rows).Error; err != nil {
		d.logError(opTick, "window_query_failed", err)
		return TickReport{}, newServiceError(opTick, "window_query_failed", err)
	}

	report := TickReport{Commitments: len(rows)}
	for _, row := range rows {
		delta := time.Unix(row.StartsAtSeconds, 0).Sub(now)
		for _, threshold := range Thresholds {
			if !crossed(delta, threshold.Lead, d.interval) {
				continue
			}
			notification, err := d.record(ctx, row, threshold, now)
			switch {
			case err == nil:
				report.Fired++
				d.publish(ctx, row, notification)
			case boards.IsCode(err, boards.CodeDuplicate):
				report.Duplicates++
				d.logger.Debug("threshold already notified",
					zap.Int64("event_id", row.EventID),
					zap.String("user_id", row.UserID),
					zap.String("threshold", string(threshold.Kind)))
			default:
				report.Failed++
			}
		}
	}

	if report.Fired > 0 || report.Failed > 0 {
		d.logger.Info("dispatcher tick completed",
			zap.Int("commitments", report.Commitments),
			zap.Int("fired", report.Fired),
			zap.Int("duplicates", report.Duplicates),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

func (d *Dispatcher) record(ctx context.Context, row commitment, threshold Threshold, now time.Time) (Notification, error) {
	notificationID, err := d.idProvider.NewID()
	if err != nil {
		d.logError(opRecord, "id_generation_failed", err, zap.Int64("event_id", row.EventID))
		return Notification{}, newServiceError(opRecord, "id_generation_failed", err)
	}
	eventID := row.EventID
	notification := Notification{
		ID:               notificationID,
		UserID:           row.UserID,
		Kind:             threshold.Kind,
		Title:            row.Title,
		Body:             threshold.Body,
		EventID:          &eventID,
		CreatedAtSeconds: now.Unix(),
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := LogEntry{
			EventID:        row.EventID,
			UserID:         row.UserID,
			Threshold:      threshold.Kind,
			FiredAtSeconds: now.Unix(),
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if result.Error != nil {
			if unique.IsViolation(result.Error) {
				return errAlreadyNotified
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errAlreadyNotified
		}
		return tx.Create(&notification).Error
	})
	if err != nil {
		if boards.IsCode(err, boards.CodeDuplicate) {
			return Notification{}, err
		}
		d.logError(opRecord, "insert_failed", err,
			zap.Int64("event_id", row.EventID),
			zap.String("user_id", row.UserID),
			zap.String("threshold", string(threshold.Kind)))
		return Notification{}, newServiceError(opRecord, "insert_failed", err)
	}
	return notification, nil
}

func (d *Dispatcher) publish(ctx context.Context, row commitment, notification Notification) {
	event := Event{
		Kind: notification.Kind,
		Commitment: CommitmentSummary{
			EventID:  row.EventID,
			Title:    row.Title,
			StartsAt: time.Unix(row.StartsAtSeconds, 0).UTC(),
			GroupID:  row.GroupID,
		},
		NotificationID: notification.ID,
	}
	if err := d.publisher.Publish(ctx, broadcast.UserRoom(row.UserID), broadcast.EventNotification, event); err != nil {
		d.logError(opTick, "publish_failed", err, zap.String("notification_id", notification.ID))
	}
}

func (d *Dispatcher) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	d.logger.Error("notification dispatcher error", attrs...)
}
