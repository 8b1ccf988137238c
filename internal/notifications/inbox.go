package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 200

	opInboxList     = "notifications.inbox.list"
	opInboxMarkRead = "notifications.inbox.mark_read"
)

// InboxConfig wires the inbox reader.
type InboxConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Inbox reads and acknowledges a user's notifications.
type Inbox struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewInbox validates cfg and constructs an Inbox.
func NewInbox(cfg InboxConfig) (*Inbox, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{db: cfg.Database, clock: clock, logger: logger}, nil
}

// List returns userID's notifications, newest first.
func (inbox *Inbox) List(ctx context.Context, userID boards.UserID, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultInboxLimit
	}
	limit = min(limit, maxInboxLimit)

	query := inbox.db.WithContext(ctx).Where("user_id = ?", userID.String())
	if unreadOnly {
		query = query.Where("read_at_s IS NULL")
	}
	var items []Notification
	if err := query.Order("created_at_s DESC").Order("id DESC").Limit(limit).Find(&items).Error; err != nil {
		inbox.logger.Error("inbox query failed",
			zap.String("operation", opInboxList),
			zap.String("reason", "query_failed"),
			zap.Error(err))
		return nil, newServiceError(opInboxList, "query_failed", err)
	}
	return items, nil
}

// MarkRead stamps the read time once; repeated calls keep the first stamp.
// Notifications of other users are reported as missing.
func (inbox *Inbox) MarkRead(ctx context.Context, userID boards.UserID, notificationID string) (Notification, error) {
	var item Notification
	err := inbox.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND user_id = ?", notificationID, userID.String()).Take(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return boards.NewError(boards.CodeNotFound, "notification not found", nil)
		}
		if err != nil {
			return newServiceError(opInboxMarkRead, "select_failed", err)
		}
		if item.ReadAtSeconds != nil {
			return nil
		}
		readAt := inbox.clock().UTC().Unix()
		if err := tx.Model(&Notification{}).Where("id = ?", item.ID).Update("read_at_s", readAt).Error; err != nil {
			return newServiceError(opInboxMarkRead, "update_failed", err)
		}
		item.ReadAtSeconds = &readAt
		return nil
	})
	if err != nil {
		if !boards.IsCode(err, boards.CodeNotFound) {
			inbox.logger.Error("inbox mark read failed",
				zap.String("operation", opInboxMarkRead),
				zap.String("notification_id", notificationID),
				zap.Error(err))
		}
		return Notification{}, err
	}
	return item, nil
}
