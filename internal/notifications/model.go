// Package notifications fires lead-time reminders for confirmed calendar
// commitments and keeps the per-user notification inbox.
package notifications

import "time"

// InviteStatus is the attendance state of an event invite.
type InviteStatus string

const (
	InviteStatusPending   InviteStatus = "PENDING"
	InviteStatusConfirmed InviteStatus = "CONFIRMED"
	InviteStatusDeclined  InviteStatus = "DECLINED"
)

// CalendarEvent is a time-boxed group event.
type CalendarEvent struct {
	ID              int64  `gorm:"column:id;primaryKey;autoIncrement"`
	GroupID         int64  `gorm:"column:group_id;not null;index"`
	Title           string `gorm:"column:title;size:200;not null"`
	StartsAtSeconds int64  `gorm:"column:starts_at_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (CalendarEvent) TableName() string {
	return "calendar_events"
}

// EventInvite links a user to an event. Confirmed invites are commitments.
type EventInvite struct {
	EventID int64        `gorm:"column:event_id;primaryKey"`
	UserID  string       `gorm:"column:user_id;primaryKey;size:190"`
	Status  InviteStatus `gorm:"column:status;size:16;not null;index;default:'PENDING'"`
}

// TableName provides the explicit table binding for GORM.
func (EventInvite) TableName() string {
	return "event_invites"
}

// LogEntry records that a threshold fired for one attendee. The unique index
// is the only thing standing between concurrent ticks and a double fire.
type LogEntry struct {
	ID             int64         `gorm:"column:id;primaryKey;autoIncrement"`
	EventID        int64         `gorm:"column:event_id;not null;uniqueIndex:idx_notification_log_dedupe,priority:1"`
	UserID         string        `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_notification_log_dedupe,priority:2"`
	Threshold      ThresholdKind `gorm:"column:threshold_kind;size:8;not null;uniqueIndex:idx_notification_log_dedupe,priority:3"`
	FiredAtSeconds int64         `gorm:"column:fired_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LogEntry) TableName() string {
	return "notification_log"
}

// Notification is one durable inbox item.
type Notification struct {
	ID               string        `gorm:"column:id;primaryKey;size:36" json:"id"`
	UserID           string        `gorm:"column:user_id;size:190;not null;index" json:"-"`
	Kind             ThresholdKind `gorm:"column:kind;size:8;not null" json:"kind"`
	Title            string        `gorm:"column:title;size:200;not null" json:"title"`
	Body             string        `gorm:"column:body;size:500;not null" json:"body"`
	EventID          *int64        `gorm:"column:event_id" json:"eventId,omitempty"`
	CreatedAtSeconds int64         `gorm:"column:created_at_s;not null;index" json:"createdAt"`
	ReadAtSeconds    *int64        `gorm:"column:read_at_s" json:"readAt,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// CommitmentSummary describes the event a reminder is about.
type CommitmentSummary struct {
	EventID  int64     `json:"eventId"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"startsAt"`
	GroupID  int64     `json:"groupId"`
}

// Event is the user room payload published when a reminder fires.
type Event struct {
	Kind           ThresholdKind     `json:"kind"`
	Commitment     CommitmentSummary `json:"commitment"`
	NotificationID string            `json:"notificationId"`
}
