package types

import "time"

// NotificationKind classifies runtime notifications
type NotificationKind string

const (
	NotifyCrash      NotificationKind = "crash"
	NotifyDefect     NotificationKind = "defect"
	NotifyLeak       NotificationKind = "leak"
	NotifyInstalled  NotificationKind = "installed"
	NotifyRemoved    NotificationKind = "removed"
	NotifyForeground NotificationKind = "foreground"
	NotifyRefused    NotificationKind = "refused"
)

// Notification is a user-visible event published by the runtime
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Package   string           `json:"package,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}
