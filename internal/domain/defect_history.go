package domain

import "time"

// HistoryAction names what happened in an audit entry.
type HistoryAction string

const (
	HistoryActionStatusChanged HistoryAction = "status_changed"
	HistoryActionAssigned      HistoryAction = "assigned"
)

// DefectHistory is an immutable audit trail entry.
type DefectHistory struct {
	ID        string
	DefectID  string
	UserID    *string
	Action    HistoryAction
	FieldName string
	OldValue  string
	NewValue  string
	Timestamp time.Time
	IPAddress *string
}
