package models

import "time"

// AuditAction is the kind of selection change recorded.
type AuditAction string

const (
	AuditActionSelected   AuditAction = "selected"
	AuditActionDeselected AuditAction = "deselected"
)

// AuditEntry is an append-only record of a selection change. Seq is assigned
// by the store and increases with commit order for a given user and term.
type AuditEntry struct {
	Seq            int64       `db:"seq" json:"seq"`
	UserID         string      `db:"user_id" json:"user_id"`
	TermID         string      `db:"term_id" json:"term_id"`
	CourseID       string      `db:"course_id" json:"course_id"`
	Action         AuditAction `db:"action" json:"action"`
	PreferenceRank int         `db:"preference_rank" json:"preference_rank"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}
