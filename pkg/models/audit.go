package models

import "time"

// AccessAction is the kind of event recorded in the access log.
type AccessAction string

const (
	ActionRead            AccessAction = "read"
	ActionRequestApproved AccessAction = "request_approved"
	ActionRequestDenied   AccessAction = "request_denied"
	ActionTokenRevoked    AccessAction = "token_revoked"
)

// AccessLog is one immutable entry in a subject's access history.
// Entries are appended and never updated or deleted.
type AccessLog struct {
	LogID        string
	CompanyID    string
	CompanyName  string
	UserID       string
	Action       AccessAction
	DataAccessed []string
	Description  string
	Timestamp    time.Time
}
