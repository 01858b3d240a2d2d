package model

import "time"

// AuditAction tags the vault operation an audit entry records.
type AuditAction string

const (
	AuditActionRead        AuditAction = "read"
	AuditActionWrite       AuditAction = "write"
	AuditActionUpdate      AuditAction = "update"
	AuditActionDelete      AuditAction = "delete"
	AuditActionDeleteVault AuditAction = "delete-vault"
)

// AuditAppIDAll is the sentinel app id recorded when an entire vault is
// deleted, since that operation has no single application.
const AuditAppIDAll = "*"

// AuditEntry records a single successful credential operation. The log is
// append-only: no code path updates or deletes a row once written.
type AuditEntry struct {
	ID        int64
	VaultID   string
	AppID     string
	Action    AuditAction
	Instance  string
	CreatedAt time.Time
}
