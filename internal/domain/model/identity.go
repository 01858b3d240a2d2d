package model

import "time"

// Identity is an end user known to the identity service. VaultID is the
// opaque token standing in for this identity everywhere credentials are
// stored; it is generated once at creation and never reused, so the vault
// never learns who owns a record.
type Identity struct {
	ID           int64
	Username     string
	PasswordHash string
	VaultID      string
	CreatedAt    time.Time
}
