package model

import "time"

// Field names every login schema is expected to carry. Anything else in a
// record ("role", "tenant", ...) rides along opaquely.
const (
	FieldUsername = "username"
	FieldPassword = "password"
)

// Fields is the open string-keyed set of credential attributes stored for one
// (vault id, application id) pair.
type Fields map[string]string

// Clone returns an independent copy so callers can mutate without aliasing
// the stored map.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// VaultRecord is one stored credential blob. VaultID is the opaque identity
// token, AppID the application it belongs to; at most one record exists per
// (VaultID, AppID) and UpdatedAt never moves backwards for a key.
type VaultRecord struct {
	ID        int64
	VaultID   string
	AppID     string
	Fields    Fields
	CreatedAt time.Time
	UpdatedAt time.Time
}
