package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RecordStore = (*RecordRepo)(nil)

// execer is satisfied by both *sql.DB and *sql.Tx; audit appends run inside
// a mutation's transaction but outside any transaction for reads.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RecordRepo is the SQLite implementation of the RecordStore port interface.
// Field maps are serialized to JSON and encrypted with AES-256-GCM before
// write, decrypted after read. Every successful operation appends exactly one
// audit entry: mutations append inside their own transaction, reads append
// after the select and fail the read if the append fails.
type RecordRepo struct {
	db       *DB
	key      []byte
	instance string
}

// NewRecordRepo creates a RecordRepo. key must be 32 bytes for AES-256-GCM;
// instance names this process in audit entries (typically the hostname).
func NewRecordRepo(db *DB, key []byte, instance string) (*RecordRepo, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("record encryption key must be 32 bytes, got %d", len(key))
	}
	return &RecordRepo{db: db, key: key, instance: instance}, nil
}

// Read returns the decrypted fields for the key, or driven.ErrNotFound.
// The read is only reported successful once its audit entry is durable.
func (r *RecordRepo) Read(ctx context.Context, vaultID, appID string) (model.Fields, error) {
	const query = `SELECT fields FROM vault_records WHERE vault_id = ? AND app_id = ?`

	var encrypted string
	err := r.db.Reader.QueryRowContext(ctx, query, vaultID, appID).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s/%s: %w", vaultID, appID, err)
	}

	fields, err := r.decryptFields(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt record %s/%s: %w", vaultID, appID, err)
	}

	if err := r.appendAudit(ctx, r.db.Writer, vaultID, appID, model.AuditActionRead); err != nil {
		return nil, err
	}

	return fields, nil
}

// Write upserts the record, replacing its fields wholesale. created_at is
// preserved across upserts; updated_at always moves forward.
func (r *RecordRepo) Write(ctx context.Context, vaultID, appID string, fields model.Fields) error {
	encrypted, err := r.encryptFields(fields)
	if err != nil {
		return fmt.Errorf("encrypt record %s/%s: %w", vaultID, appID, err)
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `
		INSERT INTO vault_records (vault_id, app_id, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(vault_id, app_id) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, query, vaultID, appID, encrypted, now, now); err != nil {
		return fmt.Errorf("write record %s/%s: %w", vaultID, appID, err)
	}

	if err := r.appendAudit(ctx, tx, vaultID, appID, model.AuditActionWrite); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write %s/%s: %w", vaultID, appID, err)
	}

	return nil
}

// UpdatePassword replaces only the password field, preserving every other
// field in the record. The read-modify-write runs on the single writer
// connection inside one transaction, so concurrent updates serialize.
func (r *RecordRepo) UpdatePassword(ctx context.Context, vaultID, appID, newPassword string) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const selectQuery = `SELECT fields FROM vault_records WHERE vault_id = ? AND app_id = ?`

	var encrypted string
	err = tx.QueryRowContext(ctx, selectQuery, vaultID, appID).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return driven.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read record %s/%s: %w", vaultID, appID, err)
	}

	fields, err := r.decryptFields(encrypted)
	if err != nil {
		return fmt.Errorf("decrypt record %s/%s: %w", vaultID, appID, err)
	}

	fields[model.FieldPassword] = newPassword

	reencrypted, err := r.encryptFields(fields)
	if err != nil {
		return fmt.Errorf("encrypt record %s/%s: %w", vaultID, appID, err)
	}

	const updateQuery = `UPDATE vault_records SET fields = ?, updated_at = ? WHERE vault_id = ? AND app_id = ?`
	if _, err := tx.ExecContext(ctx, updateQuery, reencrypted, time.Now().UTC(), vaultID, appID); err != nil {
		return fmt.Errorf("update password %s/%s: %w", vaultID, appID, err)
	}

	if err := r.appendAudit(ctx, tx, vaultID, appID, model.AuditActionUpdate); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit password update %s/%s: %w", vaultID, appID, err)
	}

	return nil
}

// Delete removes the record, or returns driven.ErrNotFound. Nothing is
// audited for a miss.
func (r *RecordRepo) Delete(ctx context.Context, vaultID, appID string) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `DELETE FROM vault_records WHERE vault_id = ? AND app_id = ?`

	result, err := tx.ExecContext(ctx, query, vaultID, appID)
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", vaultID, appID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return driven.ErrNotFound
	}

	if err := r.appendAudit(ctx, tx, vaultID, appID, model.AuditActionDelete); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete %s/%s: %w", vaultID, appID, err)
	}

	return nil
}

// DeleteAll removes every record for the vault id and reports the count.
// The operation succeeds (and is audited) even when the vault was already
// empty, so the upstream cascade stays idempotent.
func (r *RecordRepo) DeleteAll(ctx context.Context, vaultID string) (int64, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `DELETE FROM vault_records WHERE vault_id = ?`

	result, err := tx.ExecContext(ctx, query, vaultID)
	if err != nil {
		return 0, fmt.Errorf("delete vault %s: %w", vaultID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	if err := r.appendAudit(ctx, tx, vaultID, model.AuditAppIDAll, model.AuditActionDeleteVault); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit vault delete %s: %w", vaultID, err)
	}

	return rows, nil
}

func (r *RecordRepo) appendAudit(ctx context.Context, ex execer, vaultID, appID string, action model.AuditAction) error {
	const query = `INSERT INTO audit_entries (vault_id, app_id, action, instance, created_at) VALUES (?, ?, ?, ?, ?)`

	if _, err := ex.ExecContext(ctx, query, vaultID, appID, string(action), r.instance, time.Now().UTC()); err != nil {
		return fmt.Errorf("append audit %s %s/%s: %w", action, vaultID, appID, err)
	}
	return nil
}

// encryptFields serializes the field map to JSON and encrypts it with
// AES-256-GCM, returning base64(nonce || ciphertext || tag).
func (r *RecordRepo) encryptFields(fields model.Fields) (string, error) {
	plaintext, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptFields reverses encryptFields.
func (r *RecordRepo) decryptFields(encoded string) (model.Fields, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm.Open: %w", err)
	}

	var fields model.Fields
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return fields, nil
}
