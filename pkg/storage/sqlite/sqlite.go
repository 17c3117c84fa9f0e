// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package sqlite implements durable credential persistence with a SQLite
// database. The driver is WASM-based, so deployments need no cgo and no
// system sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed" // Load sqlite WASM binary

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
)

// Repository is a SQLite-backed ceremony.CredentialRepository.
type Repository struct {
	db *sql.DB
}

// Open creates or opens a SQLite database file using a single non-pooled
// connection and ensures the schema exists.
func Open(filename string) (*Repository, error) {
	connector, err := (&driver.SQLite{}).OpenConnector(
		"file:" + filepath.Clean(filename) + "?_pragma=foreign_keys(on)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("error creating sqlite connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := Init(db); err != nil {
		return nil, err
	}
	return New(db), nil
}

// New creates a Repository on an existing database handle. The expected
// tables must already exist; in most cases Open should be used, which
// implicitly calls Init.
func New(db *sql.DB) *Repository { return &Repository{db: db} }

// Init ensures all tables are created. It does not recognize if tables have
// been created with invalid schemas.
func Init(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credentials
			( id BLOB PRIMARY KEY
			, user_id TEXT NOT NULL
			, user_handle BLOB NOT NULL
			, public_key BLOB NOT NULL
			, sign_count INTEGER NOT NULL
			, type TEXT NOT NULL
			, attestation_type TEXT NOT NULL DEFAULT ''
			, aaguid BLOB
			, transport TEXT NOT NULL DEFAULT '[]'
			, label TEXT NOT NULL DEFAULT ''
			, created_at INTEGER NOT NULL
			, last_used_at INTEGER NOT NULL DEFAULT 0
			)`,
		`CREATE INDEX IF NOT EXISTS credentials_user_id
			ON credentials(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (r *Repository) Close() error { return r.db.Close() }

const credentialColumns = `id, user_id, user_handle, public_key, sign_count,
	type, attestation_type, aaguid, transport, label, created_at, last_used_at`

// ListByUser returns all credentials owned by the user, oldest first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]*ceremony.Credential, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = ? ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return nil, ceremony.WrapError("list credentials", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*ceremony.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, ceremony.WrapError("scan credential", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, ceremony.WrapError("list credentials", err)
	}
	return creds, nil
}

// FindByID returns the credential with the given identifier.
func (r *Repository) FindByID(ctx context.Context, credentialID []byte) (*ceremony.Credential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`,
		credentialID)
	cred, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, ceremony.NewError("find credential", ceremony.ErrCredentialNotFound)
	}
	if err != nil {
		return nil, ceremony.WrapError("find credential", err)
	}
	return cred, nil
}

// Insert stores a new credential. A primary key conflict means the
// identifier is already registered; the existing row is never touched.
func (r *Repository) Insert(ctx context.Context, cred *ceremony.Credential) error {
	transport, err := json.Marshal(cred.Transport)
	if err != nil {
		return ceremony.WrapError("encode transport", err)
	}

	var lastUsed int64
	if !cred.LastUsedAt.IsZero() {
		lastUsed = cred.LastUsedAt.Unix()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO credentials (`+credentialColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.UserID, cred.UserHandle, cred.PublicKey, cred.SignCount,
		cred.Type, cred.AttestationType, cred.AAGUID, string(transport),
		cred.Label, cred.CreatedAt.Unix(), lastUsed)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ceremony.NewError("insert credential", ceremony.ErrDuplicateCredential)
		}
		return ceremony.WrapError("insert credential", err)
	}
	return nil
}

// UpdateCounter advances the signature counter and last-used timestamp as a
// compare-and-set against the previously observed value. Zero affected rows
// means the counter moved underneath us, which is treated as a suspected
// clone.
func (r *Repository) UpdateCounter(ctx context.Context, credentialID []byte, observed, updated uint32) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ?, last_used_at = ?
			WHERE id = ? AND sign_count = ?`,
		updated, time.Now().UTC().Unix(), credentialID, observed)
	if err != nil {
		return ceremony.WrapError("update counter", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ceremony.WrapError("update counter", err)
	}
	if affected == 0 {
		if _, err := r.FindByID(ctx, credentialID); err != nil {
			return err
		}
		return ceremony.NewError("update counter", ceremony.ErrCloneSuspected)
	}
	return nil
}

// DeleteOwned removes the credential only if owned by userID. Returns false
// for both missing and foreign credentials.
func (r *Repository) DeleteOwned(ctx context.Context, credentialID []byte, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE id = ? AND user_id = ?`,
		credentialID, userID)
	if err != nil {
		return false, ceremony.WrapError("delete credential", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, ceremony.WrapError("delete credential", err)
	}
	return affected > 0, nil
}

// Count returns the number of stored credentials.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&count); err != nil {
		return 0, ceremony.WrapError("count credentials", err)
	}
	return count, nil
}

// scanner abstracts sql.Row and sql.Rows for scanCredential.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*ceremony.Credential, error) {
	var (
		cred          ceremony.Credential
		transportJSON string
		createdAt     int64
		lastUsedAt    int64
	)
	if err := row.Scan(&cred.ID, &cred.UserID, &cred.UserHandle, &cred.PublicKey,
		&cred.SignCount, &cred.Type, &cred.AttestationType, &cred.AAGUID,
		&transportJSON, &cred.Label, &createdAt, &lastUsedAt); err != nil {
		return nil, err
	}

	var transport []protocol.AuthenticatorTransport
	if err := json.Unmarshal([]byte(transportJSON), &transport); err != nil {
		return nil, fmt.Errorf("error decoding transport: %w", err)
	}
	cred.Transport = transport

	cred.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastUsedAt > 0 {
		cred.LastUsedAt = time.Unix(lastUsedAt, 0).UTC()
	}
	return &cred, nil
}
