package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/chaosslabs/personal-automator/internal/automerr"
)

// Credentials groups credential metadata CRUD operations. The encrypted
// value itself is only ever written through the Vault (spec §3 Lifecycle
// summary); this accessor stores whatever ciphertext it is handed without
// interpreting it.
type Credentials struct{ s *Store }

// Credentials returns the Credentials accessor bound to this Store.
func (s *Store) Credentials() *Credentials { return &Credentials{s: s} }

// Create inserts credential metadata only (no value).
func (c *Credentials) Create(ctx context.Context, cred *Credential) (int64, error) {
	res, err := c.s.ExecContext(ctx, `
		INSERT INTO credentials (name, type, description) VALUES (?,?,?)`,
		cred.Name, string(cred.Type), cred.Description,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, automerr.New("Credentials.Create", automerr.KindConflict, err)
		}
		return 0, automerr.New("Credentials.Create", automerr.KindIO, err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// CreateWithValue inserts credential metadata plus an already-encrypted
// value (base64 ciphertext — callers obtain this from vault.Encrypt).
func (c *Credentials) CreateWithValue(ctx context.Context, cred *Credential, encryptedValue string) (int64, error) {
	res, err := c.s.ExecContext(ctx, `
		INSERT INTO credentials (name, type, description, encrypted_value) VALUES (?,?,?,?)`,
		cred.Name, string(cred.Type), cred.Description, encryptedValue,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, automerr.New("Credentials.CreateWithValue", automerr.KindConflict, err)
		}
		return 0, automerr.New("Credentials.CreateWithValue", automerr.KindIO, err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// GetByID fetches credential metadata (never the ciphertext) by id.
func (c *Credentials) GetByID(ctx context.Context, id int64) (*Credential, error) {
	row := c.s.QueryRowContext(ctx, credentialMetaSelect+` WHERE id=?`, id)
	return scanCredentialMeta(row)
}

// GetByName fetches credential metadata by name.
func (c *Credentials) GetByName(ctx context.Context, name string) (*Credential, error) {
	row := c.s.QueryRowContext(ctx, credentialMetaSelect+` WHERE name=?`, name)
	return scanCredentialMeta(row)
}

// List returns all credential metadata; HasValue is derived, never the
// ciphertext itself (spec §3: "Listing to the outside world never includes
// encryptedValue; it surfaces only a hasValue bool").
func (c *Credentials) List(ctx context.Context) ([]*Credential, error) {
	rows, err := c.s.QueryContext(ctx, credentialMetaSelect+` ORDER BY name ASC`)
	if err != nil {
		return nil, automerr.New("Credentials.List", automerr.KindIO, err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		cred, err := scanCredentialMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

// Update rewrites credential metadata (not the value).
func (c *Credentials) Update(ctx context.Context, id int64, credType CredentialType, description string) error {
	res, err := c.s.ExecContext(ctx, `UPDATE credentials SET type=?, description=? WHERE id=?`,
		string(credType), description, id)
	if err != nil {
		return automerr.New("Credentials.Update", automerr.KindIO, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return automerr.New("Credentials.Update", automerr.KindNotFound, nil)
	}
	return nil
}

// Delete removes a credential's metadata and value entirely.
func (c *Credentials) Delete(ctx context.Context, id int64) error {
	res, err := c.s.ExecContext(ctx, `DELETE FROM credentials WHERE id=?`, id)
	if err != nil {
		return automerr.New("Credentials.Delete", automerr.KindIO, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return automerr.New("Credentials.Delete", automerr.KindNotFound, nil)
	}
	return nil
}

// Exists reports whether a credential with the given name exists.
func (c *Credentials) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := c.s.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials WHERE name=?`, name).Scan(&n); err != nil {
		return false, automerr.New("Credentials.Exists", automerr.KindIO, err)
	}
	return n > 0, nil
}

// HasValue reports whether the named credential currently has a stored value.
func (c *Credentials) HasValue(ctx context.Context, name string) (bool, error) {
	var v sql.NullString
	err := c.s.QueryRowContext(ctx, `SELECT encrypted_value FROM credentials WHERE name=?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, automerr.New("Credentials.HasValue", automerr.KindNotFound, nil)
	}
	if err != nil {
		return false, automerr.New("Credentials.HasValue", automerr.KindIO, err)
	}
	return v.Valid && v.String != "", nil
}

// UpdateValue sets (or replaces) the encrypted value for a named credential.
func (c *Credentials) UpdateValue(ctx context.Context, name, encryptedValue string) error {
	res, err := c.s.ExecContext(ctx, `UPDATE credentials SET encrypted_value=? WHERE name=?`, encryptedValue, name)
	if err != nil {
		return automerr.New("Credentials.UpdateValue", automerr.KindIO, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return automerr.New("Credentials.UpdateValue", automerr.KindNotFound, nil)
	}
	return nil
}

// ClearValue wipes the stored ciphertext for a named credential, leaving
// metadata intact.
func (c *Credentials) ClearValue(ctx context.Context, name string) error {
	_, err := c.s.ExecContext(ctx, `UPDATE credentials SET encrypted_value=NULL WHERE name=?`, name)
	if err != nil {
		return automerr.New("Credentials.ClearValue", automerr.KindIO, err)
	}
	return nil
}

// UpdateLastUsed stamps lastUsedAt on a successful decrypt by the Injector.
func (c *Credentials) UpdateLastUsed(ctx context.Context, name string, when time.Time) error {
	_, err := c.s.ExecContext(ctx, `UPDATE credentials SET last_used_at=? WHERE name=?`, when, name)
	if err != nil {
		return automerr.New("Credentials.UpdateLastUsed", automerr.KindIO, err)
	}
	return nil
}

// GetEncryptedValues fetches ciphertext + metadata presence for a set of
// names in one call, so the Injector never round-trips per credential.
func (c *Credentials) GetEncryptedValues(ctx context.Context, names []string) (map[string]string, map[string]bool, error) {
	ciphertexts := make(map[string]string, len(names))
	exists := make(map[string]bool, len(names))
	if len(names) == 0 {
		return ciphertexts, exists, nil
	}

	placeholders := make([]byte, 0, len(names)*2)
	args := make([]interface{}, len(names))
	for i, n := range names {
		if i > 0 {
			placeholders = append(placeholders, ',', '?')
		} else {
			placeholders = append(placeholders, '?')
		}
		args[i] = n
	}
	query := `SELECT name, encrypted_value FROM credentials WHERE name IN (` + string(placeholders) + `)`

	rows, err := c.s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, automerr.New("Credentials.GetEncryptedValues", automerr.KindIO, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var val sql.NullString
		if err := rows.Scan(&name, &val); err != nil {
			return nil, nil, automerr.New("Credentials.GetEncryptedValues", automerr.KindIO, err)
		}
		exists[name] = true
		if val.Valid {
			ciphertexts[name] = val.String
		}
	}
	return ciphertexts, exists, rows.Err()
}

// GetInUse returns the union of every task's credential list plus the
// required-credentials of every template referenced by a task — i.e. every
// credential name currently load-bearing.
func (c *Credentials) GetInUse(ctx context.Context) (map[string]bool, error) {
	inUse := make(map[string]bool)

	rows, err := c.s.QueryContext(ctx, `SELECT credentials_json FROM tasks`)
	if err != nil {
		return nil, automerr.New("Credentials.GetInUse", automerr.KindIO, err)
	}
	var taskCreds []string
	for rows.Next() {
		var js string
		if err := rows.Scan(&js); err != nil {
			rows.Close()
			return nil, automerr.New("Credentials.GetInUse", automerr.KindIO, err)
		}
		taskCreds = append(taskCreds, js)
	}
	rows.Close()
	for _, js := range taskCreds {
		for _, name := range decodeStringSlice(js) {
			inUse[name] = true
		}
	}

	rows2, err := c.s.QueryContext(ctx, `
		SELECT DISTINCT t.required_creds_json FROM templates t
		JOIN tasks k ON k.template_id = t.id`)
	if err != nil {
		return nil, automerr.New("Credentials.GetInUse", automerr.KindIO, err)
	}
	defer rows2.Close()
	for rows2.Next() {
		var js string
		if err := rows2.Scan(&js); err != nil {
			return nil, automerr.New("Credentials.GetInUse", automerr.KindIO, err)
		}
		for _, name := range decodeStringSlice(js) {
			inUse[name] = true
		}
	}
	return inUse, rows2.Err()
}

const credentialMetaSelect = `SELECT id, name, type, description,
	(encrypted_value IS NOT NULL AND encrypted_value != ''), created_at, last_used_at
	FROM credentials`

// decodeStringSlice tolerates empty/null JSON arrays, returning nil for
// either rather than erroring — both tasks.credentials_json and
// templates.required_creds_json default to well-formed JSON arrays, but this
// stays defensive against a blank string slipping through a future migration.
func decodeStringSlice(js string) []string {
	if js == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(js), &out); err != nil {
		return nil
	}
	return out
}

func scanCredentialMeta(row rowScanner) (*Credential, error) {
	var cred Credential
	var credType string
	var lastUsed sql.NullTime

	err := row.Scan(&cred.ID, &cred.Name, &credType, &cred.Description,
		&cred.HasValue, &cred.CreatedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, automerr.New("Credentials.Get", automerr.KindNotFound, nil)
	}
	if err != nil {
		return nil, automerr.New("Credentials.Get", automerr.KindIO, err)
	}
	cred.Type = CredentialType(credType)
	if lastUsed.Valid {
		cred.LastUsedAt = &lastUsed.Time
	}
	return &cred, nil
}
