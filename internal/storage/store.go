// Package storage persists tenants, credentials, config versions, syncable
// entities, and sync run state in SQLite.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tenantsync/internal/syncer"
	"tenantsync/internal/tenantconf"
	"tenantsync/internal/vault"
)

// Store handles SQLite persistence for the sync engine. It implements
// vault.CredentialStore, tenantconf.ConfigStore, and syncer.EntityStore.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			tenant_id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			security_token TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS credentials (
			ref_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			ciphertext TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS vault_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			caller TEXT,
			reason TEXT,
			timestamp DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS config_documents (
			tenant_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			modules TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (tenant_id, version)
		);

		CREATE TABLE IF NOT EXISTS entities (
			id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			content_fields TEXT NOT NULL,
			visible_in_index INTEGER NOT NULL DEFAULT 1,
			active INTEGER NOT NULL DEFAULT 1,
			content_hash TEXT,
			sync_status TEXT NOT NULL DEFAULT 'not_synced',
			sync_error TEXT,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (tenant_id, id)
		);

		CREATE TABLE IF NOT EXISTS sync_runs (
			tenant_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			upserted INTEGER NOT NULL DEFAULT 0,
			pruned INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			PRIMARY KEY (tenant_id, entity_type)
		);

		CREATE INDEX IF NOT EXISTS idx_credentials_tenant ON credentials(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_entities_tenant_type ON entities(tenant_id, entity_type);
		CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(sync_status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- tenants ---

// SaveTenant inserts the tenant on first sight. Identity is immutable:
// an existing row is left untouched.
func (s *Store) SaveTenant(t *tenantconf.Tenant) error {
	_, err := s.db.Exec(`
		INSERT INTO tenants (tenant_id, domain, security_token, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO NOTHING
	`, t.TenantID, t.Domain, t.SecurityToken, t.CreatedAt)
	return err
}

// GetTenant retrieves a tenant by id.
func (s *Store) GetTenant(tenantID string) (*tenantconf.Tenant, error) {
	row := s.db.QueryRow(`
		SELECT tenant_id, domain, security_token, created_at
		FROM tenants WHERE tenant_id = ?
	`, tenantID)

	var t tenantconf.Tenant
	if err := row.Scan(&t.TenantID, &t.Domain, &t.SecurityToken, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tenant not found: %s", tenantID)
		}
		return nil, err
	}
	return &t, nil
}

// --- credentials (vault.CredentialStore) ---

// SaveCredential stores or replaces a credential record.
func (s *Store) SaveCredential(rec *vault.CredentialRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO credentials (ref_id, tenant_id, ciphertext, created_at)
		VALUES (?, ?, ?, ?)
	`, rec.RefID, rec.TenantID, rec.Ciphertext, rec.CreatedAt)
	return err
}

// GetCredential retrieves a credential by ref id.
func (s *Store) GetCredential(refID string) (*vault.CredentialRecord, error) {
	row := s.db.QueryRow(`
		SELECT ref_id, tenant_id, ciphertext, created_at
		FROM credentials WHERE ref_id = ?
	`, refID)

	var rec vault.CredentialRecord
	if err := row.Scan(&rec.RefID, &rec.TenantID, &rec.Ciphertext, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", vault.ErrNotFound, refID)
		}
		return nil, err
	}
	return &rec, nil
}

// SaveAudit records a denied vault operation.
func (s *Store) SaveAudit(rec *vault.AuditRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO vault_audit (tenant_id, ref_id, caller, reason, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, rec.TenantID, rec.RefID, rec.Caller, rec.Reason, rec.Timestamp)
	return err
}

// ListAudit returns a tenant's vault audit trail, newest first.
func (s *Store) ListAudit(tenantID string, limit int) ([]*vault.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT tenant_id, ref_id, caller, reason, timestamp
		FROM vault_audit WHERE tenant_id = ?
		ORDER BY timestamp DESC LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*vault.AuditRecord
	for rows.Next() {
		var rec vault.AuditRecord
		if err := rows.Scan(&rec.TenantID, &rec.RefID, &rec.Caller, &rec.Reason, &rec.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// HasCredential reports whether refID resolves to a credential owned by
// tenantID. A ref belonging to another tenant does not resolve.
func (s *Store) HasCredential(refID, tenantID string) (bool, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*) FROM credentials WHERE ref_id = ? AND tenant_id = ?
	`, refID, tenantID)

	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- config documents (tenantconf.ConfigStore) ---

// SaveConfig appends a new config version. Versions are never overwritten.
func (s *Store) SaveConfig(doc *tenantconf.ConfigDocument) error {
	modulesJSON, err := json.Marshal(doc.Modules)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO config_documents (tenant_id, version, modules, updated_at)
		VALUES (?, ?, ?, ?)
	`, doc.TenantID, doc.Version, string(modulesJSON), doc.UpdatedAt)
	return err
}

// CurrentConfig returns the latest config version for a tenant, or nil when
// none exists.
func (s *Store) CurrentConfig(tenantID string) (*tenantconf.ConfigDocument, error) {
	row := s.db.QueryRow(`
		SELECT tenant_id, version, modules, updated_at
		FROM config_documents WHERE tenant_id = ?
		ORDER BY version DESC LIMIT 1
	`, tenantID)

	doc, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// GetConfig returns one specific config version, or nil when the tenant has
// no document at that version.
func (s *Store) GetConfig(tenantID string, version int) (*tenantconf.ConfigDocument, error) {
	row := s.db.QueryRow(`
		SELECT tenant_id, version, modules, updated_at
		FROM config_documents WHERE tenant_id = ? AND version = ?
	`, tenantID, version)

	doc, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

func scanConfig(row *sql.Row) (*tenantconf.ConfigDocument, error) {
	var doc tenantconf.ConfigDocument
	var modulesJSON string

	if err := row.Scan(&doc.TenantID, &doc.Version, &modulesJSON, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(modulesJSON), &doc.Modules); err != nil {
		return nil, fmt.Errorf("decoding config modules: %w", err)
	}
	return &doc, nil
}

// --- entities and sync state (syncer.EntityStore) ---

// UpsertEntity stores an entity from the system of record. A content
// mutation resets its sync status to not_synced so the next run picks it up.
func (s *Store) UpsertEntity(e *syncer.SyncableEntity) error {
	fieldsJSON, err := json.Marshal(e.ContentFields)
	if err != nil {
		return err
	}
	newHash := e.ComputeHash()

	_, err = s.db.Exec(`
		INSERT INTO entities (id, tenant_id, entity_type, content_fields, visible_in_index, active, content_hash, sync_status, sync_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'not_synced', '', ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			entity_type = excluded.entity_type,
			content_fields = excluded.content_fields,
			visible_in_index = excluded.visible_in_index,
			active = excluded.active,
			sync_status = CASE
				WHEN entities.content_hash IS NOT excluded.content_hash
					OR entities.active IS NOT excluded.active
					OR entities.visible_in_index IS NOT excluded.visible_in_index
				THEN 'not_synced'
				ELSE entities.sync_status
			END,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`, e.ID, e.TenantID, e.EntityType, string(fieldsJSON), e.VisibleInIndex, e.Active, newHash, time.Now())
	return err
}

// GetEntity retrieves one entity.
func (s *Store) GetEntity(tenantID, entityID string) (*syncer.SyncableEntity, error) {
	row := s.db.QueryRow(`
		SELECT id, tenant_id, entity_type, content_fields, visible_in_index, active, content_hash, sync_status, sync_error, updated_at
		FROM entities WHERE tenant_id = ? AND id = ?
	`, tenantID, entityID)

	e, err := scanEntity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity not found: %s/%s", tenantID, entityID)
	}
	return e, err
}

// ListEntities returns a tenant's entities of one type.
func (s *Store) ListEntities(tenantID, entityType string) ([]syncer.SyncableEntity, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, entity_type, content_fields, visible_in_index, active, content_hash, sync_status, sync_error, updated_at
		FROM entities WHERE tenant_id = ? AND entity_type = ?
		ORDER BY id
	`, tenantID, entityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []syncer.SyncableEntity
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

func scanEntity(scan func(...any) error) (*syncer.SyncableEntity, error) {
	var e syncer.SyncableEntity
	var fieldsJSON string
	var hash, syncErr sql.NullString

	err := scan(&e.ID, &e.TenantID, &e.EntityType, &fieldsJSON, &e.VisibleInIndex, &e.Active, &hash, &e.SyncStatus, &syncErr, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.ContentHash = hash.String
	e.SyncError = syncErr.String
	if err := json.Unmarshal([]byte(fieldsJSON), &e.ContentFields); err != nil {
		return nil, fmt.Errorf("decoding entity content fields: %w", err)
	}
	return &e, nil
}

// UpdateEntitySync records an entity's sync outcome.
func (s *Store) UpdateEntitySync(tenantID, entityID string, status syncer.SyncStatus, message, contentHash string) error {
	_, err := s.db.Exec(`
		UPDATE entities SET sync_status = ?, sync_error = ?, content_hash = ?
		WHERE tenant_id = ? AND id = ?
	`, string(status), message, contentHash, tenantID, entityID)
	return err
}

// CountEntitiesByStatus returns entity counts per sync status for a tenant.
func (s *Store) CountEntitiesByStatus(tenantID string) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT sync_status, COUNT(*) FROM entities
		WHERE tenant_id = ? GROUP BY sync_status
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// SaveRun persists the state of a sync run, one row per (tenant, type) key.
func (s *Store) SaveRun(run *syncer.RunResult) error {
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_runs (tenant_id, entity_type, status, message, upserted, pruned, skipped, failed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.TenantID, run.EntityType, string(run.Status), run.Message, run.Upserted, run.Pruned, run.Skipped, run.Failed, run.StartedAt, finished)
	return err
}

// GetRun retrieves the last run for a (tenant, type) key, or nil when the
// key has never been synced. Errors are reserved for storage failures.
func (s *Store) GetRun(tenantID, entityType string) (*syncer.RunResult, error) {
	row := s.db.QueryRow(`
		SELECT tenant_id, entity_type, status, message, upserted, pruned, skipped, failed, started_at, finished_at
		FROM sync_runs WHERE tenant_id = ? AND entity_type = ?
	`, tenantID, entityType)

	var run syncer.RunResult
	var status string
	var message sql.NullString
	var finished sql.NullTime

	err := row.Scan(&run.TenantID, &run.EntityType, &status, &message, &run.Upserted, &run.Pruned, &run.Skipped, &run.Failed, &run.StartedAt, &finished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	run.Status = syncer.SyncStatus(status)
	run.Message = message.String
	run.FinishedAt = finished.Time
	return &run, nil
}
