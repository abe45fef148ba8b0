package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/herald/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/herald.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open libsql: %s", err.Error()).WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "migrate: %s", err.Error()).WithCause(err)
	}
	return nil
}

// --- Organizations ---

func (s *LibSQLStore) UpsertOrganization(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.Tier == "" {
		org.Tier = schema.TierFree
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, tier, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, tier=excluded.tier, updated_at=excluded.updated_at`,
		org.ID, nullStr(org.Name), org.Tier, timeOrNow(org.CreatedAt), now,
	)
	if err != nil {
		return storeError("upsert organization", err)
	}
	return nil
}

func (s *LibSQLStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	org := &Organization{}
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, tier, created_at, updated_at FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &name, &org.Tier, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("organization", id)
	}
	if err != nil {
		return nil, storeError("get organization", err)
	}
	org.Name = name.String
	return org, nil
}

// OrganizationTier returns the billing tier of an organization.
func (s *LibSQLStore) OrganizationTier(ctx context.Context, id string) (string, error) {
	var tier string
	err := s.db.QueryRowContext(ctx, `SELECT tier FROM organizations WHERE id = ?`, id).Scan(&tier)
	if err == sql.ErrNoRows {
		return "", storeNotFound("organization", id)
	}
	if err != nil {
		return "", storeError("get organization tier", err)
	}
	return tier, nil
}

// --- Integrations ---

func (s *LibSQLStore) CreateIntegration(ctx context.Context, in *schema.Integration) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	in.CreatedAt = timeOrNow(in.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integrations (id, environment_id, organization_id, channel, provider_id, active, is_primary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.EnvironmentID, in.OrganizationID, string(in.Channel), in.ProviderID,
		boolInt(in.Active), boolInt(in.Primary), in.CreatedAt,
	)
	if err != nil {
		return storeError("create integration", err)
	}
	return nil
}

func (s *LibSQLStore) SetIntegrationActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE integrations SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return storeError("update integration", err)
	}
	return checkRowsAffected(res, "integration", id)
}

// SetPrimaryIntegration makes id the only primary integration of its
// environment and channel.
func (s *LibSQLStore) SetPrimaryIntegration(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var envID, orgID, channel string
	err = tx.QueryRowContext(ctx,
		`SELECT environment_id, organization_id, channel FROM integrations WHERE id = ?`, id,
	).Scan(&envID, &orgID, &channel)
	if err == sql.ErrNoRows {
		return storeNotFound("integration", id)
	}
	if err != nil {
		return storeError("get integration", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE integrations SET is_primary = 0
		 WHERE environment_id = ? AND organization_id = ? AND channel = ? AND id != ?`,
		envID, orgID, channel, id,
	); err != nil {
		return storeError("clear primary integration", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE integrations SET is_primary = 1 WHERE id = ?`, id); err != nil {
		return storeError("set primary integration", err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit primary integration", err)
	}
	return nil
}

func (s *LibSQLStore) ListIntegrations(ctx context.Context, filter IntegrationFilter) ([]*schema.Integration, error) {
	query := `SELECT id, environment_id, organization_id, channel, provider_id, active, is_primary, created_at FROM integrations`
	var conditions []string
	var args []any

	if filter.EnvironmentID != "" {
		conditions = append(conditions, "environment_id = ?")
		args = append(args, filter.EnvironmentID)
	}
	if filter.OrganizationID != "" {
		conditions = append(conditions, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Channel != "" {
		conditions = append(conditions, "channel = ?")
		args = append(args, string(filter.Channel))
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active = 1")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list integrations", err)
	}
	defer rows.Close()
	return scanIntegrations(rows)
}

// FindActiveIntegration returns the active integration for the query, the
// primary one when RequirePrimary is set. It returns nil, nil when none exists.
func (s *LibSQLStore) FindActiveIntegration(ctx context.Context, q schema.IntegrationQuery) (*schema.Integration, error) {
	query := `SELECT id, environment_id, organization_id, channel, provider_id, active, is_primary, created_at
		FROM integrations
		WHERE environment_id = ? AND organization_id = ? AND channel = ? AND active = 1`
	if q.RequirePrimary {
		query += " AND is_primary = 1"
	}
	query += " ORDER BY is_primary DESC, created_at ASC LIMIT 1"

	rows, err := s.db.QueryContext(ctx, query, q.EnvironmentID, q.OrganizationID, string(q.Channel))
	if err != nil {
		return nil, storeError("find active integration", err)
	}
	defer rows.Close()

	found, err := scanIntegrations(rows)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func scanIntegrations(rows *sql.Rows) ([]*schema.Integration, error) {
	var out []*schema.Integration
	for rows.Next() {
		in := &schema.Integration{}
		var channel string
		if err := rows.Scan(&in.ID, &in.EnvironmentID, &in.OrganizationID, &channel, &in.ProviderID,
			&in.Active, &in.Primary, &in.CreatedAt); err != nil {
			return nil, storeError("scan integration", err)
		}
		in.Channel = schema.ChannelType(channel)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate integrations", err)
	}
	return out, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.HeraldError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.HeraldError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("rows affected", err)
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
