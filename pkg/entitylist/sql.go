package entitylist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
)

// ErrNoListVersion is returned when the database holds no list version.
var ErrNoListVersion = errors.New("entitylist: no list version in database")

// PostgresSource reads snapshots from the restricted_lists and
// restricted_entities tables. Alternate names are a TEXT[] column.
type PostgresSource struct {
	db      *sql.DB
	version string
}

// NewPostgresSource reads the given version, or the most recently
// published one when version is empty.
func NewPostgresSource(db *sql.DB, version string) *PostgresSource {
	return &PostgresSource{db: db, version: version}
}

func (s *PostgresSource) Name() string { return "postgres" }

const postgresSchema = `
CREATE TABLE IF NOT EXISTS restricted_lists (
	version      TEXT PRIMARY KEY,
	published_at TIMESTAMPTZ NOT NULL,
	hash         TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS restricted_entities (
	list_version    TEXT NOT NULL REFERENCES restricted_lists(version),
	id              TEXT NOT NULL,
	canonical_name  TEXT NOT NULL,
	alternate_names TEXT[] NOT NULL DEFAULT '{}',
	jurisdiction    TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	effective_date  TEXT NOT NULL DEFAULT '',
	citation        TEXT NOT NULL DEFAULT '',
	license_policy  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (list_version, id)
);`

// Migrate creates the list tables if they do not exist.
func (s *PostgresSource) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

func (s *PostgresSource) Load(ctx context.Context) (*Snapshot, error) {
	var row *sql.Row
	if s.version == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT version, published_at, hash FROM restricted_lists ORDER BY published_at DESC LIMIT 1`)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT version, published_at, hash FROM restricted_lists WHERE version = $1`, s.version)
	}
	snap := &Snapshot{Source: s.Name()}
	if err := row.Scan(&snap.Version, &snap.PublishedAt, &snap.Hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoListVersion
		}
		return nil, fmt.Errorf("query list version: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, canonical_name, alternate_names, jurisdiction, city, effective_date, citation, license_policy
		FROM restricted_entities WHERE list_version = $1 ORDER BY id`, snap.Version)
	if err != nil {
		return nil, fmt.Errorf("query list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r screening.RestrictedEntityRecord
		if err := rows.Scan(&r.ID, &r.CanonicalName, pq.Array(&r.AlternateNames),
			&r.Jurisdiction, &r.City, &r.EffectiveDate, &r.Citation, &r.LicensePolicy); err != nil {
			return nil, fmt.Errorf("scan list entity: %w", err)
		}
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return checked(snap)
}

// SQLiteSource keeps snapshots in a local SQLite database. Alternate names
// are stored as a JSON array.
type SQLiteSource struct {
	db      *sql.DB
	version string
}

// OpenSQLite opens (creating if needed) a SQLite list database.
func OpenSQLite(ctx context.Context, dsn, version string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite list: %w", err)
	}
	s := NewSQLiteSource(db, version)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteSource(db *sql.DB, version string) *SQLiteSource {
	return &SQLiteSource{db: db, version: version}
}

func (s *SQLiteSource) Name() string { return "sqlite" }

func (s *SQLiteSource) Close() error { return s.db.Close() }

func (s *SQLiteSource) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS restricted_lists (
			version      TEXT PRIMARY KEY,
			published_at TEXT NOT NULL,
			hash         TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS restricted_entities (
			list_version    TEXT NOT NULL,
			id              TEXT NOT NULL,
			canonical_name  TEXT NOT NULL,
			alternate_names TEXT NOT NULL DEFAULT '[]',
			jurisdiction    TEXT NOT NULL DEFAULT '',
			city            TEXT NOT NULL DEFAULT '',
			effective_date  TEXT NOT NULL DEFAULT '',
			citation        TEXT NOT NULL DEFAULT '',
			license_policy  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (list_version, id)
		);`)
	if err != nil {
		return fmt.Errorf("migrate sqlite list: %w", err)
	}
	return nil
}

// Save seals and writes a snapshot in one transaction. Saving an existing
// version replaces it.
func (s *SQLiteSource) Save(ctx context.Context, snap *Snapshot) error {
	if err := snap.Seal(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM restricted_entities WHERE list_version = ?`, snap.Version); err != nil {
		return fmt.Errorf("clear list entities: %w", err)
	}
	published := snap.PublishedAt.UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO restricted_lists (version, published_at, hash) VALUES (?, ?, ?)`,
		snap.Version, published, snap.Hash); err != nil {
		return fmt.Errorf("insert list version: %w", err)
	}
	for _, r := range snap.Records {
		alts, err := json.Marshal(nonNil(r.AlternateNames))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO restricted_entities
				(list_version, id, canonical_name, alternate_names, jurisdiction, city, effective_date, citation, license_policy)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.Version, r.ID, r.CanonicalName, string(alts), r.Jurisdiction, r.City,
			r.EffectiveDate, r.Citation, r.LicensePolicy); err != nil {
			return fmt.Errorf("insert list entity %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSource) Load(ctx context.Context) (*Snapshot, error) {
	var row *sql.Row
	if s.version == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT version, published_at, hash FROM restricted_lists ORDER BY published_at DESC LIMIT 1`)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT version, published_at, hash FROM restricted_lists WHERE version = ?`, s.version)
	}
	snap := &Snapshot{Source: s.Name()}
	var published string
	if err := row.Scan(&snap.Version, &published, &snap.Hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoListVersion
		}
		return nil, fmt.Errorf("query list version: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, published)
	if err != nil {
		return nil, fmt.Errorf("list %s published_at: %w", snap.Version, err)
	}
	snap.PublishedAt = t

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, canonical_name, alternate_names, jurisdiction, city, effective_date, citation, license_policy
		FROM restricted_entities WHERE list_version = ? ORDER BY id`, snap.Version)
	if err != nil {
		return nil, fmt.Errorf("query list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r screening.RestrictedEntityRecord
		var alts string
		if err := rows.Scan(&r.ID, &r.CanonicalName, &alts, &r.Jurisdiction, &r.City,
			&r.EffectiveDate, &r.Citation, &r.LicensePolicy); err != nil {
			return nil, fmt.Errorf("scan list entity: %w", err)
		}
		if err := json.Unmarshal([]byte(alts), &r.AlternateNames); err != nil {
			return nil, fmt.Errorf("list entity %s alternate names: %w", r.ID, err)
		}
		if len(r.AlternateNames) == 0 {
			r.AlternateNames = nil
		}
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return checked(snap)
}

func checked(snap *Snapshot) (*Snapshot, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	return snap, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
