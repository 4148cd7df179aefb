package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteAssessmentStore is the single-node archive.
type SQLiteAssessmentStore struct {
	db *sql.DB
}

func NewSQLiteAssessmentStore(db *sql.DB) (*SQLiteAssessmentStore, error) {
	s := &SQLiteAssessmentStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens the archive database at path.
func OpenSQLite(path string) (*SQLiteAssessmentStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite archive: %w", err)
	}
	s, err := NewSQLiteAssessmentStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAssessmentStore) Close() error { return s.db.Close() }

func (s *SQLiteAssessmentStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS assessments (
        id TEXT PRIMARY KEY,
        run_id TEXT NOT NULL DEFAULT '',
        supplier_id TEXT NOT NULL DEFAULT '',
        entity_name TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		risk_score REAL NOT NULL,
		confidence REAL NOT NULL,
		verified INTEGER NOT NULL,
		list_version TEXT NOT NULL DEFAULT '',
		policy_version TEXT NOT NULL DEFAULT '',
		pack_ref TEXT NOT NULL DEFAULT '',
		receipt TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		assessment JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS assessments_run_id ON assessments (run_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteAssessmentStore) Save(ctx context.Context, rec *AssessmentRecord) error {
	body, err := json.Marshal(rec.Assessment)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	query := `INSERT INTO assessments (
		id, run_id, supplier_id, entity_name, risk_level, risk_score, confidence, verified,
		list_version, policy_version, pack_ref, receipt, created_at, assessment
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.RunID, rec.SupplierID, rec.EntityName, rec.RiskLevel.String(), rec.RiskScore, rec.Confidence, rec.Verified,
		rec.ListVersion, rec.PolicyVersion, rec.PackRef, rec.Receipt, rec.CreatedAt.UTC().Format(time.RFC3339Nano), string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}
	return nil
}

func (s *SQLiteAssessmentStore) Get(ctx context.Context, id string) (*AssessmentRecord, error) {
	row := s.db.QueryRowContext(ctx, selectAssessment+` WHERE id = ?`, id)
	var created string
	return scanRecord(row, &created, func() (time.Time, error) { return time.Parse(time.RFC3339Nano, created) })
}

func (s *SQLiteAssessmentStore) ListByRun(ctx context.Context, runID string) ([]*AssessmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectAssessment+` WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*AssessmentRecord
	for rows.Next() {
		var created string
		rec, err := scanRecord(rows, &created, func() (time.Time, error) { return time.Parse(time.RFC3339Nano, created) })
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
