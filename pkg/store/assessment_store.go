// Package store archives screening assessments.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
)

// ErrNotFound is returned when no archived assessment matches.
var ErrNotFound = errors.New("store: assessment not found")

// AssessmentStore persists assessments for audit.
type AssessmentStore interface {
	Save(ctx context.Context, rec *AssessmentRecord) error
	Get(ctx context.Context, id string) (*AssessmentRecord, error)
	// ListByRun returns a batch run's records ordered by creation time.
	ListByRun(ctx context.Context, runID string) ([]*AssessmentRecord, error)
}

// AssessmentRecord is one archived assessment with its evidence references.
type AssessmentRecord struct {
	ID            string
	RunID         string
	SupplierID    string
	EntityName    string
	RiskLevel     screening.RiskLevel
	RiskScore     float64
	Confidence    float64
	Verified      bool
	ListVersion   string
	PolicyVersion string
	PackRef       string // artifact-store hash of the evidence pack
	Receipt       string
	CreatedAt     time.Time
	Assessment    *screening.RiskAssessment
}

// NewRecord builds a record for a fresh assessment.
func NewRecord(runID string, sup screening.Supplier, a *screening.RiskAssessment) *AssessmentRecord {
	return &AssessmentRecord{
		ID:            uuid.New().String(),
		RunID:         runID,
		SupplierID:    sup.ID,
		EntityName:    a.EntityName,
		RiskLevel:     a.OverallRisk,
		RiskScore:     a.RiskScore,
		Confidence:    a.Confidence,
		Verified:      a.Verified(),
		ListVersion:   a.ListVersion,
		PolicyVersion: a.PolicyVersion,
		CreatedAt:     a.GeneratedAt,
		Assessment:    a,
	}
}

// PostgresAssessmentStore is the durable archive.
type PostgresAssessmentStore struct {
	db *sql.DB
}

func NewPostgresAssessmentStore(db *sql.DB) *PostgresAssessmentStore {
	return &PostgresAssessmentStore{db: db}
}

// Migrate creates the archive table if it does not exist.
func (s *PostgresAssessmentStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS assessments (
			id             TEXT PRIMARY KEY,
			run_id         TEXT NOT NULL DEFAULT '',
			supplier_id    TEXT NOT NULL DEFAULT '',
			entity_name    TEXT NOT NULL,
			risk_level     TEXT NOT NULL,
			risk_score     DOUBLE PRECISION NOT NULL,
			confidence     DOUBLE PRECISION NOT NULL,
			verified       BOOLEAN NOT NULL,
			list_version   TEXT NOT NULL DEFAULT '',
			policy_version TEXT NOT NULL DEFAULT '',
			pack_ref       TEXT NOT NULL DEFAULT '',
			receipt        TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL,
			assessment     JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS assessments_run_id ON assessments (run_id);`)
	return err
}

func (s *PostgresAssessmentStore) Save(ctx context.Context, rec *AssessmentRecord) error {
	body, err := json.Marshal(rec.Assessment)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessments (
			id, run_id, supplier_id, entity_name, risk_level, risk_score, confidence, verified,
			list_version, policy_version, pack_ref, receipt, created_at, assessment
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.RunID, rec.SupplierID, rec.EntityName, rec.RiskLevel.String(), rec.RiskScore, rec.Confidence, rec.Verified,
		rec.ListVersion, rec.PolicyVersion, rec.PackRef, rec.Receipt, rec.CreatedAt.UTC(), body)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}
	return nil
}

const selectAssessment = `
		SELECT id, run_id, supplier_id, entity_name, risk_level, risk_score, confidence, verified,
			list_version, policy_version, pack_ref, receipt, created_at, assessment
		FROM assessments`

func (s *PostgresAssessmentStore) Get(ctx context.Context, id string) (*AssessmentRecord, error) {
	row := s.db.QueryRowContext(ctx, selectAssessment+` WHERE id = $1`, id)
	var created time.Time
	rec, err := scanRecord(row, &created, func() (time.Time, error) { return created, nil })
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresAssessmentStore) ListByRun(ctx context.Context, runID string) ([]*AssessmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectAssessment+` WHERE run_id = $1 ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*AssessmentRecord
	for rows.Next() {
		var created time.Time
		rec, err := scanRecord(rows, &created, func() (time.Time, error) { return created, nil })
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

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row. created is the scan target for created_at,
// whose type differs per driver; parse turns it into a time.
func scanRecord(row scanner, created any, parse func() (time.Time, error)) (*AssessmentRecord, error) {
	var (
		rec   AssessmentRecord
		level string
		body  []byte
	)
	err := row.Scan(&rec.ID, &rec.RunID, &rec.SupplierID, &rec.EntityName, &level, &rec.RiskScore, &rec.Confidence,
		&rec.Verified, &rec.ListVersion, &rec.PolicyVersion, &rec.PackRef, &rec.Receipt, created, &body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.RiskLevel, err = screening.ParseRiskLevel(level); err != nil {
		return nil, fmt.Errorf("assessment %s: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = parse(); err != nil {
		return nil, fmt.Errorf("assessment %s created_at: %w", rec.ID, err)
	}
	rec.Assessment = &screening.RiskAssessment{}
	if err := json.Unmarshal(body, rec.Assessment); err != nil {
		return nil, fmt.Errorf("assessment %s body: %w", rec.ID, err)
	}
	return &rec, nil
}
