package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/meditrek-engine/internal/domain"
)

// PostgresSource loads the catalog from the medicines and interaction_rules
// tables created by the migrations.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource wraps an open database handle.
func NewPostgresSource(db *sql.DB) (*PostgresSource, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &PostgresSource{db: db}, nil
}

// NewPostgresSourceFromURL opens a lib/pq connection to databaseURL.
func NewPostgresSourceFromURL(databaseURL string) (*PostgresSource, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresSource{db: db}, nil
}

// Load reads every medicine and rule and builds a Catalog.
func (s *PostgresSource) Load(ctx context.Context) (*Catalog, error) {
	medicines, err := s.loadMedicines(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := s.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	return New(medicines, rules)
}

func (s *PostgresSource) loadMedicines(ctx context.Context) ([]domain.MedicineRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, COALESCE(generic_name, ''), COALESCE(category, ''), COALESCE(form, '')
		FROM medicines
		ORDER BY name
	`)
	if err != nil {
		return nil, domain.Unavailable("querying medicines", err)
	}
	defer rows.Close()

	var out []domain.MedicineRecord
	for rows.Next() {
		var m domain.MedicineRecord
		if err := rows.Scan(&m.Name, &m.GenericName, &m.Category, &m.Form); err != nil {
			return nil, fmt.Errorf("scanning medicine: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresSource) loadRules(ctx context.Context) ([]domain.InteractionRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, drugs, severity, description, recommendation, COALESCE(mechanism, '')
		FROM interaction_rules
		ORDER BY id
	`)
	if err != nil {
		return nil, domain.Unavailable("querying interaction rules", err)
	}
	defer rows.Close()

	var out []domain.InteractionRule
	for rows.Next() {
		var (
			r        domain.InteractionRule
			drugs    []string
			severity string
		)
		if err := rows.Scan(&r.ID, pq.Array(&drugs), &severity, &r.Description, &r.Recommendation, &r.Mechanism); err != nil {
			return nil, fmt.Errorf("scanning interaction rule: %w", err)
		}
		sev, err := domain.ParseSeverity(severity)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		r.Drugs = drugs
		r.Severity = sev
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *PostgresSource) Close() error {
	return s.db.Close()
}
