package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"necto/internal/repository"
	"necto/internal/routing"
)

// Store implements the repository.Store interface using PostgreSQL
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store
func New(connectionString string) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the necessary tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS routing_attempts (
		id VARCHAR(255) PRIMARY KEY,
		deployment_id VARCHAR(255),
		state VARCHAR(64) NOT NULL,
		outcome JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_routing_attempts_deployment ON routing_attempts(deployment_id);
	CREATE INDEX IF NOT EXISTS idx_routing_attempts_created ON routing_attempts(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save inserts one attempt record.
func (s *Store) Save(ctx context.Context, rec *repository.Record) error {
	outcome, err := json.Marshal(rec.Outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	query := `
		INSERT INTO routing_attempts (id, deployment_id, state, outcome)
		VALUES ($1, $2, $3, $4)
	`

	_, err = s.db.ExecContext(ctx, query, rec.ID, rec.DeploymentID, rec.State, outcome)
	return err
}

// Get returns one attempt record by id.
func (s *Store) Get(ctx context.Context, id string) (*repository.Record, error) {
	query := `
		SELECT id, deployment_id, state, outcome, created_at
		FROM routing_attempts WHERE id = $1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// GetByDeployment returns the attempt that created a deployment.
func (s *Store) GetByDeployment(ctx context.Context, deploymentID string) (*repository.Record, error) {
	query := `
		SELECT id, deployment_id, state, outcome, created_at
		FROM routing_attempts WHERE deployment_id = $1
		ORDER BY created_at DESC LIMIT 1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, deploymentID))
}

// List returns the most recent attempt records.
func (s *Store) List(ctx context.Context, limit int) ([]*repository.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, deployment_id, state, outcome, created_at
		FROM routing_attempts ORDER BY created_at DESC LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*repository.Record
	for rows.Next() {
		var rec repository.Record
		var deploymentID sql.NullString
		var outcomeJSON []byte

		if err := rows.Scan(&rec.ID, &deploymentID, &rec.State, &outcomeJSON, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.DeploymentID = deploymentID.String

		rec.Outcome = &routing.Outcome{}
		if err := json.Unmarshal(outcomeJSON, rec.Outcome); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

func (s *Store) scanOne(row *sql.Row) (*repository.Record, error) {
	var rec repository.Record
	var deploymentID sql.NullString
	var outcomeJSON []byte

	err := row.Scan(&rec.ID, &deploymentID, &rec.State, &outcomeJSON, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	rec.DeploymentID = deploymentID.String

	rec.Outcome = &routing.Outcome{}
	if err := json.Unmarshal(outcomeJSON, rec.Outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}

	return &rec, nil
}

// Health check
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
