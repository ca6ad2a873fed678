package repository

import (
	"context"
	"errors"
	"time"

	"necto/internal/routing"
)

// ErrNotFound means no record exists for the id.
var ErrNotFound = errors.New("record not found")

// Record is one persisted routing attempt. The engine itself stays
// persistence-free; the daemon stores terminal outcomes so callers can replay
// what happened after the fact.
type Record struct {
	ID           string           `json:"id"`
	DeploymentID string           `json:"deploymentId,omitempty"`
	State        string           `json:"state"`
	Outcome      *routing.Outcome `json:"outcome"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// Store persists routing attempt records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByDeployment(ctx context.Context, deploymentID string) (*Record, error)
	List(ctx context.Context, limit int) ([]*Record, error)

	// Health and maintenance
	HealthCheck(ctx context.Context) error
	Close() error
}
