package state

import (
	"necto/internal/ledger"
	"necto/internal/marketplace"
	"necto/internal/repository"
	"necto/internal/routing"
	"necto/internal/stream"
)

// State represents the application state with all dependencies
type State struct {
	Engine      *routing.Engine
	Marketplace marketplace.Client
	Ledger      ledger.Client
	Repository  repository.Store
	Stream      stream.Publisher
}

// New creates a new State instance
func New() *State {
	return &State{}
}

// Close closes all connections and cleans up resources
func (s *State) Close() error {
	var lastErr error

	if s.Stream != nil {
		if err := s.Stream.Close(); err != nil {
			lastErr = err
		}
	}

	if s.Repository != nil {
		if err := s.Repository.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}
