// Package ledger defines the contract-layer boundary the payment sequencer
// drives: token reads and writes, the job registry, and the escrow contract.
// Amounts are base token units. All writes return a transaction reference;
// confirmation is a separate wait so callers see the suspension point.
package ledger

import "context"

// TxRef references a submitted transaction.
type TxRef string

// TxStatus is the terminal confirmation status of a transaction.
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxReverted  TxStatus = "reverted"
)

// JobRecord is a job registry entry. A zero CreatedAt means the registration
// did not actually apply.
type JobRecord struct {
	ID          uint64 `json:"id"`
	PayloadHash string `json:"payloadHash"`
	Tracked     bool   `json:"tracked"`
	Owner       string `json:"owner"`
	CreatedAt   uint64 `json:"createdAt"` // unix seconds, 0 = absent
}

// EscrowRecord is an escrow contract entry for a funded job.
type EscrowRecord struct {
	JobID     uint64 `json:"jobId"`
	Amount    uint64 `json:"amount"`
	Depositor string `json:"depositor"`
	CreatedAt uint64 `json:"createdAt"`
}

// Client is the ledger boundary. Write operations submit a signed transaction
// from the agent's operating account and return immediately; WaitConfirmed
// blocks until the transaction reaches a terminal status.
type Client interface {
	// Token reads and writes.
	Allowance(ctx context.Context, owner, spender string) (uint64, error)
	TransferFrom(ctx context.Context, from, to string, amount uint64) (TxRef, error)
	Approve(ctx context.Context, spender string, amount uint64) (TxRef, error)

	// Job registry.
	RegisterJob(ctx context.Context, payloadHash string, tracked bool) (TxRef, error)
	JobCount(ctx context.Context) (uint64, error)
	GetJob(ctx context.Context, id uint64) (*JobRecord, error)

	// Escrow.
	Deposit(ctx context.Context, jobID, amount uint64) (TxRef, error)
	GetEscrow(ctx context.Context, jobID uint64) (*EscrowRecord, error)

	// WaitConfirmed blocks until the referenced transaction is confirmed or
	// reverted, or ctx is done.
	WaitConfirmed(ctx context.Context, ref TxRef) (TxStatus, error)

	HealthCheck(ctx context.Context) error
}
