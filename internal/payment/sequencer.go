package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"necto/internal/ledger"
	"necto/pkg/job"
)

// Step names one of the five ordered payment operations.
type Step string

const (
	StepAllowance Step = "allowance"
	StepTransfer  Step = "transfer"
	StepRegister  Step = "register"
	StepApprove   Step = "approve"
	StepDeposit   Step = "deposit"
)

// Typed step failures.
var (
	ErrInsufficientAllowance = errors.New("buyer allowance below requested amount")
	ErrTransferReverted      = errors.New("transfer reverted")
	ErrJobNotCreated         = errors.New("job registration did not apply")
	ErrApprovalReverted      = errors.New("escrow approval reverted")
	ErrDepositReverted       = errors.New("escrow deposit reverted")
	ErrEscrowMissing         = errors.New("escrow record missing after deposit")
)

// StepError names the failed step. Unfunded marks the explicit partial state
// where the job was registered on-ledger but never funded; there is no
// automatic compensation for it, reversal needs a transaction class this
// engine does not sign.
type StepError struct {
	Step     Step
	Unfunded bool
	Err      error
}

func (e *StepError) Error() string {
	if e.Unfunded {
		return fmt.Sprintf("payment step %s failed (job registered but unfunded): %v", e.Step, e.Err)
	}
	return fmt.Sprintf("payment step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepResult records one executed step.
type StepResult struct {
	Step  Step         `json:"step"`
	TxRef ledger.TxRef `json:"txRef,omitempty"`
	Error string       `json:"error,omitempty"`
}

// ChainResult records the whole payment chain for one routing attempt.
type ChainResult struct {
	Steps    []StepResult `json:"steps"`
	JobID    uint64       `json:"jobId,omitempty"`
	Unfunded bool         `json:"unfunded,omitempty"`
}

// CompensationFunc is the hook slot for future cancel-unfunded-job logic.
// Nothing in this engine implements it; the integrating system may.
type CompensationFunc func(ctx context.Context, jobID uint64) error

// Sequencer executes the five dependent ledger operations that fund a job.
// Each step is gated on the previous step's on-chain confirmation; there is no
// parallelism between steps because step N consumes state asserted by step N-1.
type Sequencer struct {
	ledger        ledger.Client
	agentAddress  string
	escrowAddress string
	logger        *logrus.Logger
	compensate    CompensationFunc

	mu      sync.Mutex
	signers map[string]*sync.Mutex
}

// New creates a payment sequencer for the agent's operating account.
func New(lc ledger.Client, agentAddress, escrowAddress string, logger *logrus.Logger) *Sequencer {
	return &Sequencer{
		ledger:        lc,
		agentAddress:  agentAddress,
		escrowAddress: escrowAddress,
		logger:        logger,
		signers:       make(map[string]*sync.Mutex),
	}
}

// SetCompensation installs the compensation hook invoked when a job ends up
// registered but unfunded.
func (s *Sequencer) SetCompensation(fn CompensationFunc) {
	s.compensate = fn
}

// Execute runs the payment chain and returns the on-ledger job id. The
// returned ChainResult is populated even on failure so callers can surface
// exactly which steps ran. Failure on any step aborts the chain; completed
// steps are not reversed.
func (s *Sequencer) Execute(ctx context.Context, buyer string, req *job.Requirement, amount uint64, tracked bool) (*ChainResult, error) {
	result := &ChainResult{}

	// Step 1: allowance read. Fails before any transaction is submitted.
	allowance, err := s.ledger.Allowance(ctx, buyer, s.agentAddress)
	if err != nil {
		return result, s.fail(result, StepAllowance, "", fmt.Errorf("failed to read allowance: %w", err), false)
	}
	if allowance < amount {
		return result, s.fail(result, StepAllowance, "",
			fmt.Errorf("%w: have %d, need %d", ErrInsufficientAllowance, allowance, amount), false)
	}
	result.Steps = append(result.Steps, StepResult{Step: StepAllowance})

	// Step 2: pull funds from the buyer into the operating account.
	ref, err := s.submitConfirmed(ctx, StepTransfer, ErrTransferReverted, func(ctx context.Context) (ledger.TxRef, error) {
		return s.ledger.TransferFrom(ctx, buyer, s.agentAddress, amount)
	})
	if err != nil {
		return result, s.fail(result, StepTransfer, ref, err, false)
	}
	result.Steps = append(result.Steps, StepResult{Step: StepTransfer, TxRef: ref})

	// Step 3: register the job, keyed by a hash of the requirement payload.
	payloadHash, err := hashRequirement(req)
	if err != nil {
		return result, s.fail(result, StepRegister, "", err, false)
	}
	ref, err = s.submitConfirmed(ctx, StepRegister, ErrJobNotCreated, func(ctx context.Context) (ledger.TxRef, error) {
		return s.ledger.RegisterJob(ctx, payloadHash, tracked)
	})
	if err != nil {
		return result, s.fail(result, StepRegister, ref, err, false)
	}

	// The registry assigns ids from a counter; read it back rather than
	// relying on events, then verify the record actually exists.
	jobID, err := s.ledger.JobCount(ctx)
	if err != nil {
		return result, s.fail(result, StepRegister, ref, fmt.Errorf("failed to read job counter: %w", err), true)
	}
	rec, err := s.ledger.GetJob(ctx, jobID)
	if err != nil {
		return result, s.fail(result, StepRegister, ref, fmt.Errorf("failed to read job %d: %w", jobID, err), true)
	}
	if rec == nil || rec.CreatedAt == 0 {
		return result, s.fail(result, StepRegister, ref, ErrJobNotCreated, false)
	}
	result.JobID = jobID
	result.Steps = append(result.Steps, StepResult{Step: StepRegister, TxRef: ref})

	// Step 4: approve the escrow contract to pull the amount.
	ref, err = s.submitConfirmed(ctx, StepApprove, ErrApprovalReverted, func(ctx context.Context) (ledger.TxRef, error) {
		return s.ledger.Approve(ctx, s.escrowAddress, amount)
	})
	if err != nil {
		return result, s.fail(result, StepApprove, ref, err, true)
	}
	result.Steps = append(result.Steps, StepResult{Step: StepApprove, TxRef: ref})

	// Step 5: deposit into escrow against the job id, then read back.
	ref, err = s.submitConfirmed(ctx, StepDeposit, ErrDepositReverted, func(ctx context.Context) (ledger.TxRef, error) {
		return s.ledger.Deposit(ctx, jobID, amount)
	})
	if err != nil {
		return result, s.fail(result, StepDeposit, ref, err, true)
	}
	escrow, err := s.ledger.GetEscrow(ctx, jobID)
	if err != nil {
		return result, s.fail(result, StepDeposit, ref, fmt.Errorf("failed to read escrow: %w", err), true)
	}
	if escrow == nil {
		return result, s.fail(result, StepDeposit, ref, ErrEscrowMissing, true)
	}
	result.Steps = append(result.Steps, StepResult{Step: StepDeposit, TxRef: ref})

	return result, nil
}

// submitConfirmed submits one nonce-bearing transaction and blocks until it
// confirms. Submission holds the per-signer lock so concurrent routing
// attempts cannot race nonce assignment for the same operating account.
func (s *Sequencer) submitConfirmed(ctx context.Context, step Step, revertErr error, submit func(context.Context) (ledger.TxRef, error)) (ledger.TxRef, error) {
	lock := s.signerLock(s.agentAddress)
	lock.Lock()
	ref, err := submit(ctx)
	lock.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to submit %s: %w", step, err)
	}

	status, err := s.ledger.WaitConfirmed(ctx, ref)
	if err != nil {
		return ref, fmt.Errorf("failed to confirm %s: %w", step, err)
	}
	if status == ledger.TxReverted {
		return ref, revertErr
	}
	return ref, nil
}

func (s *Sequencer) signerLock(addr string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.signers[addr]
	if !ok {
		lock = &sync.Mutex{}
		s.signers[addr] = lock
	}
	return lock
}

// fail records the failed step and wraps it in a StepError. When the job is
// already registered the compensation hook fires if installed; its failure is
// logged and never masks the step error.
func (s *Sequencer) fail(result *ChainResult, step Step, ref ledger.TxRef, err error, unfunded bool) error {
	result.Steps = append(result.Steps, StepResult{Step: step, TxRef: ref, Error: err.Error()})
	result.Unfunded = unfunded

	if unfunded {
		s.logger.Warnf("job %d registered on-ledger but unfunded after %s failure", result.JobID, step)
		if s.compensate != nil {
			if cerr := s.compensate(context.Background(), result.JobID); cerr != nil {
				s.logger.Warnf("compensation for unfunded job %d failed: %v", result.JobID, cerr)
			}
		}
	}

	return &StepError{Step: step, Unfunded: unfunded, Err: err}
}

// hashRequirement hashes the requirement payload for the on-ledger job key.
// JSON marshaling of the fixed struct is deterministic for identical input.
func hashRequirement(req *job.Requirement) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirement: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
