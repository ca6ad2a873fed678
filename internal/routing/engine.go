// Package routing owns the job routing lifecycle: suitability check, manifest
// generation, provider selection, escrowed payment, deployment creation, bid
// polling and lease activation. Each routing attempt runs as one independent
// task with its own state; the only shared collaborators are the marketplace
// client and the payment sequencer, both safe for concurrent use.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"necto/internal/journal"
	"necto/internal/manifest"
	"necto/internal/marketplace"
	"necto/internal/payment"
	"necto/internal/scorer"
	"necto/pkg/job"
)

// errNoBids is the internal signal that the poll deadline elapsed.
var errNoBids = errors.New("no bids before deadline")

// Config controls engine-wide routing behavior.
type Config struct {
	Weights           scorer.Weights
	PollInterval      time.Duration // between bid polls
	DefaultBidTimeout time.Duration // used when an attempt supplies none
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Weights:           scorer.DefaultWeights(),
		PollInterval:      10 * time.Second,
		DefaultBidTimeout: 5 * time.Minute,
	}
}

// Options are the per-attempt routing parameters.
type Options struct {
	Buyer         string        // buyer ledger address, required when paying
	PaymentAmount uint64        // base token units; 0 skips escrow entirely
	Tracked       bool          // record buyer identity on-ledger
	AutoAcceptBid bool          // accept the lowest-priced bid automatically
	BidTimeout    time.Duration // 0 = engine default
}

// Outcome is the result surfaced to the caller for one routing attempt.
type Outcome struct {
	State       State                 `json:"state"`
	Deployment  *job.DeploymentRecord `json:"deployment,omitempty"`
	AcceptedBid *job.Bid              `json:"acceptedBid,omitempty"`
	Payment     *payment.ChainResult  `json:"payment,omitempty"`
	Suitability float64               `json:"suitability"`
	Events      []journal.Event       `json:"events"`
}

// attempt is the per-routing-call owned state. Attempts stay tracked only to
// serve the manual accept and close paths.
type attempt struct {
	manifest *manifest.Manifest
	record   *job.DeploymentRecord
	recorder *journal.Recorder
}

// Engine is the routing state machine host. One engine serves many concurrent
// attempts.
type Engine struct {
	market    marketplace.Client
	payments  *payment.Sequencer
	cfg       Config
	logger    *logrus.Logger
	listeners []journal.Listener

	mu       sync.Mutex
	attempts map[string]*attempt
}

// New creates a routing engine. payments may be nil; paid attempts then fail
// with ErrPaymentsNotConfigured.
func New(market marketplace.Client, payments *payment.Sequencer, cfg Config, logger *logrus.Logger, listeners ...journal.Listener) (*Engine, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate scoring weights: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.DefaultBidTimeout <= 0 {
		cfg.DefaultBidTimeout = 5 * time.Minute
	}

	return &Engine{
		market:    market,
		payments:  payments,
		cfg:       cfg,
		logger:    logger,
		listeners: listeners,
		attempts:  make(map[string]*attempt),
	}, nil
}

// RouteJob runs one routing attempt end to end. Payment strictly precedes
// deployment creation, which strictly precedes bid polling; later steps
// consume identifiers the earlier ones produce. Every terminal outcome
// carries the full progress log.
func (e *Engine) RouteJob(ctx context.Context, req *job.Requirement, opts Options) (*Outcome, error) {
	rec := journal.NewRecorder(e.logger, e.listeners...)
	out := &Outcome{State: StateIdle}

	fail := func(state State, err error) (*Outcome, error) {
		rec.Error(string(state), err.Error(), nil)
		out.State = StateError
		out.Events = rec.Events()
		if out.Deployment != nil {
			out.Deployment.Status = job.DeploymentError
		}
		return out, &StateFailure{State: state, Err: err}
	}

	if err := req.Validate(); err != nil {
		return fail(StateIdle, err)
	}
	rec.Info(string(StateIdle), "routing request received", map[string]any{"image": req.Image})

	// Suitability is advisory: a poor score is logged, never blocking.
	out.State = StateCheckingSuitability
	out.Suitability = Suitability(req)
	if out.Suitability < SuitabilityThreshold {
		rec.Warn(string(StateCheckingSuitability), "workload shape is a poor marketplace fit",
			map[string]any{"score": out.Suitability})
	} else {
		rec.Info(string(StateCheckingSuitability), "suitability check passed",
			map[string]any{"score": out.Suitability})
	}

	out.State = StateGeneratingManifest
	m := manifest.Generate(req)
	rec.Info(string(StateGeneratingManifest), "deployment manifest generated",
		map[string]any{"cpuUnits": m.Resources.CPUUnits, "memory": m.Resources.Memory})

	out.State = StateSelectingProvider
	candidates, err := e.market.ListProviders(ctx)
	if err != nil {
		return fail(StateSelectingProvider, fmt.Errorf("failed to list providers: %w", err))
	}
	ranked := scorer.Rank(scorer.Filter(candidates, req), e.cfg.Weights)
	if len(ranked) == 0 {
		return fail(StateSelectingProvider, ErrNoEligibleProviders)
	}
	best := ranked[0]
	rec.Info(string(StateSelectingProvider), "provider selected", map[string]any{
		"provider": best.Provider.ID,
		"score":    best.Total,
		"eligible": len(ranked),
	})

	// Escrow is only entered for a positive amount; unpaid routing is a
	// supported mode and the outcome then carries no chain result.
	if opts.PaymentAmount > 0 {
		out.State = StatePayingEscrow
		if e.payments == nil {
			return fail(StatePayingEscrow, ErrPaymentsNotConfigured)
		}
		rec.Info(string(StatePayingEscrow), "executing payment chain",
			map[string]any{"amount": opts.PaymentAmount, "buyer": opts.Buyer})

		chain, err := e.payments.Execute(ctx, opts.Buyer, req, opts.PaymentAmount, opts.Tracked)
		out.Payment = chain
		if err != nil {
			var stepErr *payment.StepError
			if errors.As(err, &stepErr) && stepErr.Unfunded {
				rec.Warn(string(StatePayingEscrow), "job registered on-ledger but unfunded",
					map[string]any{"jobId": chain.JobID, "step": string(stepErr.Step)})
			}
			return fail(StatePayingEscrow, err)
		}
		rec.Info(string(StatePayingEscrow), "escrow funded", map[string]any{"jobId": chain.JobID})
	} else {
		rec.Info(string(StateSelectingProvider), "payment skipped, routing unpaid", nil)
	}

	out.State = StateCreatingDeployment
	dep, err := e.market.CreateDeployment(ctx, m)
	if err != nil {
		return fail(StateCreatingDeployment, &DeploymentCreateError{Err: err})
	}
	out.Deployment = dep
	e.track(dep.ID, &attempt{manifest: m, record: dep, recorder: rec})
	rec.Info(string(StateCreatingDeployment), "deployment created", map[string]any{"deployment": dep.ID})

	out.State = StateWaitingBids
	timeout := opts.BidTimeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultBidTimeout
	}
	bids, err := e.pollBids(ctx, dep.ID, timeout)
	if err != nil {
		// An unclosed deployment with no bids leaks on the provider side;
		// close best-effort before reporting, for timeout and cancel alike.
		cleanupErr := e.closeOrphan(dep.ID, rec)
		if errors.Is(err, errNoBids) {
			dep.Status = job.DeploymentClosed
			out.State = StateError
			timeoutErr := &BidTimeoutError{DeploymentID: dep.ID, Waited: timeout, CleanupErr: cleanupErr}
			rec.Error(string(StateWaitingBids), timeoutErr.Error(), nil)
			out.Events = rec.Events()
			return out, timeoutErr
		}
		return fail(StateWaitingBids, err)
	}
	dep.Bids = bids
	rec.Info(string(StateWaitingBids), "bids received", map[string]any{"count": len(bids)})

	if !opts.AutoAcceptBid {
		// Surface the bid list; an explicit AcceptBid call completes the
		// attempt. The outcome carries a snapshot of the record: a later
		// AcceptBid mutates the tracked record, not the caller's copy.
		rec.Info(string(StateWaitingBids), "awaiting explicit bid acceptance", nil)
		snapshot := *dep
		out.Deployment = &snapshot
		out.Events = rec.Events()
		return out, nil
	}

	out.State = StateAcceptingBid
	chosen := lowestPriced(bids)
	lease, err := e.market.AcceptBid(ctx, dep.ID, chosen.ID, m)
	if err != nil {
		return fail(StateAcceptingBid, fmt.Errorf("failed to accept bid %s: %w", chosen.ID, err))
	}

	dep.Status = job.DeploymentActive
	dep.Lease = lease
	out.AcceptedBid = &chosen
	out.State = StateActive
	rec.Info(string(StateActive), "lease active", map[string]any{
		"lease":    lease.ID,
		"provider": lease.ProviderID,
		"price":    lease.Price,
	})
	out.Events = rec.Events()
	return out, nil
}

// AcceptBid manually accepts a bid on an attempt routed with AutoAcceptBid
// disabled.
func (e *Engine) AcceptBid(ctx context.Context, deploymentID, bidID string) (*job.Lease, error) {
	a := e.lookup(deploymentID)
	if a == nil {
		return nil, ErrUnknownDeployment
	}

	a.recorder.Info(string(StateAcceptingBid), "accepting bid", map[string]any{"bid": bidID})
	lease, err := e.market.AcceptBid(ctx, deploymentID, bidID, a.manifest)
	if err != nil {
		a.recorder.Error(string(StateAcceptingBid), err.Error(), nil)
		return nil, &StateFailure{State: StateAcceptingBid, Err: err}
	}

	e.mu.Lock()
	a.record.Status = job.DeploymentActive
	a.record.Lease = lease
	e.mu.Unlock()

	a.recorder.Info(string(StateActive), "lease active", map[string]any{"lease": lease.ID})
	return lease, nil
}

// CloseJob tears down a deployment. Closing an already-closed deployment is a
// no-op success.
func (e *Engine) CloseJob(ctx context.Context, deploymentID string) error {
	a := e.lookup(deploymentID)
	if a != nil {
		a.recorder.Info(string(StateClosing), "closing deployment", nil)
	}

	err := e.market.CloseDeployment(ctx, deploymentID)
	if err != nil && !errors.Is(err, marketplace.ErrDeploymentClosed) {
		if a != nil {
			a.recorder.Error(string(StateClosing), err.Error(), nil)
		}
		return &StateFailure{State: StateClosing, Err: err}
	}

	e.mu.Lock()
	if a != nil {
		a.record.Status = job.DeploymentClosed
	}
	delete(e.attempts, deploymentID)
	e.mu.Unlock()

	if a != nil {
		a.recorder.Info(string(StateCompleted), "deployment closed", nil)
	}
	return nil
}

// Bids returns the current bid list for an in-flight attempt.
func (e *Engine) Bids(ctx context.Context, deploymentID string) ([]job.Bid, error) {
	return e.market.ListBids(ctx, deploymentID)
}

// pollBids polls on a fixed interval until bids arrive, the wall-clock
// deadline elapses (errNoBids) or ctx is canceled. A slow ListBids call
// counts against the deadline.
func (e *Engine) pollBids(ctx context.Context, deploymentID string, timeout time.Duration) ([]job.Bid, error) {
	deadline := time.Now().Add(timeout)

	for {
		bids, err := e.market.ListBids(ctx, deploymentID)
		if err != nil {
			return nil, fmt.Errorf("failed to list bids: %w", err)
		}
		if len(bids) > 0 {
			return bids, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errNoBids
		}
		wait := e.cfg.PollInterval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// closeOrphan closes a no-bid deployment best-effort. Runs on a detached
// context so cleanup still happens when the attempt itself was canceled.
func (e *Engine) closeOrphan(deploymentID string, rec *journal.Recorder) error {
	rec.Info(string(StateClosing), "closing orphaned deployment", map[string]any{"deployment": deploymentID})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := e.market.CloseDeployment(ctx, deploymentID)
	if err != nil && !errors.Is(err, marketplace.ErrDeploymentClosed) {
		rec.Warn(string(StateClosing), "cleanup close failed", map[string]any{"error": err.Error()})
		return err
	}

	e.mu.Lock()
	delete(e.attempts, deploymentID)
	e.mu.Unlock()
	return nil
}

func (e *Engine) track(id string, a *attempt) {
	e.mu.Lock()
	e.attempts[id] = a
	e.mu.Unlock()
}

func (e *Engine) lookup(id string) *attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[id]
}

// lowestPriced picks the cheapest bid; equal prices keep arrival order.
func lowestPriced(bids []job.Bid) job.Bid {
	sorted := make([]job.Bid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price < sorted[j].Price
	})
	return sorted[0]
}
