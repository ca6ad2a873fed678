package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"necto/internal/ledger"
	"necto/internal/manifest"
	"necto/internal/marketplace"
	"necto/internal/payment"
	"necto/pkg/job"
)

// fakeMarket is a programmable in-memory marketplace.
type fakeMarket struct {
	mu         sync.Mutex
	providers  []job.CandidateProvider
	bids       []job.Bid
	bidsAfter  int // ListBids calls before bids appear
	listCalls  int
	closeCalls int
	closeErr   error
	created    []string
	nextID     int
}

func (f *fakeMarket) ListProviders(ctx context.Context) ([]job.CandidateProvider, error) {
	return f.providers, nil
}

func (f *fakeMarket) CreateDeployment(ctx context.Context, m *manifest.Manifest) (*job.DeploymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("dep-%d", f.nextID)
	f.created = append(f.created, id)
	return &job.DeploymentRecord{ID: id, Status: job.DeploymentPending, CreatedAt: time.Now()}, nil
}

func (f *fakeMarket) ListBids(ctx context.Context, deploymentID string) ([]job.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listCalls <= f.bidsAfter {
		return nil, nil
	}
	return f.bids, nil
}

func (f *fakeMarket) AcceptBid(ctx context.Context, deploymentID, bidID string, m *manifest.Manifest) (*job.Lease, error) {
	for _, b := range f.bids {
		if b.ID == bidID {
			return &job.Lease{
				ID:           "lease-" + bidID,
				DeploymentID: deploymentID,
				ProviderID:   b.ProviderID,
				Price:        b.Price,
				CreatedAt:    time.Now(),
			}, nil
		}
	}
	return nil, errors.New("unknown bid")
}

func (f *fakeMarket) CloseDeployment(ctx context.Context, deploymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return f.closeErr
}

func (f *fakeMarket) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeMarket) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func testMarket() *fakeMarket {
	return &fakeMarket{
		providers: []job.CandidateProvider{
			{
				ID:           "prov-a",
				GPUModels:    []string{"A100"},
				PricePerHour: 2.50,
				Availability: 0.99,
				UptimePct:    99.0,
				Hardware:     job.HardwareSpec{VCPU: 8, MemoryGB: 32, StorageGB: 100},
			},
			{
				ID:           "prov-b",
				GPUModels:    []string{"A100"},
				PricePerHour: 3.20,
				Availability: 0.95,
				UptimePct:    97.0,
				Hardware:     job.HardwareSpec{VCPU: 4, MemoryGB: 16, StorageGB: 50},
			},
		},
		bids: []job.Bid{
			{ID: "bid-high", ProviderID: "prov-b", Price: 3.00},
			{ID: "bid-low", ProviderID: "prov-a", Price: 2.25},
		},
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func fastConfig() Config {
	return Config{
		Weights:           DefaultConfig().Weights,
		PollInterval:      5 * time.Millisecond,
		DefaultBidTimeout: 200 * time.Millisecond,
	}
}

func testEngine(t *testing.T, market marketplace.Client, payments *payment.Sequencer) *Engine {
	t.Helper()
	e, err := New(market, payments, fastConfig(), testLogger())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func testRequirement() *job.Requirement {
	return &job.Requirement{Image: "registry.example/app:1", GPUModel: "A100", MinGPUCount: 1}
}

func TestRouteJobAutoAccept(t *testing.T) {
	market := testMarket()
	engine := testEngine(t, market, nil)

	out, err := engine.RouteJob(context.Background(), testRequirement(), Options{AutoAcceptBid: true})
	if err != nil {
		t.Fatalf("RouteJob failed: %v", err)
	}

	if out.State != StateActive {
		t.Errorf("state = %s, want %s", out.State, StateActive)
	}
	if out.AcceptedBid == nil || out.AcceptedBid.ID != "bid-low" {
		t.Errorf("accepted bid = %+v, want the lowest-priced bid-low", out.AcceptedBid)
	}
	if out.Deployment == nil || out.Deployment.Status != job.DeploymentActive {
		t.Errorf("deployment = %+v, want active", out.Deployment)
	}
	if out.Deployment.Lease == nil || out.Deployment.Lease.ProviderID != "prov-a" {
		t.Errorf("lease = %+v, want prov-a", out.Deployment.Lease)
	}
	if out.Payment != nil {
		t.Errorf("unpaid attempt carries payment result: %+v", out.Payment)
	}
	if len(out.Events) == 0 {
		t.Error("outcome must carry the progress log")
	}
}

func TestRouteJobInvalidRequirement(t *testing.T) {
	engine := testEngine(t, testMarket(), nil)

	_, err := engine.RouteJob(context.Background(), &job.Requirement{}, Options{})
	var validationErr *job.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	var stateErr *StateFailure
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateFailure, got %T", err)
	}
	if stateErr.State != StateIdle {
		t.Errorf("failed state = %s, want %s", stateErr.State, StateIdle)
	}
}

func TestRouteJobNoEligibleProviders(t *testing.T) {
	market := testMarket()
	engine := testEngine(t, market, nil)

	req := testRequirement()
	req.GPUModel = "H200"
	out, err := engine.RouteJob(context.Background(), req, Options{})
	if !errors.Is(err, ErrNoEligibleProviders) {
		t.Fatalf("expected ErrNoEligibleProviders, got %v", err)
	}
	if out.State != StateError {
		t.Errorf("state = %s, want %s", out.State, StateError)
	}
	if len(market.created) != 0 {
		t.Error("no deployment may be created without an eligible provider")
	}
}

func TestRouteJobBidTimeoutClosesDeployment(t *testing.T) {
	market := testMarket()
	market.bids = nil
	engine := testEngine(t, market, nil)

	out, err := engine.RouteJob(context.Background(), testRequirement(), Options{
		BidTimeout: 30 * time.Millisecond,
	})

	var timeoutErr *BidTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected BidTimeoutError, got %v", err)
	}
	if timeoutErr.CleanupErr != nil {
		t.Errorf("cleanup close failed: %v", timeoutErr.CleanupErr)
	}
	if got := market.closed(); got != 1 {
		t.Errorf("close calls = %d, want exactly 1", got)
	}
	if out.Deployment == nil || out.Deployment.Status != job.DeploymentClosed {
		t.Errorf("deployment = %+v, want closed", out.Deployment)
	}
}

func TestRouteJobTimeoutCleanupErrorNeverMasksTimeout(t *testing.T) {
	market := testMarket()
	market.bids = nil
	market.closeErr = errors.New("gateway unavailable")
	engine := testEngine(t, market, nil)

	_, err := engine.RouteJob(context.Background(), testRequirement(), Options{
		BidTimeout: 30 * time.Millisecond,
	})

	var timeoutErr *BidTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("cleanup error masked the timeout: %v", err)
	}
	if timeoutErr.CleanupErr == nil {
		t.Error("timeout error must carry the cleanup failure")
	}
}

func TestRouteJobCancelDuringWaitClosesDeployment(t *testing.T) {
	market := testMarket()
	market.bids = nil
	engine := testEngine(t, market, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := engine.RouteJob(ctx, testRequirement(), Options{BidTimeout: time.Minute})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := market.closed(); got != 1 {
		t.Errorf("close calls = %d, want exactly 1", got)
	}
}

func TestRouteJobManualAcceptance(t *testing.T) {
	market := testMarket()
	engine := testEngine(t, market, nil)

	out, err := engine.RouteJob(context.Background(), testRequirement(), Options{AutoAcceptBid: false})
	if err != nil {
		t.Fatalf("RouteJob failed: %v", err)
	}
	if out.State != StateWaitingBids {
		t.Fatalf("state = %s, want %s", out.State, StateWaitingBids)
	}
	if out.AcceptedBid != nil {
		t.Error("manual mode must not accept a bid")
	}

	lease, err := engine.AcceptBid(context.Background(), out.Deployment.ID, "bid-high")
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	if lease.ProviderID != "prov-b" {
		t.Errorf("lease provider = %s, want prov-b", lease.ProviderID)
	}
	if lease.DeploymentID != out.Deployment.ID {
		t.Errorf("lease deployment = %s, want %s", lease.DeploymentID, out.Deployment.ID)
	}
}

func TestManualOutcomeDetachedFromAcceptance(t *testing.T) {
	market := testMarket()
	engine := testEngine(t, market, nil)

	out, err := engine.RouteJob(context.Background(), testRequirement(), Options{AutoAcceptBid: false})
	if err != nil {
		t.Fatalf("RouteJob failed: %v", err)
	}

	// The returned outcome is the caller's to read without coordination; a
	// later acceptance must not write into it.
	if _, err := engine.AcceptBid(context.Background(), out.Deployment.ID, "bid-low"); err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	if out.Deployment.Status != job.DeploymentPending {
		t.Errorf("outcome deployment status = %s, want pending snapshot", out.Deployment.Status)
	}
	if out.Deployment.Lease != nil {
		t.Errorf("outcome deployment gained a lease: %+v", out.Deployment.Lease)
	}
}

func TestAcceptBidUnknownDeployment(t *testing.T) {
	engine := testEngine(t, testMarket(), nil)

	_, err := engine.AcceptBid(context.Background(), "dep-missing", "bid-low")
	if !errors.Is(err, ErrUnknownDeployment) {
		t.Fatalf("expected ErrUnknownDeployment, got %v", err)
	}
}

func TestCloseJobIdempotent(t *testing.T) {
	market := testMarket()
	engine := testEngine(t, market, nil)

	out, err := engine.RouteJob(context.Background(), testRequirement(), Options{AutoAcceptBid: false})
	if err != nil {
		t.Fatalf("RouteJob failed: %v", err)
	}

	if err := engine.CloseJob(context.Background(), out.Deployment.ID); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if out.Deployment.Status != job.DeploymentClosed {
		t.Errorf("deployment status = %s, want closed", out.Deployment.Status)
	}

	// The gateway now reports the deployment as already closed; the second
	// close must still succeed.
	market.closeErr = marketplace.ErrDeploymentClosed
	if err := engine.CloseJob(context.Background(), out.Deployment.ID); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestRouteJobWaitsThroughEmptyPolls(t *testing.T) {
	market := testMarket()
	market.bidsAfter = 3
	engine := testEngine(t, market, nil)

	out, err := engine.RouteJob(context.Background(), testRequirement(), Options{AutoAcceptBid: true})
	if err != nil {
		t.Fatalf("RouteJob failed: %v", err)
	}
	if out.State != StateActive {
		t.Errorf("state = %s, want %s", out.State, StateActive)
	}
	if market.listCalls < 4 {
		t.Errorf("ListBids calls = %d, want at least 4", market.listCalls)
	}
}

// routingLedger is a minimal always-confirming ledger for paid routing tests.
type routingLedger struct {
	allowance uint64
	jobCount  uint64
}

func (f *routingLedger) Allowance(ctx context.Context, owner, spender string) (uint64, error) {
	return f.allowance, nil
}

func (f *routingLedger) TransferFrom(ctx context.Context, from, to string, amount uint64) (ledger.TxRef, error) {
	return "tx-transfer", nil
}

func (f *routingLedger) Approve(ctx context.Context, spender string, amount uint64) (ledger.TxRef, error) {
	return "tx-approve", nil
}

func (f *routingLedger) RegisterJob(ctx context.Context, payloadHash string, tracked bool) (ledger.TxRef, error) {
	f.jobCount++
	return "tx-register", nil
}

func (f *routingLedger) JobCount(ctx context.Context) (uint64, error) { return f.jobCount, nil }

func (f *routingLedger) GetJob(ctx context.Context, id uint64) (*ledger.JobRecord, error) {
	return &ledger.JobRecord{ID: id, CreatedAt: 1700000000}, nil
}

func (f *routingLedger) Deposit(ctx context.Context, jobID, amount uint64) (ledger.TxRef, error) {
	return "tx-deposit", nil
}

func (f *routingLedger) GetEscrow(ctx context.Context, jobID uint64) (*ledger.EscrowRecord, error) {
	return &ledger.EscrowRecord{JobID: jobID, CreatedAt: 1700000000}, nil
}

func (f *routingLedger) WaitConfirmed(ctx context.Context, ref ledger.TxRef) (ledger.TxStatus, error) {
	return ledger.TxConfirmed, nil
}

func (f *routingLedger) HealthCheck(ctx context.Context) error { return nil }

func TestRouteJobPaidAttempt(t *testing.T) {
	market := testMarket()
	payments := payment.New(&routingLedger{allowance: 1000}, "agent", "escrow", testLogger())
	engine := testEngine(t, market, payments)

	out, err := engine.RouteJob(context.Background(), testRequirement(), Options{
		Buyer:         "buyer-addr",
		PaymentAmount: 500,
		AutoAcceptBid: true,
	})
	if err != nil {
		t.Fatalf("RouteJob failed: %v", err)
	}
	if out.Payment == nil || out.Payment.JobID != 1 {
		t.Fatalf("payment = %+v, want chain result with job 1", out.Payment)
	}
	if out.State != StateActive {
		t.Errorf("state = %s, want %s", out.State, StateActive)
	}
}

func TestRouteJobPaymentFailureStopsBeforeDeployment(t *testing.T) {
	market := testMarket()
	payments := payment.New(&routingLedger{allowance: 10}, "agent", "escrow", testLogger())
	engine := testEngine(t, market, payments)

	out, err := engine.RouteJob(context.Background(), testRequirement(), Options{
		Buyer:         "buyer-addr",
		PaymentAmount: 500,
		AutoAcceptBid: true,
	})
	if !errors.Is(err, payment.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if out.State != StateError {
		t.Errorf("state = %s, want %s", out.State, StateError)
	}
	if len(market.created) != 0 {
		t.Error("payment failure must prevent deployment creation")
	}
}

func TestRouteJobPaidAttemptWithoutSequencer(t *testing.T) {
	market := testMarket()
	engine := testEngine(t, market, nil)

	out, err := engine.RouteJob(context.Background(), testRequirement(), Options{
		Buyer:         "buyer-addr",
		PaymentAmount: 500,
		AutoAcceptBid: true,
	})
	if !errors.Is(err, ErrPaymentsNotConfigured) {
		t.Fatalf("expected ErrPaymentsNotConfigured, got %v", err)
	}
	if out.State != StateError {
		t.Errorf("state = %s, want %s", out.State, StateError)
	}
	if len(out.Events) == 0 {
		t.Error("terminal outcome must carry the progress log")
	}
	if len(market.created) != 0 {
		t.Error("no deployment may be created without a funded escrow")
	}
}

func TestBadWeightsRejectedAtConstruction(t *testing.T) {
	cfg := fastConfig()
	cfg.Weights.Price = 0.9
	if _, err := New(testMarket(), nil, cfg, testLogger()); err == nil {
		t.Fatal("expected weight validation error")
	}
}

func TestLowestPricedTieKeepsArrivalOrder(t *testing.T) {
	bids := []job.Bid{
		{ID: "first", Price: 2.0},
		{ID: "second", Price: 2.0},
		{ID: "third", Price: 3.0},
	}
	if got := lowestPriced(bids); got.ID != "first" {
		t.Errorf("lowestPriced = %s, want first", got.ID)
	}
}
