package scorer

import (
	"math"
	"testing"

	"necto/pkg/job"
)

func intPtr(v int) *int { return &v }

func candidate(id string, price float64) job.CandidateProvider {
	return job.CandidateProvider{
		ID:           id,
		GPUModels:    []string{"A100"},
		PricePerHour: price,
		Availability: 0.99,
		UptimePct:    99.0,
		Hardware:     job.HardwareSpec{VCPU: 8, MemoryGB: 32, StorageGB: 100},
	}
}

func TestFilterPriceCeilingAndModel(t *testing.T) {
	a100Cheap := candidate("a100-cheap", 2.50)
	a100Pricey := candidate("a100-pricey", 3.50)
	v100 := candidate("v100", 1.00)
	v100.GPUModels = []string{"V100"}

	req := &job.Requirement{
		Image:         "registry.example/infer:latest",
		GPUModel:      "A100",
		MinGPUCount:   1,
		MaxPricePerHr: 3.00,
	}

	got := Filter([]job.CandidateProvider{a100Cheap, a100Pricey, v100}, req)
	if len(got) != 1 {
		t.Fatalf("expected exactly one eligible candidate, got %d", len(got))
	}
	if got[0].ID != "a100-cheap" {
		t.Errorf("expected a100-cheap to survive filtering, got %s", got[0].ID)
	}
}

func TestFilterConstraints(t *testing.T) {
	base := candidate("base", 1.0)

	tests := []struct {
		name   string
		mutate func(*job.CandidateProvider)
		req    job.Requirement
		keep   bool
	}{
		{
			name: "region mismatch excluded",
			req:  job.Requirement{Image: "img", Region: "eu-west"},
			keep: false,
		},
		{
			name:   "region match kept",
			mutate: func(c *job.CandidateProvider) { c.Region = "eu-west" },
			req:    job.Requirement{Image: "img", Region: "eu-west"},
			keep:   true,
		},
		{
			name:   "availability below floor excluded",
			mutate: func(c *job.CandidateProvider) { c.Availability = 0.80 },
			req:    job.Requirement{Image: "img", MinAvailability: 0.95},
			keep:   false,
		},
		{
			name: "vcpu below minimum excluded",
			req:  job.Requirement{Image: "img", MinVCPU: 16},
			keep: false,
		},
		{
			name: "memory below minimum excluded",
			req:  job.Requirement{Image: "img", MinMemoryGB: 64},
			keep: false,
		},
		{
			name:   "gpu model substring match is case-insensitive",
			mutate: func(c *job.CandidateProvider) { c.GPUModels = []string{"NVIDIA A100 80GB"} },
			req:    job.Requirement{Image: "img", GPUModel: "a100"},
			keep:   true,
		},
		{
			name: "unconstrained requirement keeps everything",
			req:  job.Requirement{Image: "img"},
			keep: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			got := Filter([]job.CandidateProvider{c}, &tt.req)
			if kept := len(got) == 1; kept != tt.keep {
				t.Errorf("keep = %v, want %v", kept, tt.keep)
			}
		})
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	candidates := []job.CandidateProvider{
		candidate("a", 1.0),
		candidate("b", 2.0),
		candidate("c", 5.0),
	}
	req := &job.Requirement{Image: "img", MaxPricePerHr: 3.0}

	once := Filter(candidates, req)
	twice := Filter(once, req)
	if len(once) != len(twice) {
		t.Fatalf("second filter pass changed the set: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Errorf("candidate %d changed: %s -> %s", i, once[i].ID, twice[i].ID)
		}
	}
}

func TestRankPrefersCheaperProvider(t *testing.T) {
	cheap := candidate("cheap", 1.00)
	pricey := candidate("pricey", 4.00)

	ranked := Rank([]job.CandidateProvider{pricey, cheap}, DefaultWeights())
	if len(ranked) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(ranked))
	}
	if ranked[0].Provider.ID != "cheap" {
		t.Errorf("expected cheap provider first, got %s", ranked[0].Provider.ID)
	}
	if ranked[0].Price != 1.0 {
		t.Errorf("cheapest provider price score = %v, want 1.0", ranked[0].Price)
	}
	if ranked[1].Price != 0.0 {
		t.Errorf("priciest provider price score = %v, want 0.0", ranked[1].Price)
	}
}

func TestRankIdenticalFactorNoDivideByZero(t *testing.T) {
	// Every candidate shares the same price; the factor carries no signal and
	// must score 1.0 everywhere instead of dividing by zero.
	a := candidate("a", 2.0)
	b := candidate("b", 2.0)

	ranked := Rank([]job.CandidateProvider{a, b}, DefaultWeights())
	for _, s := range ranked {
		if math.IsNaN(s.Total) || math.IsInf(s.Total, 0) {
			t.Fatalf("score for %s is not finite: %v", s.Provider.ID, s.Total)
		}
		if s.Price != 0.0 {
			// 1.0 - normalized(1.0) with min==max all-ones convention.
			t.Errorf("price score for %s = %v, want 0.0", s.Provider.ID, s.Price)
		}
	}
}

func TestRankReliabilityBlend(t *testing.T) {
	c := candidate("r", 1.0)
	c.Availability = 0.5
	c.UptimePct = 80.0

	ranked := Rank([]job.CandidateProvider{c}, DefaultWeights())
	want := 0.4*0.5 + 0.6*0.8
	if math.Abs(ranked[0].Reliability-want) > 1e-9 {
		t.Errorf("reliability = %v, want %v", ranked[0].Reliability, want)
	}
}

func TestRankMissingLatencyIsNeutral(t *testing.T) {
	withLatency := candidate("measured", 1.0)
	withLatency.LatencyMs = intPtr(20)
	slow := candidate("slow", 1.0)
	slow.LatencyMs = intPtr(200)
	unmeasured := candidate("unmeasured", 1.0)

	ranked := Rank([]job.CandidateProvider{withLatency, slow, unmeasured}, DefaultWeights())
	for _, s := range ranked {
		switch s.Provider.ID {
		case "unmeasured":
			if s.Latency != 0.5 {
				t.Errorf("unmeasured latency score = %v, want 0.5", s.Latency)
			}
		case "measured":
			if s.Latency != 1.0 {
				t.Errorf("best latency score = %v, want 1.0", s.Latency)
			}
		case "slow":
			if s.Latency != 0.0 {
				t.Errorf("worst latency score = %v, want 0.0", s.Latency)
			}
		}
	}
}

func TestRankStableOrderOnTies(t *testing.T) {
	a := candidate("first", 2.0)
	b := candidate("second", 2.0)

	ranked := Rank([]job.CandidateProvider{a, b}, DefaultWeights())
	if ranked[0].Provider.ID != "first" || ranked[1].Provider.ID != "second" {
		t.Errorf("tie broke input order: got %s, %s", ranked[0].Provider.ID, ranked[1].Provider.ID)
	}
}

func TestSelectBestEmptySet(t *testing.T) {
	req := &job.Requirement{Image: "img", GPUModel: "H200"}
	_, ok := SelectBest([]job.CandidateProvider{candidate("a", 1.0)}, req, DefaultWeights())
	if ok {
		t.Error("expected no selection from an empty eligible set")
	}

	_, ok = SelectBest(nil, &job.Requirement{Image: "img"}, DefaultWeights())
	if ok {
		t.Error("expected no selection from a nil candidate set")
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights should validate: %v", err)
	}

	bad := Weights{Price: 0.5, Reliability: 0.5, Performance: 0.5, Latency: 0.5}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for weights summing to 2.0")
	}

	negative := Weights{Price: 1.5, Reliability: -0.5, Performance: 0, Latency: 0}
	if err := negative.Validate(); err == nil {
		t.Error("expected error for a negative weight")
	}
}
