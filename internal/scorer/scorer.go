package scorer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"necto/pkg/job"
)

// Weights controls the composite provider score. They must sum to 1.0 and are
// validated at configuration time so a bad weight vector fails fast instead of
// skewing every ranking pass.
type Weights struct {
	Price       float64 `json:"price" yaml:"price"`
	Reliability float64 `json:"reliability" yaml:"reliability"`
	Performance float64 `json:"performance" yaml:"performance"`
	Latency     float64 `json:"latency" yaml:"latency"`
}

// DefaultWeights returns the default composite weights.
func DefaultWeights() Weights {
	return Weights{
		Price:       0.35,
		Reliability: 0.25,
		Performance: 0.25,
		Latency:     0.15,
	}
}

// Validate checks that the weights sum to 1.0 within a small tolerance.
func (w Weights) Validate() error {
	sum := w.Price + w.Reliability + w.Performance + w.Latency
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.4f", sum)
	}
	if w.Price < 0 || w.Reliability < 0 || w.Performance < 0 || w.Latency < 0 {
		return fmt.Errorf("scoring weights must not be negative")
	}
	return nil
}

// ProviderScore is a ranked candidate with its normalized sub-scores.
// Recomputed on every ranking pass, never mutated in place.
type ProviderScore struct {
	Provider    job.CandidateProvider `json:"provider"`
	Price       float64               `json:"price"`
	Reliability float64               `json:"reliability"`
	Performance float64               `json:"performance"`
	Latency     float64               `json:"latency"`
	Total       float64               `json:"total"`
}

// Filter removes candidates that cannot serve the requirement. It never
// errors; an empty result means "no suitable providers" and is reported as
// such by the caller.
func Filter(candidates []job.CandidateProvider, req *job.Requirement) []job.CandidateProvider {
	out := make([]job.CandidateProvider, 0, len(candidates))
	for _, c := range candidates {
		if req.GPUModel != "" && !supportsGPU(c.GPUModels, req.GPUModel) {
			continue
		}
		if req.Region != "" && c.Region != req.Region {
			continue
		}
		if req.MaxPricePerHr > 0 && c.PricePerHour > req.MaxPricePerHr {
			continue
		}
		if req.MinAvailability > 0 && c.Availability < req.MinAvailability {
			continue
		}
		if req.MinVCPU > 0 && c.Hardware.VCPU < req.MinVCPU {
			continue
		}
		if req.MinMemoryGB > 0 && c.Hardware.MemoryGB < req.MinMemoryGB {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Rank scores the candidate set and returns it ordered best-first. Each factor
// is min-max normalized to [0,1] across the set; ties keep input order.
func Rank(candidates []job.CandidateProvider, weights Weights) []ProviderScore {
	if len(candidates) == 0 {
		return nil
	}

	priceN := normalize(candidates, func(c job.CandidateProvider) float64 { return c.PricePerHour })
	vcpuN := normalize(candidates, func(c job.CandidateProvider) float64 { return float64(c.Hardware.VCPU) })
	memN := normalize(candidates, func(c job.CandidateProvider) float64 { return float64(c.Hardware.MemoryGB) })
	diskN := normalize(candidates, func(c job.CandidateProvider) float64 { return float64(c.Hardware.StorageGB) })

	scores := make([]ProviderScore, 0, len(candidates))
	for i, c := range candidates {
		s := ProviderScore{Provider: c}

		// Cheaper is better, so the normalized price is inverted.
		s.Price = 1.0 - priceN[i]
		s.Reliability = 0.4*c.Availability + 0.6*(c.UptimePct/100.0)
		s.Performance = (vcpuN[i] + memN[i] + diskN[i]) / 3.0
		s.Latency = latencyScore(candidates, c.LatencyMs)

		s.Total = weights.Price*s.Price +
			weights.Reliability*s.Reliability +
			weights.Performance*s.Performance +
			weights.Latency*s.Latency

		scores = append(scores, s)
	}

	// Stable: equal totals keep input order.
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Total > scores[j].Total
	})

	return scores
}

// SelectBest filters and ranks in one pass and returns the single best
// candidate. A false second return means no suitable providers, never an
// error.
func SelectBest(candidates []job.CandidateProvider, req *job.Requirement, weights Weights) (ProviderScore, bool) {
	ranked := Rank(Filter(candidates, req), weights)
	if len(ranked) == 0 {
		return ProviderScore{}, false
	}
	return ranked[0], true
}

// normalize min-max normalizes a factor across the candidate set. When every
// candidate shares the same value the factor carries no signal and everyone
// scores 1.0, which also avoids a divide by zero.
func normalize(candidates []job.CandidateProvider, value func(job.CandidateProvider) float64) []float64 {
	min, max := value(candidates[0]), value(candidates[0])
	for _, c := range candidates[1:] {
		v := value(c)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make([]float64, len(candidates))
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, c := range candidates {
		out[i] = (value(c) - min) / (max - min)
	}
	return out
}

// latencyScore normalizes measured latency across candidates that report one.
// Missing latency is neutral rather than penalized.
func latencyScore(candidates []job.CandidateProvider, latency *int) float64 {
	if latency == nil {
		return 0.5
	}

	min, max := math.MaxFloat64, -math.MaxFloat64
	for _, c := range candidates {
		if c.LatencyMs == nil {
			continue
		}
		v := float64(*c.LatencyMs)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		return 1.0
	}
	return 1.0 - (float64(*latency)-min)/(max-min)
}

func supportsGPU(models []string, required string) bool {
	required = strings.ToLower(required)
	for _, m := range models {
		if strings.Contains(strings.ToLower(m), required) {
			return true
		}
	}
	return false
}
