package routing

import "necto/pkg/job"

// SuitabilityThreshold is the score below which a requirement is flagged as a
// poor fit for the marketplace. Advisory only: a low score logs a warning and
// never blocks routing.
const SuitabilityThreshold = 0.5

// Suitability estimates how well a requirement's shape fits the provider
// network, in [0,1]. The marketplace favors containerized GPU workloads with
// a modest footprint; optionally web-exposed.
func Suitability(req *job.Requirement) float64 {
	score := 0.0

	if req.Image != "" {
		score += 0.40
	}
	if req.GPUModel != "" || req.MinGPUCount > 0 {
		score += 0.30
	}
	if req.Port > 0 {
		score += 0.15
	}
	// Small storage footprints deploy and migrate quickly; treat unset as
	// small.
	if req.StorageGB <= 100 {
		score += 0.15
	}

	return score
}
