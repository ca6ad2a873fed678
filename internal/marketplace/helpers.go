package marketplace

import "necto/pkg/job"

const bytesPerGB = int64(1) << 30

// toCandidate converts a wire provider entry into the canonical candidate
// shape. Milli-vCPUs round down to whole cores and byte sizes round down to
// whole GB; a provider advertising less than one full unit counts as zero.
func (p providerEntry) toCandidate() job.CandidateProvider {
	return job.CandidateProvider{
		ID:           p.ID,
		Name:         p.Name,
		Region:       p.Region,
		GPUModels:    p.GPUModels,
		PricePerHour: p.PricePerHour,
		Availability: clamp01(p.Availability),
		UptimePct:    p.UptimePct,
		LatencyMs:    p.LatencyMs,
		Hardware: job.HardwareSpec{
			VCPU:      int(p.MilliVCPU / 1000),
			MemoryGB:  int(p.MemoryBytes / bytesPerGB),
			StorageGB: int(p.StorageBytes / bytesPerGB),
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
