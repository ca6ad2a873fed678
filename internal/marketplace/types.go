package marketplace

import (
	"time"

	"necto/pkg/job"
)

// providerEntry is the wire shape the marketplace reports providers in.
// Hardware comes in milli-vCPUs and raw bytes; the adapter in helpers.go
// converts to the canonical candidate shape exactly once, at this boundary.
type providerEntry struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Region       string   `json:"region"`
	GPUModels    []string `json:"gpuModels"`
	PricePerHour float64  `json:"pricePerHour"`
	Availability float64  `json:"availability"`
	UptimePct    float64  `json:"uptimePct"`
	LatencyMs    *int     `json:"latencyMs,omitempty"`
	MilliVCPU    int64    `json:"milliVcpu"`
	MemoryBytes  int64    `json:"memoryBytes"`
	StorageBytes int64    `json:"storageBytes"`
}

// deploymentEntry is the wire shape of a deployment.
type deploymentEntry struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// bidEntry is the wire shape of a bid.
type bidEntry struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"providerId"`
	Price      float64   `json:"price"`
	CreatedAt  time.Time `json:"createdAt"`
}

// leaseEntry is the wire shape of a lease.
type leaseEntry struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deploymentId"`
	ProviderID   string    `json:"providerId"`
	Price        float64   `json:"price"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (b bidEntry) toBid() job.Bid {
	return job.Bid{
		ID:         b.ID,
		ProviderID: b.ProviderID,
		Price:      b.Price,
		CreatedAt:  b.CreatedAt,
	}
}

func (l leaseEntry) toLease() *job.Lease {
	return &job.Lease{
		ID:           l.ID,
		DeploymentID: l.DeploymentID,
		ProviderID:   l.ProviderID,
		Price:        l.Price,
		CreatedAt:    l.CreatedAt,
	}
}
