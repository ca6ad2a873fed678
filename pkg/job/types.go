package job

import (
	"fmt"
	"time"
)

// Requirement defines the buyer-specified constraints for a compute job.
// It is immutable once routing begins.
type Requirement struct {
	GPUModel        string  `json:"gpuModel,omitempty"`        // e.g. "A100", empty = any
	MinGPUCount     int     `json:"minGpuCount,omitempty"`     // number of GPUs
	MaxPricePerHr   float64 `json:"maxPricePerHour,omitempty"` // USD ceiling, 0 = no ceiling
	MinMemoryGB     int     `json:"minMemoryGb,omitempty"`
	MinVCPU         int     `json:"minVcpu,omitempty"`
	Region          string  `json:"region,omitempty"` // exact match when set
	Image           string  `json:"image"`            // container image reference
	Port            int32   `json:"port,omitempty"`   // exposed port
	StorageGB       int     `json:"storageGb,omitempty"`
	MinAvailability float64 `json:"minAvailability,omitempty"` // 0-1 floor
}

// Validate checks the requirement shape before routing begins.
func (r *Requirement) Validate() error {
	if r.Image == "" {
		return &ValidationError{Field: "image", Reason: "container image is required"}
	}
	if r.MinGPUCount < 0 {
		return &ValidationError{Field: "minGpuCount", Reason: "must not be negative"}
	}
	if r.MaxPricePerHr < 0 {
		return &ValidationError{Field: "maxPricePerHour", Reason: "must not be negative"}
	}
	if r.MinAvailability < 0 || r.MinAvailability > 1 {
		return &ValidationError{Field: "minAvailability", Reason: "must be within [0,1]"}
	}
	if r.Port < 0 || r.Port > 65535 {
		return &ValidationError{Field: "port", Reason: "must be a valid port number"}
	}
	return nil
}

// ValidationError indicates a malformed requirement. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid requirement: %s: %s", e.Field, e.Reason)
}

// HardwareSpec describes the hardware behind a marketplace entry.
type HardwareSpec struct {
	VCPU      int `json:"vcpu"`
	MemoryGB  int `json:"memoryGb"`
	StorageGB int `json:"storageGb"`
}

// CandidateProvider is the canonical shape for a marketplace entry. External
// networks describe hardware in heterogeneous units; adapters convert once at
// the boundary so heterogeneous units never reach the scorer.
type CandidateProvider struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Region       string       `json:"region"`
	GPUModels    []string     `json:"gpuModels"`
	PricePerHour float64      `json:"pricePerHour"` // USD
	Availability float64      `json:"availability"` // 0-1
	UptimePct    float64      `json:"uptimePct"`    // 0-100
	LatencyMs    *int         `json:"latencyMs,omitempty"`
	Hardware     HardwareSpec `json:"hardware"`
}

// DeploymentStatus represents the lifecycle status of a deployment.
type DeploymentStatus string

const (
	DeploymentPending DeploymentStatus = "pending"
	DeploymentActive  DeploymentStatus = "active"
	DeploymentClosed  DeploymentStatus = "closed"
	DeploymentError   DeploymentStatus = "error"
)

// Bid is a provider's offer against a pending deployment.
type Bid struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"providerId"`
	Price      float64   `json:"price"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Lease binds a deployment to one specific provider after a bid is accepted.
type Lease struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deploymentId"`
	ProviderID   string    `json:"providerId"`
	Price        float64   `json:"price"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DeploymentRecord identifies one routing attempt on the provider network.
type DeploymentRecord struct {
	ID        string           `json:"id"`
	Status    DeploymentStatus `json:"status"`
	Manifest  any              `json:"manifest,omitempty"`
	Bids      []Bid            `json:"bids,omitempty"`
	Lease     *Lease           `json:"lease,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
