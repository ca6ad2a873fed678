package manifest

import (
	"fmt"

	"necto/pkg/job"
)

// Defaults applied when a requirement leaves a resource field unset.
const (
	DefaultCPUUnits = 1
	DefaultMemory   = "1Gi"
	DefaultStorage  = "10Gi"
)

// Resources describes the compute resources requested from a provider.
type Resources struct {
	CPUUnits int    `json:"cpuUnits"`
	Memory   string `json:"memory"`
	Storage  string `json:"storage"`
	GPUUnits int    `json:"gpuUnits,omitempty"`
	GPUSpec  string `json:"gpuSpec,omitempty"` // vendor attribute, e.g. "vendor/nvidia/model/a100"
}

// Expose describes a port exposed by the workload.
type Expose struct {
	Port   int32 `json:"port"`
	Global bool  `json:"global"`
}

// Manifest is the declarative deployment specification submitted to the
// provider network.
type Manifest struct {
	Image     string    `json:"image"`
	Resources Resources `json:"resources"`
	Expose    []Expose  `json:"expose,omitempty"`
	Region    string    `json:"region,omitempty"`
}

// Generate converts a job requirement into a deployment manifest. It is pure
// and deterministic; missing resource fields fall back to documented defaults
// rather than failing.
func Generate(req *job.Requirement) *Manifest {
	m := &Manifest{
		Image:  req.Image,
		Region: req.Region,
		Resources: Resources{
			CPUUnits: DefaultCPUUnits,
			Memory:   DefaultMemory,
			Storage:  DefaultStorage,
		},
	}

	if req.MinVCPU > 0 {
		m.Resources.CPUUnits = req.MinVCPU
	}
	if req.MinMemoryGB > 0 {
		m.Resources.Memory = fmt.Sprintf("%dGi", req.MinMemoryGB)
	}
	if req.StorageGB > 0 {
		m.Resources.Storage = fmt.Sprintf("%dGi", req.StorageGB)
	}

	if req.MinGPUCount > 0 || req.GPUModel != "" {
		units := req.MinGPUCount
		if units == 0 {
			units = 1
		}
		m.Resources.GPUUnits = units
		if req.GPUModel != "" {
			m.Resources.GPUSpec = gpuAttribute(req.GPUModel)
		}
	}

	if req.Port > 0 {
		m.Expose = append(m.Expose, Expose{Port: req.Port, Global: true})
	}

	return m
}

func gpuAttribute(model string) string {
	return fmt.Sprintf("vendor/nvidia/model/%s", normalizeModel(model))
}

func normalizeModel(model string) string {
	out := make([]byte, 0, len(model))
	for i := 0; i < len(model); i++ {
		c := model[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == ' ' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
