package sandbox

import (
	"slices"
	"time"
)

// Policy defines the limits applied to test execution.
type Policy struct {
	MaxTimeout     time.Duration // wall-clock limit when ExecOpts.Timeout is zero
	MaxOutputBytes int           // capture limit per stream
	WaitDelay      time.Duration // grace for stray pipe holders after kill

	// Docker backend only.
	MaxMemory string   // Docker memory limit (e.g. "512m")
	Network   bool     // whether network access is allowed
	Images    []string // allowed Docker images
}

// DefaultPolicy returns the limits used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxTimeout:     30 * time.Second,
		MaxOutputBytes: 1 << 20,
		WaitDelay:      2 * time.Second,
		MaxMemory:      "512m",
		Network:        false,
		Images: []string{
			"mcr.microsoft.com/dotnet/sdk:8.0",
		},
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	return slices.Contains(p.Images, image)
}

// timeout clamps a requested timeout to MaxTimeout. Zero means the maximum.
func (p Policy) timeout(requested time.Duration) time.Duration {
	limit := p.MaxTimeout
	if limit <= 0 {
		limit = DefaultPolicy().MaxTimeout
	}
	if requested > 0 && requested < limit {
		return requested
	}
	return limit
}
