package sandbox

import "slices"

// Policy restricts what a Docker-backed runner may use.
type Policy struct {
	Network bool     // Whether containers get network access
	Memory  string   // docker --memory limit, e.g. "256m"; empty means none
	Images  []string // Allowed Docker images
}

// DefaultPolicy returns safe defaults for code execution.
func DefaultPolicy() Policy {
	return Policy{
		Network: false,
		Memory:  "256m",
		Images: []string{
			"python:3.12-slim",
			"python:3.11-slim",
		},
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	return slices.Contains(p.Images, image)
}
