package common

import (
	"strings"

	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix.
// The UUID portion is 128 bits and URL-safe.
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// IsJobID reports whether the given string looks like a job ID
func IsJobID(id string) bool {
	if !strings.HasPrefix(id, "job_") {
		return false
	}
	_, err := uuid.Parse(strings.TrimPrefix(id, "job_"))
	return err == nil
}
