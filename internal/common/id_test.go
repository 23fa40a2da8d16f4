package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewJobID(t *testing.T) {
	id := NewJobID()
	assert.True(t, strings.HasPrefix(id, "job_"))
	assert.True(t, IsJobID(id))
	assert.NotEqual(t, id, NewJobID())
}

func TestIsJobID(t *testing.T) {
	assert.False(t, IsJobID("job_"))
	assert.False(t, IsJobID("job_not-a-uuid"))
	assert.False(t, IsJobID("doc_6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	assert.True(t, IsJobID("job_6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
}
