package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")))
	assert.True(t, IsTransientError(errors.New("503 Service Unavailable")))
	assert.True(t, IsTransientError(errors.New("dial tcp: connection refused")))
	assert.True(t, IsTransientError(errors.New("context deadline exceeded")))

	assert.False(t, IsTransientError(nil))
	assert.False(t, IsTransientError(errors.New("400 Bad Request")))
	assert.False(t, IsTransientError(errors.New("model not found")))
}

func TestIsCredentialError(t *testing.T) {
	assert.True(t, IsCredentialError(errors.New("401 Unauthorized")))
	assert.True(t, IsCredentialError(errors.New("invalid API key provided")))
	assert.True(t, IsCredentialError(errors.New("rpc error: PERMISSION_DENIED")))

	assert.False(t, IsCredentialError(nil))
	assert.False(t, IsCredentialError(errors.New("500 Internal Server Error")))
}
