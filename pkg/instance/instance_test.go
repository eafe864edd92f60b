package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetIDPrefersInstanceID(t *testing.T) {
	t.Setenv("FOODDASH_INSTANCE_ID", "api-7")
	t.Setenv("WORKER_ID", "worker-3")
	assert.Equal(t, "api-7", GetID())
}

func TestGetIDFallsBackToWorkerID(t *testing.T) {
	t.Setenv("FOODDASH_INSTANCE_ID", "")
	t.Setenv("WORKER_ID", "worker-3")
	assert.Equal(t, "worker-3", GetID())
}

func TestGetIDNeverEmpty(t *testing.T) {
	t.Setenv("FOODDASH_INSTANCE_ID", "")
	t.Setenv("WORKER_ID", "")
	assert.NotEmpty(t, GetID())
}
