package jobs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/steveyegge/pm/internal/jobs"
)

func TestNewRunnerReturnsRunner(t *testing.T) {
	r := jobs.NewRunner(nil, "worker-1", 10*time.Millisecond)
	assert.NotNil(t, r)
}

func TestOutcomeZeroValueIsSuccess(t *testing.T) {
	var o jobs.Outcome
	assert.Equal(t, jobs.OutcomeSuccess, o)
}
