package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffForGrowsAndCaps(t *testing.T) {
	first := backoffFor(0)
	later := backoffFor(10)

	assert.Greater(t, first, time.Duration(0))
	assert.LessOrEqual(t, later, 5*time.Minute+(5*time.Minute)*3/10) // MaxInterval plus jitter headroom
}

func TestJitterStaysWithinFactor(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 50; i++ {
		d := jitter(base, 0.3)
		assert.InDelta(t, float64(base), float64(d), float64(base)*0.3+1)
	}
}

func TestOutcomeNameCoversAllValues(t *testing.T) {
	assert.Equal(t, "success", outcomeName(OutcomeSuccess))
	assert.Equal(t, "fatal", outcomeName(OutcomeFatal))
	assert.Equal(t, "retry", outcomeName(OutcomeRetry))
}
