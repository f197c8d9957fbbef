package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedNackBackoff(t *testing.T) {
	t.Parallel()

	b := NewFixedNackBackoff(time.Second)

	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(10))
}

func TestExponentialNackBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		backoff  *ExponentialNackBackoff
		count    uint32
		expected time.Duration
	}{
		{
			name:     "first delivery uses the initial interval",
			backoff:  NewExponentialNackBackoff(time.Second, time.Minute),
			count:    0,
			expected: time.Second,
		},
		{
			name:     "doubles with every redelivery",
			backoff:  NewExponentialNackBackoff(time.Second, time.Minute),
			count:    3,
			expected: 8 * time.Second,
		},
		{
			name:     "capped at max interval",
			backoff:  NewExponentialNackBackoff(time.Second, 10*time.Second),
			count:    10,
			expected: 10 * time.Second,
		},
		{
			name:     "max below initial is raised to initial",
			backoff:  NewExponentialNackBackoff(time.Second, time.Millisecond),
			count:    5,
			expected: time.Second,
		},
		{
			name:     "zero initial disables the delay",
			backoff:  NewExponentialNackBackoff(0, time.Second),
			count:    2,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, tt.backoff.Delay(tt.count))
		})
	}
}
