package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"low", PriorityLow, false},
		{"normal", PriorityNormal, false},
		{"high", PriorityHigh, false},
		{"critical", PriorityCritical, false},
		{"urgent", 0, true},
		{"", 0, true},
		{"Normal", 0, true}, // wire form is lower-case only
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPriority)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestPriorityWeight(t *testing.T) {
	if w := PriorityLow.Weight(); w != 1 {
		t.Errorf("low weight = %d, want 1", w)
	}
	if w := PriorityCritical.Weight(); w != 4 {
		t.Errorf("critical weight = %d, want 4", w)
	}
	// Out-of-range values fall back to the normal weight.
	if w := Priority(99).Weight(); w != 2 {
		t.Errorf("unknown weight = %d, want 2", w)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusConfirmed, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []Status{StatusPending, StatusProcessing, StatusSubmitted}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestJobAttempts(t *testing.T) {
	job := &Job{}
	assert.Equal(t, 1, job.Attempts())
	job.RetryCount = 3
	assert.Equal(t, 4, job.Attempts())
}

func TestTransientClassification(t *testing.T) {
	base := errors.New("connection reset")
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(Transient(base)))

	wrapped := Transientf("broadcast: %w", base)
	assert.True(t, IsTransient(wrapped))
	assert.ErrorIs(t, wrapped, base)

	assert.Nil(t, Transient(nil))
}
