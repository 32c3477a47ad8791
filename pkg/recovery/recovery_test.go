package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, ActionFail, Classify(nil, true))
}

func TestClassifyContextCanceled(t *testing.T) {
	assert.Equal(t, ActionFail, Classify(context.Canceled, true))
	assert.Equal(t, ActionFail, Classify(context.DeadlineExceeded, true))
}

func TestClassifyNetTimeout(t *testing.T) {
	assert.Equal(t, ActionRetry, Classify(fakeTimeoutErr{}, false))
}

func TestClassifyRetryableFlag(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, ActionRetry, Classify(plain, true))
	assert.Equal(t, ActionFail, Classify(plain, false))
}

func TestDelayGrowsAndCaps(t *testing.T) {
	d1 := Delay(1)
	assert.True(t, d1 > 0 && d1 <= BaseDelay+BaseDelay/5)

	d10 := Delay(10)
	assert.True(t, d10 <= MaxDelay+MaxDelay/5)
}

func TestDelayNeverNegative(t *testing.T) {
	for n := 1; n <= 20; n++ {
		assert.True(t, Delay(n) >= 0)
	}
}
