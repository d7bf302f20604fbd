package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageErrorPolicy(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
		delete    bool
	}{
		{KindBadInput, false, true},
		{KindTransientDependency, true, false},
		{KindPermanentDependency, false, true},
		{KindLeaseContention, true, false},
		{KindStorageWrite, true, false},
		{KindBuildFailure, false, true},
		{KindCancellation, true, false},
	}
	for _, tc := range tests {
		se := NewStageError(tc.kind, "processor", "t1", "c1", errors.New("boom"))
		assert.Equal(t, tc.retryable, se.Retryable(), "kind %s retryable", tc.kind)
		assert.Equal(t, tc.delete, se.DeleteMessage(), "kind %s delete", tc.kind)
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	se := NewStageError(KindStorageWrite, "renderer", "t1", "c1", fmt.Errorf("writing: %w", cause))
	assert.ErrorIs(t, se, cause)
	assert.Contains(t, se.Error(), "renderer")
	assert.Contains(t, se.Error(), "storage_write")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Kind(""), Classify(nil))
	assert.Equal(t, KindCancellation, Classify(context.Canceled))
	assert.Equal(t, KindCancellation, Classify(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))

	se := NewStageError(KindBadInput, "s", "t", "c", errors.New("x"))
	assert.Equal(t, KindBadInput, Classify(fmt.Errorf("outer: %w", se)))

	// Cancellation wins even when a stage error wraps it.
	cancelled := NewStageError(KindTransientDependency, "s", "t", "c", context.Canceled)
	assert.Equal(t, KindCancellation, Classify(cancelled))

	assert.Equal(t, KindTransientDependency, Classify(errors.New("mystery")))
}
