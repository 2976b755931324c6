package continuity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubError struct {
	reason string
}

func (e *stubError) Error() string { return e.reason }

func TestCont(t *testing.T) {
	{
		c := New()
		err := c.Thenf("step 0", func() error {
			return nil
		}).Err()
		require.NoError(t, err)
	}
	{
		c := New()
		err := c.Thenf("step 0", func() error {
			return nil
		}).
			Thenf("step 1", func() error {
				return nil
			}).
			Thenf("step 2", func() error {
				return nil
			}).Err()
		require.NoError(t, err)
	}
	{
		step0Executed := false
		step1Executed := false
		step2Executed := false
		step3Executed := false
		c := New()
		stepErr := &stubError{reason: "step 2 error"}
		err := c.
			Thenf("step 0", func() error {
				step0Executed = true
				return nil
			}).
			Thenf("step 1", func() error {
				step1Executed = true
				return nil
			}).
			Thenf("step 2", func() error {
				step2Executed = true
				return stepErr
			}).
			Thenf("step 3", func() error {
				step3Executed = true
				return nil
			}).
			Err()
		require.Error(t, err)
		require.Equal(t, "step 2 error", err.Error())

		require.True(t, step0Executed)
		require.True(t, step1Executed)
		require.True(t, step2Executed)
		require.False(t, step3Executed)

		require.True(t, errors.Is(err, stepErr))
		var target *stubError
		require.True(t, errors.As(err, &target))
		require.Same(t, stepErr, target)
	}
	{
		step0Executed := false
		step1Executed := false
		step2Executed := false
		step3Executed := false
		c := New()
		err := c.
			Thenf("step 0", func() error {
				step0Executed = true
				return nil
			}).
			Thenf("step 1", func() error {
				step1Executed = true
				return nil
			}).
			Then("step 2",
				func() error {
					step2Executed = true
					return &stubError{reason: "step 2 error 1"}
				}(),
				&stubError{reason: "step 2 error 2"},
			).
			Thenf("step 3", func() error {
				step3Executed = true
				return nil
			}).
			Err()
		require.Error(t, err)
		require.Equal(t, "multiple errors: step 2 error 1, step 2 error 2", err.Error())

		require.True(t, step0Executed)
		require.True(t, step1Executed)
		require.True(t, step2Executed)
		require.False(t, step3Executed)

		// Both underlying errors are reachable through ErrArray's Unwrap.
		var se *stubError
		require.True(t, errors.As(err, &se))
		require.Equal(t, "step 2 error 1", se.reason)
	}
}
