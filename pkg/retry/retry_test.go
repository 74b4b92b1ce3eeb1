package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagehq/advisor/pkg/faults"
)

func fastPolicy() Policy {
	return Policy{MaxRetries: 2, BaseDelay: time.Millisecond}
}

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), nil, "op", fastPolicy(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetryableExhaustsBudget(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), nil, "op", fastPolicy(), func(context.Context) error {
		calls++
		return faults.New(faults.CodeTimeout, "alldata", "slow")
	})
	require.Error(t, err)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, 3, calls)
	assert.True(t, faults.Is(err, faults.CodeTimeout))
}

func TestWithRetry_RecoversMidway(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), nil, "op", fastPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return faults.New(faults.CodeTransient5xx, "", "flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_TerminalFailsImmediately(t *testing.T) {
	terminal := []faults.Code{
		faults.CodeAuthFailed,
		faults.CodePlatformDown,
		faults.CodeNotFound,
		faults.CodeParseError,
		faults.CodeCircuitOpen,
		faults.CodeTabContended,
	}
	for _, code := range terminal {
		t.Run(string(code), func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), nil, "op", fastPolicy(), func(context.Context) error {
				calls++
				return faults.New(code, "", "terminal")
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.True(t, faults.Is(err, code))
		})
	}
}

func TestWithRetry_DeadlineExceededRetriedOnce(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), nil, "op", Policy{MaxRetries: 5, BaseDelay: time.Millisecond},
		func(context.Context) error {
			calls++
			return faults.New(faults.CodeDeadlineExceeded, "", "budget blown")
		})
	require.Error(t, err)
	// One retry regardless of MaxRetries.
	assert.Equal(t, 2, calls)
}

func TestWithRetry_StopsWhenContextExpires(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := WithRetry(ctx, nil, "op", Policy{MaxRetries: 50, BaseDelay: 10 * time.Millisecond},
		func(context.Context) error {
			calls++
			return faults.New(faults.CodeNetwork, "", "down")
		})
	require.Error(t, err)
	assert.Less(t, calls, 50)
}
