package rerr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsTransient_MatchesTransientAndRateLimited(t *testing.T) {
	require.True(t, IsTransient(Transient("dial", errors.New("timeout"))))
	require.True(t, IsTransient(RateLimited("closePosition", 2*time.Second)))
	require.False(t, IsTransient(Parse("decode", errors.New("bad frame"))))
}

func TestIsFatal_MatchesConfigInvalidAndStoreIntegrity(t *testing.T) {
	require.True(t, IsFatal(ConfigInvalid("reset_scheduler.hour", "must be 0-23")))
	require.True(t, IsFatal(StoreIntegrity("commit", errors.New("disk full"))))
	require.False(t, IsFatal(Auth("userHub", errors.New("token rejected"))))
}

func TestIsTransient_MatchesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("retry loop: %w", Transient("closePosition", errors.New("connection reset")))
	require.True(t, IsTransient(wrapped))
}

func TestConfigInvalidErr_MessageNamesFieldPath(t *testing.T) {
	err := ConfigInvalid("rules.max_contracts.limit", "must be positive when enabled")
	require.Contains(t, err.Error(), "rules.max_contracts.limit")
	require.Contains(t, err.Error(), "must be positive when enabled")
}
