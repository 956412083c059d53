//go:build !windows

package heartbeat

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardSignals(t *testing.T) {
	events := make(chan Event, 1)
	stop := ForwardSignals(events, syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case e := <-events:
		assert.Equal(t, EventTerminate, e)
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not forwarded")
	}
}
