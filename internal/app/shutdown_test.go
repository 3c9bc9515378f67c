package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestShutdownHandler_ClosesInReverseOrder(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop(), time.Second)

	var order []string
	for _, name := range []string{"sinks", "export", "engine"} {
		name := name
		sh.AddFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Equal(t, []string{"engine", "export", "sinks"}, order)

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Len(t, order, 3, "second shutdown is a no-op")
}

func TestShutdownHandler_CollectsErrors(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop(), time.Second)
	boom := errors.New("boom")

	closed := false
	sh.AddFunc("healthy", func() error {
		closed = true
		return nil
	})
	sh.AddFunc("broken", func() error { return boom })

	err := sh.Shutdown(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.True(t, closed, "a failing service does not stop the others")
}

func TestShutdownHandler_Timeout(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop(), 50*time.Millisecond)

	release := make(chan struct{})
	defer close(release)

	reached := false
	sh.AddFunc("first", func() error {
		reached = true
		return nil
	})
	sh.AddFunc("stuck", func() error {
		<-release
		return nil
	})

	start := time.Now()
	err := sh.Shutdown(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck: shutdown timeout")
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, reached, "services after the deadline are abandoned")
}
