package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryDirectoryLookupWaitsForAdvertise(t *testing.T) {
	dir := NewMemoryDirectory("")

	result := make(chan Endpoint, 1)
	go func() {
		endpoint, err := dir.Lookup(context.Background(), "5")
		if err == nil {
			result <- endpoint
		}
	}()

	time.Sleep(20 * time.Millisecond)
	adv, err := dir.Advertise("5", 7000)
	require.NoError(t, err)
	defer adv.Stop()

	select {
	case endpoint := <-result:
		require.Equal(t, []string{"127.0.0.1:7000"}, endpoint.DialAddresses())
	case <-time.After(2 * time.Second):
		t.Fatalf("lookup did not observe advertisement")
	}
}

func TestMemoryDirectoryLookupHonoursContext(t *testing.T) {
	dir := NewMemoryDirectory("127.0.0.1")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := dir.Lookup(ctx, "404")
	if !errors.Is(err, ErrNameplateNotFound) {
		t.Fatalf("expected ErrNameplateNotFound, got %v", err)
	}
}

func TestMemoryDirectoryStopRemovesEntry(t *testing.T) {
	dir := NewMemoryDirectory("127.0.0.1")
	adv, err := dir.Advertise("6", 7000)
	require.NoError(t, err)
	require.Equal(t, 1, dir.Len())

	_, err = dir.Advertise("6", 7001)
	require.ErrorIs(t, err, ErrNameplateInUse)

	adv.Stop()
	require.Equal(t, 0, dir.Len())
}
