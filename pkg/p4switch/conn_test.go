package p4switch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tagmesh/tagmesh/pkg/types"
)

func testConn() *Conn {
	// An endpoint nothing listens on; connection attempts fail fast.
	return NewConn(Config{
		Switch:  &types.Switch{Name: "s21", Endpoint: "127.0.0.1:1", DeviceID: 3},
		Profile: DefaultProfile(),
	})
}

func TestConnStartsDisconnected(t *testing.T) {
	c := testConn()
	assert.Equal(t, types.ConnStateDisconnected, c.State())
}

func TestConnectFailureTransitionsToFailedWithBackoff(t *testing.T) {
	c := testConn()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := c.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ConnStateFailed, c.State())

	// Immediately retrying is refused while the backoff window is open.
	err = c.Connect(context.Background())
	require.ErrorIs(t, err, ErrBackoff)
	assert.Equal(t, types.ConnStateFailed, c.State())
}

func TestDisconnectFromFailed(t *testing.T) {
	c := testConn()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = c.Connect(ctx)

	c.Disconnect()
	assert.Equal(t, types.ConnStateDisconnected, c.State())

	// Disconnect is idempotent.
	c.Disconnect()
	assert.Equal(t, types.ConnStateDisconnected, c.State())
}

func TestEntryOpsRequireReady(t *testing.T) {
	c := testConn()
	e := types.CanonicalEntry{
		SwitchName: "s21", Table: types.TableTag,
		MatchKey: "srcAddr=192.168.11.0/24", Action: types.ActionParams{SetTag: 10},
	}

	err := c.WriteEntry(context.Background(), types.OpInsert, e)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.ReadCounter(context.Background(), e)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestBackoffGrowthAndCap(t *testing.T) {
	assert.Equal(t, time.Second, backoff(1))
	assert.Equal(t, 2*time.Second, backoff(2))
	assert.Equal(t, 8*time.Second, backoff(4))
	assert.Equal(t, maxBackoff, backoff(6))
	assert.Equal(t, maxBackoff, backoff(40))
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(ErrNotConnected))
	assert.False(t, IsConnectionError(nil))
	assert.False(t, IsConnectionError(assert.AnError))
}
