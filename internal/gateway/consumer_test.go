package gateway

import (
	"testing"
	"time"
)

func TestNextRetryDelay(t *testing.T) {
	cases := []struct {
		previous     time.Duration
		connectedFor time.Duration
		want         time.Duration
	}{
		// Fast failures keep doubling, up to the cap.
		{time.Second, time.Millisecond, 2 * time.Second},
		{8 * time.Second, time.Millisecond, 16 * time.Second},
		{16 * time.Second, time.Millisecond, maxBackoff},
		{maxBackoff, time.Millisecond, maxBackoff},
		// A connection that survived the handshake resets the delay,
		// however long the failure streak before it was.
		{maxBackoff, time.Hour, time.Second},
		{4 * time.Second, handshakeTimeout + time.Second, time.Second},
	}
	for _, tc := range cases {
		if got := nextRetryDelay(tc.previous, tc.connectedFor); got != tc.want {
			t.Errorf("nextRetryDelay(%v, %v) = %v, want %v", tc.previous, tc.connectedFor, got, tc.want)
		}
	}
}
