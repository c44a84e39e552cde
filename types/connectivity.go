package types

import (
	"context"
	"time"
)

// ConnectivityMonitor derives a boolean online state from periodic and
// on-demand upstream probes, and tracks whether the fetch governor is
// currently controlling requests. It holds no caching logic; it is pure
// observation plus notification.
type ConnectivityMonitor interface {
	LifecycleManager
	Online() bool
	Observe(ctx context.Context) bool
	ControllerActive() bool
	SetControllerActive(active bool)
	SubscribeOnline(name string, fn func(online bool))
	SubscribeController(name string, fn func(active bool))
	Unsubscribe(name string)
}

// ConnectivityEvent is published to the notify hub on state transitions.
type ConnectivityEvent struct {
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}
