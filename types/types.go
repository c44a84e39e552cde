package types

// LifecycleManager is implemented by every long-lived component the
// gateway wires at startup. Start and Stop must be safe to call once
// each; repeated calls return an already-running/not-running error.
type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}
