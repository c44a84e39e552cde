package types

import (
	"time"
)

// APIClient is the single seam through which application code issues
// authenticated REST calls. Implementations attach bearer credentials,
// intercept 401 responses and, in the offline-aware variant, fall back to
// cached payloads when the network is unreachable.
type APIClient interface {
	Get(path string, opts *CallOptions) ([]byte, int, error)
	Post(path string, data interface{}, opts *CallOptions) ([]byte, int, error)
	Put(path string, data interface{}, opts *CallOptions) ([]byte, int, error)
	Patch(path string, data interface{}, opts *CallOptions) ([]byte, int, error)
	Delete(path string, opts *CallOptions) ([]byte, int, error)
	Close()
}

// ClientManager hands out the per-upstream API clients.
type ClientManager interface {
	LifecycleManager
	Client(name string) (APIClient, error)
}

type CallOptions struct {
	Timeout time.Duration
	Retry   int
	Headers map[string]string
}

// CredentialSource supplies the bearer token attached to outgoing requests.
// Clear is invoked when any response comes back 401 so a stale session is
// never retried.
type CredentialSource interface {
	Token() (string, bool)
	Clear()
	Absorb(cookieHeader string)
}
