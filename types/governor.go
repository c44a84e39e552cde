package types

import (
	"github.com/valyala/fasthttp"
)

// RequestClass is the outcome of classifying one intercepted request.
// Rules are evaluated in order; first match wins.
type RequestClass int

const (
	ClassBypass RequestClass = iota
	ClassAPI
	ClassStatic
	ClassNavigation
	ClassGeneric
)

func (c RequestClass) String() string {
	switch c {
	case ClassBypass:
		return "bypass"
	case ClassAPI:
		return "api"
	case ClassStatic:
		return "static"
	case ClassNavigation:
		return "navigation"
	default:
		return "generic"
	}
}

// Governor intercepts every request the gateway serves and applies a
// per-class caching strategy. A handled request always resolves to a
// concrete response; strategy failures end in synthesized payloads, never
// in a transport error surfaced to the caller.
type Governor interface {
	LifecycleManager
	Handle(ctx *fasthttp.RequestCtx)
	Classify(ctx *fasthttp.RequestCtx) RequestClass
	Install() error
	Activate() error
	StageVersion(version string) error
	SkipWaiting() error
	Controlling() bool
	Version() string
}

// PrecacheResult records one item of a cache-warming batch. Batches use
// all-settled semantics: a failed item is recorded and skipped, it never
// aborts the rest of the batch.
type PrecacheResult struct {
	URL    string `json:"url"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// FallbackKeyOfflinePage and FallbackKeyRecommendations are the fixed keys
// the offline-fallback partition is written under.
const (
	FallbackKeyOfflinePage     = "offline-page"
	FallbackKeyRecommendations = "recommendations"
)
