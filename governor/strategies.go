package governor

import (
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

// Handle resolves one intercepted request. Whatever happens upstream,
// the caller always receives a concrete response; strategy failures end
// in synthesized payloads, never in a transport error.
func (g *Gov) Handle(ctx *fasthttp.RequestCtx) {
	if !g.IsRunning() {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}

	// The session cookie rides on every intercepted request; keep the
	// credential source current so outbound calls stay authenticated.
	if g.credentials != nil {
		if cookie := ctx.Request.Header.Peek(fasthttp.HeaderCookie); len(cookie) > 0 {
			g.credentials.Absorb(string(cookie))
		}
	}

	class := g.Classify(ctx)

	switch class {
	case types.ClassBypass:
		g.handleBypass(ctx)
	case types.ClassAPI:
		g.handleNetworkFirst(ctx)
	case types.ClassStatic:
		g.handleCacheFirst(ctx, class)
	case types.ClassNavigation:
		g.handleNavigation(ctx)
	default:
		g.handleCacheFirst(ctx, class)
	}
}

// handleBypass forwards the request untouched. Nothing is ever read
// from or written to a partition on this path.
func (g *Gov) handleBypass(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	target := g.upstreamFor(path)

	resp, err := g.forward(ctx, target)
	if err != nil {
		g.recordRequest(types.ClassBypass, "error")
		if isAPIPath(path, g.config.GetConfig().Routing) {
			utils.WriteAPIUnavailable(ctx)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
		return
	}
	defer fasthttp.ReleaseResponse(resp)

	g.recordRequest(types.ClassBypass, "network")
	writeResponse(ctx, resp)
}

// handleNetworkFirst serves API requests: the network answer wins and
// refreshes the partition; only when the network fails does the cached
// copy, then the saved fallback payload, then the synthesized error get
// a turn.
func (g *Gov) handleNetworkFirst(ctx *fasthttp.RequestCtx) {
	routing := g.config.GetConfig().Routing
	storeConfig := g.config.GetConfig().Store
	partitions := g.currentPartitions()

	path := string(ctx.Path())
	key := requestKey(ctx)
	isRecommendations := path == routing.RecommendationsPath

	resp, err := g.forward(ctx, g.upstreamFor(path))
	if err == nil {
		defer fasthttp.ReleaseResponse(resp)

		if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			entry := utils.EntryFromResponse(key, resp)
			if storeErr := g.store.Set(ctx, partitions.API, key, entry, storeConfig.APITTL); storeErr != nil {
				g.logger.Warn("failed to cache API response",
					zap.String("key", key),
					zap.Error(storeErr))
			}

			// Keep the latest good recommendations payload around for
			// cold starts with no API partition left.
			if isRecommendations {
				if storeErr := g.store.Set(ctx, partitions.Fallback, types.FallbackKeyRecommendations, entry, 0); storeErr != nil {
					g.logger.Warn("failed to save recommendations fallback", zap.Error(storeErr))
				}
			}
		}

		g.recordRequest(types.ClassAPI, "network")
		writeResponse(ctx, resp)
		return
	}

	g.logger.Debug("network-first upstream fetch failed, trying cache",
		zap.String("key", key),
		zap.Error(err))

	if entry, ok := g.store.Get(ctx, partitions.API, key); ok {
		g.recordRequest(types.ClassAPI, "cache")
		utils.WriteEntry(ctx, entry)
		return
	}

	if isRecommendations {
		if entry, ok := g.store.Get(ctx, partitions.Fallback, types.FallbackKeyRecommendations); ok {
			g.recordRequest(types.ClassAPI, "fallback")
			utils.WriteEntry(ctx, entry)
			return
		}

		g.recordRequest(types.ClassAPI, "synthesized")
		utils.WriteOfflineData(ctx)
		return
	}

	g.recordRequest(types.ClassAPI, "synthesized")
	utils.WriteAPIUnavailable(ctx)
}

// handleCacheFirst serves static assets and generic same-origin GETs: a
// cached copy short-circuits the network entirely.
func (g *Gov) handleCacheFirst(ctx *fasthttp.RequestCtx, class types.RequestClass) {
	storeConfig := g.config.GetConfig().Store
	partitions := g.currentPartitions()
	key := requestKey(ctx)

	if entry, ok := g.store.Get(ctx, partitions.Static, key); ok {
		g.recordRequest(class, "cache")
		utils.WriteEntry(ctx, entry)
		return
	}

	resp, err := g.forward(ctx, g.upstreamFor(string(ctx.Path())))
	if err == nil {
		defer fasthttp.ReleaseResponse(resp)

		if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			entry := utils.EntryFromResponse(key, resp)
			if storeErr := g.store.Set(ctx, partitions.Static, key, entry, storeConfig.StaticTTL); storeErr != nil {
				g.logger.Warn("failed to cache static response",
					zap.String("key", key),
					zap.Error(storeErr))
			}
		}

		g.recordRequest(class, "network")
		writeResponse(ctx, resp)
		return
	}

	g.recordRequest(class, "synthesized")
	utils.WriteEmptyNotFound(ctx)
}

// handleNavigation runs the document fallback chain: network, the exact
// URL from cache, the application shell, the saved offline page, and as
// the last resort an inline error document.
func (g *Gov) handleNavigation(ctx *fasthttp.RequestCtx) {
	storeConfig := g.config.GetConfig().Store
	partitions := g.currentPartitions()
	key := requestKey(ctx)

	resp, err := g.forward(ctx, g.upstreamFor(string(ctx.Path())))
	if err == nil {
		defer fasthttp.ReleaseResponse(resp)

		if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			entry := utils.EntryFromResponse(key, resp)
			if storeErr := g.store.Set(ctx, partitions.Static, key, entry, storeConfig.StaticTTL); storeErr != nil {
				g.logger.Warn("failed to cache navigation response",
					zap.String("key", key),
					zap.Error(storeErr))
			}
		}

		g.recordRequest(types.ClassNavigation, "network")
		writeResponse(ctx, resp)
		return
	}

	g.logger.Debug("navigation fetch failed, walking fallback chain",
		zap.String("key", key),
		zap.Error(err))

	if entry, ok := g.store.Get(ctx, partitions.Static, key); ok {
		g.recordRequest(types.ClassNavigation, "cache")
		utils.WriteEntry(ctx, entry)
		return
	}

	// Single-page app shell covers any client-routed path.
	if entry, ok := g.store.Get(ctx, partitions.Static, "/"); ok {
		g.recordRequest(types.ClassNavigation, "shell")
		utils.WriteEntry(ctx, entry)
		return
	}

	if entry, ok := g.store.Get(ctx, partitions.Fallback, types.FallbackKeyOfflinePage); ok {
		g.recordRequest(types.ClassNavigation, "fallback")
		// The store hands back its own entry; override the status on a
		// copy so the persisted 200 document stays intact.
		offline := *entry
		offline.StatusCode = fasthttp.StatusServiceUnavailable
		utils.WriteEntry(ctx, &offline)
		return
	}

	g.recordRequest(types.ClassNavigation, "synthesized")
	utils.WriteOfflinePage(ctx)
}

// forward proxies the incoming request to the given upstream and returns
// the acquired response. The caller releases it.
func (g *Gov) forward(ctx *fasthttp.RequestCtx, target *upstream) (*fasthttp.Response, error) {
	if target == nil {
		return nil, types.Errorf(types.ErrClientNotFound, "no upstream for path %s", string(ctx.Path()))
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	ctx.Request.CopyTo(req)
	// URI().RequestURI() is always origin-form path+query, even when the
	// inbound request carried an absolute-form target.
	req.SetRequestURI(target.baseURL + string(ctx.URI().RequestURI()))

	resp := fasthttp.AcquireResponse()

	if err := target.client.DoTimeout(req, resp, target.timeout); err != nil {
		fasthttp.ReleaseResponse(resp)
		return nil, types.Errorf(types.ErrNetworkUnreachable, "upstream %s: %v", target.name, err)
	}

	return resp, nil
}

// upstreamFor routes API paths to the API upstream, model endpoints to
// their dedicated upstream, and everything else to the app server.
func (g *Gov) upstreamFor(path string) *upstream {
	routing := g.config.GetConfig().Routing

	for _, fragment := range routing.APIEndpoints {
		if strings.Contains(path, fragment) {
			if target, exists := g.upstreams["predict"]; exists {
				return target
			}
		}
	}

	for _, prefix := range routing.APIPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			if target, exists := g.upstreams["api"]; exists {
				return target
			}
		}
	}

	return g.upstreams["app"]
}

// requestKey is the partition key for one request: origin-form path plus
// query, so distinct queries never collide and absolute-form requests
// share keys with origin-form ones.
func requestKey(ctx *fasthttp.RequestCtx) string {
	return string(ctx.URI().RequestURI())
}

func writeResponse(ctx *fasthttp.RequestCtx, resp *fasthttp.Response) {
	resp.Header.CopyTo(&ctx.Response.Header)
	ctx.SetStatusCode(resp.StatusCode())
	ctx.SetBody(resp.Body())
}
