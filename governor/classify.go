package governor

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/nutrify-app/offline-gateway/types"
)

// Classify applies the routing rules in order; the first match wins.
// Non-GET traffic and foreign origins are never cached, API paths are
// network-first, static assets cache-first, document requests get the
// navigation chain and everything else the generic cache-first path.
func (g *Gov) Classify(ctx *fasthttp.RequestCtx) types.RequestClass {
	if !ctx.IsGet() {
		return types.ClassBypass
	}

	routing := g.config.GetConfig().Routing

	if !g.sameOrigin(ctx, routing.Origins) {
		return types.ClassBypass
	}

	path := string(ctx.Path())

	if isAPIPath(path, routing) {
		return types.ClassAPI
	}

	for _, prefix := range routing.StaticPrefixes {
		if strings.HasPrefix(path, prefix) {
			return types.ClassStatic
		}
	}

	if isNavigation(ctx) {
		return types.ClassNavigation
	}

	return types.ClassGeneric
}

func (g *Gov) sameOrigin(ctx *fasthttp.RequestCtx, origins []string) bool {
	if len(origins) == 0 {
		return true
	}

	host := string(ctx.Host())
	for _, origin := range origins {
		if host == origin {
			return true
		}
	}
	return false
}

func isAPIPath(path string, routing *types.RoutingConfig) bool {
	for _, prefix := range routing.APIPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	for _, fragment := range routing.APIEndpoints {
		if strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

func isNavigation(ctx *fasthttp.RequestCtx) bool {
	if string(ctx.Request.Header.Peek("Sec-Fetch-Mode")) == "navigate" {
		return true
	}
	accept := string(ctx.Request.Header.Peek(fasthttp.HeaderAccept))
	return strings.Contains(accept, "text/html")
}
