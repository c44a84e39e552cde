package types

import (
	"github.com/valyala/fasthttp"
)

type FastHTTPHandler func(ctx *fasthttp.RequestCtx)

type HTTPServer interface {
	LifecycleManager
}
