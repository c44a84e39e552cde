package utils

import (
	"github.com/valyala/fasthttp"

	"github.com/nutrify-app/offline-gateway/types"
)

const (
	ContentTypeJSON = "application/json; charset=utf-8"
	ContentTypeHTML = "text/html; charset=utf-8"
)

// apiUnavailableBody is the error-shaped payload served for API requests
// when every cache layer came up empty. The data field stays a valid empty
// list so clients can render an empty state instead of crashing.
const apiUnavailableBody = `{"error":"Service Unavailable","message":"You are offline and no cached data is available","data":[]}`

// offlineDataBody is the success-shaped payload served for the
// recommendations endpoint when fully offline with nothing cached.
const offlineDataBody = `{"status":"success","message":"Offline data","data":[]}`

// offlinePageHTML is the hand-authored document seeded into the
// offline-fallback partition at install time and served for failed
// navigations as the last resort before the synthesized error page.
const offlinePageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Nutrify - Offline</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;background:#f8faf7;color:#1f2a1f}
main{text-align:center;padding:2rem}
h1{color:#4a7c59}
</style>
</head>
<body>
<main>
<h1>You are offline</h1>
<p>Nutrify could not reach the network. Previously viewed dishes are still available from the cache.</p>
<p><a href="/">Try again</a></p>
</main>
</body>
</html>`

func OfflineDataPayload() []byte {
	return []byte(offlineDataBody)
}

func OfflinePageHTML() []byte {
	return []byte(offlinePageHTML)
}

// WriteAPIUnavailable writes the synthesized 503 JSON error for API
// requests with no cache fallback.
func WriteAPIUnavailable(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	ctx.SetContentType(ContentTypeJSON)
	ctx.Response.Header.Set("Cache-Control", "no-store")
	ctx.SetBodyString(apiUnavailableBody)
}

// WriteOfflineData writes the success-shaped empty recommendations payload.
func WriteOfflineData(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType(ContentTypeJSON)
	ctx.Response.Header.Set("Cache-Control", "no-store")
	ctx.SetBodyString(offlineDataBody)
}

// WriteOfflinePage writes the synthesized inline HTML error page used when
// even the cached offline document is unavailable.
func WriteOfflinePage(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	ctx.SetContentType(ContentTypeHTML)
	ctx.Response.Header.Set("Cache-Control", "no-store")
	ctx.SetBodyString(offlinePageHTML)
}

// WriteEmptyNotFound terminates a failed static lookup without ever
// surfacing a transport error to the caller.
func WriteEmptyNotFound(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusNotFound)
	ctx.Response.ResetBody()
}

// WriteEntry replays a stored response.
func WriteEntry(ctx *fasthttp.RequestCtx, entry *types.ResponseEntry) {
	ctx.SetStatusCode(entry.StatusCode)
	if entry.ContentType != "" {
		ctx.SetContentType(entry.ContentType)
	}
	for k, v := range entry.Headers {
		ctx.Response.Header.Set(k, v)
	}
	ctx.Response.Header.Set("X-Served-From", "cache")
	ctx.SetBody(entry.Body)
}

// EntryFromResponse captures an upstream response into a storable entry.
func EntryFromResponse(key string, resp *fasthttp.Response) *types.ResponseEntry {
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	headers := make(map[string]string, 4)
	for _, h := range []string{"Cache-Control", "ETag", "Last-Modified", "Content-Encoding"} {
		if v := resp.Header.Peek(h); len(v) > 0 {
			headers[h] = string(v)
		}
	}

	return &types.ResponseEntry{
		Key:         key,
		StatusCode:  resp.StatusCode(),
		ContentType: string(resp.Header.ContentType()),
		Headers:     headers,
		Body:        body,
	}
}
