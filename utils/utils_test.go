package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestMarshalRoundTrip(t *testing.T) {
	type payload struct {
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}

	in := payload{Name: "breakfast", Items: []string{"oats", "apple"}}

	data, err := Marshal(in)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.NotEqual(t, byte('\n'), data[len(data)-1])

	var out payload
	require.NoError(t, Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestUnmarshalConfig(t *testing.T) {
	type section struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	}

	var out section
	require.NoError(t, UnmarshalConfig(map[string]interface{}{"enabled": true, "path": "/metrics"}, &out))
	require.True(t, out.Enabled)
	require.Equal(t, "/metrics", out.Path)

	// A pointer of the target type is copied directly.
	require.NoError(t, UnmarshalConfig(&section{Path: "/healthz"}, &out))
	require.Equal(t, "/healthz", out.Path)

	require.Error(t, UnmarshalConfig(nil, &out))
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5 MB"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, HumanSize(tt.n))
	}
}

func TestEntryFromResponseAndWriteEntry(t *testing.T) {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	resp.SetStatusCode(fasthttp.StatusOK)
	resp.Header.SetContentType("application/json")
	resp.Header.Set("ETag", `"abc"`)
	resp.SetBodyString(`{"ok":true}`)

	entry := EntryFromResponse("/items", resp)
	require.Equal(t, "/items", entry.Key)
	require.Equal(t, fasthttp.StatusOK, entry.StatusCode)
	require.Equal(t, "application/json", entry.ContentType)
	require.Equal(t, `"abc"`, entry.Headers["ETag"])
	require.Equal(t, `{"ok":true}`, string(entry.Body))

	// The entry holds its own copy of the body.
	resp.SetBodyString("overwritten")
	require.Equal(t, `{"ok":true}`, string(entry.Body))

	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI("http://localhost:8080/items")
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)

	WriteEntry(ctx, entry)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, `{"ok":true}`, string(ctx.Response.Body()))
	require.Equal(t, `"abc"`, string(ctx.Response.Header.Peek("ETag")))
}

func TestSynthesizedPayloads(t *testing.T) {
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI("http://localhost:8080/random-items")
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)

	WriteOfflineData(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.JSONEq(t, `{"status":"success","message":"Offline data","data":[]}`, string(ctx.Response.Body()))

	ctx.Response.Reset()
	WriteAPIUnavailable(ctx)
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	require.Equal(t, "no-store", string(ctx.Response.Header.Peek("Cache-Control")))

	ctx.Response.Reset()
	WriteOfflinePage(ctx)
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Body()), "offline")
}
