package client

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/nutrify-app/offline-gateway/types"
)

// callPipeline is the request path shared by every upstream client. It
// attaches the session bearer token on the way out, drops the credential
// when the upstream answers 401, and maps failure statuses onto the
// client error taxonomy. Offline caching is layered separately.
type callPipeline struct {
	http        *HTTPClient
	credentials types.CredentialSource
}

func (p *callPipeline) call(method, path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	opts = p.withAuth(opts)

	body, status, err := p.http.Call(method, path, data, opts)

	// ErrClientRequestFailed still carries a real HTTP status and body,
	// so it flows into the taxonomy below; transport-level errors pass
	// through untouched.
	switch {
	case err != nil && !types.IsError(err, types.ErrClientRequestFailed):
		return body, status, err
	case status == fasthttp.StatusUnauthorized:
		if p.credentials != nil {
			p.credentials.Clear()
		}
		return body, status, types.Errorf(types.ErrUnauthorized, "%s %s", method, path)
	case status >= 500:
		return body, status, types.Errorf(types.ErrServerFailure, "%s %s: HTTP %d%s", method, path, status, upstreamMessage(body))
	case status >= 400:
		return body, status, types.Errorf(types.ErrValidationFailed, "%s %s: HTTP %d%s", method, path, status, upstreamMessage(body))
	case err != nil:
		return body, status, err
	}

	return body, status, nil
}

func (p *callPipeline) withAuth(opts *types.CallOptions) *types.CallOptions {
	if p.credentials == nil {
		return opts
	}

	token, ok := p.credentials.Token()
	if !ok {
		return opts
	}

	if opts == nil {
		opts = &types.CallOptions{}
	}
	if opts.Headers == nil {
		opts.Headers = make(map[string]string)
	}
	if _, exists := opts.Headers[fasthttp.HeaderAuthorization]; !exists {
		opts.Headers[fasthttp.HeaderAuthorization] = "Bearer " + token
	}
	return opts
}

func upstreamMessage(body []byte) string {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return ""
	}
	return ": " + msg
}
