package client

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
)

// OfflineClient layers offline awareness over HTTPClient. Successful GET
// payloads are kept in a short-lived memory cache and in the API response
// partition; when the network is unreachable a GET is answered from those
// caches instead of failing. Mutations never touch a cache and fail fast
// while offline. A 401 from any call drops the session credential.
type OfflineClient struct {
	http         *HTTPClient
	pipeline     *callPipeline
	logger       types.Logger
	memory       *responseCache
	store        types.PartitionStore
	partitions   types.PartitionSet
	connectivity types.ConnectivityMonitor
	apiTTL       time.Duration
}

type OfflineClientOptions struct {
	Store        types.PartitionStore
	Partitions   types.PartitionSet
	Connectivity types.ConnectivityMonitor
	Credentials  types.CredentialSource
	MemoryTTL    time.Duration
	APITTL       time.Duration
}

func NewOfflineClient(ctx context.Context, logger types.Logger, upstreamName string, config *types.UpstreamConfig, opts OfflineClientOptions) *OfflineClient {
	httpClient := NewHTTPClient(ctx, logger, upstreamName, config)
	return &OfflineClient{
		http:         httpClient,
		pipeline:     &callPipeline{http: httpClient, credentials: opts.Credentials},
		logger:       logger,
		memory:       newResponseCache(opts.MemoryTTL),
		store:        opts.Store,
		partitions:   opts.Partitions,
		connectivity: opts.Connectivity,
		apiTTL:       opts.APITTL,
	}
}

func (c *OfflineClient) Get(path string, opts *types.CallOptions) ([]byte, int, error) {
	url := c.http.BaseURL() + path

	// Network first while reachable: the caches answer only when the
	// upstream cannot.
	body, status, err := c.pipeline.call(fasthttp.MethodGet, path, nil, opts)
	if err == nil {
		if status >= 200 && status < 300 {
			c.memory.Set(cacheKey(fasthttp.MethodGet, url), body, status)
			c.persist(url, body, status)
		}
		return body, status, nil
	}

	if types.IsError(err, types.ErrNetworkUnreachable) ||
		types.IsError(err, types.ErrClientTimeout) ||
		types.IsError(err, types.ErrCircuitBreakerOpen) ||
		(c.connectivity != nil && !c.connectivity.Online()) {
		if cached, cachedStatus, ok := c.fallback(url); ok {
			c.logger.Info("answered GET from offline cache",
				zap.String("url", url))
			return cached, cachedStatus, nil
		}
		return nil, fasthttp.StatusServiceUnavailable,
			types.Errorf(types.ErrNetworkUnreachable, "GET %s failed and no cached data is available", path)
	}

	return body, status, err
}

func (c *OfflineClient) Post(path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	return c.mutate(fasthttp.MethodPost, path, data, opts)
}

func (c *OfflineClient) Put(path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	return c.mutate(fasthttp.MethodPut, path, data, opts)
}

func (c *OfflineClient) Patch(path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	return c.mutate(fasthttp.MethodPatch, path, data, opts)
}

func (c *OfflineClient) Delete(path string, opts *types.CallOptions) ([]byte, int, error) {
	return c.mutate(fasthttp.MethodDelete, path, nil, opts)
}

func (c *OfflineClient) Close() {
	c.memory.Clear()
	c.http.Close()
}

// mutate refuses to run while offline. There is no queue: a write that
// cannot reach the upstream surfaces immediately so the caller can tell
// the user, instead of silently diverging state.
func (c *OfflineClient) mutate(method, path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	if c.connectivity != nil && !c.connectivity.Online() {
		return nil, fasthttp.StatusServiceUnavailable,
			types.Errorf(types.ErrOfflineMutation, "%s %s", method, path)
	}

	body, status, err := c.pipeline.call(method, path, data, opts)
	if err != nil && (types.IsError(err, types.ErrNetworkUnreachable) || types.IsError(err, types.ErrClientTimeout)) {
		return nil, fasthttp.StatusServiceUnavailable,
			types.Errorf(types.ErrOfflineMutation, "%s %s: %v", method, path, err)
	}
	return body, status, err
}

func (c *OfflineClient) persist(url string, body []byte, status int) {
	if c.store == nil {
		return
	}

	entry := &types.ResponseEntry{
		StatusCode:  status,
		ContentType: "application/json",
		Body:        body,
	}

	if err := c.store.Set(context.Background(), c.partitions.API, url, entry, c.apiTTL); err != nil {
		c.logger.Warn("failed to persist API response",
			zap.String("url", url),
			zap.Error(err))
	}
}

func (c *OfflineClient) fallback(url string) ([]byte, int, bool) {
	if body, status, ok := c.memory.Get(cacheKey(fasthttp.MethodGet, url)); ok {
		return body, status, true
	}

	if c.store == nil {
		return nil, 0, false
	}

	entry, ok := c.store.Get(context.Background(), c.partitions.API, url)
	if !ok {
		return nil, 0, false
	}
	return entry.Body, entry.StatusCode, true
}

var _ types.APIClient = (*OfflineClient)(nil)
