package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

type State int32

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

// DefaultRequestTimeout bounds every upstream call that does not carry
// its own timeout.
const DefaultRequestTimeout = 10 * time.Second

// HTTPClient is a fasthttp wrapper bound to one upstream base URL, with
// retries and a circuit breaker. It knows nothing about caching or
// offline fallback; OfflineClient layers that on top.
type HTTPClient struct {
	ctx            context.Context
	cancel         context.CancelFunc
	logger         types.Logger
	name           string
	client         *fasthttp.Client
	baseURL        string
	config         *types.UpstreamConfig
	circuitBreaker *CircuitBreaker
	state          atomic.Value
	requestTimeout time.Duration
}

func NewHTTPClient(ctx context.Context, logger types.Logger, upstreamName string, config *types.UpstreamConfig) *HTTPClient {
	clientCtx, cancel := context.WithCancel(ctx)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	httpClient := &fasthttp.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	circuitBreaker := NewCircuitBreaker(config.CircuitBreaker, logger, upstreamName)

	client := &HTTPClient{
		ctx:            clientCtx,
		cancel:         cancel,
		logger:         logger,
		name:           upstreamName,
		client:         httpClient,
		baseURL:        config.BaseURL,
		config:         config,
		circuitBreaker: circuitBreaker,
		requestTimeout: timeout,
	}

	client.state.Store(StateRunning)

	return client
}

func (c *HTTPClient) Name() string {
	return c.name
}

func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

func (c *HTTPClient) Call(method, path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	if !c.IsRunning() {
		return nil, fasthttp.StatusInternalServerError, types.ErrClientNotRunning
	}

	url := c.baseURL + path

	callCtx, cancel := context.WithTimeout(c.ctx, c.requestTimeout)
	defer cancel()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)

	if data != nil {
		jsonData, err := utils.Marshal(data)
		if err != nil {
			return nil, fasthttp.StatusInternalServerError, types.WrapError(err, "failed to marshal request data")
		}
		req.SetBody(jsonData)
		req.Header.SetContentType("application/json")
	}

	timeout := c.requestTimeout
	retries := c.config.Retries

	if opts != nil {
		for key, value := range opts.Headers {
			req.Header.Set(key, value)
		}

		if opts.Timeout > 0 {
			timeout = opts.Timeout
			callCtx, cancel = context.WithTimeout(c.ctx, timeout)
			defer cancel()
		}

		if opts.Retry > 0 {
			retries = opts.Retry
		}
	}

	var responseBody []byte
	var statusCode int
	var err error

	done := make(chan struct{})
	go func() {
		defer close(done)
		responseBody, statusCode, err = c.executeWithRetries(req, resp, retries, timeout)
	}()

	select {
	case <-done:
	case <-callCtx.Done():
		return nil, fasthttp.StatusInternalServerError,
			types.Errorf(types.ErrClientTimeout, "call timeout for upstream: %s", c.name)
	case <-c.ctx.Done():
		return nil, fasthttp.StatusInternalServerError,
			types.NewErrorf("client shutting down, aborting call to upstream: %s", c.name)
	}

	return responseBody, statusCode, err
}

func (c *HTTPClient) Close() {
	if !c.transitionClientState(StateRunning, StateStopping) {
		return
	}

	defer func() {
		c.setClientState(StateStopped)
		c.cancel()
	}()

	c.circuitBreaker.Stop()

	c.logger.Debug("HTTP client closed gracefully",
		zap.String("upstream", c.name))
}

func (c *HTTPClient) IsRunning() bool {
	return c.getClientState() == StateRunning
}

func (c *HTTPClient) getClientState() State {
	return c.state.Load().(State)
}

func (c *HTTPClient) setClientState(newState State) bool {
	currentState := c.getClientState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *HTTPClient) transitionClientState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}

func (c *HTTPClient) executeWithRetries(req *fasthttp.Request, resp *fasthttp.Response, maxRetries int, timeout time.Duration) ([]byte, int, error) {
	var lastErr error
	var lastBody []byte
	var lastStatus int

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !c.IsRunning() {
			return nil, fasthttp.StatusInternalServerError, types.ErrClientNotRunning
		}

		if !c.circuitBreaker.CanExecute() {
			return nil, fasthttp.StatusServiceUnavailable, types.ErrCircuitBreakerOpen
		}

		err := c.client.DoTimeout(req, resp, timeout)
		statusCode := resp.StatusCode()

		if IsSuccessfulResponse(statusCode, err) {
			c.circuitBreaker.RecordSuccess()

			responseBody := make([]byte, len(resp.Body()))
			copy(responseBody, resp.Body())

			return responseBody, statusCode, nil
		}

		if IsCircuitBreakerFailure(statusCode, err) {
			c.circuitBreaker.RecordFailure()
		}

		lastErr = err
		if err == nil {
			lastErr = types.Errorf(types.ErrClientResponseInvalid, "HTTP %d", statusCode)
			lastStatus = statusCode
			lastBody = append(lastBody[:0], resp.Body()...)
		}

		if attempt < maxRetries {
			if statusCode >= 400 && statusCode < 500 &&
				statusCode != 429 && statusCode != 408 {
				c.logger.Debug("Not retrying client error",
					zap.String("upstream", c.name),
					zap.Int("status_code", statusCode))
				break
			}

			backoff := time.Duration(attempt+1) * time.Second

			select {
			case <-time.After(backoff):
				c.logger.Debug("Retrying request",
					zap.String("upstream", c.name),
					zap.Duration("backoff", backoff),
					zap.Error(lastErr))
			case <-c.ctx.Done():
				return nil, fasthttp.StatusInternalServerError,
					types.NewErrorf("client shutting down during retry for upstream: %s", c.name)
			}
		}
	}

	if lastErr != nil && IsNetworkError(lastErr) {
		return nil, fasthttp.StatusServiceUnavailable,
			types.Errorf(types.ErrNetworkUnreachable, "upstream %s: %v", c.name, lastErr)
	}

	// Keep the last HTTP failure's status and body so callers can pass
	// the upstream's own message through.
	if lastStatus == 0 {
		lastStatus = fasthttp.StatusInternalServerError
	}
	return lastBody, lastStatus,
		types.Errorf(types.ErrClientRequestFailed, "all %d attempts failed for upstream %s: %v", maxRetries+1, c.name, lastErr)
}
