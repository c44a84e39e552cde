package governor

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

const precacheConcurrency = 4

// Install warms the static partition with the configured precache lists
// and seeds the offline-fallback partition. Batches are all-settled: a
// URL that cannot be fetched is recorded and skipped, it never aborts
// the rest. Install only errors when every essential item failed.
func (g *Gov) Install() error {
	precacheConfig := g.config.GetConfig().Precache
	if precacheConfig == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(g.ctx, 2*time.Minute)
	defer cancel()

	essential := g.precacheBatch(ctx, precacheConfig.Essential)
	additional := g.precacheBatch(ctx, precacheConfig.Additional)

	g.seedOfflinePage(ctx, precacheConfig.OfflinePagePath)

	okEssential := 0
	for _, result := range essential {
		if result.OK {
			okEssential++
			continue
		}
		g.logger.Warn("essential precache item failed",
			zap.String("url", result.URL),
			zap.Int("status", result.Status),
			zap.String("error", result.Error))
	}

	okAdditional := 0
	for _, result := range additional {
		if result.OK {
			okAdditional++
		}
	}

	g.logger.Info("precache finished",
		zap.Int("essential_ok", okEssential),
		zap.Int("essential_total", len(essential)),
		zap.Int("additional_ok", okAdditional),
		zap.Int("additional_total", len(additional)))

	if len(essential) > 0 && okEssential == 0 {
		return types.Errorf(types.ErrPrecacheFailed, "all %d essential items failed", len(essential))
	}

	return nil
}

func (g *Gov) precacheBatch(ctx context.Context, urls []string) []types.PrecacheResult {
	if len(urls) == 0 {
		return nil
	}

	results := make([]types.PrecacheResult, len(urls))

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(precacheConcurrency)

	for i, url := range urls {
		i, url := i, url
		grp.Go(func() error {
			select {
			case <-grpCtx.Done():
				results[i] = types.PrecacheResult{URL: url, Error: grpCtx.Err().Error()}
				return nil
			default:
			}

			results[i] = g.precacheOne(ctx, url)
			// All-settled: individual failures never cancel the group.
			return nil
		})
	}

	_ = grp.Wait()
	return results
}

func (g *Gov) precacheOne(ctx context.Context, url string) types.PrecacheResult {
	storeConfig := g.config.GetConfig().Store
	partitions := g.currentPartitions()
	target := g.upstreamFor(url)
	if target == nil {
		return types.PrecacheResult{URL: url, Error: "no upstream"}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target.baseURL + url)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := target.client.DoTimeout(req, resp, target.timeout); err != nil {
		return types.PrecacheResult{URL: url, Error: err.Error()}
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return types.PrecacheResult{URL: url, Status: status, Error: "unexpected status"}
	}

	entry := utils.EntryFromResponse(url, resp)
	if err := g.store.Set(ctx, partitions.Static, url, entry, storeConfig.StaticTTL); err != nil {
		return types.PrecacheResult{URL: url, Status: status, Error: err.Error()}
	}

	return types.PrecacheResult{URL: url, OK: true, Status: status}
}

// seedOfflinePage stores the offline document in the fallback partition,
// preferring the served page and falling back to the built-in one so the
// navigation chain always has something to show.
func (g *Gov) seedOfflinePage(ctx context.Context, path string) {
	partitions := g.currentPartitions()

	if path != "" {
		if target := g.upstreams["app"]; target != nil {
			req := fasthttp.AcquireRequest()
			resp := fasthttp.AcquireResponse()
			defer fasthttp.ReleaseRequest(req)
			defer fasthttp.ReleaseResponse(resp)

			req.SetRequestURI(target.baseURL + path)
			req.Header.SetMethod(fasthttp.MethodGet)

			err := target.client.DoTimeout(req, resp, target.timeout)
			if err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
				entry := utils.EntryFromResponse(types.FallbackKeyOfflinePage, resp)
				if storeErr := g.store.Set(ctx, partitions.Fallback, types.FallbackKeyOfflinePage, entry, 0); storeErr == nil {
					return
				}
			}
			g.logger.Debug("offline page fetch failed, seeding built-in document",
				zap.String("path", path),
				zap.Error(err))
		}
	}

	entry := &types.ResponseEntry{
		Key:         types.FallbackKeyOfflinePage,
		StatusCode:  fasthttp.StatusOK,
		ContentType: utils.ContentTypeHTML,
		Body:        utils.OfflinePageHTML(),
	}
	if err := g.store.Set(ctx, partitions.Fallback, types.FallbackKeyOfflinePage, entry, 0); err != nil {
		g.logger.Warn("failed to seed offline page", zap.Error(err))
	}
}
