// Package overpass fetches routable way geometries from an Overpass API endpoint.
package overpass

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/JakeFAU/streetview-ingestor/internal/geometry"
	"github.com/JakeFAU/streetview-ingestor/internal/ingest"
	"github.com/JakeFAU/streetview-ingestor/internal/metrics"
)

// DefaultEndpoint is the public Overpass interpreter.
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// Cache stores raw Overpass payloads between runs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config controls the Overpass client.
type Config struct {
	Endpoint  string
	Tag       string
	Timeout   time.Duration
	UserAgent string
	CacheTTL  time.Duration
}

// Client implements the geometry source over Overpass QL.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	cache         Cache
	logger        *zap.Logger
}

// New builds a Client. cache may be nil.
func New(cfg Config, cache Cache, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Tag == "" {
		cfg.Tag = "highway"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = 0
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		IdleConnTimeout:     90 * time.Second,
	})

	return &Client{
		cfg:           cfg,
		baseCollector: c,
		cache:         cache,
		logger:        logger,
	}
}

// BuildQuery renders the Overpass QL selecting tagged ways inside bound, with full geometry.
func BuildQuery(bound orb.Bound, tag string, timeout time.Duration) string {
	return fmt.Sprintf(`[out:json][timeout:%d];
(
  way["%s"](%s,%s,%s,%s);
);
out geom;
`,
		int(timeout.Seconds()),
		tag,
		ingest.FormatCoord(bound.Min.Lat()),
		ingest.FormatCoord(bound.Min.Lon()),
		ingest.FormatCoord(bound.Max.Lat()),
		ingest.FormatCoord(bound.Max.Lon()),
	)
}

// FetchWays returns every tagged way inside bound. Any failure wraps ingest.ErrUpstreamUnavailable.
func (c *Client) FetchWays(ctx context.Context, bound orb.Bound) ([]geometry.Way, error) {
	query := BuildQuery(bound, c.cfg.Tag, c.cfg.Timeout)
	key := cacheKey(query)

	if payload, ok := c.cached(ctx, key); ok {
		ways, err := Decode(payload)
		if err == nil {
			c.logger.Info("geometry served from cache", zap.String("key", key), zap.Int("ways", len(ways)))
			return ways, nil
		}
		c.logger.Warn("cached geometry is malformed; refetching", zap.String("key", key), zap.Error(err))
	}

	payload, err := c.post(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ingest.ErrUpstreamUnavailable, err)
	}
	ways, err := Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ingest.ErrUpstreamUnavailable, err)
	}
	c.store(ctx, key, payload)
	return ways, nil
}

func (c *Client) post(ctx context.Context, query string) ([]byte, error) {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	// Leave headroom over the server-side query timeout for transfer.
	collector.SetRequestTimeout(c.cfg.Timeout + 30*time.Second)

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.PostRaw(c.cfg.Endpoint, []byte(query))
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("overpass request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("overpass post failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("overpass response failed (HTTP %d): %w", status, fetchErr)
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("overpass returned HTTP %d", status)
		}
		return body, nil
	}
}

func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	payload, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("geometry cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	metrics.ObserveCacheLookup(ok)
	return payload, ok
}

func (c *Client) store(ctx context.Context, key string, payload []byte) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, payload, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("geometry cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func cacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(query)))
	return "overpass:" + hex.EncodeToString(sum[:])
}

type response struct {
	Elements []element `json:"elements"`
}

type element struct {
	Type     string    `json:"type"`
	ID       osm.WayID `json:"id"`
	Tags     osm.Tags  `json:"tags"`
	Geometry []vertex  `json:"geometry"`
}

type vertex struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Decode parses an Overpass JSON payload. Only way elements carrying geometry are returned.
func Decode(payload []byte) ([]geometry.Way, error) {
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode overpass payload: %w", err)
	}
	if resp.Elements == nil {
		return nil, fmt.Errorf("decode overpass payload: missing elements")
	}
	ways := make([]geometry.Way, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		if el.Type != "way" || el.Geometry == nil {
			continue
		}
		vertices := make(orb.LineString, 0, len(el.Geometry))
		for _, v := range el.Geometry {
			vertices = append(vertices, orb.Point{v.Lon, v.Lat})
		}
		ways = append(ways, geometry.Way{ID: el.ID, Tags: el.Tags, Vertices: vertices})
	}
	return ways, nil
}
