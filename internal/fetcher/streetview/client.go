// Package streetview fetches Street View Static API imagery using gocolly.
package streetview

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/streetview-ingestor/internal/ingest"
	"github.com/JakeFAU/streetview-ingestor/internal/metrics"
)

// DefaultEndpoint is the Street View Static API base URL.
const DefaultEndpoint = "https://maps.googleapis.com/maps/api/streetview"

// Config controls collector behavior and request signing.
type Config struct {
	Endpoint    string
	APIKey      string
	Signature   string
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Limiter throttles outbound requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client implements ingest.ImageryClient using the Colly collector.
type Client struct {
	cfg           Config
	limiter       Limiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. limiter may be nil.
func New(cfg Config, limiter Limiter) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.WithTransport(newHTTPTransport())

	return &Client{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
	}
}

// RequestURL renders the imagery URL for req.
func (c *Client) RequestURL(req ingest.ImageryRequest) (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse imagery endpoint: %w", err)
	}
	q := u.Query()
	q.Set("size", req.Size)
	q.Set("location", req.Point.String())
	q.Set("fov", strconv.Itoa(req.FOV))
	q.Set("heading", strconv.Itoa(req.Heading))
	q.Set("pitch", strconv.Itoa(req.Pitch))
	q.Set("key", c.cfg.APIKey)
	if c.cfg.Signature != "" {
		q.Set("signature", c.cfg.Signature)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch executes a single imagery GET. HTTP error statuses are returned in the
// response rather than as errors; transport failures are returned as errors.
func (c *Client) Fetch(ctx context.Context, req ingest.ImageryRequest) (ingest.ImageryResponse, error) {
	target, err := c.RequestURL(req)
	if err != nil {
		return ingest.ImageryResponse{}, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return ingest.ImageryResponse{}, fmt.Errorf("imagery rate limit: %w", err)
		}
	}

	var (
		result   ingest.ImageryResponse
		fetchErr error
	)
	start := time.Now()
	collector := c.buildCollector()
	c.configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := c.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return ingest.ImageryResponse{}, err
	}
	metrics.ObserveImageryFetch(target, result.StatusCode, len(result.Body), result.Duration)
	return result, nil
}

func (c *Client) buildCollector() *colly.Collector {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	return collector
}

func (c *Client) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *ingest.ImageryResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = ingest.ImageryResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("imagery fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("imagery visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("imagery response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
