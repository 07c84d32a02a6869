package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if ingestPointsTotal == nil || ingestHeadingsTotal == nil ||
		imageryFetchDurationSeconds == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveOutcome(t *testing.T) {
	before := testutil.ToFloat64(ingestCounter("skipped"))
	ObserveOutcome("skipped")
	ObserveOutcome("skipped")
	if got := testutil.ToFloat64(ingestCounter("skipped")) - before; got != 2 {
		t.Errorf("expected 2 skipped outcomes, got %f", got)
	}
}

func TestObserveImageryFetch(t *testing.T) {
	ObserveImageryFetch("https://Maps.Example.com/streetview?x=1", 200, 2048, 150*time.Millisecond)
	ObserveImageryFetch("https://maps.example.com/streetview?x=2", 404, 0, 10*time.Millisecond)

	if val := testutil.ToFloat64(imageryBytesTotal.WithLabelValues("maps.example.com")); val != 2048 {
		t.Errorf("expected 2048 bytes recorded, got %f", val)
	}
	if val := testutil.CollectAndCount(imageryFetchDurationSeconds); val < 2 {
		t.Errorf("expected fetch durations for two statuses, got %d", val)
	}
}

func TestSetSampledPoints(t *testing.T) {
	SetSampledPoints(42)
	if val := testutil.ToFloat64(ingestSampledPoints); val != 42 {
		t.Errorf("expected gauge 42, got %f", val)
	}
}

func ingestCounter(outcome string) prometheus.Counter {
	Init()
	return ingestHeadingsTotal.WithLabelValues(outcome)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
