package ingest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordKey struct {
	lat, lon float64
	heading  int
}

type fakeRecordStore struct {
	mu        sync.Mutex
	records   map[recordKey]ImageryRecord
	existsErr error
	insertErr map[int]error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		records:   make(map[recordKey]ImageryRecord),
		insertErr: make(map[int]error),
	}
}

func (s *fakeRecordStore) Exists(_ context.Context, lat, lon float64, heading int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.records[recordKey{lat, lon, heading}]
	return ok, nil
}

func (s *fakeRecordStore) Insert(_ context.Context, record ImageryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertErr[record.Heading]; err != nil {
		return err
	}
	s.records[recordKey{record.Lat, record.Lon, record.Heading}] = record
	return nil
}

type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	err   error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (s *fakeBlobStore) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.blobs[path] = append([]byte(nil), data...)
	return "https://blobs.example.com/" + path, nil
}

type fakeImageryClient struct {
	mu        sync.Mutex
	calls     map[int]int
	responses map[int][]fakeResult
	fallback  fakeResult
	panics    map[int]bool
}

type fakeResult struct {
	resp ImageryResponse
	err  error
}

func newFakeImageryClient() *fakeImageryClient {
	return &fakeImageryClient{
		calls:     make(map[int]int),
		responses: make(map[int][]fakeResult),
		fallback: fakeResult{resp: ImageryResponse{
			StatusCode:  http.StatusOK,
			ContentType: "image/jpeg",
			Body:        []byte("jpeg-bytes"),
		}},
	}
}

func (c *fakeImageryClient) Fetch(_ context.Context, req ImageryRequest) (ImageryResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	heading := req.Direction.Heading
	c.calls[heading]++
	if c.panics[heading] {
		panic("client blew up")
	}
	queue := c.responses[heading]
	if len(queue) == 0 {
		return c.fallback.resp, c.fallback.err
	}
	next := queue[0]
	c.responses[heading] = queue[1:]
	return next.resp, next.err
}

func (c *fakeImageryClient) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []any
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.payloads = append(p.payloads, payload)
	return "msg", nil
}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	return c.now
}

type pipelineFixture struct {
	records   *fakeRecordStore
	blobs     *fakeBlobStore
	client    *fakeImageryClient
	publisher *fakePublisher
	fetcher   *DirectionalFetcher
}

func newPipelineFixture(t *testing.T, retry RetryPolicy) *pipelineFixture {
	t.Helper()
	fx := &pipelineFixture{
		records:   newFakeRecordStore(),
		blobs:     newFakeBlobStore(),
		client:    newFakeImageryClient(),
		publisher: &fakePublisher{},
	}
	writer := NewStorageWriter(
		fx.blobs,
		fx.records,
		fx.publisher,
		fakeClock{now: time.Unix(1700000000, 0).UTC()},
		WriterConfig{BlobPrefix: "images", Topic: "imagery", RunID: "run-1"},
		zap.NewNop(),
	)
	fx.fetcher = NewDirectionalFetcher(
		NewGuard(fx.records),
		fx.client,
		writer,
		retry,
		FetcherConfig{},
		zap.NewNop(),
	)
	fx.fetcher.sleep = func(context.Context, time.Duration) error { return nil }
	return fx
}

func countKinds(outcomes []Outcome) map[OutcomeKind]int {
	counts := make(map[OutcomeKind]int)
	for _, o := range outcomes {
		counts[o.Kind]++
	}
	return counts
}

var testPoint = Point{Lat: 43.6532, Lon: -79.3832}

func TestDirectionalFetcher_StoresEveryHeading(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil)
	outcomes := fx.fetcher.Process(context.Background(), NewJob(testPoint))

	require.Len(t, outcomes, 4)
	require.Equal(t, 4, countKinds(outcomes)[OutcomeStored])
	require.Len(t, fx.records.records, 4)
	require.Len(t, fx.publisher.payloads, 4)

	rec := fx.records.records[recordKey{testPoint.Lat, testPoint.Lon, 180}]
	require.Equal(t, 90, rec.FOV)
	require.Equal(t, 0, rec.Pitch)
	require.Equal(t, "run-1", rec.RunID)
	require.Equal(t, "https://blobs.example.com/images/streetview_43.6532_-79.3832_180.jpg", rec.ImageURL)
	require.Contains(t, fx.blobs.blobs, "images/streetview_43.6532_-79.3832_180.jpg")
}

func TestDirectionalFetcher_SkipsAlreadyIngestedHeadings(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil)
	fx.records.records[recordKey{testPoint.Lat, testPoint.Lon, 90}] = ImageryRecord{}

	outcomes := fx.fetcher.Process(context.Background(), NewJob(testPoint))

	counts := countKinds(outcomes)
	require.Equal(t, 3, counts[OutcomeStored])
	require.Equal(t, 1, counts[OutcomeSkipped])
	require.Equal(t, ReasonAlreadyIngested, outcomes[1].Reason)
	require.Zero(t, fx.client.calls[90], "skipped heading must not be fetched")
}

func TestDirectionalFetcher_NoCoverageIsSkipNotError(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil)
	fx.client.fallback = fakeResult{resp: ImageryResponse{
		StatusCode:  http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte("<html>no imagery</html>"),
	}}

	outcomes := fx.fetcher.Process(context.Background(), NewJob(testPoint))

	for _, o := range outcomes {
		require.Equal(t, OutcomeSkipped, o.Kind)
		require.Equal(t, ReasonNoCoverage, o.Reason)
		require.NoError(t, o.Err)
	}
	require.Empty(t, fx.blobs.blobs)
	require.Empty(t, fx.records.records)
}

func TestDirectionalFetcher_IsolatesFailingHeadings(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil)
	fx.client.responses[90] = []fakeResult{{err: errors.New("connection reset")}}
	fx.records.insertErr[180] = errors.New("unique violation")

	outcomes := fx.fetcher.Process(context.Background(), NewJob(testPoint))

	require.Len(t, outcomes, 4)
	require.Equal(t, OutcomeStored, outcomes[0].Kind)
	require.Equal(t, OutcomeFailed, outcomes[1].Kind)
	require.ErrorIs(t, outcomes[1].Err, ErrImageryFetchFailed)
	require.Equal(t, OutcomeFailed, outcomes[2].Kind)
	require.ErrorIs(t, outcomes[2].Err, ErrMetadataWriteFailed)
	require.Equal(t, OutcomeStored, outcomes[3].Kind)

	// The blob for the failed insert stays behind; its key is overwritten on the next run.
	require.Contains(t, fx.blobs.blobs, "images/streetview_43.6532_-79.3832_180.jpg")
	_, ok := fx.records.records[recordKey{testPoint.Lat, testPoint.Lon, 180}]
	require.False(t, ok)
}

func TestDirectionalFetcher_QueryFailureAbandonsHeading(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil)
	fx.records.existsErr = errors.New("connection refused")

	outcomes := fx.fetcher.Process(context.Background(), NewJob(testPoint))

	for _, o := range outcomes {
		require.Equal(t, OutcomeFailed, o.Kind)
		require.ErrorIs(t, o.Err, ErrStorageQueryFailed)
	}
	require.Zero(t, fx.client.totalCalls())
}

func TestDirectionalFetcher_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, NewExponentialRetryPolicy(3))
	fx.client.responses[0] = []fakeResult{
		{resp: ImageryResponse{StatusCode: http.StatusServiceUnavailable}},
		{resp: ImageryResponse{StatusCode: http.StatusTooManyRequests}},
	}
	fx.client.responses[90] = []fakeResult{
		{resp: ImageryResponse{StatusCode: http.StatusForbidden}},
	}

	outcomes := fx.fetcher.Process(context.Background(), NewJob(testPoint))

	require.Equal(t, OutcomeStored, outcomes[0].Kind)
	require.Equal(t, 3, fx.client.calls[0])

	require.Equal(t, OutcomeFailed, outcomes[1].Kind)
	var statusErr *StatusError
	require.ErrorAs(t, outcomes[1].Err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	require.Equal(t, 1, fx.client.calls[90], "4xx other than 429 is not retried")
}

func TestDirectionalFetcher_BlobFailureWritesNoRecord(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil)
	fx.blobs.err = errors.New("bucket unavailable")

	outcomes := fx.fetcher.Process(context.Background(), NewJob(testPoint))

	for _, o := range outcomes {
		require.Equal(t, OutcomeFailed, o.Kind)
		require.ErrorIs(t, o.Err, ErrBlobWriteFailed)
	}
	require.Empty(t, fx.records.records)
}

func TestDirectionalFetcher_SecondRunStoresNothing(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil)
	first := fx.fetcher.Process(context.Background(), NewJob(testPoint))
	require.Equal(t, 4, countKinds(first)[OutcomeStored])

	second := fx.fetcher.Process(context.Background(), NewJob(testPoint))
	require.Equal(t, 4, countKinds(second)[OutcomeSkipped])
	require.Len(t, fx.records.records, 4)
	require.Equal(t, 4, fx.client.totalCalls())
}

func TestStorageWriter_PublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	records := newFakeRecordStore()
	writer := NewStorageWriter(
		newFakeBlobStore(),
		records,
		&fakePublisher{err: errors.New("topic gone")},
		nil,
		WriterConfig{Topic: "imagery"},
		nil,
	)

	rec, err := writer.Write(context.Background(), testPoint, Direction{Heading: 270}, 90, "image/jpeg", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "https://blobs.example.com/streetview_43.6532_-79.3832_270.jpg", rec.ImageURL)
	require.Len(t, records.records, 1)
}

func TestBlobKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "streetview_43.6415_-79.395_0.jpg", BlobKey(Point{Lat: 43.6415, Lon: -79.395}, 0))
	require.Equal(t, "streetview_0.0000001_0_90.jpg", BlobKey(Point{Lat: 0.0000001, Lon: 0}, 90))
}

func TestDirectionalFetcher_NonJPEGNotStored(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil)
	fx.client.responses[0] = []fakeResult{{resp: ImageryResponse{
		StatusCode:  http.StatusOK,
		ContentType: "image/png",
		Body:        []byte("png-bytes"),
	}}}

	outcomes := fx.fetcher.Process(context.Background(), NewJob(testPoint))

	require.Equal(t, OutcomeSkipped, outcomes[0].Kind)
	require.Equal(t, ReasonNoCoverage, outcomes[0].Reason)
	require.Equal(t, 3, countKinds(outcomes)[OutcomeStored])
	require.NotContains(t, fx.blobs.blobs, "images/streetview_43.6532_-79.3832_0.jpg")
}

func TestDirectionalFetcher_PanicFailsOnlyThatHeading(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t, nil)
	fx.client.panics = map[int]bool{90: true}

	outcomes := fx.fetcher.Process(context.Background(), NewJob(testPoint))

	require.Len(t, outcomes, 4)
	counts := countKinds(outcomes)
	require.Equal(t, 3, counts[OutcomeStored])
	require.Equal(t, 1, counts[OutcomeFailed])
	require.Equal(t, 90, outcomes[1].Direction.Heading)
	require.ErrorContains(t, outcomes[1].Err, "panic: client blew up")
	require.Equal(t, 1, fx.client.calls[180])
	require.Equal(t, 1, fx.client.calls[270])
	require.Len(t, fx.records.records, 3)
}

func TestIsJPEG(t *testing.T) {
	t.Parallel()

	require.True(t, IsJPEG("image/jpeg"))
	require.True(t, IsJPEG("Image/JPEG; charset=binary"))
	require.False(t, IsJPEG("image/png"))
	require.False(t, IsJPEG("text/html; charset=UTF-8"))
	require.False(t, IsJPEG("application/json"))
	require.False(t, IsJPEG(""))
	require.False(t, IsJPEG(";;"))
}

func TestExponentialRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3)
	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(errors.New("eof"), 1))
	require.False(t, p.ShouldRetry(errors.New("eof"), 3))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.True(t, p.ShouldRetry(&StatusError{StatusCode: http.StatusBadGateway}, 1))
	require.False(t, p.ShouldRetry(&StatusError{StatusCode: http.StatusNotFound}, 1))

	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 5*time.Second)
	}
}
