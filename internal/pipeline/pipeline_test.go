package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	csvadapter "github.com/couchcryptid/weather-etl/internal/adapter/csv"
	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/couchcryptid/weather-etl/internal/observability"
	"github.com/couchcryptid/weather-etl/internal/pipeline"
)

// --- mocks ---

type mockSource struct {
	readyErrs []error // consumed one per CheckReady call; nil once exhausted
	fetchErrs []error // consumed one per FetchCurrent call; nil once exhausted
	body      []byte

	readyCalls atomic.Int64
	fetchCalls atomic.Int64
	alwaysDown bool
}

func (m *mockSource) CheckReady(_ context.Context) error {
	i := int(m.readyCalls.Add(1) - 1)
	if m.alwaysDown {
		return errors.New("connection refused")
	}
	if i < len(m.readyErrs) {
		return m.readyErrs[i]
	}
	return nil
}

func (m *mockSource) FetchCurrent(_ context.Context) ([]byte, error) {
	i := int(m.fetchCalls.Add(1) - 1)
	if i < len(m.fetchErrs) && m.fetchErrs[i] != nil {
		return nil, m.fetchErrs[i]
	}
	return m.body, nil
}

type putCall struct {
	key         string
	body        []byte
	contentType string
}

type memStore struct {
	mu    sync.Mutex
	errs  []error
	calls int
	puts  []putCall
}

func (m *memStore) Put(_ context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return m.errs[i]
	}
	m.puts = append(m.puts, putCall{key: key, body: body, contentType: contentType})
	return nil
}

type mockPublisher struct {
	err       error
	published []domain.WeatherRecord
}

func (m *mockPublisher) Name() string { return "mock" }

func (m *mockPublisher) Publish(_ context.Context, rec domain.WeatherRecord) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, rec)
	return nil
}

type mockRecorder struct {
	results []pipeline.RunResult
}

func (m *mockRecorder) Record(_ context.Context, res pipeline.RunResult) error {
	m.results = append(m.results, res)
	return nil
}

// --- helpers ---

var fixedStart = time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadPayload(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "domain", "testdata", "madison_current.json"))
	require.NoError(t, err)
	return data
}

func fastSettings() pipeline.Settings {
	return pipeline.Settings{
		PokeInterval:  time.Millisecond,
		SensorTimeout: time.Second,
		Retries:       2,
		RetryDelay:    time.Millisecond,
		ObjectKey: func(now time.Time) string {
			return "current_weather_data_madison_" + now.Format("02012006150405") + ".csv"
		},
	}
}

func newPipeline(src pipeline.Source, store pipeline.ObjectStore, settings pipeline.Settings, metrics *observability.Metrics, opts ...pipeline.Option) *pipeline.Pipeline {
	return pipeline.New(src, pipeline.NewTransformer(discardLogger()), store, settings, discardLogger(), metrics, opts...)
}

// --- tests ---

func TestPipeline_RunOnce_HappyPath(t *testing.T) {
	src := &mockSource{body: loadPayload(t)}
	store := &memStore{}
	metrics := observability.NewMetricsForTesting()
	rec := &mockRecorder{}
	clock := clockwork.NewFakeClockAt(fixedStart)

	p := newPipeline(src, store, fastSettings(), metrics, pipeline.WithClock(clock), pipeline.WithRecorder(rec))

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.Equal(t, "Madison", res.City)
	assert.Equal(t, "current_weather_data_madison_08012024000000.csv", res.ObjectKey)
	assert.Equal(t, fixedStart, res.StartedAt)
	assert.Empty(t, res.Error)

	require.Len(t, store.puts, 1)
	assert.Equal(t, res.ObjectKey, store.puts[0].key)
	assert.Equal(t, csvadapter.ContentType, store.puts[0].contentType)

	records, err := csvadapter.DecodeRecords(store.puts[0].body)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "light rain", records[0].Description)
	assert.Equal(t, domain.KelvinToFahrenheit(300.0), records[0].TempF)

	require.Len(t, rec.results, 1)
	assert.Equal(t, res, rec.results[0])

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(pipeline.StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ObjectsUploaded), 0)
	assert.InDelta(t, float64(fixedStart.Unix()), testutil.ToFloat64(metrics.LastSuccess), 0)
}

func TestPipeline_RunOnce_RetriesExtract(t *testing.T) {
	src := &mockSource{
		body:      loadPayload(t),
		fetchErrs: []error{errors.New("502 bad gateway"), errors.New("connection reset")},
	}
	store := &memStore{}
	metrics := observability.NewMetricsForTesting()

	p := newPipeline(src, store, fastSettings(), metrics)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.Equal(t, int64(3), src.fetchCalls.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.TaskRetries.WithLabelValues(pipeline.TaskExtract)), 0)
}

func TestPipeline_RunOnce_ExtractRetriesExhausted(t *testing.T) {
	boom := errors.New("503 service unavailable")
	src := &mockSource{fetchErrs: []error{boom, boom, boom, boom}}
	store := &memStore{}
	metrics := observability.NewMetricsForTesting()
	rec := &mockRecorder{}

	p := newPipeline(src, store, fastSettings(), metrics, pipeline.WithRecorder(rec))

	res, err := p.RunOnce(context.Background())
	require.Error(t, err)

	var te *pipeline.TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, pipeline.TaskExtract, te.Task)
	assert.Equal(t, 3, te.Attempts)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, pipeline.StatusFailed, res.Status)
	assert.Equal(t, pipeline.TaskExtract, res.FailedTask)
	assert.Contains(t, res.Error, "503")
	assert.Equal(t, int64(3), src.fetchCalls.Load())
	assert.Empty(t, store.puts)
	require.Len(t, rec.results, 1)
	assert.Equal(t, pipeline.StatusFailed, rec.results[0].Status)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(pipeline.StatusFailed)), 0)
}

func TestPipeline_RunOnce_NoRetries(t *testing.T) {
	src := &mockSource{fetchErrs: []error{errors.New("timeout"), nil}}
	settings := fastSettings()
	settings.Retries = 0

	p := newPipeline(src, &memStore{}, settings, observability.NewMetricsForTesting())

	_, err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), src.fetchCalls.Load())
}

func TestPipeline_RunOnce_MalformedPayloadIsNotRetried(t *testing.T) {
	payload := strings.Replace(string(loadPayload(t)), `"main": {`, `"not_main": {`, 1)
	src := &mockSource{body: []byte(payload)}
	store := &memStore{}
	metrics := observability.NewMetricsForTesting()

	p := newPipeline(src, store, fastSettings(), metrics)

	res, err := p.RunOnce(context.Background())
	require.Error(t, err)

	var malformed *domain.MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, []string{"main"}, malformed.Fields)

	var te *pipeline.TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, pipeline.TaskTransformLoad, te.Task)
	assert.Equal(t, 1, te.Attempts)

	assert.Equal(t, pipeline.TaskTransformLoad, res.FailedTask)
	assert.Empty(t, store.puts)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TransformErrors), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.TaskRetries.WithLabelValues(pipeline.TaskTransformLoad)), 0)
}

func TestPipeline_RunOnce_RetriesUpload(t *testing.T) {
	src := &mockSource{body: loadPayload(t)}
	store := &memStore{errs: []error{errors.New("SlowDown")}}

	p := newPipeline(src, store, fastSettings(), observability.NewMetricsForTesting())

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
	require.Len(t, store.puts, 1)
	assert.Equal(t, store.puts[0].key, res.ObjectKey)
	assert.Equal(t, int64(1), src.fetchCalls.Load(), "a failed upload must not refetch")
}

func TestPipeline_RunOnce_SensorPokesUntilReady(t *testing.T) {
	notReady := errors.New("status 404")
	src := &mockSource{body: loadPayload(t), readyErrs: []error{notReady, notReady}}
	metrics := observability.NewMetricsForTesting()

	p := newPipeline(src, &memStore{}, fastSettings(), metrics)

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), src.readyCalls.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.SensorPokes.WithLabelValues("not_ready")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SensorPokes.WithLabelValues("ready")), 0)
}

func TestPipeline_RunOnce_SensorTimeout(t *testing.T) {
	src := &mockSource{alwaysDown: true}
	settings := fastSettings()
	settings.SensorTimeout = 10 * time.Millisecond
	metrics := observability.NewMetricsForTesting()

	p := newPipeline(src, &memStore{}, settings, metrics)

	res, err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrSensorTimeout)
	assert.Equal(t, pipeline.TaskWaitForAPI, res.FailedTask)
	assert.Equal(t, int64(0), src.fetchCalls.Load())
	assert.Positive(t, src.readyCalls.Load())
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.TaskRetries.WithLabelValues(pipeline.TaskWaitForAPI)), 0)
}

func TestPipeline_RunOnce_ContextCancelled(t *testing.T) {
	src := &mockSource{alwaysDown: true}
	settings := fastSettings()
	settings.PokeInterval = time.Hour
	settings.SensorTimeout = 2 * time.Hour

	p := newPipeline(src, &memStore{}, settings, observability.NewMetricsForTesting())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := p.RunOnce(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, pipeline.StatusFailed, res.Status)
}

func TestPipeline_RunOnce_Publishers(t *testing.T) {
	src := &mockSource{body: loadPayload(t)}
	pub := &mockPublisher{}
	metrics := observability.NewMetricsForTesting()

	p := newPipeline(src, &memStore{}, fastSettings(), metrics, pipeline.WithPublishers(pub))

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "Madison", pub.published[0].City)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RecordsPublished), 0)
}

func TestPipeline_RunOnce_PublisherFailure(t *testing.T) {
	src := &mockSource{body: loadPayload(t)}
	store := &memStore{}
	pub := &mockPublisher{err: errors.New("broker unavailable")}

	p := newPipeline(src, store, fastSettings(), observability.NewMetricsForTesting(), pipeline.WithPublishers(pub))

	res, err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mock: broker unavailable")
	assert.Equal(t, pipeline.TaskPublish, res.FailedTask)
	assert.NotEmpty(t, res.ObjectKey, "upload happened before publishing")
	assert.Len(t, store.puts, 1)
}

// flakyPublisher fails its first failures calls, then succeeds.
type flakyPublisher struct {
	name     string
	failures int
	calls    int
}

func (f *flakyPublisher) Name() string { return f.name }

func (f *flakyPublisher) Publish(_ context.Context, _ domain.WeatherRecord) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("leader not available")
	}
	return nil
}

func TestPipeline_RunOnce_PublishRetryOnlyReachesFailedSinks(t *testing.T) {
	src := &mockSource{body: loadPayload(t)}
	healthy := &flakyPublisher{name: "a"}
	flaky := &flakyPublisher{name: "b", failures: 1}
	metrics := observability.NewMetricsForTesting()

	p := newPipeline(src, &memStore{}, fastSettings(), metrics, pipeline.WithPublishers(healthy, flaky))

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, healthy.calls)
	assert.Equal(t, 2, flaky.calls)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RecordsPublished), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TaskRetries.WithLabelValues(pipeline.TaskPublish)), 0)
}

func TestWeatherTransformer_Transform(t *testing.T) {
	tfm := pipeline.NewTransformer(discardLogger())

	out, err := tfm.Transform(context.Background(), loadPayload(t))
	require.NoError(t, err)
	assert.Equal(t, "Madison", out.City)

	_, err = tfm.Transform(context.Background(), []byte(`{}`))
	var malformed *domain.MalformedInputError
	assert.ErrorAs(t, err, &malformed)
}
