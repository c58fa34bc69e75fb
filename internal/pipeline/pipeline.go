package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	csvadapter "github.com/couchcryptid/weather-etl/internal/adapter/csv"
	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/couchcryptid/weather-etl/internal/observability"
)

// Task names, in execution order.
const (
	TaskWaitForAPI    = "wait_for_api"
	TaskExtract       = "extract"
	TaskTransformLoad = "transform_load"
	TaskPublish       = "publish"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrSensorTimeout is returned when the weather API never became ready within
// the sensor timeout. It is not retried.
var ErrSensorTimeout = errors.New("weather api readiness sensor timed out")

// Source is the weather API: a readiness probe plus the fetch of one raw payload.
type Source interface {
	CheckReady(ctx context.Context) error
	FetchCurrent(ctx context.Context) ([]byte, error)
}

// Transformer converts a raw payload into a weather record.
type Transformer interface {
	Transform(ctx context.Context, raw []byte) (domain.WeatherRecord, error)
}

// ObjectStore writes a named object.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Publisher is an optional extra sink for each record.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, rec domain.WeatherRecord) error
}

// RunRecorder persists the outcome of each run.
type RunRecorder interface {
	Record(ctx context.Context, res RunResult) error
}

// KeyFunc names the object written for a run started at now.
type KeyFunc func(now time.Time) string

// Settings tunes the readiness sensor and task retries.
type Settings struct {
	PokeInterval  time.Duration
	SensorTimeout time.Duration
	Retries       int
	RetryDelay    time.Duration
	ObjectKey     KeyFunc
}

// RunResult describes one workflow run.
type RunResult struct {
	ID         int64     `json:"id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	FailedTask string    `json:"failed_task,omitempty"`
	City       string    `json:"city,omitempty"`
	ObjectKey  string    `json:"object_key,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// TaskError reports the task that failed a run and how many attempts it took.
type TaskError struct {
	Task     string
	Attempts int
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", e.Task, e.Attempts, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Pipeline runs the wait_for_api → extract → transform_load → publish workflow.
type Pipeline struct {
	source      Source
	transformer Transformer
	store       ObjectStore
	publishers  []Publisher
	recorder    RunRecorder
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	settings    Settings
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithPublishers adds sinks that receive each record after the CSV upload.
func WithPublishers(pubs ...Publisher) Option {
	return func(p *Pipeline) {
		p.publishers = append(p.publishers, pubs...)
	}
}

// WithRecorder persists each RunResult.
func WithRecorder(r RunRecorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithClock overrides the real clock.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// New creates a Pipeline with the given stages and observability.
func New(src Source, t Transformer, store ObjectStore, settings Settings, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:      src,
		transformer: t,
		store:       store,
		clock:       clockwork.NewRealClock(),
		logger:      logger,
		metrics:     metrics,
		settings:    settings,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce executes every task of the workflow in order. A failing task is
// retried per Settings; the run stops at the first task that exhausts its
// retries. The returned error is a *TaskError, or nil on success.
func (p *Pipeline) RunOnce(ctx context.Context) (RunResult, error) {
	res := RunResult{StartedAt: p.clock.Now()}
	p.logger.Info("run started")

	err := p.execute(ctx, &res)

	res.FinishedAt = p.clock.Now()
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		var te *TaskError
		if errors.As(err, &te) {
			res.FailedTask = te.Task
		}
		p.logger.Error("run failed", "error", err, "task", res.FailedTask, "duration", res.FinishedAt.Sub(res.StartedAt))
	} else {
		res.Status = StatusSuccess
		p.metrics.LastSuccess.Set(float64(res.FinishedAt.Unix()))
		p.logger.Info("run succeeded", "object_key", res.ObjectKey, "city", res.City, "duration", res.FinishedAt.Sub(res.StartedAt))
	}
	p.metrics.RunsTotal.WithLabelValues(res.Status).Inc()

	if p.recorder != nil {
		// The run context may already be cancelled; the outcome is still recorded.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if rerr := p.recorder.Record(recordCtx, res); rerr != nil {
			p.logger.Warn("record run failed", "error", rerr)
		}
		cancel()
	}
	return res, err
}

func (p *Pipeline) execute(ctx context.Context, res *RunResult) error {
	if err := p.runTask(ctx, TaskWaitForAPI, p.waitForAPI); err != nil {
		return err
	}

	var raw []byte
	err := p.runTask(ctx, TaskExtract, func(ctx context.Context) error {
		body, err := p.source.FetchCurrent(ctx)
		if err != nil {
			return err
		}
		raw = body
		return nil
	})
	if err != nil {
		return err
	}

	var rec domain.WeatherRecord
	err = p.runTask(ctx, TaskTransformLoad, func(ctx context.Context) error {
		out, key, err := p.transformLoad(ctx, raw)
		if err != nil {
			return err
		}
		rec = out
		res.City = out.City
		res.ObjectKey = key
		return nil
	})
	if err != nil {
		return err
	}

	if len(p.publishers) == 0 {
		return nil
	}
	published := make([]bool, len(p.publishers))
	return p.runTask(ctx, TaskPublish, func(ctx context.Context) error {
		return p.publish(ctx, rec, published)
	})
}

// waitForAPI probes the source every poke interval until it reports ready or
// the sensor timeout elapses.
func (p *Pipeline) waitForAPI(ctx context.Context) error {
	deadline := p.clock.Now().Add(p.settings.SensorTimeout)
	for {
		err := p.source.CheckReady(ctx)
		if err == nil {
			p.metrics.SensorPokes.WithLabelValues("ready").Inc()
			return nil
		}
		p.metrics.SensorPokes.WithLabelValues("not_ready").Inc()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.clock.Now().Add(p.settings.PokeInterval).Before(deadline) {
			return fmt.Errorf("%w after %s: %w", ErrSensorTimeout, p.settings.SensorTimeout, err)
		}
		p.logger.Info("weather api not ready, poking again", "error", err, "poke_interval", p.settings.PokeInterval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.settings.PokeInterval):
		}
	}
}

func (p *Pipeline) transformLoad(ctx context.Context, raw []byte) (domain.WeatherRecord, string, error) {
	rec, err := p.transformer.Transform(ctx, raw)
	if err != nil {
		p.metrics.TransformErrors.Inc()
		return domain.WeatherRecord{}, "", err
	}

	body, err := csvadapter.EncodeRecords([]domain.WeatherRecord{rec})
	if err != nil {
		return domain.WeatherRecord{}, "", err
	}

	key := p.settings.ObjectKey(p.clock.Now())
	if err := p.store.Put(ctx, key, body, csvadapter.ContentType); err != nil {
		return domain.WeatherRecord{}, "", err
	}
	p.metrics.ObjectsUploaded.Inc()
	return rec, key, nil
}

// publish sends rec to every publisher not yet marked in published, so a
// retried attempt only reaches the sinks that failed before.
func (p *Pipeline) publish(ctx context.Context, rec domain.WeatherRecord, published []bool) error {
	var errs []error
	for i, pub := range p.publishers {
		if published[i] {
			continue
		}
		if err := pub.Publish(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pub.Name(), err))
			continue
		}
		published[i] = true
		p.metrics.RecordsPublished.Inc()
	}
	return errors.Join(errs...)
}

// runTask runs fn, retrying up to Settings.Retries times with a constant
// delay. Malformed input and sensor timeouts fail immediately.
func (p *Pipeline) runTask(ctx context.Context, name string, fn func(context.Context) error) error {
	start := p.clock.Now()
	defer func() {
		p.metrics.TaskDuration.WithLabelValues(name).Observe(p.clock.Since(start).Seconds())
	}()

	attempts := 0
	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var malformed *domain.MalformedInputError
		if errors.As(err, &malformed) || errors.Is(err, ErrSensorTimeout) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.settings.RetryDelay), uint64(p.settings.Retries)),
		ctx,
	)
	notify := func(err error, next time.Duration) {
		p.metrics.TaskRetries.WithLabelValues(name).Inc()
		p.logger.Warn("task failed, retrying",
			"task", name,
			"attempt", attempts,
			"retry_in", next,
			"error", err,
		)
	}

	if err := backoff.RetryNotifyWithTimer(op, policy, notify, newClockTimer(p.clock)); err != nil {
		return &TaskError{Task: name, Attempts: attempts, Err: err}
	}
	p.logger.Debug("task succeeded", "task", name, "attempts", attempts)
	return nil
}
