// Package warmer drives the cache from the outside: scheduled pre-warming
// of known-hot queries and bulk invalidation after upstream data refreshes.
// Both go through the cache manager's public contract only.
package warmer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/geocached/geocached/cache"
	"github.com/geocached/geocached/codec"
	"github.com/geocached/geocached/config"
	"github.com/geocached/geocached/key"
)

// DefaultJobTimeout bounds a single warm run.
const DefaultJobTimeout = 5 * time.Minute

// Source produces the uncached payload for a warm query. The API boundary
// implements this against its data pipeline; the warmer never touches the
// pipeline directly.
type Source interface {
	Compute(ctx context.Context, namespace string, params key.Params) (codec.Payload, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, namespace string, params key.Params) (codec.Payload, error)

func (f SourceFunc) Compute(ctx context.Context, namespace string, params key.Params) (codec.Payload, error) {
	return f(ctx, namespace, params)
}

type job struct {
	spec    config.WarmJob
	params  key.Params
	ttl     time.Duration
	running atomic.Bool
}

// Warmer schedules configured warm queries on cron expressions (with a
// seconds field). Overlapping runs of the same job are skipped.
type Warmer struct {
	mgr     *cache.Manager
	source  Source
	cron    *cron.Cron
	log     *zap.Logger
	timeout time.Duration
	jobs    []*job
	mu      sync.Mutex
	started bool
}

// New builds a Warmer from the configured warm jobs. Param maps are
// validated up front so a typo in the config fails at startup, not at 3am.
func New(mgr *cache.Manager, source Source, cfg *config.Config, log *zap.Logger) (*Warmer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Warmer{
		mgr:     mgr,
		source:  source,
		log:     log,
		timeout: DefaultJobTimeout,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{log})),
		),
	}
	for _, spec := range cfg.Warm {
		params, err := ParamsFromMap(spec.Params)
		if err != nil {
			return nil, errors.Wrapf(err, "warm job %q", spec.Name)
		}
		j := &job{spec: spec, params: params, ttl: cfg.TTLFor(spec.Namespace)}
		if _, err := w.cron.AddFunc(spec.Schedule, func() { w.runJob(context.Background(), j) }); err != nil {
			return nil, errors.Wrapf(err, "warm job %q has an invalid schedule", spec.Name)
		}
		w.jobs = append(w.jobs, j)
	}
	return w, nil
}

// Start begins scheduled execution.
func (w *Warmer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.cron.Start()
	w.log.Info("cache warmer started", zap.Int("jobs", len(w.jobs)))
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (w *Warmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.started = false
	<-w.cron.Stop().Done()
	w.log.Info("cache warmer stopped")
}

// RunAll executes every configured job once, sequentially. Used by the
// admin trigger and at startup when a cold cache is unacceptable.
func (w *Warmer) RunAll(ctx context.Context) error {
	var errs []error
	for _, j := range w.jobs {
		if err := w.runJob(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Warmer) runJob(ctx context.Context, j *job) error {
	if !j.running.CompareAndSwap(false, true) {
		w.log.Warn("skipping warm job, previous run still in flight",
			zap.String("job", j.spec.Name))
		return nil
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	err := w.mgr.Warm(ctx, j.spec.Namespace, j.params,
		func(ctx context.Context) (codec.Payload, error) {
			return w.source.Compute(ctx, j.spec.Namespace, j.params)
		}, j.ttl)
	if err != nil {
		w.log.Error("warm job failed",
			zap.String("job", j.spec.Name),
			zap.String("namespace", j.spec.Namespace),
			zap.Error(err))
		return errors.Wrapf(err, "warm job %q", j.spec.Name)
	}
	w.log.Info("warm job completed",
		zap.String("job", j.spec.Name),
		zap.String("namespace", j.spec.Namespace),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// ParamsFromMap converts a config param map into key parameters. Lists
// must be lists of strings; nested maps are not supported.
func ParamsFromMap(m map[string]any) (key.Params, error) {
	p := key.NewParams()
	for name, v := range m {
		switch val := v.(type) {
		case string:
			p = p.String(name, val)
		case bool:
			p = p.Bool(name, val)
		case int:
			p = p.Int(name, val)
		case int64:
			p = p.Int(name, int(val))
		case float64:
			p = p.Float(name, val)
		case []any:
			strs := make([]string, 0, len(val))
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return key.Params{}, errors.Wrapf(key.ErrInvalidParameter,
						"parameter %q: list items must be strings, got %T", name, item)
				}
				strs = append(strs, s)
			}
			p = p.Strings(name, strs)
		default:
			return key.Params{}, errors.Wrapf(key.ErrInvalidParameter,
				"parameter %q has unsupported type %T", name, v)
		}
	}
	return p, p.Err()
}

// cronLogger adapts zap to the cron logging interface so scheduler panics
// and errors land in the structured log.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(fmt.Sprintf("cron: %s", msg), append(keysAndValues, "error", err)...)
}
