package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"

	"github.com/geocached/geocached/codec"
	"github.com/geocached/geocached/key"
)

// JSON is a typed wrapper over Manager.GetOrCompute for JSON-shaped
// payloads. The Manager's interface works in terms of the codec.Payload
// union because Go does not allow generic methods; JSON restores type
// safety at the call site:
//
//	summary, err := cache.JSON(ctx, m, "initial-data", params, 6*time.Hour,
//	    func(ctx context.Context) (CitySummary, error) {
//	        return pipeline.BuildSummary(ctx)
//	    },
//	)
func JSON[T any](ctx context.Context, m *Manager, namespace string, params key.Params, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	p, err := m.GetOrCompute(ctx, namespace, params, func(ctx context.Context) (codec.Payload, error) {
		v, err := fn(ctx)
		if err != nil {
			return codec.Payload{}, err
		}
		return codec.JSONOf(v)
	}, ttl)
	if err != nil {
		return zero, err
	}
	if p.ContentType != codec.ContentTypeJSON {
		return zero, errors.Newf("cache: entry for %s is not JSON", namespace)
	}
	var out T
	if err := json.Unmarshal(p.JSON, &out); err != nil {
		return zero, errors.Wrap(err, "cache: failed to unmarshal cached JSON")
	}
	return out, nil
}

// Table is the frame-shaped counterpart of JSON for tabular query results.
func Table(ctx context.Context, m *Manager, namespace string, params key.Params, ttl time.Duration, fn func(context.Context) (*codec.Frame, error)) (*codec.Frame, error) {
	p, err := m.GetOrCompute(ctx, namespace, params, func(ctx context.Context) (codec.Payload, error) {
		f, err := fn(ctx)
		if err != nil {
			return codec.Payload{}, err
		}
		return codec.FrameOf(f), nil
	}, ttl)
	if err != nil {
		return nil, err
	}
	if p.ContentType != codec.ContentTypeFrame {
		return nil, errors.Newf("cache: entry for %s is not a frame", namespace)
	}
	return p.Frame, nil
}
