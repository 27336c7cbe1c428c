package warmer

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/geocached/geocached/cache"
)

// Invalidator evicts whole namespaces after an upstream data refresh.
// A refresh makes every cached response in the affected namespaces stale
// at once, so eviction happens per-prefix rather than per-key.
type Invalidator struct {
	mgr *cache.Manager
	log *zap.Logger
}

func NewInvalidator(mgr *cache.Manager, log *zap.Logger) *Invalidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invalidator{mgr: mgr, log: log}
}

// AfterRefresh invalidates each namespace and returns the total number of
// keys deleted. A failing namespace does not stop the others; all failures
// are joined into the returned error.
func (i *Invalidator) AfterRefresh(ctx context.Context, namespaces ...string) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, ns := range namespaces {
		n, err := i.mgr.Invalidate(ctx, ns)
		if err != nil {
			i.log.Error("namespace invalidation failed",
				zap.String("namespace", ns), zap.Error(err))
			errs = append(errs, errors.Wrapf(err, "namespace %q", ns))
			continue
		}
		total += n
		i.log.Info("namespace invalidated",
			zap.String("namespace", ns), zap.Int("deleted", n))
	}
	return total, errors.Join(errs...)
}
