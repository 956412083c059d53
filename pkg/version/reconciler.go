package version

import (
	"context"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
)

type CurrentResolver interface {
	ResolveCurrent(ctx context.Context) (Version, error)
}

type LatestResolver interface {
	ResolveLatest(ctx context.Context) (Version, error)
}

// Plan is the result of one reconciliation pass
type Plan struct {
	Current    Version
	CurrentErr error
	Latest     Version
	LatestErr  error
	Decision   Decision
}

// HasLocal reports whether a known-good local binary can be run if the update fails
func (p Plan) HasLocal() bool {
	return p.CurrentErr == nil && !p.Current.IsUnset()
}

// Target is the version the keeper should end up running
func (p Plan) Target() Version {
	if p.Decision == Upgrade {
		return p.Latest
	}
	return p.Current
}

type Reconciler struct {
	current CurrentResolver
	latest  LatestResolver
	logger  logging.Logger
}

func NewReconciler(current CurrentResolver, latest LatestResolver, logger logging.Logger) *Reconciler {
	return &Reconciler{
		current: current,
		latest:  latest,
		logger:  logger,
	}
}

// Reconcile resolves both versions and decides whether to update.
// It fails only when neither version can be resolved: there is then no binary to run and none to fetch.
func (r *Reconciler) Reconcile(ctx context.Context) (Plan, error) {
	var plan Plan

	plan.Current, plan.CurrentErr = r.current.ResolveCurrent(ctx)
	if plan.CurrentErr != nil {
		plan.Current = ""
		r.logger.Warnf("Local version unavailable: %v", plan.CurrentErr)
	}

	plan.Latest, plan.LatestErr = r.latest.ResolveLatest(ctx)
	if plan.LatestErr != nil {
		plan.Latest = ""
		r.logger.Warnf("Latest version unavailable: %v", plan.LatestErr)
	}

	switch {
	case plan.CurrentErr != nil && plan.LatestErr != nil:
		collection := errors.NewErrorCollection()
		collection.Add(plan.CurrentErr)
		collection.Add(plan.LatestErr)
		return plan, errors.NewInternalError("no resolvable version and no way to fetch one", collection)
	case plan.LatestErr != nil:
		plan.Decision = NoAction
	default:
		plan.Decision = Decide(plan.Current, plan.Latest)
	}

	r.logger.Infof("Reconciled versions, current: %q, latest: %q, decision: %s", plan.Current, plan.Latest, plan.Decision)
	return plan, nil
}
