package libgvap

import (
	"context"
	"errors"
	"fmt"
)

// ScenarioFunc runs the assertions of a started scenario.
type ScenarioFunc func(ctx context.Context, id ScenarioID, cfg ScenarioConfig, proc *ProcessInfo)

// Runner executes scenarios one after another.
type Runner struct {
	manager *Manager
}

// NewRunner creates a runner on top of manager.
func NewRunner(manager *Manager) *Runner {
	return &Runner{manager: manager}
}

// Manager returns the underlying scenario manager.
func (r *Runner) Manager() *Manager {
	return r.manager
}

// Run starts every scenario in order, calls fn for those whose node became ready and
// tears each one down before the next begins. Failing scenarios do not stop the run;
// only cancellation of ctx does.
func (r *Runner) Run(ctx context.Context, scenarios []ScenarioConfig, fn ScenarioFunc) (RunResult, error) {
	var result RunResult
	log := r.manager.log

	for _, cfg := range scenarios {
		if err := ctx.Err(); err != nil {
			log.Warn("run interrupted", "remaining", len(scenarios)-result.Scenarios)
			return result, err
		}
		id, err := r.runScenario(ctx, cfg, fn)
		if err != nil {
			return result, err
		}
		res, ok := r.manager.Results()[id]
		if !ok {
			return result, fmt.Errorf("scenario %q has no result", cfg.Label)
		}
		result.add(res)
	}
	return result, ctx.Err()
}

func (r *Runner) runScenario(ctx context.Context, cfg ScenarioConfig, fn ScenarioFunc) (ScenarioID, error) {
	id, proc, err := r.manager.StartScenario(ctx, cfg)
	if err != nil {
		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) {
			return 0, err
		}
	}
	defer r.manager.EndScenario(id)

	if proc != nil {
		fn(ctx, id, cfg, proc)
	}
	return id, nil
}

func (result *RunResult) add(r *ScenarioResult) {
	result.Scenarios++
	if r.Failed() {
		result.ScenariosFailed++
	}
	for _, a := range r.Assertions {
		result.Assertions++
		switch {
		case a.Result.Skipped:
			result.AssertionsSkipped++
		case !a.Result.Pass:
			result.AssertionsFailed++
		}
	}
}
