package rpcsuite

import (
	"context"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/vaporyco/gvaphive/gvapsim"
	"github.com/vaporyco/gvaphive/internal/fakes"
	"github.com/vaporyco/gvaphive/internal/libgvap"
)

func newSim(t *testing.T, hooks *fakes.BackendHooks, constrained bool) (*gvapsim.Simulation, *fakes.Backend) {
	t.Helper()
	inv := libgvap.DefaultInventory()
	def, err := inv.Lookup("gvap")
	if err != nil {
		t.Fatal(err)
	}
	backend := fakes.NewBackend(hooks)
	sim := gvapsim.New(backend, def, gvapsim.SimEnv{
		RunEnv:      libgvap.RunEnv{WorkDir: t.TempDir()},
		Constrained: constrained,
	})
	return sim, backend
}

func TestSuiteFullMatrix(t *testing.T) {
	params := gvapsim.DefaultNetworkParams(t.TempDir())
	matrix := gvapsim.BuildMatrix(params, false)
	sim, backend := newSim(t, nil, false)

	result, err := sim.RunMatrix(context.Background(), matrix, New(params))
	if err != nil {
		t.Fatal("run error:", err)
	}
	if result.Scenarios != matrix.Len() {
		t.Fatalf("wrong number of scenarios: got %d, want %d", result.Scenarios, matrix.Len())
	}
	if result.Failed() {
		for _, r := range sim.Results() {
			if r.Failed() {
				t.Errorf("scenario %q failed: %s", r.Label, spew.Sdump(r))
			}
		}
	}
	if result.AssertionsSkipped != 0 {
		t.Errorf("%d assertions skipped in unconstrained run", result.AssertionsSkipped)
	}
	if n := backend.Running(); n != 0 {
		t.Errorf("%d nodes still running", n)
	}
	// Each stderr listener check restarts the node once.
	for _, r := range sim.Results() {
		if r.Restarts != 2 {
			t.Errorf("scenario %q: got %d restarts, want 2", r.Label, r.Restarts)
		}
	}
}

func TestSuiteConstrained(t *testing.T) {
	params := gvapsim.DefaultNetworkParams(t.TempDir())
	matrix := gvapsim.BuildMatrix(params, true)
	sim, _ := newSim(t, nil, true)

	result, err := sim.RunMatrix(context.Background(), matrix, New(params))
	if err != nil {
		t.Fatal("run error:", err)
	}
	if result.Failed() {
		t.Fatal("run failed:", spew.Sdump(result))
	}
	// blockNumber, balance and txCount are skipped in every scenario.
	if want := 3 * matrix.Len(); result.AssertionsSkipped != want {
		t.Fatalf("wrong number of skipped assertions: got %d, want %d", result.AssertionsSkipped, want)
	}
	for _, r := range sim.Results() {
		for _, a := range r.Assertions {
			switch a.Name {
			case "bindings/blockNumber", "bindings/balance", "bindings/txCount":
				if !a.Result.Skipped || !a.Result.Pass {
					t.Errorf("scenario %q: assertion %s not skipped", r.Label, a.Name)
				}
			default:
				if a.Result.Skipped {
					t.Errorf("scenario %q: assertion %s skipped", r.Label, a.Name)
				}
			}
		}
	}
}

func TestSuiteProtocolMismatch(t *testing.T) {
	params := gvapsim.DefaultNetworkParams(t.TempDir())
	matrix, err := gvapsim.BuildMatrix(params, true).Filter("network 10101: locked$")
	if err != nil {
		t.Fatal(err)
	}
	hooks := &fakes.BackendHooks{
		Node: func(cfg *fakes.NodeConfig) { cfg.Protocol = 62 },
	}
	sim, _ := newSim(t, hooks, true)

	result, err := sim.RunMatrix(context.Background(), matrix, New(params))
	if err != nil {
		t.Fatal("run error:", err)
	}
	if result.Scenarios != 1 {
		t.Fatalf("wrong number of scenarios: %d", result.Scenarios)
	}
	// Both the raw and the typed protocol version checks must fail.
	if result.AssertionsFailed != 2 {
		t.Fatalf("wrong number of failed assertions: got %d, want 2", result.AssertionsFailed)
	}
	for _, r := range sim.Results() {
		for _, a := range r.Assertions {
			if a.Result.Pass {
				continue
			}
			switch a.Name {
			case "broadcast/protocolVersion", "bindings/protocolVersion":
			default:
				t.Errorf("unexpected failure of %s", a.Name)
			}
			if a.Result.Error == nil || a.Result.Error.Kind != libgvap.FailureMismatch {
				t.Errorf("assertion %s: wrong failure %s", a.Name, spew.Sdump(a.Result.Error))
			}
		}
	}
}

func TestSuiteSpawnFailure(t *testing.T) {
	params := gvapsim.DefaultNetworkParams(t.TempDir())
	matrix := gvapsim.BuildMatrix(params, true)
	hooks := &fakes.BackendHooks{
		Node: func(cfg *fakes.NodeConfig) {
			cfg.Fail = cfg.NetworkID == "7"
		},
	}
	sim, backend := newSim(t, hooks, true)

	result, err := sim.RunMatrix(context.Background(), matrix, New(params))
	if err != nil {
		t.Fatal("run error:", err)
	}
	if result.Scenarios != matrix.Len() {
		t.Fatalf("run stopped early: %d of %d scenarios", result.Scenarios, matrix.Len())
	}
	var spawnFailures int
	for _, r := range sim.Results() {
		if r.Spawn == nil {
			continue
		}
		spawnFailures++
		if r.Spawn.Kind != libgvap.FailureSpawn {
			t.Errorf("scenario %q: wrong failure kind %q", r.Label, r.Spawn.Kind)
		}
		if len(r.Assertions) != 0 {
			t.Errorf("scenario %q: assertions ran after spawn failure", r.Label)
		}
	}
	if spawnFailures != 5 {
		t.Errorf("wrong number of spawn failures: got %d, want 5", spawnFailures)
	}
	if n := backend.Running(); n != 0 {
		t.Errorf("%d nodes still running", n)
	}
}
