package libgvap_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/vaporyco/gvaphive/internal/fakes"
	"github.com/vaporyco/gvaphive/internal/libgvap"
)

func newManager(t *testing.T, hooks *fakes.BackendHooks, resultsDir string) (*libgvap.Manager, *fakes.Backend) {
	t.Helper()
	def, err := libgvap.DefaultInventory().Lookup("gvap")
	if err != nil {
		t.Fatal(err)
	}
	backend := fakes.NewBackend(hooks)
	env := libgvap.RunEnv{WorkDir: t.TempDir(), ResultsDir: resultsDir}
	return libgvap.NewManager(env, backend, def), backend
}

func lockedScenario(label string) libgvap.ScenarioConfig {
	return libgvap.ScenarioConfig{Label: label, Style: libgvap.StyleOptions, NetworkID: "10101"}
}

func TestManagerLifecycle(t *testing.T) {
	manager, backend := newManager(t, nil, "")
	ctx := context.Background()

	id, proc, err := manager.StartScenario(ctx, lockedScenario("a"))
	if err != nil {
		t.Fatal("start failed:", err)
	}
	if _, _, err := manager.StartScenario(ctx, lockedScenario("b")); !errors.Is(err, libgvap.ErrScenarioActive) {
		t.Fatal("second scenario started while first is active, err:", err)
	}

	aid, err := manager.StartAssertion(id, "check", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := manager.StartAssertion(id, "other", ""); !errors.Is(err, libgvap.ErrAssertionRunning) {
		t.Fatal("concurrent assertion started, err:", err)
	}
	if err := manager.EndAssertion(id, aid, nil); !errors.Is(err, libgvap.ErrNoSummaryResult) {
		t.Fatal("wrong error for nil result:", err)
	}
	if err := manager.EndAssertion(id, aid, &libgvap.AssertionResult{Pass: true}); err != nil {
		t.Fatal(err)
	}
	if err := manager.EndAssertion(id, aid, &libgvap.AssertionResult{Pass: true}); !errors.Is(err, libgvap.ErrNoSuchAssertion) {
		t.Fatal("assertion ended twice, err:", err)
	}

	if err := manager.EndScenario(id); err != nil {
		t.Fatal(err)
	}
	if err := manager.EndScenario(id); !errors.Is(err, libgvap.ErrNoSuchScenario) {
		t.Fatal("scenario ended twice, err:", err)
	}
	if n := backend.StopCalls(proc.ID); n != 1 {
		t.Fatalf("node stopped %d times", n)
	}
	if _, err := os.Stat(proc.DataDir.Target); !os.IsNotExist(err) {
		t.Fatal("data directory not removed")
	}

	r := manager.Results()[id]
	if r == nil {
		t.Fatal("no result for scenario")
	}
	var states []libgvap.State
	for _, sc := range r.States {
		states = append(states, sc.State)
	}
	want := []libgvap.State{libgvap.StateStarting, libgvap.StateReady, libgvap.StateRunning, libgvap.StateStopping, libgvap.StateDone}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("wrong state sequence %s", spew.Sdump(states))
	}
	if r.Failed() {
		t.Fatal("scenario failed:", spew.Sdump(r))
	}
}

func TestManagerSpawnFailure(t *testing.T) {
	hooks := &fakes.BackendHooks{
		Node: func(cfg *fakes.NodeConfig) { cfg.Hang = true },
	}
	manager, backend := newManager(t, hooks, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id, proc, err := manager.StartScenario(ctx, lockedScenario("hang"))
	var spawnErr *libgvap.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatal("expected spawn error, got", err)
	}
	if proc != nil {
		t.Fatal("process returned for failed scenario")
	}
	started := backend.Started()
	if len(started) != 1 {
		t.Fatalf("backend started %d nodes", len(started))
	}
	// The node is released right away, and not again at scenario end.
	if n := backend.StopCalls(started[0]); n != 1 {
		t.Fatalf("node stopped %d times before end", n)
	}
	if _, err := manager.StartAssertion(id, "check", ""); err == nil {
		t.Fatal("assertion started in failed scenario")
	}
	manager.EndScenario(id)
	if n := backend.StopCalls(started[0]); n != 1 {
		t.Fatalf("node stopped %d times", n)
	}

	r := manager.Results()[id]
	if r.Spawn == nil || r.Spawn.Kind != libgvap.FailureSpawn {
		t.Fatal("spawn failure not recorded:", spew.Sdump(r))
	}
	if !r.Failed() {
		t.Fatal("scenario not failed")
	}
}

func TestManagerTeardownFailure(t *testing.T) {
	hooks := &fakes.BackendHooks{
		Stop: func(id string) error { return errors.New("kill failed") },
	}
	manager, _ := newManager(t, hooks, "")
	id, _, err := manager.StartScenario(context.Background(), lockedScenario("teardown"))
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.EndScenario(id); err != nil {
		t.Fatal("teardown failure returned as error:", err)
	}
	r := manager.Results()[id]
	if r.Teardown == nil || r.Teardown.Kind != libgvap.FailureTeardown {
		t.Fatal("teardown failure not recorded:", spew.Sdump(r))
	}
}

func TestManagerTerminate(t *testing.T) {
	manager, backend := newManager(t, nil, "")
	id, proc, err := manager.StartScenario(context.Background(), lockedScenario("terminate"))
	if err != nil {
		t.Fatal(err)
	}
	aid, err := manager.StartAssertion(id, "running", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.Terminate(); err != nil {
		t.Fatal(err)
	}
	if err := manager.Terminate(); err != nil {
		t.Fatal("second terminate:", err)
	}
	if backend.Running() != 0 || backend.StopCalls(proc.ID) != 1 {
		t.Fatal("node not stopped exactly once")
	}
	a := manager.Results()[id].Assertions[aid]
	if a.Result.Pass || a.Result.Details != "scenario was terminated by host" {
		t.Fatalf("running assertion not failed: %+v", a.Result)
	}
}

func TestManagerRestart(t *testing.T) {
	manager, backend := newManager(t, nil, "")
	ctx := context.Background()
	cfg := lockedScenario("restart")
	cfg.Persist = true

	id, proc, err := manager.StartScenario(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	proc2, err := manager.Restart(ctx, id, libgvap.StartOptions{ReadyMarker: libgvap.DefaultHTTPMarker})
	if err != nil {
		t.Fatal("restart failed:", err)
	}
	if proc2.ID == proc.ID {
		t.Fatal("restart returned the old process")
	}
	if proc2.DataDir != proc.DataDir {
		t.Fatal("restart changed the data directory")
	}
	if backend.StopCalls(proc.ID) != 1 {
		t.Fatal("old node not stopped")
	}
	current, err := manager.Process(id)
	if err != nil || current.ID != proc2.ID {
		t.Fatal("manager does not track restarted node:", err)
	}
	manager.EndScenario(id)
	if backend.Running() != 0 {
		t.Fatal("restarted node still running")
	}
	r := manager.Results()[id]
	if r.Restarts != 1 {
		t.Fatalf("wrong restart count %d", r.Restarts)
	}
	if _, err := manager.Restart(ctx, id, libgvap.StartOptions{}); !errors.Is(err, libgvap.ErrNoSuchScenario) {
		t.Fatal("restart of ended scenario, err:", err)
	}
}

func TestManagerPersistentRuns(t *testing.T) {
	manager, _ := newManager(t, nil, "")
	ctx := context.Background()
	cfg := lockedScenario("persistent")
	cfg.Persist = true

	for i := 0; i < 3; i++ {
		id, _, err := manager.StartScenario(ctx, cfg)
		if err != nil {
			t.Fatal(err)
		}
		dd, err := manager.DataDir(id)
		if err != nil {
			t.Fatal(err)
		}
		if dd.PriorRuns != i {
			t.Errorf("run %d: wrong prior run count %d", i, dd.PriorRuns)
		}
		if dd.Reused != (i > 0) {
			t.Errorf("run %d: reused = %t", i, dd.Reused)
		}
		manager.EndScenario(id)
		if _, err := os.Stat(dd.Target); err != nil {
			t.Fatal("persistent directory removed:", err)
		}
	}
}

func TestManagerWritesResults(t *testing.T) {
	resultsDir := t.TempDir()
	manager, _ := newManager(t, nil, resultsDir)
	id, _, err := manager.StartScenario(context.Background(), lockedScenario("network 7: locked"))
	if err != nil {
		t.Fatal(err)
	}
	manager.EndScenario(id)

	files, _ := filepath.Glob(filepath.Join(resultsDir, "*.json"))
	if len(files) != 1 {
		t.Fatalf("wrong number of result files: %v", files)
	}
	r := manager.Results()[id]
	if r.Process == nil || r.Process.LogFile == "" {
		t.Fatal("no log file recorded")
	}
}

// A node whose start completes after the scenario was torn down must still be stopped.
func TestManagerLateRestartStopped(t *testing.T) {
	var (
		mu       sync.Mutex
		starts   int
		entered  = make(chan struct{})
		release  = make(chan struct{})
		released sync.Once
	)
	defer released.Do(func() { close(release) })
	hooks := &fakes.BackendHooks{
		Start: func(def *libgvap.ClientDefinition, cfg libgvap.ScenarioConfig, opt libgvap.StartOptions) (*libgvap.ProcessInfo, error) {
			mu.Lock()
			starts++
			n := starts
			mu.Unlock()
			if n > 1 {
				close(entered)
				<-release
			}
			return &libgvap.ProcessInfo{ID: fmt.Sprintf("p%d", n), DataDir: opt.DataDir}, nil
		},
		Stop: func(id string) error { return nil },
	}
	manager, backend := newManager(t, hooks, "")

	id, proc, err := manager.StartScenario(context.Background(), lockedScenario("late"))
	if err != nil {
		t.Fatal(err)
	}
	restarted := make(chan error, 1)
	go func() {
		_, err := manager.Restart(context.Background(), id, libgvap.StartOptions{})
		restarted <- err
	}()
	<-entered
	if err := manager.EndScenario(id); err != nil {
		t.Fatal(err)
	}
	released.Do(func() { close(release) })

	select {
	case err := <-restarted:
		if !errors.Is(err, libgvap.ErrNoSuchScenario) {
			t.Fatal("wrong restart error:", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("restart did not return")
	}
	if n := backend.StopCalls(proc.ID); n != 1 {
		t.Fatalf("first node stopped %d times", n)
	}
	if n := backend.StopCalls("p2"); n != 1 {
		t.Fatalf("late node stopped %d times", n)
	}
	if r := manager.Results()[id]; r.Process == nil || r.Process.ID != proc.ID {
		t.Fatalf("late node recorded in result: %s", spew.Sdump(r.Process))
	}
}
