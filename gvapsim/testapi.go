package gvapsim

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/vaporyco/gvaphive/internal/libgvap"
	"gopkg.in/inconshreveable/log15.v2"
)

// DefaultAssertionTimeout is the time an assertion may run before it is failed.
const DefaultAssertionTimeout = 6 * time.Minute

// Suite is an ordered list of assertions run against every scenario.
type Suite struct {
	Name        string
	Description string
	Assertions  []AssertionSpec
}

// Add adds an assertion to the suite.
func (s *Suite) Add(a AssertionSpec) *Suite {
	s.Assertions = append(s.Assertions, a)
	return s
}

// AssertionSpec is the description of a single assertion.
type AssertionSpec struct {
	Name        string
	Description string

	// NeedsNetwork marks assertions which depend on network egress or chain data.
	// They are recorded as skipped in constrained runs.
	NeedsNetwork bool

	// AlwaysRun makes the assertion run even when it does not match the test pattern.
	AlwaysRun bool

	Run func(t *T, c *Client)
}

// SimEnv configures a Simulation.
type SimEnv struct {
	libgvap.RunEnv

	Constrained      bool
	RPCTimeout       time.Duration
	AssertionTimeout time.Duration
}

// Simulation runs suites over a scenario matrix.
type Simulation struct {
	env    SimEnv
	runner *libgvap.Runner
	m      testMatcher
	log    log15.Logger
}

// New creates a simulation running nodes of def on backend.
func New(backend libgvap.Backend, def *libgvap.ClientDefinition, env SimEnv) *Simulation {
	if env.Logger == nil {
		env.Logger = log15.Root()
	}
	if env.RPCTimeout <= 0 {
		env.RPCTimeout = DefaultRPCTimeout
	}
	if env.AssertionTimeout <= 0 {
		env.AssertionTimeout = DefaultAssertionTimeout
	}
	manager := libgvap.NewManager(env.RunEnv, backend, def)
	return &Simulation{
		env:    env,
		runner: libgvap.NewRunner(manager),
		log:    env.Logger,
	}
}

// SetTestPattern sets the regular expression that selects scenarios and assertions.
// The form is "scenario/assertion".
func (sim *Simulation) SetTestPattern(p string) error {
	m, err := parseTestPattern(p)
	if err != nil {
		return err
	}
	sim.m = m
	return nil
}

// Constrained reports whether network-dependent assertions are skipped.
func (sim *Simulation) Constrained() bool {
	return sim.env.Constrained
}

// Manager returns the scenario manager.
func (sim *Simulation) Manager() *libgvap.Manager {
	return sim.runner.Manager()
}

// Results returns the results of all finished scenarios.
func (sim *Simulation) Results() map[libgvap.ScenarioID]*libgvap.ScenarioResult {
	return sim.runner.Manager().Results()
}

// RunMatrix runs the suites against every scenario of the matrix which matches the test
// pattern. Scenarios run strictly one after another.
func (sim *Simulation) RunMatrix(ctx context.Context, matrix *Matrix, suites ...Suite) (libgvap.RunResult, error) {
	var scenarios []ScenarioConfig
	for _, cfg := range matrix.Scenarios() {
		if !sim.m.match(cfg.Label, "") {
			sim.log.Debug("skipping scenario", "scenario", cfg.Label, "pattern", sim.m.pattern)
			continue
		}
		scenarios = append(scenarios, cfg)
	}
	return sim.runner.Run(ctx, scenarios, func(ctx context.Context, id libgvap.ScenarioID, cfg ScenarioConfig, proc *libgvap.ProcessInfo) {
		sc := &scenarioRun{sim: sim, id: id, cfg: cfg}
		sc.client, sc.dialErr = Dial(ctx, proc.IPCPath, sim.Manager().Client(), sim.env.RPCTimeout)
		defer sc.close()

		for i := range suites {
			for _, spec := range suites[i].Assertions {
				if ctx.Err() != nil {
					return
				}
				sim.runAssertion(ctx, sc, spec)
			}
		}
	})
}

// scenarioRun holds the connection shared by the assertions of a scenario.
type scenarioRun struct {
	sim *Simulation
	id  libgvap.ScenarioID
	cfg ScenarioConfig

	mu      sync.Mutex
	client  *Client
	dialErr error
}

func (sc *scenarioRun) close() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.client != nil {
		sc.client.Close()
	}
}

func (sc *scenarioRun) conn() (*Client, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.client, sc.dialErr
}

func (sim *Simulation) runAssertion(ctx context.Context, sc *scenarioRun, spec AssertionSpec) {
	if !spec.AlwaysRun && !sim.m.match(sc.cfg.Label, spec.Name) {
		sim.log.Debug("skipping assertion", "scenario", sc.cfg.Label, "assertion", spec.Name)
		return
	}
	manager := sim.Manager()
	aid, err := manager.StartAssertion(sc.id, spec.Name, spec.Description)
	if err != nil {
		sim.log.Error("can't start assertion", "assertion", spec.Name, "err", err)
		return
	}
	if spec.NeedsNetwork && sim.env.Constrained {
		manager.EndAssertion(sc.id, aid, &libgvap.AssertionResult{
			Pass:    true,
			Skipped: true,
			Details: "skipped: needs network access\n",
		})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sim.env.AssertionTimeout)
	defer cancel()
	t := &T{
		Sim:         sim,
		ScenarioID:  sc.id,
		AssertionID: aid,
		scenario:    sc,
		ctx:         ctx,
		log:         sim.log.New("scenario", sc.cfg.Label, "assertion", spec.Name),
	}
	t.result.Pass = true

	done := make(chan struct{})
	go func() {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				i := runtime.Stack(buf, false)
				t.Logf("panic: %v\n\n%s", err, buf[:i])
				t.Fail()
			}
			close(done)
		}()
		client, err := sc.conn()
		if err != nil {
			t.Fatal("can't connect to node:", err)
		}
		spec.Run(t, client)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.mu.Lock()
		t.result.Pass = false
		t.result.Timeout = true
		t.result.Details += "assertion timed out\n"
		if t.result.Error == nil {
			t.result.Error = libgvap.NewFailure(ctx.Err())
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	result := t.result
	t.mu.Unlock()
	if err := manager.EndAssertion(sc.id, aid, &result); err != nil {
		sim.log.Error("can't end assertion", "assertion", spec.Name, "err", err)
	}
}

// T is the context of a running assertion.
type T struct {
	Sim         *Simulation
	ScenarioID  libgvap.ScenarioID
	AssertionID libgvap.AssertionID

	scenario *scenarioRun
	ctx      context.Context
	log      log15.Logger
	mu       sync.Mutex
	result   libgvap.AssertionResult
}

// Ctx returns the context of the assertion. It is canceled when the assertion times out.
func (t *T) Ctx() context.Context {
	return t.ctx
}

// Scenario returns the configuration of the current scenario.
func (t *T) Scenario() ScenarioConfig {
	return t.scenario.cfg.Copy()
}

// Client returns the definition of the node under test.
func (t *T) Client() *libgvap.ClientDefinition {
	return t.Sim.Manager().Client()
}

// Constrained reports whether the run is constrained.
func (t *T) Constrained() bool {
	return t.Sim.env.Constrained
}

// Process returns the current node process.
func (t *T) Process() *libgvap.ProcessInfo {
	proc, err := t.Sim.Manager().Process(t.ScenarioID)
	if err != nil {
		t.Fatal("no node process:", err)
	}
	return proc
}

// DataDir returns the data directory of the scenario.
func (t *T) DataDir() *libgvap.DataDir {
	dd, err := t.Sim.Manager().DataDir(t.ScenarioID)
	if err != nil {
		t.Fatal("no data directory:", err)
	}
	return dd
}

// Restart stops the node and starts it again on the same data directory. The client
// passed to the assertion is reconnected to the new node.
func (t *T) Restart(opt libgvap.StartOptions) *libgvap.ProcessInfo {
	proc, err := t.Sim.Manager().Restart(t.ctx, t.ScenarioID, opt)
	if err != nil {
		t.Fatal("restart failed:", err)
	}
	sc := t.scenario
	client, _ := sc.conn()
	if client == nil {
		client, err = Dial(t.ctx, proc.IPCPath, t.Client(), t.Sim.env.RPCTimeout)
		if err != nil {
			t.Fatal("can't connect after restart:", err)
		}
		sc.mu.Lock()
		sc.client, sc.dialErr = client, nil
		sc.mu.Unlock()
	} else if err := client.connect(t.ctx, proc.IPCPath); err != nil {
		t.Fatal("can't reconnect after restart:", err)
	}
	return proc
}

// Error is like testing.T.Error. The first error value is recorded as the failure cause.
func (t *T) Error(values ...interface{}) {
	t.recordError(values)
	t.Log(values...)
	t.Fail()
}

// Errorf is like testing.T.Errorf.
func (t *T) Errorf(format string, values ...interface{}) {
	t.recordError(values)
	t.Logf(format, values...)
	t.Fail()
}

// Fatal is like testing.T.Fatal. It fails the assertion immediately.
func (t *T) Fatal(values ...interface{}) {
	t.recordError(values)
	t.Log(values...)
	t.FailNow()
}

// Fatalf is like testing.T.Fatalf. It fails the assertion immediately.
func (t *T) Fatalf(format string, values ...interface{}) {
	t.recordError(values)
	t.Logf(format, values...)
	t.FailNow()
}

func (t *T) recordError(values []interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result.Error != nil {
		return
	}
	for _, v := range values {
		if err, ok := v.(error); ok {
			t.result.Error = libgvap.NewFailure(err)
			if errors.Is(err, context.DeadlineExceeded) {
				t.result.Timeout = true
			}
			return
		}
	}
}

// Logf adds a line to the assertion details.
func (t *T) Logf(format string, values ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !strings.HasSuffix(format, "\n") {
		format = format + "\n"
	}
	msg := fmt.Sprintf(format, values...)
	t.log.Debug(strings.TrimSuffix(msg, "\n"))
	t.result.Details += msg
}

// Log adds a line to the assertion details.
func (t *T) Log(values ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := fmt.Sprintln(values...)
	t.log.Debug(strings.TrimSuffix(msg, "\n"))
	t.result.Details += msg
}

// Failed reports whether the assertion has already failed.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.result.Pass
}

// Fail signals that the assertion has failed.
func (t *T) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Pass = false
}

// FailNow signals that the assertion has failed and exits it immediately.
// As with testing.T.FailNow(), this should only be called from the assertion goroutine.
func (t *T) FailNow() {
	t.Fail()
	runtime.Goexit()
}
