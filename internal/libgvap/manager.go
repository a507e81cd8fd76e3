package libgvap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/inconshreveable/log15.v2"
)

// DefaultStartTimeout is the time a node gets to print its ready marker.
const DefaultStartTimeout = 6 * time.Minute

// RunEnv contains the settings shared by all scenarios of a run.
type RunEnv struct {
	// WorkDir holds scenario data directories.
	WorkDir string

	// ResultsDir receives result files and node logs. Nothing is written when empty.
	ResultsDir string

	StartTimeout time.Duration
	Logger       log15.Logger
}

func (env RunEnv) startTimeout() time.Duration {
	if env.StartTimeout > 0 {
		return env.StartTimeout
	}
	return DefaultStartTimeout
}

// Manager sequences scenarios. At most one scenario is active at any time, and every
// started node is stopped exactly once, no matter how the scenario ends.
type Manager struct {
	env     RunEnv
	backend Backend
	def     *ClientDefinition
	log     log15.Logger

	mu               sync.Mutex
	active           *scenario
	scenarioCounter  uint32
	assertionCounter uint32
	results          map[ScenarioID]*ScenarioResult
	persistentRuns   map[string]int
}

type scenario struct {
	result  *ScenarioResult
	cfg     ScenarioConfig
	dd      *DataDir
	logFile string
	running map[AssertionID]*AssertionCase

	procMu  sync.Mutex
	proc    *ProcessInfo
	stopped bool
	ended   bool // set by teardown, nodes started afterwards are stopped at once
}

// NewManager creates a manager running nodes of client def on backend b.
func NewManager(env RunEnv, b Backend, def *ClientDefinition) *Manager {
	logger := env.Logger
	if logger == nil {
		logger = log15.Root()
	}
	return &Manager{
		env:            env,
		backend:        b,
		def:            def,
		log:            logger.New("client", def.Name),
		results:        make(map[ScenarioID]*ScenarioResult),
		persistentRuns: make(map[string]int),
	}
}

// Client returns the client definition nodes are started from.
func (manager *Manager) Client() *ClientDefinition {
	return manager.def
}

// Results returns the results of all scenarios that have ended.
func (manager *Manager) Results() map[ScenarioID]*ScenarioResult {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	r := make(map[ScenarioID]*ScenarioResult, len(manager.results))
	for id, res := range manager.results {
		r[id] = res
	}
	return r
}

// StartScenario prepares the data directory of cfg and starts its node. It returns once
// the node is ready. When the node cannot be started, the failure is recorded, the
// process is released and a *SpawnError is returned. The scenario stays active until
// EndScenario is called, in both cases.
func (manager *Manager) StartScenario(ctx context.Context, cfg ScenarioConfig) (ScenarioID, *ProcessInfo, error) {
	manager.mu.Lock()
	if manager.active != nil {
		manager.mu.Unlock()
		return 0, nil, ErrScenarioActive
	}
	manager.scenarioCounter++
	id := ScenarioID(manager.scenarioCounter)
	sc := &scenario{
		cfg:     cfg.Copy(),
		running: make(map[AssertionID]*AssertionCase),
		result: &ScenarioResult{
			ID:         id,
			Label:      cfg.Label,
			Client:     manager.def.Name,
			Config:     cfg.Copy(),
			Assertions: make(map[AssertionID]*AssertionCase),
		},
	}
	sc.result.moveTo(StateStarting)
	manager.active = sc
	manager.mu.Unlock()

	log := manager.log.New("scenario", cfg.Label)
	log.Info("starting scenario", "id", id)

	dd, err := PrepareDataDir(manager.env.WorkDir, cfg)
	if err != nil {
		return id, nil, manager.spawnFailed(sc, &SpawnError{Label: cfg.Label, Reason: "can't prepare data directory", Err: err})
	}
	manager.mu.Lock()
	if dd.Persist {
		dd.PriorRuns = manager.persistentRuns[dd.Target]
	}
	manager.mu.Unlock()
	sc.dd = dd

	if manager.env.ResultsDir != "" {
		sc.logFile = filepath.Join("logs", fmt.Sprintf("%d-%s-%s.log", time.Now().Unix(), id, pathComponent(cfg.Label)))
	}
	proc, err := manager.startNode(ctx, sc, StartOptions{})
	if err != nil {
		return id, nil, manager.spawnFailed(sc, err)
	}

	manager.mu.Lock()
	sc.result.moveTo(StateReady)
	manager.mu.Unlock()
	log.Debug("node ready", "id", proc.ID, "datadir", dd.Path, "reused", dd.Reused)
	return id, proc, nil
}

// startNode launches the node of sc. Any handle returned by the backend is kept, so that
// teardown reaches it even when the start failed.
func (manager *Manager) startNode(ctx context.Context, sc *scenario, opt StartOptions) (*ProcessInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, manager.env.startTimeout())
	defer cancel()

	opt.DataDir = sc.dd
	if sc.logFile != "" {
		opt.LogFile = filepath.Join(manager.env.ResultsDir, sc.logFile)
	}
	proc, err := manager.backend.Start(ctx, manager.def, sc.cfg, opt)

	sc.procMu.Lock()
	defer sc.procMu.Unlock()
	if sc.ended {
		if proc != nil {
			manager.log.Warn("stopping node started after teardown", "scenario", sc.cfg.Label, "id", proc.ID)
			if stopErr := manager.backend.Stop(proc.ID); stopErr != nil && !errors.Is(stopErr, ErrNoSuchProcess) {
				manager.log.Error("can't stop late node", "scenario", sc.cfg.Label, "id", proc.ID, "err", stopErr)
			}
		}
		return nil, &SpawnError{Label: sc.cfg.Label, Reason: "scenario ended during start", Err: ErrNoSuchScenario}
	}
	if proc != nil {
		sc.proc = proc
		sc.stopped = false
		sc.result.Process = &ProcessSummary{
			ID:      proc.ID,
			PID:     proc.PID,
			DataDir: sc.dd.Path,
			IPCPath: proc.IPCPath,
			LogFile: sc.logFile,
			Reused:  sc.dd.Reused,

			ChainState: sc.dd.ChainState,
		}
	}
	if err != nil {
		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) {
			err = &SpawnError{Label: sc.cfg.Label, Reason: "backend error", Err: err}
		}
		return nil, err
	}
	return proc, nil
}

func (manager *Manager) spawnFailed(sc *scenario, err error) error {
	manager.log.Error("scenario failed to start", "scenario", sc.cfg.Label, "err", err)
	manager.mu.Lock()
	sc.result.Spawn = NewFailure(err)
	manager.mu.Unlock()
	if stopErr := manager.stopNode(sc); stopErr != nil {
		manager.recordTeardown(sc, stopErr)
	}
	return err
}

// stopNode stops the current node of sc. The backend sees at most one Stop per handle.
func (manager *Manager) stopNode(sc *scenario) error {
	sc.procMu.Lock()
	defer sc.procMu.Unlock()

	if sc.proc == nil || sc.stopped {
		return nil
	}
	sc.stopped = true
	err := manager.backend.Stop(sc.proc.ID)
	if errors.Is(err, ErrNoSuchProcess) {
		return nil
	}
	return err
}

func (manager *Manager) recordTeardown(sc *scenario, err error) {
	manager.log.Error("scenario teardown failed", "scenario", sc.cfg.Label, "err", err)
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if sc.result.Teardown == nil {
		sc.result.Teardown = NewFailure(&TeardownError{Label: sc.cfg.Label, Err: err})
	}
}

// Process returns the current node of an active scenario.
func (manager *Manager) Process(id ScenarioID) (*ProcessInfo, error) {
	sc, err := manager.lookup(id)
	if err != nil {
		return nil, err
	}
	sc.procMu.Lock()
	defer sc.procMu.Unlock()
	if sc.proc == nil || sc.stopped {
		return nil, ErrNoSuchProcess
	}
	return sc.proc, nil
}

// DataDir returns the data directory of an active scenario.
func (manager *Manager) DataDir(id ScenarioID) (*DataDir, error) {
	sc, err := manager.lookup(id)
	if err != nil {
		return nil, err
	}
	if sc.dd == nil {
		return nil, ErrNoSuchProcess
	}
	return sc.dd, nil
}

func (manager *Manager) lookup(id ScenarioID) (*scenario, error) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if manager.active == nil || manager.active.result.ID != id {
		return nil, ErrNoSuchScenario
	}
	return manager.active, nil
}

// Restart stops the node of a started scenario and launches it again on the same data
// directory. The ready marker of opt replaces the default one for this start.
func (manager *Manager) Restart(ctx context.Context, id ScenarioID, opt StartOptions) (*ProcessInfo, error) {
	sc, err := manager.lookup(id)
	if err != nil {
		return nil, err
	}
	manager.mu.Lock()
	state := sc.result.State()
	manager.mu.Unlock()
	if state != StateReady && state != StateRunning {
		return nil, fmt.Errorf("%w: restart in state %s", ErrInvalidTransition, state)
	}

	manager.log.Info("restarting node", "scenario", sc.cfg.Label)
	if err := manager.stopNode(sc); err != nil {
		return nil, &TeardownError{Label: sc.cfg.Label, Err: err}
	}
	manager.mu.Lock()
	if manager.active != sc {
		manager.mu.Unlock()
		return nil, ErrNoSuchScenario
	}
	sc.result.Restarts++
	manager.mu.Unlock()
	return manager.startNode(ctx, sc, opt)
}

// StartAssertion starts an assertion in an active scenario. Only one assertion can run
// at a time.
func (manager *Manager) StartAssertion(id ScenarioID, name, description string) (AssertionID, error) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	sc := manager.active
	if sc == nil || sc.result.ID != id {
		return 0, ErrNoSuchScenario
	}
	if len(sc.running) > 0 {
		return 0, ErrAssertionRunning
	}
	if sc.result.State() == StateReady {
		sc.result.moveTo(StateRunning)
	}
	if state := sc.result.State(); state != StateRunning {
		return 0, fmt.Errorf("%w: assertion in state %s", ErrInvalidTransition, state)
	}
	manager.assertionCounter++
	aid := AssertionID(manager.assertionCounter)
	ac := &AssertionCase{Name: name, Description: description, Start: time.Now()}
	sc.result.Assertions[aid] = ac
	sc.running[aid] = ac
	return aid, nil
}

// EndAssertion records the result of a running assertion.
func (manager *Manager) EndAssertion(id ScenarioID, aid AssertionID, result *AssertionResult) error {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	sc := manager.active
	if sc == nil || sc.result.ID != id {
		return ErrNoSuchScenario
	}
	ac, ok := sc.running[aid]
	if !ok {
		return ErrNoSuchAssertion
	}
	if result == nil {
		return ErrNoSummaryResult
	}
	ac.End = time.Now()
	ac.Result = *result
	delete(sc.running, aid)
	return nil
}

// EndScenario tears the active scenario down: running assertions are failed, the node is
// stopped and non-persistent data is removed. Teardown failures are recorded in the
// scenario result and do not cause an error.
func (manager *Manager) EndScenario(id ScenarioID) error {
	return manager.endScenario(id, "scenario ended while assertion was running")
}

func (manager *Manager) endScenario(id ScenarioID, reason string) error {
	manager.mu.Lock()
	sc := manager.active
	if sc == nil || sc.result.ID != id {
		manager.mu.Unlock()
		return ErrNoSuchScenario
	}
	for aid, ac := range sc.running {
		ac.End = time.Now()
		ac.Result = AssertionResult{Pass: false, Details: reason}
		delete(sc.running, aid)
	}
	sc.result.moveTo(StateStopping)
	manager.mu.Unlock()

	sc.procMu.Lock()
	sc.ended = true
	sc.procMu.Unlock()
	if err := manager.stopNode(sc); err != nil {
		manager.recordTeardown(sc, err)
	}
	if sc.dd != nil {
		if err := sc.dd.Cleanup(); err != nil {
			manager.recordTeardown(sc, err)
		}
	}

	manager.mu.Lock()
	if sc.dd != nil && sc.dd.Persist && sc.result.Spawn == nil {
		manager.persistentRuns[sc.dd.Target]++
	}
	sc.result.moveTo(StateDone)
	manager.results[id] = sc.result
	manager.active = nil
	manager.mu.Unlock()

	if manager.env.ResultsDir != "" {
		file, err := WriteResults(manager.env.ResultsDir, sc.result)
		if err != nil {
			manager.log.Warn("can't write scenario result", "scenario", sc.cfg.Label, "err", err)
		} else {
			manager.log.Debug("wrote scenario result", "file", file)
		}
	}
	manager.log.Info("scenario ended", "scenario", sc.cfg.Label, "failed", sc.result.Failed())
	return nil
}

// Terminate ends the active scenario, if any. Running assertions are marked as failed.
// It can be called as a cleanup method.
func (manager *Manager) Terminate() error {
	manager.mu.Lock()
	sc := manager.active
	manager.mu.Unlock()
	if sc == nil {
		return nil
	}
	err := manager.endScenario(sc.result.ID, "scenario was terminated by host")
	if errors.Is(err, ErrNoSuchScenario) {
		return nil
	}
	return err
}
