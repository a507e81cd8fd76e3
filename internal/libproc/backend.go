// Package libproc runs nodes as local processes.
package libproc

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vaporyco/gvaphive/internal/libgvap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/inconshreveable/log15.v2"
)

// DefaultKillTimeout is how long a node may take to exit after SIGINT.
const DefaultKillTimeout = 10 * time.Second

// Config is the configuration of the process backend.
type Config struct {
	Logger log15.Logger

	// KillTimeout is the grace period between SIGINT and SIGKILL.
	KillTimeout time.Duration

	// If set, node output is copied here, prefixed with the process id.
	NodeOutput io.Writer
}

// Backend supervises node processes on the local machine.
type Backend struct {
	config Config
	logger log15.Logger

	mu    sync.Mutex
	procs map[string]*process
}

type process struct {
	id     string
	cmd    *exec.Cmd
	logger log15.Logger
	exited chan struct{}
	err    error // exit status, valid after exited is closed
}

var _ = libgvap.Backend(&Backend{})

// NewBackend creates a process backend.
func NewBackend(cfg Config) *Backend {
	b := &Backend{config: cfg, logger: cfg.Logger, procs: make(map[string]*process)}
	if b.logger == nil {
		b.logger = log15.Root()
	}
	if b.config.KillTimeout <= 0 {
		b.config.KillTimeout = DefaultKillTimeout
	}
	return b
}

// Start launches the node binary of def and waits for its ready marker. The process is
// not bound to ctx: ctx only limits the wait for readiness.
func (b *Backend) Start(ctx context.Context, def *libgvap.ClientDefinition, cfg libgvap.ScenarioConfig, opt libgvap.StartOptions) (*libgvap.ProcessInfo, error) {
	spawnErr := func(reason string, err error) error {
		return &libgvap.SpawnError{Label: cfg.Label, Reason: reason, Err: err}
	}
	if def.Binary == "" {
		return nil, spawnErr("client has no binary", nil)
	}
	if opt.DataDir == nil {
		return nil, spawnErr("no data directory", nil)
	}

	cmd := exec.Command(def.Binary, cfg.Args(def, opt.DataDir.Path)...)
	cmd.Env = append(os.Environ(), envList(def.Env)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, spawnErr("can't create pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, spawnErr("can't create pipe", err)
	}
	var logfile *os.File
	if opt.LogFile != "" {
		if logfile, err = openLog(opt.LogFile); err != nil {
			return nil, spawnErr("can't open log file", err)
		}
	}

	logger := b.logger.New("client", def.Name, "scenario", cfg.Label)
	logger.Debug("starting node", "binary", def.Binary, "args", cmd.Args[1:])
	if err := cmd.Start(); err != nil {
		if logfile != nil {
			logfile.Close()
		}
		return nil, spawnErr("can't execute node", err)
	}

	p := &process{
		id:     strconv.Itoa(cmd.Process.Pid),
		cmd:    cmd,
		logger: logger.New("pid", cmd.Process.Pid),
		exited: make(chan struct{}),
	}
	hub := libgvap.NewOutputHub()
	info := &libgvap.ProcessInfo{
		ID:        p.id,
		PID:       cmd.Process.Pid,
		Client:    def.Name,
		DataDir:   opt.DataDir,
		IPCPath:   def.IPCPath(opt.DataDir.Path),
		LogFile:   opt.LogFile,
		StartedAt: time.Now(),
		Output:    hub,
		Wait:      func() { <-p.exited },
	}
	b.mu.Lock()
	b.procs[p.id] = p
	b.mu.Unlock()

	go b.pump(p, hub, logfile, stdout, stderr)

	err = hub.WaitFor(ctx, opt.ReadyStream, opt.Marker(def))
	switch {
	case err == nil:
		p.logger.Debug("node ready", "time", time.Since(info.StartedAt))
		return info, nil
	case errors.Is(err, libgvap.ErrOutputClosed):
		<-p.exited
		return info, spawnErr("node exited before it was ready", p.err)
	default:
		return info, spawnErr("no ready marker", err)
	}
}

// pump copies node output until both streams are closed, then reaps the process.
func (b *Backend) pump(p *process, hub *libgvap.OutputHub, logfile *os.File, stdout, stderr io.Reader) {
	var (
		sinks   []io.Writer
		closers []io.Closer
	)
	if logfile != nil {
		sinks = append(sinks, &libgvap.LockedWriter{W: logfile})
		closers = append(closers, logfile)
	}
	if b.config.NodeOutput != nil {
		prefixer := libgvap.NewPrefixWriter(b.config.NodeOutput, fmt.Sprintf("[%s] ", p.id))
		sinks = append(sinks, prefixer)
		closers = append([]io.Closer{prefixer}, closers...)
	}
	copyStream := func(r io.Reader, s libgvap.OutputStream) func() error {
		return func() error {
			w := io.MultiWriter(append([]io.Writer{hub.Writer(s)}, sinks...)...)
			_, err := io.Copy(w, r)
			return err
		}
	}

	var g errgroup.Group
	g.Go(copyStream(stdout, libgvap.Stdout))
	g.Go(copyStream(stderr, libgvap.Stderr))
	if err := g.Wait(); err != nil {
		p.logger.Debug("node output copy failed", "err", err)
	}
	p.err = p.cmd.Wait()
	hub.Close()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			p.logger.Error("failed to close node log", "err", err)
		}
	}
	p.logger.Debug("node exited", "err", p.err)
	close(p.exited)
}

// Stop interrupts a node and kills it if it does not exit in time.
func (b *Backend) Stop(id string) error {
	b.mu.Lock()
	p, ok := b.procs[id]
	delete(b.procs, id)
	b.mu.Unlock()
	if !ok {
		return libgvap.ErrNoSuchProcess
	}

	select {
	case <-p.exited:
		return nil
	default:
	}
	p.logger.Debug("stopping node")
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("can't interrupt node", "err", err)
	}
	timer := time.NewTimer(b.config.KillTimeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
		p.logger.Warn("node did not exit in time, killing it", "timeout", b.config.KillTimeout)
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "can't kill node")
	}
	<-p.exited
	return nil
}

// Running returns the ids of all nodes which have not been stopped.
func (b *Backend) Running() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.procs))
	for id := range b.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func openLog(file string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, errors.Wrap(err, "can't create log directory")
	}
	return os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
}

func envList(env map[string]string) []string {
	vars := make([]string, 0, len(env))
	for k, v := range env {
		vars = append(vars, k+"="+v)
	}
	sort.Strings(vars)
	return vars
}
