package libdocker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/pkg/errors"
	"github.com/vaporyco/gvaphive/internal/libgvap"
	"gopkg.in/inconshreveable/log15.v2"
)

const defaultKillTimeout = 10 * time.Second

// Backend runs nodes in docker containers. Containers use the host network and see the
// scenario data directory at the same path as the host, so the IPC socket is reachable
// from the harness.
type Backend struct {
	client *docker.Client
	config *Config
	auth   Authenticator
	logger log15.Logger

	mu         sync.Mutex
	containers map[string]*container
}

type container struct {
	id     string
	logger log15.Logger
	exited chan struct{}
}

var _ = libgvap.Backend(&Backend{})

// NewBackend creates a docker backend.
func NewBackend(c *docker.Client, cfg *Config, auth Authenticator) *Backend {
	b := &Backend{client: c, config: cfg, auth: auth, logger: cfg.Logger, containers: make(map[string]*container)}
	if b.logger == nil {
		b.logger = log15.Root()
	}
	if b.auth == nil {
		b.auth = NullAuthenticator{}
	}
	return b
}

// Start creates and starts a node container, then waits for its ready marker.
func (b *Backend) Start(ctx context.Context, def *libgvap.ClientDefinition, cfg libgvap.ScenarioConfig, opt libgvap.StartOptions) (*libgvap.ProcessInfo, error) {
	spawnErr := func(reason string, err error) error {
		return &libgvap.SpawnError{Label: cfg.Label, Reason: reason, Err: err}
	}
	if def.Image == "" {
		return nil, spawnErr("client has no image", nil)
	}
	if opt.DataDir == nil {
		return nil, spawnErr("no data directory", nil)
	}
	if err := b.ensureImage(ctx, def.Image); err != nil {
		return nil, spawnErr("image not available", err)
	}

	vars := []string{}
	for key, val := range def.Env {
		vars = append(vars, key+"="+val)
	}
	c, err := b.client.CreateContainer(docker.CreateContainerOptions{
		Context: ctx,
		Config: &docker.Config{
			Image: def.Image,
			Cmd:   cfg.Args(def, opt.DataDir.Path),
			Env:   vars,
			User:  fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		},
		HostConfig: &docker.HostConfig{
			NetworkMode: "host",
			Binds:       []string{opt.DataDir.Target + ":" + opt.DataDir.Path},
		},
	})
	if err != nil {
		return nil, spawnErr("can't create container", err)
	}
	ct := &container{
		id:     c.ID,
		logger: b.logger.New("client", def.Name, "scenario", cfg.Label, "container", c.ID[:8]),
		exited: make(chan struct{}),
	}
	b.mu.Lock()
	b.containers[ct.id] = ct
	b.mu.Unlock()

	hub := libgvap.NewOutputHub()
	info := &libgvap.ProcessInfo{
		ID:        ct.id,
		Client:    def.Name,
		DataDir:   opt.DataDir,
		IPCPath:   def.IPCPath(opt.DataDir.Path),
		LogFile:   opt.LogFile,
		StartedAt: time.Now(),
		Output:    hub,
		Wait:      func() { <-ct.exited },
	}
	waiter, err := b.runContainer(ctx, ct, hub, opt.LogFile)
	if err != nil {
		hub.Close()
		close(ct.exited)
		return info, spawnErr("container did not start", err)
	}
	go func() {
		defer close(ct.exited)
		err := waiter.Wait()
		waiter.Close()
		hub.Close()
		ct.logger.Debug("container exited", "err", err)
	}()

	err = hub.WaitFor(ctx, opt.ReadyStream, opt.Marker(def))
	switch {
	case err == nil:
		ct.logger.Debug("container online", "time", time.Since(info.StartedAt))
		return info, nil
	case errors.Is(err, libgvap.ErrOutputClosed):
		return info, spawnErr("container exited before it was ready", nil)
	default:
		return info, spawnErr("no ready marker", err)
	}
}

// ensureImage checks that image exists locally, pulling it if enabled.
func (b *Backend) ensureImage(ctx context.Context, image string) error {
	_, err := b.client.InspectImage(image)
	if err == nil {
		return nil
	}
	if err != docker.ErrNoSuchImage || !b.config.PullEnabled {
		return err
	}
	repo, tag := docker.ParseRepositoryTag(image)
	if tag == "" {
		tag = "latest"
	}
	b.logger.Info("pulling image", "image", image)
	opts := docker.PullImageOptions{Context: ctx, Repository: repo, Tag: tag}
	return errors.Wrap(b.client.PullImage(opts, b.auth.AuthConfig(registryOf(repo))), "pull failed")
}

// runContainer attaches to the output streams of a created container, then starts it.
func (b *Backend) runContainer(ctx context.Context, ct *container, hub *libgvap.OutputHub, logfile string) (docker.CloseWaiter, error) {
	closer := newFileCloser(ct.logger)
	stdout := []io.Writer{hub.Writer(libgvap.Stdout)}
	stderr := []io.Writer{hub.Writer(libgvap.Stderr)}
	if logfile != "" {
		if err := os.MkdirAll(filepath.Dir(logfile), 0755); err != nil {
			return nil, err
		}
		log, err := os.OpenFile(logfile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		closer.addFile(log)
		lw := &libgvap.LockedWriter{W: log}
		stdout = append(stdout, lw)
		stderr = append(stderr, lw)
	}
	if b.config.NodeOutput != nil {
		prefixer := libgvap.NewPrefixWriter(b.config.NodeOutput, fmt.Sprintf("[%s] ", ct.id[:8]))
		closer.addFile(prefixer)
		stdout = append(stdout, prefixer)
		stderr = append(stderr, prefixer)
	}

	ct.logger.Debug("attaching to container")
	waiter, err := b.client.AttachToContainerNonBlocking(docker.AttachToContainerOptions{
		Container:    ct.id,
		OutputStream: io.MultiWriter(stdout...),
		ErrorStream:  io.MultiWriter(stderr...),
		Stream:       true,
		Stdout:       true,
		Stderr:       true,
	})
	if err != nil {
		closer.closeFiles()
		ct.logger.Error("failed to attach to container", "err", err)
		return nil, err
	}
	closer.w = waiter

	ct.logger.Debug("starting container")
	if err := b.client.StartContainerWithContext(ct.id, nil, ctx); err != nil {
		closer.Close()
		ct.logger.Error("failed to start container", "err", err)
		return nil, err
	}
	return closer, nil
}

// Stop stops and removes a node container.
func (b *Backend) Stop(id string) error {
	b.mu.Lock()
	ct, ok := b.containers[id]
	delete(b.containers, id)
	b.mu.Unlock()
	if !ok {
		return libgvap.ErrNoSuchProcess
	}

	timeout := b.config.KillTimeout
	if timeout <= 0 {
		timeout = defaultKillTimeout
	}
	ct.logger.Debug("stopping container")
	err := b.client.StopContainer(id, uint(timeout/time.Second))
	if _, notRunning := err.(*docker.ContainerNotRunning); notRunning {
		err = nil
	}
	if rmErr := b.client.RemoveContainer(docker.RemoveContainerOptions{ID: id, Force: true}); rmErr != nil {
		ct.logger.Error("can't remove container", "err", rmErr)
		if err == nil {
			err = rmErr
		}
	}
	<-ct.exited
	return errors.Wrap(err, "can't stop container")
}

func registryOf(repo string) string {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			host := repo[:i]
			for _, c := range host {
				if c == '.' || c == ':' {
					return host
				}
			}
			break
		}
	}
	return "docker.io"
}

// fileCloser wraps a docker.CloseWaiter and closes all io.Closer instances held in it,
// after it is done waiting.
type fileCloser struct {
	w         docker.CloseWaiter
	logger    log15.Logger
	closers   []io.Closer
	closeOnce sync.Once
}

func newFileCloser(logger log15.Logger) *fileCloser {
	return &fileCloser{logger: logger}
}

func (w *fileCloser) Wait() error {
	err := w.w.Wait()
	w.closeFiles()
	return err
}

func (w *fileCloser) Close() error {
	err := w.w.Close()
	w.closeFiles()
	return err
}

func (w *fileCloser) addFile(c io.Closer) {
	w.closers = append(w.closers, c)
}

func (w *fileCloser) closeFiles() {
	w.closeOnce.Do(func() {
		for _, closer := range w.closers {
			if err := closer.Close(); err != nil {
				w.logger.Error("failed to close fd", "err", err)
			}
		}
	})
}
