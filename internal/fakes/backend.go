package fakes

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vaporyco/gvaphive/internal/libgvap"
)

// BackendHooks can be used to override the behavior of the fake backend.
type BackendHooks struct {
	Start func(def *libgvap.ClientDefinition, cfg libgvap.ScenarioConfig, opt libgvap.StartOptions) (*libgvap.ProcessInfo, error)
	Stop  func(id string) error

	// Node can modify the configuration of in-process nodes before they start.
	Node func(cfg *NodeConfig)
}

var _ = libgvap.Backend(&Backend{})

// Backend implements libgvap.Backend by running fake nodes in-process.
type Backend struct {
	hooks BackendHooks

	mu        sync.Mutex
	counter   uint64
	nodes     map[string]*fakeProcess
	starts    []string
	stopCalls map[string]int
}

type fakeProcess struct {
	node *Node
	out  *libgvap.OutputHub
}

// NewBackend creates a new fake backend.
func NewBackend(hooks *BackendHooks) *Backend {
	b := &Backend{
		nodes:     make(map[string]*fakeProcess),
		stopCalls: make(map[string]int),
	}
	if hooks != nil {
		b.hooks = *hooks
	}
	return b
}

// Start launches an in-process node from the command line the scenario produces.
func (b *Backend) Start(ctx context.Context, def *libgvap.ClientDefinition, cfg libgvap.ScenarioConfig, opt libgvap.StartOptions) (*libgvap.ProcessInfo, error) {
	if b.hooks.Start != nil {
		info, err := b.hooks.Start(def, cfg, opt)
		b.mu.Lock()
		if info != nil {
			b.starts = append(b.starts, info.ID)
		}
		b.mu.Unlock()
		return info, err
	}

	b.mu.Lock()
	b.counter++
	id := fmt.Sprintf("%0.8x", b.counter)
	b.mu.Unlock()

	nodeCfg := ParseNodeArgs(cfg.Args(def, opt.DataDir.Path))
	nodeCfg.IPCPath = def.IPCPath(opt.DataDir.Path)
	if def.VersionToken != "" {
		nodeCfg.Version = def.VersionToken + "/v1.5.0-fake/linux/go1.18"
	}
	if b.hooks.Node != nil {
		b.hooks.Node(&nodeCfg)
	}
	out := libgvap.NewOutputHub()
	node, err := StartNode(nodeCfg, out.Writer(libgvap.Stderr))
	if err != nil {
		out.Close()
		return nil, &libgvap.SpawnError{Label: cfg.Label, Reason: "node exited", Err: err}
	}
	info := &libgvap.ProcessInfo{
		ID:        id,
		PID:       os.Getpid(),
		Client:    def.Name,
		DataDir:   opt.DataDir,
		IPCPath:   nodeCfg.IPCPath,
		StartedAt: time.Now(),
		Output:    out,
		Wait:      node.Wait,
	}
	b.mu.Lock()
	b.nodes[id] = &fakeProcess{node: node, out: out}
	b.starts = append(b.starts, id)
	b.mu.Unlock()

	if err := out.WaitFor(ctx, opt.ReadyStream, opt.Marker(def)); err != nil {
		return info, &libgvap.SpawnError{Label: cfg.Label, Reason: "node did not become ready", Err: err}
	}
	return info, nil
}

// Stop closes a node.
func (b *Backend) Stop(id string) error {
	b.mu.Lock()
	b.stopCalls[id]++
	p, ok := b.nodes[id]
	delete(b.nodes, id)
	b.mu.Unlock()

	if b.hooks.Stop != nil {
		return b.hooks.Stop(id)
	}
	if !ok {
		return libgvap.ErrNoSuchProcess
	}
	p.node.Close()
	p.out.Close()
	return nil
}

// Started returns the ids of all started nodes in start order.
func (b *Backend) Started() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.starts...)
}

// StopCalls returns how often Stop was called for id.
func (b *Backend) StopCalls(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopCalls[id]
}

// Running returns the number of nodes which have not been stopped.
func (b *Backend) Running() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}
