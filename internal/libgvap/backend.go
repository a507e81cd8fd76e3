package libgvap

import (
	"context"
	"time"
)

// Backend supervises node processes.
type Backend interface {
	// Start launches the node described by def and cfg and returns once the ready marker
	// was seen on the node's output. A start failure is reported as *SpawnError. If the
	// returned ProcessInfo is non-nil, the caller owns it and must call Stop, whether or
	// not an error was returned.
	Start(ctx context.Context, def *ClientDefinition, cfg ScenarioConfig, opt StartOptions) (*ProcessInfo, error)

	// Stop terminates a node and waits for it to exit. It returns ErrNoSuchProcess for
	// unknown or already stopped nodes.
	Stop(id string) error
}

// StartOptions contains the launch parameters of a node.
type StartOptions struct {
	DataDir *DataDir

	// If set, node output is written to this file.
	LogFile string

	// The node is ready when a line of ReadyStream contains ReadyMarker.
	// An empty marker falls back to the client definition.
	ReadyMarker string
	ReadyStream OutputStream
}

// Marker returns the effective ready marker.
func (opt StartOptions) Marker(def *ClientDefinition) string {
	if opt.ReadyMarker != "" {
		return opt.ReadyMarker
	}
	if def.ReadyMarker != "" {
		return def.ReadyMarker
	}
	return DefaultReadyMarker
}

// ProcessInfo is returned by Backend.Start.
type ProcessInfo struct {
	ID        string
	PID       int
	Client    string
	DataDir   *DataDir
	IPCPath   string
	LogFile   string
	StartedAt time.Time

	// Output carries the node's stdout and stderr lines.
	Output *OutputHub

	// Wait returns when the node has exited.
	Wait func()
}
