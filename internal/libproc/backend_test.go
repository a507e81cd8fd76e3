package libproc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
	"github.com/vaporyco/gvaphive/internal/fakes"
	"github.com/vaporyco/gvaphive/internal/libgvap"
)

// The test binary doubles as the node binary.
func TestMain(m *testing.M) {
	if os.Getenv(fakes.EnvFakeNode) != "" {
		os.Exit(fakes.NodeMain(os.Args[1:], os.Stderr))
	}
	os.Exit(m.Run())
}

func fakeClient(env map[string]string) *libgvap.ClientDefinition {
	def, _ := libgvap.DefaultInventory().Lookup("gvap")
	def.Binary = os.Args[0]
	def.Env = map[string]string{fakes.EnvFakeNode: "1"}
	for k, v := range env {
		def.Env[k] = v
	}
	return def
}

func prepare(t *testing.T, cfg libgvap.ScenarioConfig) *libgvap.DataDir {
	t.Helper()
	dd, err := libgvap.PrepareDataDir(t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dd.Cleanup() })
	return dd
}

func TestStartStop(t *testing.T) {
	b := NewBackend(Config{})
	def := fakeClient(nil)
	cfg := libgvap.ScenarioConfig{Label: "test", Style: libgvap.StyleOptions, NetworkID: "10101"}
	logfile := filepath.Join(t.TempDir(), "node.log")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	info, err := b.Start(ctx, def, cfg, libgvap.StartOptions{DataDir: prepare(t, cfg), LogFile: logfile})
	require.NoError(t, err)
	require.Equal(t, []string{info.ID}, b.Running())

	// The IPC endpoint is opened right after the ready marker.
	require.NoError(t, info.Output.WaitFor(ctx, libgvap.Stderr, "IPC endpoint opened"))
	client, err := rpc.DialIPC(ctx, info.IPCPath)
	require.NoError(t, err)
	var version string
	require.NoError(t, client.CallContext(ctx, &version, "net_version"))
	require.Equal(t, "10101", version)
	client.Close()

	require.NoError(t, b.Stop(info.ID))
	require.ErrorIs(t, b.Stop(info.ID), libgvap.ErrNoSuchProcess)
	require.Empty(t, b.Running())

	log, err := os.ReadFile(logfile)
	require.NoError(t, err)
	require.Contains(t, string(log), "Starting P2P networking")
	require.Contains(t, string(log), "shutting down")
}

func TestStartFailure(t *testing.T) {
	b := NewBackend(Config{})
	def := fakeClient(map[string]string{fakes.EnvNodeFail: "1"})
	cfg := libgvap.ScenarioConfig{Label: "broken", Style: libgvap.StyleOptions}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	info, err := b.Start(ctx, def, cfg, libgvap.StartOptions{DataDir: prepare(t, cfg)})
	var spawnErr *libgvap.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Contains(t, spawnErr.Reason, "exited")
	require.NotNil(t, info)

	// The process is gone already, stopping it is harmless.
	require.NoError(t, b.Stop(info.ID))
}

func TestStartTimeout(t *testing.T) {
	b := NewBackend(Config{KillTimeout: 5 * time.Second})
	def := fakeClient(map[string]string{fakes.EnvNodeHang: "1"})
	cfg := libgvap.ScenarioConfig{Label: "hang", Style: libgvap.StyleOptions}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := b.Start(ctx, def, cfg, libgvap.StartOptions{DataDir: prepare(t, cfg)})
	require.Error(t, err)
	require.Equal(t, libgvap.FailureSpawn, libgvap.Classify(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, b.Stop(info.ID))
	info.Wait()
}

func TestMissingBinary(t *testing.T) {
	b := NewBackend(Config{})
	def := fakeClient(nil)
	def.Binary = filepath.Join(t.TempDir(), "does-not-exist")
	cfg := libgvap.ScenarioConfig{Label: "missing", Style: libgvap.StyleOptions}

	info, err := b.Start(context.Background(), def, cfg, libgvap.StartOptions{DataDir: prepare(t, cfg)})
	require.Nil(t, info)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "can't execute node"), err.Error())
}

func TestNodeOutputPrefix(t *testing.T) {
	var out strings.Builder
	b := NewBackend(Config{NodeOutput: &libgvap.LockedWriter{W: &out}})
	def := fakeClient(nil)
	cfg := libgvap.ScenarioConfig{Label: "output", Style: libgvap.StyleOptions}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	info, err := b.Start(ctx, def, cfg, libgvap.StartOptions{DataDir: prepare(t, cfg)})
	require.NoError(t, err)
	require.NoError(t, b.Stop(info.ID))

	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		require.True(t, strings.HasPrefix(line, "["+info.ID+"] "), "line %q has no prefix", line)
	}
}
