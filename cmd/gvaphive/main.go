// The gvaphive command runs the RPC test matrix against a Gvap/Geth node client.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"github.com/vaporyco/gvaphive/gvapsim"
	"github.com/vaporyco/gvaphive/internal/libdocker"
	"github.com/vaporyco/gvaphive/internal/libgvap"
	"github.com/vaporyco/gvaphive/internal/libproc"
	"github.com/vaporyco/gvaphive/internal/suites/rpcsuite"
	"gopkg.in/inconshreveable/log15.v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

var app = &cli.App{
	Name:   "gvaphive",
	Usage:  "drives a node client through the configuration matrix and checks its JSON-RPC API",
	Flags:  appFlags,
	Action: run,
}

func main() {
	if file := envFileArg(os.Args[1:]); file != "" {
		if err := godotenv.Load(file); err != nil {
			fmt.Fprintln(os.Stderr, "can't load env file:", err)
			os.Exit(2)
		}
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envFileArg finds the --env-file flag. The file must be loaded before the flags are
// parsed, so that variables from it serve as flag defaults.
func envFileArg(args []string) string {
	for i, arg := range args {
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if strings.HasPrefix(name, envFileFlag.Name+"=") {
			return strings.TrimPrefix(name, envFileFlag.Name+"=")
		}
		if name == envFileFlag.Name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func run(ctx *cli.Context) error {
	closeLog, err := setupLogging(ctx)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	constrained := ctx.Bool(constrainedFlag.Name) || gvapsim.ConstrainedFromEnv()
	inv, err := libgvap.LoadInventory(ctx.String(clientFileFlag.Name))
	if err != nil {
		return err
	}
	def, err := inv.Lookup(ctx.String(clientFlag.Name))
	if err != nil {
		return err
	}

	params := gvapsim.DefaultNetworkParams(ctx.String(homeFlag.Name))
	var matrix *gvapsim.Matrix
	if file := ctx.String(matrixFlag.Name); file != "" {
		matrix, params, err = gvapsim.LoadMatrix(file, params, constrained)
		if err != nil {
			return err
		}
	} else {
		matrix = gvapsim.BuildMatrix(params, constrained)
	}

	backend, err := newBackend(ctx)
	if err != nil {
		return err
	}

	resultsDir := ctx.String(resultsRootFlag.Name)
	libgvap.WriteInstanceInfo(resultsDir, libgvap.Instance{Client: def.Name, Constrained: constrained})

	sim := gvapsim.New(backend, def, gvapsim.SimEnv{
		RunEnv: libgvap.RunEnv{
			WorkDir:      ctx.String(workdirFlag.Name),
			ResultsDir:   resultsDir,
			StartTimeout: ctx.Duration(startTimeoutFlag.Name),
			Logger:       log15.Root(),
		},
		Constrained:      constrained,
		RPCTimeout:       ctx.Duration(rpcTimeoutFlag.Name),
		AssertionTimeout: ctx.Duration(assertionTimeoutFlag.Name),
	})
	if err := sim.SetTestPattern(ctx.String(simLimitFlag.Name)); err != nil {
		return fmt.Errorf("invalid --%s: %v", simLimitFlag.Name, err)
	}
	defer sim.Manager().Terminate()

	runCtx, cancel := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log15.Info("running matrix", "client", def.Name, "scenarios", matrix.Len(), "constrained", constrained)
	result, err := sim.RunMatrix(runCtx, matrix, rpcsuite.New(params))
	printSummary(os.Stdout, sim.Results(), result)
	if err != nil {
		if err == context.Canceled {
			return cli.Exit("interrupted", 130)
		}
		return err
	}
	if result.Failed() {
		return cli.Exit(fmt.Sprintf("%d of %d scenarios failed", result.ScenariosFailed, result.Scenarios), 1)
	}
	return nil
}

func newBackend(ctx *cli.Context) (libgvap.Backend, error) {
	var nodeOutput io.Writer
	if ctx.Bool(nodeOutputFlag.Name) {
		nodeOutput = os.Stderr
	}
	switch kind := ctx.String(backendFlag.Name); kind {
	case "process":
		return libproc.NewBackend(libproc.Config{
			Logger:      log15.Root(),
			KillTimeout: ctx.Duration(killTimeoutFlag.Name),
			NodeOutput:  nodeOutput,
		}), nil
	case "docker":
		b, err := libdocker.Connect(ctx.String(dockerEndpointFlag.Name), &libdocker.Config{
			Logger:              log15.Root(),
			PullEnabled:         ctx.Bool(dockerPullFlag.Name),
			UseCredentialHelper: ctx.Bool(dockerAuthFlag.Name),
			KillTimeout:         ctx.Duration(killTimeoutFlag.Name),
			NodeOutput:          nodeOutput,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// setupLogging installs the root log handler. The returned closer releases the log file.
func setupLogging(ctx *cli.Context) (io.Closer, error) {
	lvl := log15.Lvl(ctx.Int(logLevelFlag.Name))
	if lvl < log15.LvlCrit || lvl > log15.LvlDebug {
		return nil, fmt.Errorf("invalid --%s %d", logLevelFlag.Name, lvl)
	}
	handler := log15.StreamHandler(os.Stderr, log15.TerminalFormat())
	var closer io.Closer = nopCloser{}
	if file := ctx.String(logFileFlag.Name); file != "" {
		rotating := &lumberjack.Logger{
			Filename: file,
			MaxSize:  ctx.Int(logFileSizeFlag.Name),
			Compress: true,
		}
		handler = log15.MultiHandler(handler, log15.StreamHandler(rotating, log15.LogfmtFormat()))
		closer = rotating
	}
	log15.Root().SetHandler(log15.LvlFilterHandler(lvl, handler))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
