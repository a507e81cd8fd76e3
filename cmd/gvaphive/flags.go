package main

import (
	"github.com/urfave/cli/v2"
	"github.com/vaporyco/gvaphive/gvapsim"
	"github.com/vaporyco/gvaphive/internal/libgvap"
	"github.com/vaporyco/gvaphive/internal/libproc"
)

var (
	clientFlag = &cli.StringFlag{
		Name:    "client",
		Usage:   "Name of the node client under test",
		Value:   "gvap",
		EnvVars: []string{"GVAPHIVE_CLIENT"},
	}
	clientFileFlag = &cli.StringFlag{
		Name:    "client-file",
		Usage:   "YAML file with client definitions, merged over the built-in clients",
		EnvVars: []string{"GVAPHIVE_CLIENT_FILE"},
	}
	backendFlag = &cli.StringFlag{
		Name:    "backend",
		Usage:   "How nodes are run: 'process' or 'docker'",
		Value:   "process",
		EnvVars: []string{"GVAPHIVE_BACKEND"},
	}
	dockerEndpointFlag = &cli.StringFlag{
		Name:    "docker-endpoint",
		Usage:   "Endpoint of the docker daemon (default: from environment)",
		EnvVars: []string{"DOCKER_HOST"},
	}
	dockerPullFlag = &cli.BoolFlag{
		Name:  "docker-pull",
		Usage: "Pull client images which are not available locally",
	}
	dockerAuthFlag = &cli.BoolFlag{
		Name:  "docker-auth",
		Usage: "Authenticate image pulls with the credential helpers of the docker config",
	}
	matrixFlag = &cli.StringFlag{
		Name:  "matrix",
		Usage: "YAML file overriding network parameters and scenarios",
	}
	constrainedFlag = &cli.BoolFlag{
		Name:  "constrained",
		Usage: "Skip scenarios and assertions needing network access (also set by CONTINUOUS_INTEGRATION or CI)",
	}
	homeFlag = &cli.StringFlag{
		Name:    "home",
		Usage:   "Home directory holding the data directory symlink",
		EnvVars: []string{"HOME"},
	}
	workdirFlag = &cli.StringFlag{
		Name:  "workdir",
		Usage: "Directory for node data directories",
		Value: "workspace/data",
	}
	resultsRootFlag = &cli.StringFlag{
		Name:  "results-root",
		Usage: "Directory receiving result files and node logs",
		Value: "workspace/results",
	}
	simLimitFlag = &cli.StringFlag{
		Name:  "sim.limit",
		Usage: "Regular expression selecting scenarios and assertions ('scenario/assertion')",
	}
	startTimeoutFlag = &cli.DurationFlag{
		Name:  "start-timeout",
		Usage: "Time a node gets to become ready",
		Value: libgvap.DefaultStartTimeout,
	}
	rpcTimeoutFlag = &cli.DurationFlag{
		Name:  "rpc-timeout",
		Usage: "Timeout of a single RPC request",
		Value: gvapsim.DefaultRPCTimeout,
	}
	assertionTimeoutFlag = &cli.DurationFlag{
		Name:  "assertion-timeout",
		Usage: "Time an assertion may run",
		Value: gvapsim.DefaultAssertionTimeout,
	}
	killTimeoutFlag = &cli.DurationFlag{
		Name:  "kill-timeout",
		Usage: "Grace period between interrupting and killing a node",
		Value: libproc.DefaultKillTimeout,
	}
	nodeOutputFlag = &cli.BoolFlag{
		Name:  "node-output",
		Usage: "Copy node output to stderr",
	}
	logLevelFlag = &cli.IntFlag{
		Name:  "loglevel",
		Usage: "Log level for harness output (0-4)",
		Value: 3,
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Also write logs to this file, rotating it by size",
	}
	logFileSizeFlag = &cli.IntFlag{
		Name:  "log.maxsize",
		Usage: "Maximum size in megabytes of the log file before it is rotated",
		Value: 100,
	}
	envFileFlag = &cli.StringFlag{
		Name:  "env-file",
		Usage: "File of KEY=value lines loaded into the environment before flags are read",
	}
)

var appFlags = []cli.Flag{
	clientFlag,
	clientFileFlag,
	backendFlag,
	dockerEndpointFlag,
	dockerPullFlag,
	dockerAuthFlag,
	matrixFlag,
	constrainedFlag,
	homeFlag,
	workdirFlag,
	resultsRootFlag,
	simLimitFlag,
	startTimeoutFlag,
	rpcTimeoutFlag,
	assertionTimeoutFlag,
	killTimeoutFlag,
	nodeOutputFlag,
	logLevelFlag,
	logFileFlag,
	logFileSizeFlag,
	envFileFlag,
}
