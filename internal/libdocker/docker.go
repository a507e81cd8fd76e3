// Package libdocker runs nodes shipped as docker images.
package libdocker

import (
	"fmt"
	"io"
	"time"

	docker "github.com/fsouza/go-dockerclient"
	"gopkg.in/inconshreveable/log15.v2"
)

// Config is the configuration of the docker backend.
type Config struct {
	Logger log15.Logger

	// This pulls node images which are not available locally.
	PullEnabled bool

	// This tells the docker client whether to authenticate pulls with credential helpers.
	UseCredentialHelper bool

	// KillTimeout is the grace period given to a stopping container.
	KillTimeout time.Duration

	// If set, container output is copied here, prefixed with the container id.
	NodeOutput io.Writer
}

// Connect creates a backend talking to the docker daemon at dockerEndpoint. An empty
// endpoint selects the daemon configured in the environment.
func Connect(dockerEndpoint string, cfg *Config) (*Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log15.Root()
	}
	var client *docker.Client
	var err error
	if dockerEndpoint == "" {
		client, err = docker.NewClientFromEnv()
	} else {
		client, err = docker.NewClient(dockerEndpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("can't connect to docker: %v", err)
	}
	env, err := client.Version()
	if err != nil {
		return nil, fmt.Errorf("can't get docker version: %v", err)
	}
	logger.Debug("docker daemon online", "version", env.Get("Version"))

	auth, err := NewAuthenticator(cfg.UseCredentialHelper)
	if err != nil {
		return nil, err
	}
	return NewBackend(client, cfg, auth), nil
}
