package libdocker

import (
	"encoding/json"
	"os"
	"path/filepath"

	docker "github.com/fsouza/go-dockerclient"
)

// Authenticator supplies registry credentials for image pulls.
type Authenticator interface {
	AuthConfig(registry string) docker.AuthConfiguration
}

// NewAuthenticator returns a credential-helper authenticator if requested, and one
// without credentials otherwise.
func NewAuthenticator(useCredentialHelper bool) (Authenticator, error) {
	if !useCredentialHelper {
		return NullAuthenticator{}, nil
	}
	configs, err := credHelperConfigs()
	return CredHelperAuthenticator{configs}, err
}

// NullAuthenticator returns empty credentials.
type NullAuthenticator struct{}

func (NullAuthenticator) AuthConfig(registry string) (a docker.AuthConfiguration) { return }

// CredHelperAuthenticator resolves credentials through the helpers listed in the
// docker config file.
type CredHelperAuthenticator struct {
	configs map[string]docker.AuthConfiguration
}

func (c CredHelperAuthenticator) AuthConfig(registry string) docker.AuthConfiguration {
	return c.configs[registry]
}

func credHelperConfigs() (map[string]docker.AuthConfiguration, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(home, ".docker", "config.json"))
	if err != nil {
		return nil, err
	}
	var file struct {
		CredHelpers map[string]string `json:"credHelpers"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	configs := make(map[string]docker.AuthConfiguration)
	for registry := range file.CredHelpers {
		auth, err := docker.NewAuthConfigurationsFromCredsHelpers(registry)
		if err != nil {
			return configs, err
		}
		configs[registry] = *auth
	}
	return configs, nil
}
