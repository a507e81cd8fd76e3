package libgvap

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ClientDefinition describes a node binary the harness can drive.
type ClientDefinition struct {
	Name   string            `yaml:"name" json:"name"`
	Binary string            `yaml:"binary,omitempty" json:"binary,omitempty"`
	Image  string            `yaml:"image,omitempty" json:"image,omitempty"`
	Args   []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env    map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	IPCName         string `yaml:"ipc,omitempty" json:"ipc"`
	CoinbaseFlag    string `yaml:"coinbase_flag,omitempty" json:"coinbaseFlag"`
	ProtocolPrefix  string `yaml:"protocol_prefix,omitempty" json:"protocolPrefix"`
	ProtocolVersion string `yaml:"protocol_version,omitempty" json:"protocolVersion"`
	VersionToken    string `yaml:"version_token,omitempty" json:"versionToken"`
	PasswordFile    string `yaml:"password_file,omitempty" json:"-"`

	// Markers are substrings of node output lines.
	ReadyMarker string `yaml:"ready_marker,omitempty" json:"readyMarker"`
	HTTPMarker  string `yaml:"http_marker,omitempty" json:"httpMarker"`
}

const (
	DefaultReadyMarker = "Starting P2P networking"
	DefaultHTTPMarker  = "HTTP endpoint opened"
)

func builtinClients() map[string]*ClientDefinition {
	return map[string]*ClientDefinition{
		"gvap": {
			Name:            "gvap",
			Binary:          "gvap",
			Image:           "vapory/client-go:latest",
			Args:            []string{"--rpc", "--ipcpath", "gvap.ipc"},
			IPCName:         "gvap.ipc",
			CoinbaseFlag:    "vaporbase",
			ProtocolPrefix:  "vap",
			ProtocolVersion: "0x3f",
			VersionToken:    "Gvap",
			ReadyMarker:     DefaultReadyMarker,
			HTTPMarker:      DefaultHTTPMarker,
		},
		"geth": {
			Name:            "geth",
			Binary:          "geth",
			Image:           "ethereum/client-go:v1.8.27",
			Args:            []string{"--rpc", "--ipcpath", "geth.ipc"},
			IPCName:         "geth.ipc",
			CoinbaseFlag:    "etherbase",
			ProtocolPrefix:  "eth",
			ProtocolVersion: "0x3f",
			VersionToken:    "Geth",
			ReadyMarker:     DefaultReadyMarker,
			HTTPMarker:      DefaultHTTPMarker,
		},
	}
}

// Inventory holds the known client definitions.
type Inventory struct {
	Clients map[string]*ClientDefinition
}

// DefaultInventory returns an inventory containing the built-in clients.
func DefaultInventory() *Inventory {
	return &Inventory{Clients: builtinClients()}
}

type inventoryFile struct {
	Clients []ClientDefinition `yaml:"clients"`
}

// LoadInventory reads a clients file and merges it over the built-in definitions.
// Fields left empty in the file keep their built-in value.
func LoadInventory(path string) (*Inventory, error) {
	inv := DefaultInventory()
	if path == "" {
		return inv, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file inventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid clients file %s: %v", path, err)
	}
	for i := range file.Clients {
		def := file.Clients[i]
		if def.Name == "" {
			return nil, fmt.Errorf("invalid clients file %s: client %d has no name", path, i)
		}
		inv.Add(&def)
	}
	return inv, nil
}

// Add merges def into the inventory.
func (inv *Inventory) Add(def *ClientDefinition) {
	base, ok := inv.Clients[def.Name]
	if !ok {
		base = &ClientDefinition{
			Name:           def.Name,
			CoinbaseFlag:   "etherbase",
			ProtocolPrefix: "eth",
			ReadyMarker:    DefaultReadyMarker,
			HTTPMarker:     DefaultHTTPMarker,
		}
		inv.Clients[def.Name] = base
	}
	base.merge(def)
}

// Lookup returns the definition of the named client.
func (inv *Inventory) Lookup(name string) (*ClientDefinition, error) {
	def, ok := inv.Clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownClient, name, inv.Names())
	}
	if def.IPCName == "" {
		def.IPCName = def.Name + ".ipc"
	}
	return def, nil
}

// Names returns the sorted client names.
func (inv *Inventory) Names() []string {
	names := make([]string, 0, len(inv.Clients))
	for name := range inv.Clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (def *ClientDefinition) merge(o *ClientDefinition) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&def.Binary, o.Binary)
	set(&def.Image, o.Image)
	set(&def.IPCName, o.IPCName)
	set(&def.CoinbaseFlag, o.CoinbaseFlag)
	set(&def.ProtocolPrefix, o.ProtocolPrefix)
	set(&def.ProtocolVersion, o.ProtocolVersion)
	set(&def.VersionToken, o.VersionToken)
	set(&def.PasswordFile, o.PasswordFile)
	set(&def.ReadyMarker, o.ReadyMarker)
	set(&def.HTTPMarker, o.HTTPMarker)
	if o.Args != nil {
		def.Args = append([]string(nil), o.Args...)
	}
	for k, v := range o.Env {
		if def.Env == nil {
			def.Env = make(map[string]string)
		}
		def.Env[k] = v
	}
}
