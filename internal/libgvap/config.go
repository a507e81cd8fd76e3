package libgvap

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Style selects how a scenario describes the node command line.
type Style string

const (
	// StyleOptions scenarios use the typed fields of ScenarioConfig.
	StyleOptions Style = "options"
	// StyleFlags scenarios forward the raw Flags mapping verbatim.
	StyleFlags Style = "flags"
)

// ScenarioConfig describes one entry of the configuration matrix.
type ScenarioConfig struct {
	Label string `json:"label" yaml:"label"`
	Style Style  `json:"style" yaml:"style"`

	// Typed options, used by StyleOptions scenarios.
	NetworkID string   `json:"networkId,omitempty" yaml:"networkid,omitempty"`
	Port      int      `json:"port,omitempty" yaml:"port,omitempty"`
	RPCPort   int      `json:"rpcPort,omitempty" yaml:"rpcport,omitempty"`
	Unlock    string   `json:"unlock,omitempty" yaml:"unlock,omitempty"`
	Coinbase  string   `json:"coinbase,omitempty" yaml:"coinbase,omitempty"`
	Bootnodes []string `json:"bootnodes,omitempty" yaml:"bootnodes,omitempty"`

	// These apply to both styles.
	Account string `json:"account,omitempty" yaml:"account,omitempty"`
	Persist bool   `json:"persist,omitempty" yaml:"persist,omitempty"`
	Symlink string `json:"symlink,omitempty" yaml:"symlink,omitempty"`

	// Raw flags, used by StyleFlags scenarios. A nil value is a boolean switch.
	Flags map[string]interface{} `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// Copy returns a deep copy of the configuration.
func (c ScenarioConfig) Copy() ScenarioConfig {
	cpy := c
	if c.Bootnodes != nil {
		cpy.Bootnodes = append([]string(nil), c.Bootnodes...)
	}
	if c.Flags != nil {
		cpy.Flags = make(map[string]interface{}, len(c.Flags))
		for k, v := range c.Flags {
			if list, ok := v.([]string); ok {
				v = append([]string(nil), list...)
			}
			cpy.Flags[k] = v
		}
	}
	return cpy
}

// NetworkIDValue returns the network id regardless of the configuration style.
func (c ScenarioConfig) NetworkIDValue() string {
	if c.Style == StyleFlags {
		if v, ok := c.Flags["networkid"]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	return c.NetworkID
}

// CoinbaseAddress returns the account the node mines to, if the scenario configures one.
func (c ScenarioConfig) CoinbaseAddress() string {
	if c.Account != "" {
		return c.Account
	}
	if c.Style == StyleFlags {
		for _, key := range []string{"vaporbase", "etherbase", "unlock"} {
			if v, ok := c.Flags[key]; ok && v != nil {
				return fmt.Sprint(v)
			}
		}
		return ""
	}
	if c.Coinbase != "" {
		return c.Coinbase
	}
	return c.Unlock
}

// Unlocks reports whether the node is asked to unlock an account.
func (c ScenarioConfig) Unlocks() bool {
	if c.Account != "" || c.Unlock != "" {
		return true
	}
	_, ok := c.Flags["unlock"]
	return c.Style == StyleFlags && ok
}

// Args derives the node command line. The values are forwarded as given, their meaning is
// up to the node binary.
func (c ScenarioConfig) Args(def *ClientDefinition, datadir string) []string {
	args := []string{"--datadir", datadir}
	args = append(args, def.Args...)
	if c.Style == StyleFlags {
		args = append(args, flagArgs(c.Flags)...)
	} else {
		args = append(args, c.optionArgs(def)...)
	}
	if c.Account != "" {
		args = append(args, "--unlock", c.Account, "--"+def.CoinbaseFlag, c.Account)
	}
	if def.PasswordFile != "" && c.Unlocks() {
		args = append(args, "--password", def.PasswordFile)
	}
	return args
}

func (c ScenarioConfig) optionArgs(def *ClientDefinition) []string {
	var args []string
	if c.NetworkID != "" {
		args = append(args, "--networkid", c.NetworkID)
	}
	if c.Port != 0 {
		args = append(args, "--port", fmt.Sprint(c.Port))
	}
	if c.RPCPort != 0 {
		args = append(args, "--rpcport", fmt.Sprint(c.RPCPort))
	}
	if c.Unlock != "" {
		args = append(args, "--unlock", c.Unlock)
	}
	if c.Coinbase != "" {
		args = append(args, "--"+def.CoinbaseFlag, c.Coinbase)
	}
	if len(c.Bootnodes) > 0 {
		args = append(args, "--bootnodes", strings.Join(c.Bootnodes, ","))
	}
	return args
}

// flagArgs renders raw flags in sorted key order.
func flagArgs(flags map[string]interface{}) []string {
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	for _, k := range keys {
		switch v := flags[k].(type) {
		case nil:
			args = append(args, "--"+k)
		case bool:
			if v {
				args = append(args, "--"+k)
			}
		case []string:
			args = append(args, "--"+k, strings.Join(v, ","))
		case []interface{}:
			parts := make([]string, len(v))
			for i := range v {
				parts[i] = fmt.Sprint(v[i])
			}
			args = append(args, "--"+k, strings.Join(parts, ","))
		default:
			args = append(args, "--"+k, fmt.Sprint(v))
		}
	}
	return args
}

// IPCPath returns the control socket location of a node using the given data directory.
func (def *ClientDefinition) IPCPath(datadir string) string {
	return filepath.Join(datadir, def.IPCName)
}
