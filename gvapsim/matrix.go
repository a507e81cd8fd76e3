package gvapsim

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/vaporyco/gvaphive/internal/libgvap"
)

// ScenarioConfig is one entry of the configuration matrix.
type ScenarioConfig = libgvap.ScenarioConfig

// Configuration styles.
const (
	StyleOptions = libgvap.StyleOptions
	StyleFlags   = libgvap.StyleFlags
)

// NetworkParams are the inputs of the matrix builder.
type NetworkParams struct {
	// NetworkIDs lists the networks in matrix order.
	NetworkIDs []string `yaml:"networks,omitempty"`

	// Scenarios of BootnodeNetwork connect to Bootnodes when the run is not constrained.
	BootnodeNetwork string   `yaml:"bootnodeNetwork,omitempty"`
	Bootnodes       []string `yaml:"bootnodes,omitempty"`

	Port    int `yaml:"port,omitempty"`
	RPCPort int `yaml:"rpcport,omitempty"`

	// Coinbase maps network id to the account used by unlocked scenarios.
	Coinbase     map[string]string `yaml:"coinbase,omitempty"`
	CoinbaseFlag string            `yaml:"coinbaseFlag,omitempty"`

	Symlink string `yaml:"symlink,omitempty"`
}

const legacyCoinbase = "0x05ae1d0ca6206c6168b42efcd1fbe0ed144e821b"

var legacyBootnodes = []string{
	"enode://d4f4e7fd3954718562544dbf322c0c84d2c87f154dd66a39ea0787a6f74930c42f5d13ba2cfef481b66a6f002bc3915f94964f67251524696a448ba40d1e2b12@45.33.59.27:30303",
	"enode://a9f34ea3de79cd75ba49c37603d28a7c494f32604b4ad6e3415b4c6020ff5bf38f9772d69362c024355245fe839dd397ff9ec04db70b3258d92259323cb792ae@69.164.196.239:30303",
	"enode://4f23a991ea8739bcc5ab52625407fcfddb03ac31a36141184cf9072ff8bf399954bb94ec47e1f653a0b0fea8d88a67fa3147dbe5c56067f39e0bd5125ae0d1f1@139.162.5.153:30303",
	"enode://bafc7bbaebf6452dcbf9522a2af30f586b38c72c84922616eacad686ab6aaed2b50f808b3f91dba6a546474fe96b5bff97d51c9b062b4a2e8bc9339d9bb8e186@106.184.4.123:30303",
}

// DefaultNetworkParams returns the parameters of the standard matrix. The symlink
// scenarios link $home/vaplink.
func DefaultNetworkParams(home string) NetworkParams {
	return NetworkParams{
		NetworkIDs:      []string{"10101", "7"},
		BootnodeNetwork: "7",
		Bootnodes:       append([]string(nil), legacyBootnodes...),
		Port:            30304,
		RPCPort:         8547,
		Coinbase:        map[string]string{"10101": legacyCoinbase, "7": legacyCoinbase},
		CoinbaseFlag:    "vaporbase",
		Symlink:         filepath.Join(home, "vaplink"),
	}
}

// merge overrides p with the non-empty fields of o.
func (p NetworkParams) merge(o NetworkParams) NetworkParams {
	if len(o.NetworkIDs) > 0 {
		p.NetworkIDs = o.NetworkIDs
	}
	if o.BootnodeNetwork != "" {
		p.BootnodeNetwork = o.BootnodeNetwork
	}
	if o.Bootnodes != nil {
		p.Bootnodes = o.Bootnodes
	}
	if o.Port != 0 {
		p.Port = o.Port
	}
	if o.RPCPort != 0 {
		p.RPCPort = o.RPCPort
	}
	if len(o.Coinbase) > 0 {
		cb := make(map[string]string, len(p.Coinbase)+len(o.Coinbase))
		for k, v := range p.Coinbase {
			cb[k] = v
		}
		for k, v := range o.Coinbase {
			cb[k] = v
		}
		p.Coinbase = cb
	}
	if o.CoinbaseFlag != "" {
		p.CoinbaseFlag = o.CoinbaseFlag
	}
	if o.Symlink != "" {
		p.Symlink = o.Symlink
	}
	return p
}

// Matrix is an ordered set of scenarios, keyed by label.
type Matrix struct {
	labels  []string
	entries map[string]ScenarioConfig
}

// NewMatrix creates an empty matrix.
func NewMatrix() *Matrix {
	return &Matrix{entries: make(map[string]ScenarioConfig)}
}

// Set adds cfg to the matrix. An existing entry with the same label is replaced in
// place, new labels are appended.
func (m *Matrix) Set(cfg ScenarioConfig) {
	if _, ok := m.entries[cfg.Label]; !ok {
		m.labels = append(m.labels, cfg.Label)
	}
	m.entries[cfg.Label] = cfg.Copy()
}

// Get returns the scenario with the given label.
func (m *Matrix) Get(label string) (ScenarioConfig, bool) {
	cfg, ok := m.entries[label]
	if !ok {
		return ScenarioConfig{}, false
	}
	return cfg.Copy(), true
}

// Labels returns the scenario labels in order.
func (m *Matrix) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Len returns the number of scenarios.
func (m *Matrix) Len() int {
	return len(m.labels)
}

// Scenarios returns copies of all scenarios in order.
func (m *Matrix) Scenarios() []ScenarioConfig {
	list := make([]ScenarioConfig, len(m.labels))
	for i, label := range m.labels {
		list[i] = m.entries[label].Copy()
	}
	return list
}

// Filter returns the scenarios whose label matches the regular expression pattern,
// ignoring case.
func (m *Matrix) Filter(pattern string) (*Matrix, error) {
	re, err := regexp.Compile("(?i:" + pattern + ")")
	if err != nil {
		return nil, err
	}
	out := NewMatrix()
	for _, label := range m.labels {
		if re.MatchString(label) {
			out.Set(m.entries[label])
		}
	}
	return out, nil
}

// BuildMatrix creates the standard scenario matrix. In constrained runs, scenarios
// needing network egress or unlocked accounts are left out.
func BuildMatrix(p NetworkParams, constrained bool) *Matrix {
	m := NewMatrix()
	for _, net := range p.NetworkIDs {
		for _, cfg := range lockedScenarios(p, net) {
			m.Set(cfg)
		}
	}
	if constrained {
		return m
	}

	if contains(p.NetworkIDs, p.BootnodeNetwork) && len(p.Bootnodes) > 0 {
		net := p.BootnodeNetwork
		locked := optionScenario(p, net, "locked")
		locked.Bootnodes = append([]string(nil), p.Bootnodes...)
		m.Set(locked)
		lockedFlags := flagScenario(p, net, "locked/flags")
		lockedFlags.Flags["bootnodes"] = append([]string(nil), p.Bootnodes...)
		m.Set(lockedFlags)
	}
	for i, net := range p.NetworkIDs {
		coinbase := p.Coinbase[net]
		if coinbase == "" {
			continue
		}
		bootnodes := net == p.BootnodeNetwork && len(p.Bootnodes) > 0

		unlocked := optionScenario(p, net, "unlocked")
		unlocked.Unlock = coinbase
		unlocked.Coinbase = coinbase
		if bootnodes {
			unlocked.Bootnodes = append([]string(nil), p.Bootnodes...)
		}
		m.Set(unlocked)

		unlockedFlags := flagScenario(p, net, "unlocked/flags")
		unlockedFlags.Flags["unlock"] = coinbase
		unlockedFlags.Flags[p.coinbaseFlag()] = coinbase
		if bootnodes {
			unlockedFlags.Flags["bootnodes"] = append([]string(nil), p.Bootnodes...)
		}
		m.Set(unlockedFlags)

		account := flagScenario(p, net, "account/symlink/flags")
		account.Account = coinbase
		account.Symlink = p.Symlink
		if i == 0 {
			account.Flags["shh"] = nil
			account.Flags["mine"] = nil
		}
		if bootnodes {
			account.Flags["bootnodes"] = append([]string(nil), p.Bootnodes...)
		}
		m.Set(account)
	}
	return m
}

func lockedScenarios(p NetworkParams, net string) []ScenarioConfig {
	symlink := flagScenario(p, net, "locked/symlink/flags")
	symlink.Symlink = p.Symlink
	persistent := flagScenario(p, net, "locked/persistent/flags")
	persistent.Persist = true
	persistentSymlink := flagScenario(p, net, "locked/persistent/symlink/flags")
	persistentSymlink.Persist = true
	persistentSymlink.Symlink = p.Symlink

	return []ScenarioConfig{
		optionScenario(p, net, "locked"),
		flagScenario(p, net, "locked/flags"),
		symlink,
		persistent,
		persistentSymlink,
	}
}

func optionScenario(p NetworkParams, net, variant string) ScenarioConfig {
	return ScenarioConfig{
		Label:     scenarioLabel(net, variant),
		Style:     StyleOptions,
		NetworkID: net,
		Port:      p.Port,
		RPCPort:   p.RPCPort,
	}
}

func flagScenario(p NetworkParams, net, variant string) ScenarioConfig {
	return ScenarioConfig{
		Label: scenarioLabel(net, variant),
		Style: StyleFlags,
		Flags: map[string]interface{}{
			"networkid": net,
			"port":      p.Port,
			"rpcport":   p.RPCPort,
		},
	}
}

func (p NetworkParams) coinbaseFlag() string {
	if p.CoinbaseFlag != "" {
		return p.CoinbaseFlag
	}
	return "etherbase"
}

func scenarioLabel(net, variant string) string {
	return fmt.Sprintf("network %s: %s", net, variant)
}

// ConstrainedFromEnv reports whether the environment marks a CI run. Any non-empty value
// counts, including "false".
func ConstrainedFromEnv() bool {
	for _, key := range []string{"CONTINUOUS_INTEGRATION", "CI"} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, elem := range list {
		if elem == s {
			return true
		}
	}
	return false
}
