package gvapsim

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestBuildMatrixConstrained(t *testing.T) {
	m := BuildMatrix(DefaultNetworkParams("/home/test"), true)
	want := []string{
		"network 10101: locked",
		"network 10101: locked/flags",
		"network 10101: locked/symlink/flags",
		"network 10101: locked/persistent/flags",
		"network 10101: locked/persistent/symlink/flags",
		"network 7: locked",
		"network 7: locked/flags",
		"network 7: locked/symlink/flags",
		"network 7: locked/persistent/flags",
		"network 7: locked/persistent/symlink/flags",
	}
	if labels := m.Labels(); !reflect.DeepEqual(labels, want) {
		t.Fatalf("wrong labels:\n%s", spew.Sdump(labels))
	}
	for _, cfg := range m.Scenarios() {
		if cfg.Unlocks() {
			t.Errorf("scenario %q unlocks an account in constrained run", cfg.Label)
		}
		if len(cfg.Bootnodes) > 0 || cfg.Flags["bootnodes"] != nil {
			t.Errorf("scenario %q uses bootnodes in constrained run", cfg.Label)
		}
	}
}

func TestBuildMatrixFull(t *testing.T) {
	params := DefaultNetworkParams("/home/test")
	m := BuildMatrix(params, false)
	want := []string{
		"network 10101: locked",
		"network 10101: locked/flags",
		"network 10101: locked/symlink/flags",
		"network 10101: locked/persistent/flags",
		"network 10101: locked/persistent/symlink/flags",
		"network 7: locked",
		"network 7: locked/flags",
		"network 7: locked/symlink/flags",
		"network 7: locked/persistent/flags",
		"network 7: locked/persistent/symlink/flags",
		"network 10101: unlocked",
		"network 10101: unlocked/flags",
		"network 10101: account/symlink/flags",
		"network 7: unlocked",
		"network 7: unlocked/flags",
		"network 7: account/symlink/flags",
	}
	if labels := m.Labels(); !reflect.DeepEqual(labels, want) {
		t.Fatalf("wrong labels:\n%s", spew.Sdump(labels))
	}

	locked7, _ := m.Get("network 7: locked")
	if !reflect.DeepEqual(locked7.Bootnodes, params.Bootnodes) {
		t.Error("network 7 locked scenario has no bootnodes")
	}
	locked10101, _ := m.Get("network 10101: locked")
	if len(locked10101.Bootnodes) != 0 {
		t.Error("network 10101 locked scenario has bootnodes")
	}

	unlocked, _ := m.Get("network 10101: unlocked")
	if unlocked.Style != StyleOptions || unlocked.Unlock != legacyCoinbase || unlocked.Coinbase != legacyCoinbase {
		t.Errorf("wrong unlocked scenario %s", spew.Sdump(unlocked))
	}
	unlockedFlags, _ := m.Get("network 7: unlocked/flags")
	wantFlags := map[string]interface{}{
		"networkid": "7",
		"port":      30304,
		"rpcport":   8547,
		"unlock":    legacyCoinbase,
		"vaporbase": legacyCoinbase,
		"bootnodes": params.Bootnodes,
	}
	if !reflect.DeepEqual(unlockedFlags.Flags, wantFlags) {
		t.Errorf("wrong flags %s", spew.Sdump(unlockedFlags.Flags))
	}

	account, _ := m.Get("network 10101: account/symlink/flags")
	if account.Account != legacyCoinbase || account.Symlink != filepath.Join("/home/test", "vaplink") {
		t.Errorf("wrong account scenario %s", spew.Sdump(account))
	}
	if _, ok := account.Flags["mine"]; !ok {
		t.Error("first network account scenario does not mine")
	}
	if _, ok := account.Flags["shh"]; !ok {
		t.Error("first network account scenario has no shh")
	}
	account7, _ := m.Get("network 7: account/symlink/flags")
	if _, ok := account7.Flags["mine"]; ok {
		t.Error("second network account scenario mines")
	}

	persistent, _ := m.Get("network 7: locked/persistent/symlink/flags")
	if !persistent.Persist || persistent.Symlink == "" {
		t.Errorf("wrong persistent scenario %s", spew.Sdump(persistent))
	}
}

func TestMatrixSetReplaces(t *testing.T) {
	m := NewMatrix()
	m.Set(ScenarioConfig{Label: "a", NetworkID: "1"})
	m.Set(ScenarioConfig{Label: "b"})
	m.Set(ScenarioConfig{Label: "a", NetworkID: "2"})

	if !reflect.DeepEqual(m.Labels(), []string{"a", "b"}) {
		t.Fatalf("wrong labels %v", m.Labels())
	}
	if a, _ := m.Get("a"); a.NetworkID != "2" {
		t.Fatal("entry not replaced")
	}
	f, err := m.Filter("^B$")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.Labels(), []string{"b"}) {
		t.Fatalf("wrong filter result %v", f.Labels())
	}
}

func TestLoadMatrix(t *testing.T) {
	file := filepath.Join(t.TempDir(), "matrix.yaml")
	data := `
params:
  networks: ["10101"]
  symlink: /tmp/link
scenarios:
  - label: "network 10101: locked"
    networkid: "10101"
    port: 30305
  - label: "network 10101: mining"
    flags:
      networkid: "10101"
      mine: null
`
	if err := os.WriteFile(file, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	m, params, err := LoadMatrix(file, DefaultNetworkParams("/home/test"), true)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(params.NetworkIDs, []string{"10101"}) || params.Symlink != "/tmp/link" {
		t.Fatalf("params not merged: %s", spew.Sdump(params))
	}
	if params.CoinbaseFlag != "vaporbase" {
		t.Fatal("default params lost")
	}
	if m.Len() != 6 {
		t.Fatalf("wrong matrix size %d: %v", m.Len(), m.Labels())
	}
	locked, _ := m.Get("network 10101: locked")
	if locked.Port != 30305 || locked.Style != StyleOptions {
		t.Errorf("generated scenario not replaced: %s", spew.Sdump(locked))
	}
	mining, ok := m.Get("network 10101: mining")
	if !ok {
		t.Fatal("scenario not appended")
	}
	if mining.Style != StyleFlags {
		t.Errorf("style not inferred: %q", mining.Style)
	}
	if _, ok := mining.Flags["mine"]; !ok {
		t.Error("switch flag lost")
	}
	symlink, _ := m.Get("network 10101: locked/symlink/flags")
	if symlink.Symlink != "/tmp/link" {
		t.Errorf("symlink param not applied: %q", symlink.Symlink)
	}
}

func TestLoadMatrixReplace(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "matrix.yaml")
	os.WriteFile(file, []byte("replace: true\nscenarios:\n  - label: only\n    networkid: \"7\"\n"), 0644)
	m, _, err := LoadMatrix(file, DefaultNetworkParams("/home/test"), false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(m.Labels(), []string{"only"}) {
		t.Fatalf("wrong labels %v", m.Labels())
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("scenarios:\n  - label: x\n    style: json\n"), 0644)
	if _, _, err := LoadMatrix(bad, DefaultNetworkParams("/home/test"), false); err == nil {
		t.Fatal("no error for unknown style")
	}
	nolabel := filepath.Join(dir, "nolabel.yaml")
	os.WriteFile(nolabel, []byte("scenarios:\n  - networkid: \"7\"\n"), 0644)
	if _, _, err := LoadMatrix(nolabel, DefaultNetworkParams("/home/test"), false); err == nil {
		t.Fatal("no error for missing label")
	}
}

func TestConstrainedFromEnv(t *testing.T) {
	tests := []struct {
		ci, ci2 string
		want    bool
	}{
		{"", "", false},
		{"true", "", true},
		{"false", "", true},
		{"", "0", true},
		{"", "1", true},
	}
	for _, test := range tests {
		t.Setenv("CONTINUOUS_INTEGRATION", test.ci)
		t.Setenv("CI", test.ci2)
		if got := ConstrainedFromEnv(); got != test.want {
			t.Errorf("CONTINUOUS_INTEGRATION=%q CI=%q: got %v, want %v", test.ci, test.ci2, got, test.want)
		}
	}
}
