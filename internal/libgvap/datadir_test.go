package libgvap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDataDirFresh(t *testing.T) {
	workdir := t.TempDir()
	cfg := ScenarioConfig{Label: "fresh", NetworkID: "7"}

	dd1, err := PrepareDataDir(workdir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	dd2, err := PrepareDataDir(workdir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dd1.Path == dd2.Path {
		t.Fatal("non-persistent scenarios share a directory:", dd1.Path)
	}
	if dd1.Reused || dd2.Reused {
		t.Fatal("fresh directory marked as reused")
	}
	if err := os.WriteFile(filepath.Join(dd1.Path, "x"), []byte("1"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := dd1.Cleanup(); err != nil {
		t.Fatal("cleanup error:", err)
	}
	if _, err := os.Stat(dd1.Target); !os.IsNotExist(err) {
		t.Fatal("directory still exists after cleanup")
	}
	if err := dd1.Cleanup(); err != nil {
		t.Fatal("second cleanup error:", err)
	}
}

func TestDataDirPersistent(t *testing.T) {
	workdir := t.TempDir()
	cfg := ScenarioConfig{Label: "persistent", Style: StyleFlags, Persist: true, Flags: map[string]interface{}{"networkid": "10101"}}

	dd1, err := PrepareDataDir(workdir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dd1.Reused {
		t.Fatal("first persistent directory marked as reused")
	}
	if err := os.WriteFile(filepath.Join(dd1.Path, "chain"), []byte("1"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := dd1.Cleanup(); err != nil {
		t.Fatal(err)
	}

	dd2, err := PrepareDataDir(workdir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dd2.Target != dd1.Target {
		t.Fatalf("persistent directory moved: %s != %s", dd2.Target, dd1.Target)
	}
	if !dd2.Reused {
		t.Fatal("persistent directory not marked as reused")
	}
	if _, err := os.Stat(filepath.Join(dd2.Path, "chain")); err != nil {
		t.Fatal("persistent data lost:", err)
	}
}

func TestDataDirSymlink(t *testing.T) {
	workdir := t.TempDir()
	link := filepath.Join(t.TempDir(), "home", "vaplink")
	cfg := ScenarioConfig{Label: "symlink", NetworkID: "7", Symlink: link}

	dd, err := PrepareDataDir(workdir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dd.Path != link {
		t.Fatalf("node path is %s, want the link %s", dd.Path, link)
	}
	dest, err := os.Readlink(link)
	if err != nil {
		t.Fatal(err)
	}
	if dest != dd.Target {
		t.Fatalf("link points to %s, want %s", dest, dd.Target)
	}

	// A second scenario replaces the link.
	dd2, err := PrepareDataDir(workdir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dest, _ := os.Readlink(link); dest != dd2.Target {
		t.Fatalf("link not replaced: points to %s", dest)
	}
	// Cleanup of the first scenario leaves the replaced link alone.
	if err := dd.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(link); err != nil {
		t.Fatal("link removed by stale cleanup:", err)
	}
	if err := dd2.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(link); !os.IsNotExist(err) {
		t.Fatal("link not removed")
	}
}

func TestDataDirSymlinkOverFile(t *testing.T) {
	link := filepath.Join(t.TempDir(), "vaplink")
	if err := os.WriteFile(link, nil, 0644); err != nil {
		t.Fatal(err)
	}
	workdir := t.TempDir()
	_, err := PrepareDataDir(workdir, ScenarioConfig{Label: "x", Symlink: link})
	if err == nil {
		t.Fatal("expected error for non-symlink path")
	}
	entries, _ := os.ReadDir(filepath.Join(workdir, "datadirs"))
	if len(entries) != 0 {
		t.Fatal("directory left behind after failure")
	}
}

func TestDataDirChainState(t *testing.T) {
	workdir := t.TempDir()
	persistent := ScenarioConfig{Label: "persistent", NetworkID: "7", Persist: true}
	fresh := ScenarioConfig{Label: "fresh", NetworkID: "7"}

	dd1, err := PrepareDataDir(workdir, persistent)
	if err != nil {
		t.Fatal(err)
	}
	if dd1.ChainState {
		t.Fatal("empty directory reports chain state")
	}
	// An existing directory without chain data is reused but has no state.
	dd2, err := PrepareDataDir(workdir, persistent)
	if err != nil {
		t.Fatal(err)
	}
	if !dd2.Reused || dd2.ChainState {
		t.Fatalf("wrong state: reused %t, chain state %t", dd2.Reused, dd2.ChainState)
	}

	if err := os.MkdirAll(filepath.Join(dd1.Path, "gvap", "chaindata"), 0755); err != nil {
		t.Fatal(err)
	}
	dd3, err := PrepareDataDir(workdir, persistent)
	if err != nil {
		t.Fatal(err)
	}
	if !dd3.ChainState {
		t.Fatal("chain data in client subdirectory not detected")
	}

	dd4, err := PrepareDataDir(workdir, fresh)
	if err != nil {
		t.Fatal(err)
	}
	defer dd4.Cleanup()
	if dd4.ChainState {
		t.Fatal("fresh directory reports chain state")
	}
}

func TestDataDirChainStateThroughLink(t *testing.T) {
	workdir := t.TempDir()
	link := filepath.Join(t.TempDir(), "vaplink")
	cfg := ScenarioConfig{Label: "persistent", NetworkID: "10101", Persist: true, Symlink: link}

	dd1, err := PrepareDataDir(workdir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dd1.Path, "chaindata"), 0755); err != nil {
		t.Fatal(err)
	}
	dd2, err := PrepareDataDir(workdir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dd2.Path != link || !dd2.ChainState {
		t.Fatalf("chain state not seen through %s: %t", dd2.Path, dd2.ChainState)
	}
}
