package libgvap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DataDir is the node data directory of a scenario.
type DataDir struct {
	Path    string // directory handed to the node (the symlink, if any)
	Target  string // the real directory
	Link    string // symlink path, empty if none
	Persist bool
	Reused  bool // the directory existed before this scenario

	// PriorRuns counts earlier scenarios of this run which used the same persistent directory.
	PriorRuns int

	// ChainState reports whether chain data was present before the node was started.
	ChainState bool

	cleanOnce sync.Once
	cleanErr  error
}

// PrepareDataDir creates the data directory for a scenario below workdir.
//
// Non-persistent scenarios always get a fresh, empty directory. Persistent scenarios share
// one directory per network id, which survives teardown. If the scenario names a symlink,
// the link is pointed at the directory and becomes the path given to the node.
func PrepareDataDir(workdir string, cfg ScenarioConfig) (*DataDir, error) {
	dd := &DataDir{Persist: cfg.Persist, Link: cfg.Symlink}
	if cfg.Persist {
		dd.Target = filepath.Join(workdir, "persistent", pathComponent(cfg.NetworkIDValue()))
		if _, err := os.Stat(dd.Target); err == nil {
			dd.Reused = true
		}
		if err := os.MkdirAll(dd.Target, 0755); err != nil {
			return nil, err
		}
	} else {
		root := filepath.Join(workdir, "datadirs")
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, err
		}
		dir, err := os.MkdirTemp(root, "scenario-")
		if err != nil {
			return nil, err
		}
		dd.Target = dir
	}
	dd.Path = dd.Target

	if dd.Link != "" {
		if err := relink(dd.Link, dd.Target); err != nil {
			if !dd.Persist {
				os.RemoveAll(dd.Target)
			}
			return nil, err
		}
		dd.Path = dd.Link
	}
	dd.ChainState = hasChainState(dd.Path)
	return dd, nil
}

// hasChainState reports whether dir holds a chaindata directory, either directly or in
// a per-client subdirectory such as <dir>/gvap/chaindata.
func hasChainState(dir string) bool {
	if fi, err := os.Stat(filepath.Join(dir, "chaindata")); err == nil && fi.IsDir() {
		return true
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*", "chaindata"))
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.IsDir() {
			return true
		}
	}
	return false
}

// relink points link at target, replacing an existing symlink.
func relink(link, target string) error {
	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("symlink path %s exists and is not a symlink", link)
		}
		if err := os.Remove(link); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return err
	}
	return os.Symlink(target, link)
}

// Cleanup removes non-persistent data. Persistent data and its link stay in place.
// It is safe to call Cleanup more than once.
func (dd *DataDir) Cleanup() error {
	dd.cleanOnce.Do(func() {
		if dd.Persist {
			return
		}
		if dd.Link != "" {
			if dest, err := os.Readlink(dd.Link); err == nil && dest == dd.Target {
				os.Remove(dd.Link)
			}
		}
		dd.cleanErr = os.RemoveAll(dd.Target)
	})
	return dd.cleanErr
}

// pathComponent makes s usable as a single path element.
func pathComponent(s string) string {
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
