package libgvap

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"gopkg.in/inconshreveable/log15.v2"
)

// InstanceFile is the name of the file describing the harness build.
const InstanceFile = "gvaphive.json"

// WriteResults writes a scenario result into dir and returns the file name.
func WriteResults(dir string, r *ScenarioResult) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%d-%s.json", r.Start().Unix(), hex.EncodeToString(b[:]))
	enc, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return name, os.WriteFile(filepath.Join(dir, name), enc, 0644)
}

// Start returns the time the scenario was started.
func (r *ScenarioResult) Start() time.Time {
	if len(r.States) == 0 {
		return time.Time{}
	}
	return r.States[0].Time
}

// Instance describes the harness build that produced a results directory.
type Instance struct {
	SourceCommit string `json:"sourceCommit"`
	SourceDate   string `json:"sourceDate"`
	Client       string `json:"client"`
	Constrained  bool   `json:"constrained"`
}

// WriteInstanceInfo writes the instance file into dir.
func WriteInstanceInfo(dir string, obj Instance) {
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		for _, v := range buildInfo.Settings {
			switch v.Key {
			case "vcs.revision":
				obj.SourceCommit = v.Value
			case "vcs.time":
				obj.SourceDate = v.Value
			}
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		log15.Warn("can't create results directory", "dir", dir, "err", err)
		return
	}
	enc, _ := json.Marshal(&obj)
	if err := os.WriteFile(filepath.Join(dir, InstanceFile), enc, 0644); err != nil {
		log15.Warn("can't write instance file", "err", err)
	}
}

// ListingEntry summarizes one result file.
type ListingEntry struct {
	Label       string    `json:"label"`
	Client      string    `json:"client"`
	NAssertions int       `json:"nassertions"`
	Passes      int       `json:"passes"`
	Fails       int       `json:"fails"`
	Skips       int       `json:"skips"`
	Timeout     bool      `json:"timeout"`
	SpawnFailed bool      `json:"spawnFailed"`
	Teardown    bool      `json:"teardownFailed"`
	Start       time.Time `json:"start"`
	FileName    string    `json:"fileName"`
	Size        int64     `json:"size"`
	LogFile     string    `json:"logFile,omitempty"`
}

// NewListingEntry creates the listing entry of a result file.
func NewListingEntry(r *ScenarioResult, file fs.FileInfo) ListingEntry {
	e := ListingEntry{
		Label:       r.Label,
		Client:      r.Client,
		Start:       r.Start(),
		FileName:    file.Name(),
		Size:        file.Size(),
		SpawnFailed: r.Spawn != nil,
		Teardown:    r.Teardown != nil,
	}
	if r.Process != nil {
		e.LogFile = r.Process.LogFile
	}
	for _, a := range r.Assertions {
		e.NAssertions++
		switch {
		case a.Result.Skipped:
			e.Skips++
		case a.Result.Pass:
			e.Passes++
		default:
			e.Fails++
		}
		if a.Result.Timeout {
			e.Timeout = true
		}
	}
	return e
}

// ResultCallback is called by WalkResults for every valid result file.
type ResultCallback func(*ScenarioResult, fs.FileInfo) error

// ErrStopWalk can be returned by a ResultCallback to end the walk early.
var ErrStopWalk = errors.New("stop")

// WalkResults calls fn for all result files in dir, newest first. Invalid files are skipped.
func WalkResults(fsys fs.FS, dir string, fn ResultCallback) error {
	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() > files[j].Name()
	})
	for _, entry := range files {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || skipResultFile(name) {
			continue
		}
		r, fi := readResult(fsys, path.Join(dir, name))
		if r == nil {
			continue
		}
		if err := fn(r, fi); err != nil {
			if err == ErrStopWalk {
				return nil
			}
			return err
		}
	}
	return nil
}

func readResult(fsys fs.FS, name string) (*ScenarioResult, fs.FileInfo) {
	file, err := fsys.Open(name)
	if err != nil {
		log15.Warn("can't access result file", "file", name, "err", err)
		return nil, nil
	}
	defer file.Close()

	fi, err := file.Stat()
	if err != nil {
		log15.Warn("can't access result file", "file", name, "err", err)
		return nil, nil
	}
	var r ScenarioResult
	if err := json.NewDecoder(file).Decode(&r); err != nil {
		log15.Warn("skipping invalid result file", "file", name, "err", err)
		return nil, nil
	}
	if r.Label == "" || len(r.States) == 0 {
		log15.Warn("skipping invalid result file", "file", name)
		return nil, nil
	}
	return &r, fi
}

func skipResultFile(name string) bool {
	return name == InstanceFile || strings.HasPrefix(name, ".")
}

// ReadListing writes one JSON line per result file in dir to output, newest first.
// At most limit entries are written if limit is positive.
func ReadListing(fsys fs.FS, dir string, output io.Writer, limit int) error {
	var entries []ListingEntry
	err := WalkResults(fsys, dir, func(r *ScenarioResult, fi fs.FileInfo) error {
		entries = append(entries, NewListingEntry(r, fi))
		if limit > 0 && len(entries) >= limit {
			return ErrStopWalk
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start.After(entries[j].Start)
	})
	enc := json.NewEncoder(output)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
