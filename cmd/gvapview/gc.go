package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vaporyco/gvaphive/internal/libgvap"
)

// resultsGC deletes result files started before cutoff, keeping at least keepMin of the
// newest ones. Node logs referenced by kept results stay as well.
func resultsGC(dir string, cutoff time.Time, keepMin int) error {
	var (
		fsys      = os.DirFS(dir)
		usedFiles = make(map[string]struct{})
		kept      = 0
		oldest    time.Time
	)
	usedFiles[libgvap.InstanceFile] = struct{}{}

	// Results are walked newest first.
	err := libgvap.WalkResults(fsys, ".", func(r *libgvap.ScenarioResult, fi fs.FileInfo) error {
		if r.Start().Before(cutoff) && kept >= keepMin {
			return nil
		}
		if oldest.IsZero() || r.Start().Before(oldest) {
			oldest = r.Start()
		}
		kept++
		usedFiles[fi.Name()] = struct{}{}
		if r.Process != nil && r.Process.LogFile != "" {
			usedFiles[filepath.ToSlash(r.Process.LogFile)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("keeping %d scenario results (%d files)\n", kept, len(usedFiles))
	fmt.Println("oldest result date:", oldest)

	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if _, used := usedFiles[path]; !used {
			if err := os.Remove(filepath.Join(dir, filepath.FromSlash(path))); err != nil {
				fmt.Println("error:", err)
			}
		}
		return nil
	})
}
