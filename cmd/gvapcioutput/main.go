// The gvapcioutput command converts gvaphive results into JUnit XML for CI systems.
package main

import (
	"encoding/xml"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vaporyco/gvaphive/internal/libgvap"
	"gopkg.in/inconshreveable/log15.v2"
)

type Testsuites struct {
	XMLName   xml.Name    `xml:"testsuites"`
	Name      string      `xml:"name,attr"`
	Tests     int         `xml:"tests,attr"`
	Failures  int         `xml:"failures,attr"`
	Skipped   int         `xml:"skipped,attr"`
	Time      string      `xml:"time,attr"`
	Testsuite []Testsuite `xml:"testsuite"`
}

type Testsuite struct {
	XMLName   xml.Name   `xml:"testsuite"`
	ID        int        `xml:"id,attr"`
	Name      string     `xml:"name,attr"`
	Tests     int        `xml:"tests,attr"`
	Failures  int        `xml:"failures,attr"`
	Errors    int        `xml:"errors,attr"`
	Skipped   int        `xml:"skipped,attr"`
	Time      string     `xml:"time,attr"`
	Timestamp string     `xml:"timestamp,attr,omitempty"`
	Testcase  []Testcase `xml:"testcase"`
	SystemErr string     `xml:"system-err,omitempty"`
}

type Testcase struct {
	XMLName   xml.Name `xml:"testcase"`
	Name      string   `xml:"name,attr"`
	Classname string   `xml:"classname,attr"`
	Time      string   `xml:"time,attr"`
	Failure   *Failure `xml:"failure,omitempty"`
	Skipped   *Skipped `xml:"skipped,omitempty"`
}

type Failure struct {
	XMLName xml.Name `xml:"failure"`
	Text    string   `xml:",chardata"`
	Message string   `xml:"message,attr"`
	Type    string   `xml:"type,attr"`
}

type Skipped struct {
	XMLName xml.Name `xml:"skipped"`
	Message string   `xml:"message,attr"`
}

func main() {
	var (
		resultsdir = flag.String("resultsdir", "workspace/results", "Results dir to scan")
		outfile    = flag.String("out", "gvaphive-junit.xml", "Output file for JUnit XML")
		exitcode   = flag.Bool("exitcode", true, "Return exit code 1 on failed scenarios")
	)
	flag.Parse()

	log15.Info("loading results", "dir", *resultsdir)
	var results []*libgvap.ScenarioResult
	err := libgvap.WalkResults(os.DirFS(*resultsdir), ".", func(r *libgvap.ScenarioResult, fi fs.FileInfo) error {
		results = append(results, r)
		return nil
	})
	if err != nil {
		log15.Crit("can't read results", "err", err)
		os.Exit(1)
	}

	suites := convert(results)
	if err := writeXML(*outfile, suites); err != nil {
		log15.Crit("can't write output", "err", err)
		os.Exit(1)
	}
	log15.Info("wrote JUnit XML", "file", *outfile, "scenarios", len(suites.Testsuite), "failures", suites.Failures)

	if suites.Failures > 0 || failedScenarios(results) > 0 {
		log15.Info("scenarios failed")
		if *exitcode {
			os.Exit(1)
		}
		return
	}
	log15.Info("all scenarios passed")
}

// convert creates one test suite per scenario, oldest first.
func convert(results []*libgvap.ScenarioResult) Testsuites {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Start().Before(results[j].Start())
	})
	out := Testsuites{Name: "gvaphive"}
	var total time.Duration
	for i, r := range results {
		ts := Testsuite{
			ID:        i + 1,
			Name:      r.Label,
			Timestamp: r.Start().UTC().Format(time.RFC3339),
			Testcase:  []Testcase{},
		}
		var suiteTime time.Duration
		for _, a := range sortedAssertions(r) {
			d := a.End.Sub(a.Start)
			if d < 0 {
				d = 0
			}
			suiteTime += d
			tc := Testcase{Name: a.Name, Classname: r.Label, Time: seconds(d)}
			switch {
			case a.Result.Skipped:
				ts.Skipped++
				tc.Skipped = &Skipped{Message: a.Result.Details}
			case !a.Result.Pass:
				ts.Failures++
				f := &Failure{Text: a.Result.Details, Message: "assertion failed", Type: "error"}
				if a.Result.Error != nil {
					f.Message = a.Result.Error.Message
					f.Type = string(a.Result.Error.Kind)
				}
				tc.Failure = f
			}
			ts.Testcase = append(ts.Testcase, tc)
		}
		ts.Tests = len(ts.Testcase)
		if r.Spawn != nil {
			ts.Errors++
			ts.SystemErr += fmt.Sprintf("node did not start: %s\n", r.Spawn.Message)
		}
		if r.Teardown != nil {
			ts.Errors++
			ts.SystemErr += fmt.Sprintf("teardown failed: %s\n", r.Teardown.Message)
		}
		ts.Time = seconds(suiteTime)
		total += suiteTime

		out.Tests += ts.Tests
		out.Failures += ts.Failures
		out.Skipped += ts.Skipped
		out.Testsuite = append(out.Testsuite, ts)
	}
	out.Time = seconds(total)
	return out
}

func sortedAssertions(r *libgvap.ScenarioResult) []*libgvap.AssertionCase {
	ids := make([]libgvap.AssertionID, 0, len(r.Assertions))
	for id := range r.Assertions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	list := make([]*libgvap.AssertionCase, len(ids))
	for i, id := range ids {
		list[i] = r.Assertions[id]
	}
	return list
}

func failedScenarios(results []*libgvap.ScenarioResult) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func writeXML(file string, suites Testsuites) error {
	content, err := xml.MarshalIndent(suites, "", " ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(file, append([]byte(xml.Header), content...), 0644)
}
