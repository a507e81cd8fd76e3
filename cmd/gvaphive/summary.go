package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/vaporyco/gvaphive/internal/libgvap"
)

var (
	passStyle = color.New(color.FgGreen, color.Bold)
	failStyle = color.New(color.FgRed, color.Bold)
	skipStyle = color.New(color.FgYellow)
	dimStyle  = color.New(color.Faint)
)

// printSummary writes one line per scenario, followed by its failed assertions and the
// run totals.
func printSummary(w io.Writer, results map[libgvap.ScenarioID]*libgvap.ScenarioResult, total libgvap.RunResult) {
	ids := make([]libgvap.ScenarioID, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fmt.Fprintln(w)
	for _, id := range ids {
		printScenario(w, results[id])
	}
	fmt.Fprintln(w)

	status := passStyle.Sprint("PASS")
	if total.Failed() {
		status = failStyle.Sprint("FAIL")
	}
	fmt.Fprintf(w, "%s  %d scenarios (%d failed), %d assertions (%d failed, %d skipped)\n",
		status, total.Scenarios, total.ScenariosFailed, total.Assertions, total.AssertionsFailed, total.AssertionsSkipped)
}

func printScenario(w io.Writer, r *libgvap.ScenarioResult) {
	status := passStyle.Sprint("ok  ")
	if r.Failed() {
		status = failStyle.Sprint("FAIL")
	}
	var passed, skipped int
	for _, a := range r.Assertions {
		switch {
		case a.Result.Skipped:
			skipped++
		case a.Result.Pass:
			passed++
		}
	}
	counts := fmt.Sprintf("%d/%d passed", passed, len(r.Assertions)-skipped)
	if skipped > 0 {
		counts += skipStyle.Sprintf(", %d skipped", skipped)
	}
	fmt.Fprintf(w, "%s %s %s\n", status, r.Label, dimStyle.Sprint("("+counts+")"))

	if r.Spawn != nil {
		fmt.Fprintf(w, "     node did not start: %s\n", r.Spawn.Message)
	}
	for _, a := range sortedAssertions(r) {
		if a.Result.Pass {
			continue
		}
		msg := "failed"
		switch {
		case a.Result.Error != nil:
			msg = fmt.Sprintf("%s: %s", a.Result.Error.Kind, a.Result.Error.Message)
		case a.Result.Details != "":
			msg = firstLine(a.Result.Details)
		}
		fmt.Fprintf(w, "     %s %s\n", failStyle.Sprint(a.Name), msg)
	}
	if r.Teardown != nil {
		fmt.Fprintf(w, "     teardown: %s\n", r.Teardown.Message)
	}
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

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
