// Package reporting renders the outcome of a run.
package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SuiteOutcome is one row of the results table.
type SuiteOutcome struct {
	Suite     string
	VM        string
	Duration  time.Duration
	LogFolder string
	// RunnerErr is the LISA runner failure, if any. It does not make the suite
	// fail on its own.
	RunnerErr error
	// Err is set when the suite produced no result.
	Err error
}

func (o SuiteOutcome) Failed() bool {
	return o.Err != nil
}

// Summary is the whole run.
type Summary struct {
	RunID    string
	Duration time.Duration
	Suites   []SuiteOutcome
}

func (s Summary) Failed() int {
	n := 0
	for _, o := range s.Suites {
		if o.Failed() {
			n++
		}
	}
	return n
}

// WriteTable renders the summary to w.
func WriteTable(w io.Writer, s Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("LISA Results %s (%s)", s.RunID, formatDuration(s.Duration)))

	t.AppendHeader(table.Row{"Suite", "VM", "Runner", "Status", "Log folder", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Suite", WidthMax: 40},
		{Name: "Runner", Align: text.AlignRight},
		{Name: "Log folder", WidthMax: 60},
		{Name: "Error", WidthMax: 60},
	})

	for _, o := range s.Suites {
		errMsg := ""
		switch {
		case o.Err != nil:
			errMsg = o.Err.Error()
		case o.RunnerErr != nil:
			errMsg = "runner: " + o.RunnerErr.Error()
		}
		t.AppendRow(table.Row{
			o.Suite,
			o.VM,
			formatDuration(o.Duration),
			getResultString(!o.Failed()),
			o.LogFolder,
			errMsg,
		})
	}

	failed := s.Failed()
	if failed == 0 {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(s.Duration),
		fmt.Sprintf("%d/%d", len(s.Suites)-failed, len(s.Suites)),
		"",
		"",
	})
	t.Render()
}

func getResultString(ok bool) string {
	if ok {
		return "✓ pass"
	}
	return "✗ fail"
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
