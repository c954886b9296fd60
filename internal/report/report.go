// Package report renders a finished run for humans (tables, markdown, HTML)
// and machines (JSON, YAML).
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/bakkerme/culler/internal/core"
)

const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
)

// Formats lists the accepted output formats.
var Formats = []string{FormatTable, FormatJSON, FormatYAML, FormatMarkdown}

// Encode writes run to w in the given format.
func Encode(w io.Writer, format string, run *core.Run) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(format) {
	case "", FormatTable:
		data = encodeTable(run)
	case FormatJSON:
		data, err = json.MarshalIndent(run, "", "  ")
		data = append(data, '\n')
	case FormatYAML:
		data, err = yaml.Marshal(run)
	case FormatMarkdown:
		data = []byte(Markdown(run))
	default:
		return fmt.Errorf("unknown output format %q (expected one of %s)", format, strings.Join(Formats, ", "))
	}
	if err != nil {
		return fmt.Errorf("encoding run failed: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func encodeTable(run *core.Run) []byte {
	var buf bytes.Buffer
	style := table.StyleLight
	style.Options.DrawBorder = false

	s := run.Summary
	summary := table.NewWriter()
	summary.SetOutputMirror(&buf)
	summary.SetTitle(fmt.Sprintf("%s %s (%s)", jobLabel(run), run.ID, runState(run)))
	summary.AppendHeader(table.Row{"Seen", "Groups", "Kept", "Planned", "Issued", "Succeeded", "Skipped", "Failed", "Extract errs", "Predicate errs"})
	summary.AppendRow(table.Row{
		s.ResourcesSeen, s.GroupsFound, s.SurvivorsKept, s.RemovalsPlanned, s.RemovalsIssued,
		s.RemovalsSucceeded, s.RemovalsSkipped, len(s.RemovalsFailed), len(s.ExtractionErrors), len(s.PredicateErrors),
	})
	summary.SetStyle(style)
	summary.Render()

	if len(run.Groups) > 0 {
		buf.WriteByte('\n')
		groups := table.NewWriter()
		groups.SetOutputMirror(&buf)
		groups.AppendHeader(table.Row{"Key", "Survivor", "Remove"})
		for _, g := range run.Groups {
			for _, id := range g.Remove {
				groups.AppendRow(table.Row{g.Key.String(), g.Survivor.ID, id})
			}
		}
		groups.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, AutoMerge: true},
			{Number: 2, AutoMerge: true},
		})
		groups.SetStyle(style)
		groups.Render()
	}

	if len(run.Outcomes) > 0 {
		buf.WriteByte('\n')
		outcomes := table.NewWriter()
		outcomes.SetOutputMirror(&buf)
		outcomes.AppendHeader(table.Row{"ID", "Status", "Attempts", "Reason"})
		for _, o := range run.Outcomes {
			outcomes.AppendRow(table.Row{o.ID, string(o.Status), o.Attempts, o.Reason})
		}
		outcomes.SetStyle(style)
		outcomes.Render()
	}

	if errs := s.Errors(); len(errs) > 0 {
		buf.WriteByte('\n')
		errTable := table.NewWriter()
		errTable.SetOutputMirror(&buf)
		errTable.AppendHeader(table.Row{"ID", "Phase", "Reason"})
		for _, e := range errs {
			errTable.AppendRow(table.Row{e.ID, string(e.Phase), e.Reason})
		}
		errTable.SetStyle(style)
		errTable.Render()
	}
	return buf.Bytes()
}

func jobLabel(run *core.Run) string {
	if run.Job == "" {
		return "ad hoc run"
	}
	return run.Job
}

func runState(run *core.Run) string {
	if run.Summary.DryRun {
		return string(run.Status) + ", dry run"
	}
	return string(run.Status)
}
