package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/bakkerme/culler/internal/core"
)

var converter = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// Markdown renders a GitHub-flavoured markdown summary of run.
func Markdown(run *core.Run) string {
	var b strings.Builder
	s := run.Summary

	fmt.Fprintf(&b, "# Culler: %s\n\n", jobLabel(run))
	fmt.Fprintf(&b, "Run `%s` %s", run.ID, runState(run))
	if !run.StartedAt.IsZero() {
		fmt.Fprintf(&b, ", started %s", run.StartedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	b.WriteString(".\n")
	if run.Error != "" {
		fmt.Fprintf(&b, "\n**Error:** %s\n", run.Error)
	}

	b.WriteString("\n| Metric | Count |\n|---|---:|\n")
	for _, row := range []struct {
		label string
		n     int
	}{
		{"Resources seen", s.ResourcesSeen},
		{"Duplicate groups", s.GroupsFound},
		{"Survivors kept", s.SurvivorsKept},
		{"Removals planned", s.RemovalsPlanned},
		{"Removals issued", s.RemovalsIssued},
		{"Removals succeeded", s.RemovalsSucceeded},
		{"Already gone", s.RemovalsSkipped},
		{"Removals failed", len(s.RemovalsFailed)},
		{"Key extraction errors", len(s.ExtractionErrors)},
		{"Predicate errors", len(s.PredicateErrors)},
	} {
		fmt.Fprintf(&b, "| %s | %d |\n", row.label, row.n)
	}

	if len(run.Groups) > 0 {
		b.WriteString("\n## Duplicate groups\n\n")
		for _, g := range run.Groups {
			fmt.Fprintf(&b, "- `%s`: kept %s, removing %s\n", escape(g.Key.String()), describe(g.Survivor), codeList(g.Remove))
		}
	}

	if errs := s.Errors(); len(errs) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- `%s` (%s): %s\n", e.ID, e.Phase, escape(e.Reason))
		}
	}
	return b.String()
}

// HTML renders the markdown summary to HTML.
func HTML(run *core.Run) (string, error) {
	var buf bytes.Buffer
	if err := converter.Convert([]byte(Markdown(run)), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

func describe(r core.Resource) string {
	if r.Title == "" {
		return fmt.Sprintf("`%s`", r.ID)
	}
	return fmt.Sprintf("`%s` (%s)", r.ID, escape(r.Title))
}

func codeList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "`" + id + "`"
	}
	return strings.Join(quoted, ", ")
}

func escape(s string) string {
	return strings.NewReplacer("`", "'", "\n", " ").Replace(s)
}
