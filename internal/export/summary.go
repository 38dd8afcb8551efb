package export

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/osvaldoandrade/docintel/pkg/domain"
)

// WriteSummary prints the human-readable digest of a result.
func WriteSummary(w io.Writer, res *domain.AnalysisResult) error {
	s := res.Summary()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(label string, v any) { fmt.Fprintf(tw, "%s:\t%v\n", label, v) }

	row("Result ID", emptyOr(res.ResultID, "<none>"))
	row("Model", emptyOr(s.ModelID, res.ModelID))
	row("Status", s.Status)
	if s.APIVersion != "" {
		row("API version", s.APIVersion)
	}
	if s.Status == domain.StatusSucceeded {
		row("Pages", s.Pages)
		row("Tables", s.Tables)
		row("Key-value pairs", s.KeyValuePairs)
		row("Documents", s.Documents)
		row("Content length", s.ContentLength)
	}
	if !s.CreatedAt.IsZero() {
		row("Created", s.CreatedAt.Format(time.RFC3339))
	}
	if !s.LastUpdatedAt.IsZero() {
		row("Last updated", s.LastUpdatedAt.Format(time.RFC3339))
	}
	if res.Attempts > 0 {
		row("Polls", res.Attempts)
	}
	if res.Error != nil {
		row("Error", res.Error.Code+": "+res.Error.Message)
	}
	if s.BudgetExhausted {
		row("Note", "wait budget exhausted before a terminal status")
	} else if res.Message != "" && res.Error == nil {
		row("Note", res.Message)
	}
	return tw.Flush()
}

func emptyOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
