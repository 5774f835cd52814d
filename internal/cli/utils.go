// Package cli provides CLI output helpers for mondai.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/mondai/internal/indexer"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/pipeline"
	"github.com/hyperjump/mondai/internal/scoring"
	"github.com/hyperjump/mondai/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts text or json; empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteResult writes a generation or validation run in the given format.
func WriteResult(w io.Writer, res *pipeline.Result, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	writeQuestions(w, res.MCQs, res.Validation)
	if res.ValidationError != "" {
		fmt.Fprintf(w, "\n%s\n", res.ValidationError)
	}
	if res.Summary != nil {
		fmt.Fprintln(w)
		WriteSummary(w, *res.Summary)
	}
	if res.Usage.Calls > 0 {
		fmt.Fprintf(w, "\nLLM usage: %d call(s), %d input + %d output = %d tokens, %.1fs\n",
			res.Usage.Calls, res.Usage.PromptTokens, res.Usage.CompletionTokens,
			res.Usage.TotalTokens, res.Usage.WallTimeSeconds)
	}
	if res.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", res.RunID)
	}
	return nil
}

func writeQuestions(w io.Writer, mcqs models.MCQSet, report models.ValidationReport) {
	fmt.Fprintf(w, "\n%d question(s)\n\n", len(mcqs))
	for _, id := range mcqs.Keys() {
		q := mcqs[id]
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		header := "[" + id + "]"
		if q.Difficulty != "" {
			header += " (" + string(q.Difficulty) + ")"
		}
		fmt.Fprintf(w, "%s %s\n", header, utils.CollapseSpace(q.Question))
		for _, opt := range q.Options {
			mark := " "
			if opt.Text == q.CorrectAnswer {
				mark = "*"
			}
			fmt.Fprintf(w, "  %s %s. %s\n", mark, opt.Label, opt.Text)
		}
		if rec := report[id]; rec != nil {
			fmt.Fprintf(w, "  → %s (quality %.2f, similarity %.2f)\n",
				rec.TriageAction, rec.QualityScore, rec.MaxSimilarity)
			for _, reason := range rec.FlagReasons {
				fmt.Fprintf(w, "    - %s\n", utils.Truncate(reason, 120))
			}
		}
		fmt.Fprintln(w)
	}
}

// WriteSummary writes the quick summary of a batch report as text.
func WriteSummary(w io.Writer, s scoring.QuickSummary) {
	v := s.ValidationSummary
	fmt.Fprintf(w, "Validated %d question(s): %d passed, %d failed (%s), average score %s\n",
		s.TotalQuestions, v.Passed, v.Failed, v.PassRate, v.AverageScore)
	for _, c := range scoring.Categories {
		name := strings.ToLower(c.String())
		if n := s.QualityDistribution[name]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", name+":", n)
		}
	}
	if len(s.NeedsAttention) > 0 {
		fmt.Fprintf(w, "Needs attention: %s\n", strings.Join(s.NeedsAttention, ", "))
	}
	for _, r := range s.TopRecommendations {
		fmt.Fprintf(w, "[%s] %s %s\n", r.Severity, r.Message, r.Action)
	}
}

// WriteFiles writes the files stored in a collection.
func WriteFiles(w io.Writer, collection string, files []models.FileSummary, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]any{"collection": collection, "files": files})
	}
	if len(files) == 0 {
		fmt.Fprintf(w, "No files in collection %q\n", collection)
		return nil
	}
	fmt.Fprintf(w, "%d file(s) in collection %q\n", len(files), collection)
	for _, f := range files {
		fmt.Fprintf(w, "  %-40s %4d chunk(s) %4d page(s)\n", f.Filename, f.Chunks, f.Pages)
	}
	return nil
}

// WriteSaveResults writes per-file ingestion results. It returns the number of
// failed files.
func WriteSaveResults(w io.Writer, results []indexer.SaveResult, format OutputFormat) (int, error) {
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if format == OutputJSON {
		return failed, WriteJSON(w, map[string]any{"files": results})
	}
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "FAIL %s: %s\n", r.Filename, r.Error)
			continue
		}
		fmt.Fprintf(w, "ok   %s (%d chunk(s), %d page(s))\n", r.Filename, r.Chunks, r.Pages)
	}
	fmt.Fprintf(w, "Saved %d of %d file(s)\n", len(results)-failed, len(results))
	return failed, nil
}
