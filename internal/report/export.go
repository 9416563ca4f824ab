package report

import (
	"encoding/csv"
	"encoding/json/jsontext"
	"encoding/json/v2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// export serializes a report to the reports directory and returns the file
// path. The file is written to a temp name and renamed into place.
func (g *Generator) export(report *domain.DailyReport) (string, error) {
	if err := os.MkdirAll(g.opts.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports dir: %w", err)
	}

	name := fmt.Sprintf("daily_report_%s.%s", report.ReportDate.Format("20060102"), g.opts.Format)
	path := filepath.Join(g.opts.Dir, name)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating report file: %w", err)
	}

	if g.opts.Format == FormatCSV {
		err = writeCSV(f, report)
	} else {
		err = writeJSON(f, report)
	}
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing report file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming report file: %w", err)
	}
	return path, nil
}

func writeJSON(w io.Writer, report *domain.DailyReport) error {
	if err := json.MarshalWrite(w, report, jsontext.WithIndent("  ")); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// writeCSV renders the report as a summary row followed by the
// changes-by-type, changes-by-severity and significant-changes sections.
func writeCSV(w io.Writer, report *domain.DailyReport) error {
	cw := csv.NewWriter(w)

	rows := [][]string{
		{
			"Report ID", "Report Date", "Generated At",
			"Total Books in System", "Books Checked", "Changes Detected",
			"New Books Added", "Books Updated", "Books Removed",
			"Total Processing Time (s)", "Average Processing Time (s)",
			"System Health Score",
		},
		{
			report.ID,
			report.ReportDate.Format("2006-01-02"),
			report.GeneratedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(report.TotalBooksInSystem),
			strconv.Itoa(report.BooksChecked),
			strconv.Itoa(report.ChangesDetected),
			strconv.Itoa(report.NewBooksAdded),
			strconv.Itoa(report.BooksUpdated),
			strconv.Itoa(report.BooksRemoved),
			formatFloat(report.TotalProcessingTime),
			formatFloat(report.AvgSecondsPerBook),
			formatFloat(report.SystemHealthScore),
		},
		{},
		{"Changes by Type"},
	}

	for _, typ := range sortedTypeKeys(report.ChangesByType) {
		rows = append(rows, []string{string(typ), strconv.Itoa(report.ChangesByType[typ])})
	}

	rows = append(rows, []string{}, []string{"Changes by Severity"})
	for _, sev := range sortedSeverityKeys(report.ChangesBySeverity) {
		rows = append(rows, []string{string(sev), strconv.Itoa(report.ChangesBySeverity[sev])})
	}

	if len(report.SignificantChanges) > 0 {
		rows = append(rows, []string{},
			[]string{"Significant Changes", "Change Type", "Severity", "Summary", "Detected At"})
		for _, change := range report.SignificantChanges {
			rows = append(rows, []string{
				"",
				string(change.Type),
				string(change.Severity),
				change.Summary,
				change.DetectedAt.Format("2006-01-02 15:04:05"),
			})
		}
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedTypeKeys(m map[domain.ChangeType]int) []domain.ChangeType {
	keys := make([]domain.ChangeType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func sortedSeverityKeys(m map[domain.ChangeSeverity]int) []domain.ChangeSeverity {
	keys := make([]domain.ChangeSeverity, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b domain.ChangeSeverity) int {
		return a.Rank() - b.Rank()
	})
	return keys
}
