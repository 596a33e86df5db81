package logger

import (
	"fmt"
	"os"
	"path/filepath"
)

// StringListReport is a titled list of lines written to a report file.
type StringListReport struct {
	Title string
	Items []string
}

// Add appends one line to the report.
func (r *StringListReport) Add(item string) {
	r.Items = append(r.Items, item)
}

// WriteTo appends the report items to dir/fetched-<title>.txt and clears them.
// The title is sanitized for use in a filename.
func (r *StringListReport) WriteTo(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}

	title := r.Title
	if title == "" {
		title = "untitled"
	}
	safeTitle := ""
	for _, c := range title {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' {
			safeTitle += string(c)
		} else {
			safeTitle += "_"
		}
	}

	reportPath := filepath.Join(dir, fmt.Sprintf("fetched-%s.txt", safeTitle))
	f, err := os.OpenFile(reportPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("opening report file: %w", err)
	}
	defer f.Close()

	for _, item := range r.Items {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return "", fmt.Errorf("writing report: %w", err)
		}
	}
	r.Items = r.Items[:0]

	return reportPath, nil
}
