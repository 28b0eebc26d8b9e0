// Package cli provides output formatting for the ruiji command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/search"
	"github.com/hyperjump/ruiji/internal/selection"
	"github.com/hyperjump/ruiji/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
	}
}

const maxURLWidth = 80

// WriteView writes a browse or inspect view to w in the given format.
func WriteView(w io.Writer, view selection.View, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, view)
	}
	if view.Mode == selection.Inspecting && view.Selected != nil {
		fmt.Fprintf(w, "\nSelected: %s by %s\n", view.Selected.ID, view.Selected.Payload.Author)
		fmt.Fprintf(w, "  %s\n", view.Selected.ImageURL())
		fmt.Fprintf(w, "\n%d similar artworks\n\n", len(view.Records))
	} else {
		fmt.Fprintf(w, "\n%d artworks\n\n", len(view.Records))
	}
	for i, rec := range view.Records {
		fmt.Fprintf(w, "%3d. [%s] %s\n", i+1, rec.ID, rec.Payload.Author)
		fmt.Fprintf(w, "     %s\n", utils.Truncate(rec.ImageURL(), maxURLWidth))
	}
	return nil
}

// resultJSON adds the rounded percentage shown to users.
type resultJSON struct {
	models.SearchResult
	SimilarityPercent int `json:"similarity_percent"`
}

// WriteSearchResults writes image search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *search.Response, format OutputFormat) error {
	if format == OutputJSON {
		results := make([]resultJSON, len(response.Results))
		for i, r := range response.Results {
			results[i] = resultJSON{SearchResult: r, SimilarityPercent: r.SimilarityPercent()}
		}
		return writeJSON(w, map[string]any{
			"results":       results,
			"query_time_ms": response.QueryTime,
		})
	}
	fmt.Fprintf(w, "\nFound %d similar artworks in %dms\n\n", len(response.Results), response.QueryTime)
	for i, r := range response.Results {
		fmt.Fprintf(w, "%3d. %s (Similarity: %d%%)\n", i+1, r.Author, r.SimilarityPercent())
		fmt.Fprintf(w, "     %s\n", utils.Truncate(r.ImageURL, maxURLWidth))
	}
	return nil
}

// WriteStatus writes service status to w in the given format.
func WriteStatus(w io.Writer, status models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "Version:    %s\n", status.Version)
	fmt.Fprintf(w, "Index:      %s\n", status.IndexType)
	if status.Collection != "" {
		fmt.Fprintf(w, "Collection: %s\n", status.Collection)
	}
	fmt.Fprintf(w, "Points:     %d\n", status.Points)
	fmt.Fprintf(w, "Embedder:   %s (%d dims)\n", status.Embedder, status.Dimensions)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
