// Package cli provides output formatting for the webrag command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hyperjump/webrag/internal/models"
	"github.com/hyperjump/webrag/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const previewLen = 200

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteResults writes retrieval hits to w in the given format.
func WriteResults(w io.Writer, response *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	writeResultsText(w, response)
	return nil
}

func writeResultsText(w io.Writer, response *models.QueryResponse) {
	fmt.Fprintf(w, "\nFound %d results in %s in %dms\n\n", len(response.Results), response.CollectionID, response.QueryTime)
	for i, hit := range response.Results {
		writeOneHit(w, i+1, hit)
	}
}

func writeOneHit(w io.Writer, rank int, hit models.Hit) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Chunk: %d | Distance: %.4f\n", rank, hit.ChunkID, hit.Distance)
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(hit.Text, previewLen))
	fmt.Fprintln(w)
}

// WriteAnswer writes a generated answer followed by the hits it was based on.
func WriteAnswer(w io.Writer, response *models.AskResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\n%s\n", response.Answer)
	if len(response.Results) > 0 {
		fmt.Fprintf(w, "\nSources (%d):\n", len(response.Results))
		for i, hit := range response.Results {
			fmt.Fprintf(w, "  %d. %s\n", i+1, utils.Truncate(hit.Text, 80))
		}
	}
	return nil
}

// WriteCollections writes one line per collection with its index state.
func WriteCollections(w io.Writer, infos []models.CollectionInfo, format OutputFormat) error {
	if format == OutputJSON {
		if infos == nil {
			infos = []models.CollectionInfo{}
		}
		return WriteJSON(w, infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(w, "no collections")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(w, "%-32s %-9s chunks=%d", info.ID, info.State, info.ChunkCount)
		if info.Dimension > 0 {
			fmt.Fprintf(w, " dim=%d", info.Dimension)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// PrintResults prints retrieval hits to stdout in text format.
func PrintResults(response *models.QueryResponse) {
	_ = WriteResults(os.Stdout, response, OutputText)
}
