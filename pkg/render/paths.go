// Package render writes graphs and paths for people and other tools.
package render

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sanonone/lupe/pkg/graph"
)

// Format is a path output format.
type Format string

const (
	FormatText Format = "text"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat accepts "text", "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// WritePaths dispatches on f.
func WritePaths(w io.Writer, f Format, paths []graph.Path) error {
	switch f {
	case FormatText:
		return WritePathsText(w, paths)
	case FormatCSV:
		return WritePathsCSV(w, paths)
	case FormatJSON:
		return WritePathsJSON(w, paths)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

func formatProbability(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}

// WritePathsText writes one path per line followed by its probability:
//
//	<start> Filter Aggregate <end> 0.5
func WritePathsText(w io.Writer, paths []graph.Path) error {
	for _, p := range paths {
		if _, err := fmt.Fprintf(w, "%s %s\n", p.String(), formatProbability(p.Probability)); err != nil {
			return err
		}
	}
	return nil
}

// WritePathsCSV writes a path,probability table with a header row.
func WritePathsCSV(w io.Writer, paths []graph.Path) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"path", "probability"}); err != nil {
		return err
	}
	for _, p := range paths {
		if err := cw.Write([]string{p.String(), formatProbability(p.Probability)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePathsJSON writes an indented array of {"path": [...], "probability": p}.
// An empty result is written as [] rather than null.
func WritePathsJSON(w io.Writer, paths []graph.Path) error {
	if paths == nil {
		paths = []graph.Path{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(paths)
}
