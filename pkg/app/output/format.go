// Package output renders query results in the three formats SPEC_FULL.md
// §6.2 names: table, json, and yaml, matching the teacher's
// pkg/app/discover/formatter.go convention of a single format-dispatching
// entry point per command.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Renderable is the "Rows() + Header()" contract SPEC_FULL.md §6.2
// requires every query result type to implement so the table writer can
// stay generic across commands.
type Renderable interface {
	Header() []string
	Rows() [][]string
}

// Format writes data to w in the requested format. Table rendering uses
// Renderable; data that does not implement it is written as json
// instead. json and yaml marshal data
// directly, so command handlers can pass either the Renderable view or
// the richer underlying struct depending on what reads better as
// structured output.
func Format(w io.Writer, format string, data interface{}) error {
	switch format {
	case "", "table":
		r, ok := data.(Renderable)
		if !ok {
			return formatJSON(w, data)
		}
		return formatTable(w, r)
	case "json":
		return formatJSON(w, data)
	case "yaml":
		return formatYAML(w, data)
	default:
		return fmt.Errorf("output: unsupported format %q", format)
	}
}

func formatTable(w io.Writer, r Renderable) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := r.Header()
	if len(header) > 0 {
		fmt.Fprintln(tw, joinTab(header))
	}
	for _, row := range r.Rows() {
		fmt.Fprintln(tw, joinTab(row))
	}
	return tw.Flush()
}

func joinTab(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += "\t"
		}
		out += f
	}
	return out
}

func formatJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func formatYAML(w io.Writer, data interface{}) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(data)
}
