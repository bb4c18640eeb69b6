package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"saas-analytics/internal/metrics"
)

// Formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// NotAvailable is printed for undefined metrics.
const NotAvailable = "n/a"

// Write renders r in the named format.
func Write(w io.Writer, r *metrics.Report, format string) error {
	switch format {
	case FormatText, "":
		return WriteText(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func value(v decimal.NullDecimal) string {
	if !v.Valid {
		return NotAvailable
	}
	return v.Decimal.StringFixed(places(v.Decimal))
}

// places prints counts whole, amounts in cents and rates to four digits.
func places(d decimal.Decimal) int32 {
	switch e := d.Exponent(); {
	case e >= 0:
		return 0
	case e >= -2:
		return 2
	}
	return 4
}

// WriteText renders every table as an aligned key/value block followed by
// the data-quality warnings.
func WriteText(w io.Writer, r *metrics.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SaaS metrics as of %s\n", r.AsOf.UTC().Format(time.RFC3339))
	if f := describe(r.Filter); f != "" {
		fmt.Fprintf(tw, "filter: %s\n", f)
	}

	for _, t := range r.Tables {
		fmt.Fprintf(tw, "\n%s\n%s\n", t.Name, strings.Repeat("-", len(t.Name)))
		if len(t.Rows) == 0 {
			fmt.Fprintf(tw, "  (no data)\n")
			continue
		}
		for _, k := range t.Keys() {
			fmt.Fprintf(tw, "  %s\t%s\n", k, value(t.Rows[k]))
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintf(tw, "\nwarnings (%d)\n", len(r.Warnings))
		for _, warning := range r.Warnings {
			fmt.Fprintf(tw, "  %s\n", warning)
		}
	}
	return tw.Flush()
}

func describe(f metrics.Filter) string {
	var parts []string
	if f.Start != nil {
		parts = append(parts, "from "+f.Start.UTC().Format(time.RFC3339))
	}
	if f.End != nil {
		parts = append(parts, "to "+f.End.UTC().Format(time.RFC3339))
	}
	if f.Plan != "" {
		parts = append(parts, "plan "+string(f.Plan))
	}
	return strings.Join(parts, ", ")
}

func WriteJSON(w io.Writer, r *metrics.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

type yamlTable struct {
	Name string             `yaml:"name"`
	Rows map[string]*string `yaml:"rows"`
}

type yamlWarning struct {
	Kind   string `yaml:"kind"`
	UserID string `yaml:"user_id"`
	Detail string `yaml:"detail"`
}

type yamlReport struct {
	AsOf     time.Time     `yaml:"as_of"`
	Filter   string        `yaml:"filter,omitempty"`
	Tables   []yamlTable   `yaml:"tables"`
	Warnings []yamlWarning `yaml:"warnings,omitempty"`
}

// WriteYAML renders amounts as exact decimal strings and undefined metrics
// as null.
func WriteYAML(w io.Writer, r *metrics.Report) error {
	out := yamlReport{AsOf: r.AsOf.UTC(), Filter: describe(r.Filter)}
	for _, t := range r.Tables {
		yt := yamlTable{Name: t.Name, Rows: make(map[string]*string, len(t.Rows))}
		for k, v := range t.Rows {
			if !v.Valid {
				yt.Rows[k] = nil
				continue
			}
			s := v.Decimal.String()
			yt.Rows[k] = &s
		}
		out.Tables = append(out.Tables, yt)
	}
	for _, warning := range r.Warnings {
		out.Warnings = append(out.Warnings, yamlWarning{warning.Kind, warning.UserID.String(), warning.Detail})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
