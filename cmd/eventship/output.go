package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bft-labs/eventship/pkg/task"
)

// taskRow is the printable form of a task.
type taskRow struct {
	Channel    string    `json:"channel" yaml:"channel"`
	ID         string    `json:"id" yaml:"id"`
	Kind       string    `json:"kind" yaml:"kind"`
	Status     string    `json:"status" yaml:"status"`
	Priority   int       `json:"priority" yaml:"priority"`
	Attempts   int       `json:"attempts" yaml:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at" yaml:"enqueued_at"`
	NotBefore  time.Time `json:"not_before,omitzero" yaml:"not_before,omitempty"`
	DeadAt     time.Time `json:"dead_at,omitzero" yaml:"dead_at,omitempty"`
	LastError  string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

func rowsOf(tasks []*task.Task) []taskRow {
	rows := make([]taskRow, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, taskRow{
			Channel:    t.Channel,
			ID:         t.ID,
			Kind:       t.Kind,
			Status:     string(t.Status),
			Priority:   t.Priority,
			Attempts:   t.Attempts,
			EnqueuedAt: t.EnqueuedAt,
			NotBefore:  t.NotBefore,
			DeadAt:     t.DeadAt,
			LastError:  t.LastError,
		})
	}
	return rows
}

// print writes v in the selected output format. Table output is used for
// task rows; other values fall back to YAML.
func (a *app) print(v any) error {
	return render(a.stdout, a.output, v)
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		if rows, ok := v.([]taskRow); ok {
			return renderTable(w, rows)
		}
		return render(w, "yaml", v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderTable(w io.Writer, rows []taskRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tID\tKIND\tSTATUS\tPRIORITY\tATTEMPTS\tENQUEUED\tLAST ERROR")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Channel, r.ID, r.Kind, r.Status, r.Priority, r.Attempts,
			r.EnqueuedAt.Format(time.RFC3339), truncate(r.LastError, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
