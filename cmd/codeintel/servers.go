package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"text/tabwriter"

	"github.com/Strob0t/codeintel/internal/config"
	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// serverRow is one line of the servers listing.
type serverRow struct {
	ID         string   `json:"id"`
	Command    string   `json:"command"`
	Extensions []string `json:"extensions"`
	Priority   int      `json:"priority"`
	Disabled   bool     `json:"disabled"`
	Path       string   `json:"path,omitempty"` // Resolved executable, empty if not on PATH
}

// runServers lists the configured language servers and whether their
// executables are installed.
func runServers(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("servers", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := config.LoadWithCLI(config.CLIFlags{ConfigPath: configPath})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	rows := serverRows(cfg.LSP.Servers, exec.LookPath)
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	return writeServerTable(out, rows)
}

func serverRows(defs []lspDomain.ServerDefinition, lookPath func(string) (string, error)) []serverRow {
	rows := make([]serverRow, 0, len(defs))
	for i := range defs {
		d := &defs[i]
		row := serverRow{
			ID:         d.ID,
			Command:    d.CommandLine(),
			Extensions: d.Extensions,
			Priority:   d.Priority,
			Disabled:   d.Disabled,
		}
		if len(d.Command) > 0 {
			if p, err := lookPath(d.Command[0]); err == nil {
				row.Path = p
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func writeServerTable(out io.Writer, rows []serverRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "No language servers configured.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMMAND\tEXTENSIONS\tPRIORITY\tSTATUS")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Command, strings.Join(r.Extensions, ","), r.Priority, rowStatus(r))
	}
	return w.Flush()
}

func rowStatus(r serverRow) string {
	switch {
	case r.Disabled:
		return "disabled"
	case r.Path == "":
		return "not installed"
	default:
		return "ok"
	}
}
