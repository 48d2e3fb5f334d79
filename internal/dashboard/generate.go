// Package dashboard renders the Grafana dashboard for the GreptimeDB tables
// written by the hub.
package dashboard

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"rescueops-hub/internal/sink"
)

// FileName is the name of the rendered dashboard.
const FileName = "rescueops-dashboard.json"

//go:embed grafana-dashboard.json.tmpl
var dashboardTemplate string

type tables struct {
	Agents   string
	Sessions string
	Audit    string
}

// Render writes the dashboard to outDir. The datasource uid is read from
// GREPTIMEDB_DATASOURCE_UID.
func Render(outDir string) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
		"json": func(s string) (string, error) {
			b, err := json.Marshal(s)
			return string(b), err
		},
	}
	t, err := template.New(FileName).Funcs(funcMap).Parse(dashboardTemplate)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(outDir, FileName))
	if err != nil {
		return err
	}
	if err := t.Execute(f, tables{Agents: sink.AgentTable, Sessions: sink.SessionTable, Audit: sink.AuditTable}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
