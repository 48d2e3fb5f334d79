package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"rescueops-hub/internal/fleet"
)

// record is one line of StdoutWriter output.
type record struct {
	Collection string `json:"collection"`
	Data       any    `json:"data"`
}

// StdoutWriter prints every write as a JSON line. With it as the only
// writer the hub runs print-only, without durable storage.
type StdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStdoutWriter writes to os.Stdout.
func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{out: os.Stdout}
}

func (w *StdoutWriter) print(collection string, v any) error {
	data, err := json.Marshal(record{Collection: collection, Data: v})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

func (w *StdoutWriter) WriteAgent(_ context.Context, st fleet.AgentState) error {
	return w.print("agents", st)
}

func (w *StdoutWriter) WriteSession(_ context.Context, s fleet.Session) error {
	return w.print("sessions", s)
}

func (w *StdoutWriter) WriteAudit(_ context.Context, ev fleet.AuditEvent) error {
	return w.print("audit_events", ev)
}
