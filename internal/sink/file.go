package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rescueops-hub/internal/fleet"
)

// JSONL file names created by NewFileWriter.
const (
	AgentsFile   = "agents.jsonl"
	SessionsFile = "sessions.jsonl"
	AuditFile    = "audit.jsonl"
)

// FileWriter appends every collection to its own JSONL file in a directory.
// Agent lines are a change log, not a snapshot.
type FileWriter struct {
	mu       sync.Mutex
	files    []*os.File
	agents   *json.Encoder
	sessions *json.Encoder
	audit    *json.Encoder
}

// NewFileWriter creates dir if needed and opens the three files for append.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	fw := &FileWriter{}
	open := func(name string) (*json.Encoder, error) {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		fw.files = append(fw.files, f)
		return json.NewEncoder(f), nil
	}
	var err error
	if fw.agents, err = open(AgentsFile); err != nil {
		return nil, errors.Join(err, fw.Close())
	}
	if fw.sessions, err = open(SessionsFile); err != nil {
		return nil, errors.Join(err, fw.Close())
	}
	if fw.audit, err = open(AuditFile); err != nil {
		return nil, errors.Join(err, fw.Close())
	}
	return fw, nil
}

func (f *FileWriter) encode(enc *json.Encoder, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return enc.Encode(v)
}

// WriteAgent logs one agent state line.
func (f *FileWriter) WriteAgent(_ context.Context, st fleet.AgentState) error {
	return f.encode(f.agents, st)
}

// WriteSession logs one session line.
func (f *FileWriter) WriteSession(_ context.Context, s fleet.Session) error {
	return f.encode(f.sessions, s)
}

// WriteAudit logs one audit event line.
func (f *FileWriter) WriteAudit(_ context.Context, ev fleet.AuditEvent) error {
	return f.encode(f.audit, ev)
}

// Close closes the underlying files.
func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, file := range f.files {
		if err := file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.files = nil
	return errors.Join(errs...)
}
