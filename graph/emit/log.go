package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// LogEmitter writes envelopes as JSONL, one per line. Used for the
// state-log debugging directory: one file per thread, appended across
// runs.
type LogEmitter struct {
	mu     sync.Mutex
	writer io.Writer
	file   *os.File
}

// NewLogEmitter creates an emitter writing to the given writer. A nil
// writer defaults to stdout.
func NewLogEmitter(w io.Writer) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{writer: w}
}

// NewFileLogEmitter opens (or creates) <dir>/<threadID>.jsonl for
// appending and returns an emitter writing to it. The directory is
// created if missing.
func NewFileLogEmitter(dir, threadID string) (*LogEmitter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state-log dir: %w", err)
	}
	path := filepath.Join(dir, threadID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 -- path built from config dir + thread id
	if err != nil {
		return nil, fmt.Errorf("open state log: %w", err)
	}
	return &LogEmitter{writer: f, file: f}, nil
}

// Emit writes one envelope as a JSON line. Marshal failures degrade to
// an error line rather than interrupting the run.
func (l *LogEmitter) Emit(e Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal envelope: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

// Close closes the underlying file if the emitter owns one.
func (l *LogEmitter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
