package hands

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mindincarnation/internal/types"
)

// Transcript streams {ts, stream, line} JSONL records for one Hands run.
// The header is written before spawn so the file survives even if the
// process is killed mid-run.
type Transcript struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Transcript stream labels.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamMeta   = "meta"
)

// NewTranscript opens the transcript and writes its header line.
func NewTranscript(path string, header map[string]any) (*Transcript, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript %s: %w", path, err)
	}
	t := &Transcript{file: f, path: path}

	h := map[string]any{"ts": types.NowTS(), "stream": StreamMeta, "line": "mi.transcript.start"}
	for k, v := range header {
		h[k] = v
	}
	if err := t.write(h); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

// Path returns the transcript file path.
func (t *Transcript) Path() string { return t.path }

// Line appends one raw output line.
func (t *Transcript) Line(stream, line string) {
	_ = t.write(map[string]any{"ts": types.NowTS(), "stream": stream, "line": line})
}

// Meta appends an MI-internal note, e.g. "mi.interrupt.sent=SIGINT".
func (t *Transcript) Meta(format string, args ...any) {
	t.Line(StreamMeta, fmt.Sprintf(format, args...))
}

func (t *Transcript) write(rec map[string]any) error {
	data, err := sortedLine(rec)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.file.Write(data); err != nil {
		return fmt.Errorf("transcript write failed: %w", err)
	}
	return nil
}

// Close flushes and closes the transcript with an exit meta line.
func (t *Transcript) Close(exitCode int, duration time.Duration) {
	t.Meta("mi.hands.exit_code=%d duration_ms=%d", exitCode, duration.Milliseconds())
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.file.Sync()
	_ = t.file.Close()
}
