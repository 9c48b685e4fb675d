// ABOUTME: CSV sink recording one row per resolved trigger
// ABOUTME: Writes timestamp_local and epoch_nanos_utc columns, flushed per row
package csvsink

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/TriggerSync-Protocol/triggersync-go/pkg/triggersync"
)

// Sink writes resolved triggers to a session-stamped CSV file. It
// implements triggersync.TriggerSink.
type Sink struct {
	path string
	f    *os.File
	w    *csv.Writer
}

// New creates the output directory if needed and opens a new session file
// named triggers_YYYYMMDD_HHMMSS.csv inside it.
func New(dir string) (*Sink, error) {
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("triggers_%s.csv", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := writeRow(w, []string{"timestamp_local", "epoch_nanos_utc"}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	log.Printf("Saving trigger data to %s", path)
	return &Sink{path: path, f: f, w: w}, nil
}

// HandleTrigger appends one row for a resolved trigger. Each row is
// flushed to the file before returning.
func (s *Sink) HandleTrigger(ev triggersync.Event) error {
	row := []string{
		ev.Time.Local().Format(time.RFC3339Nano),
		strconv.FormatInt(ev.Time.UnixNano(), 10),
	}
	if err := writeRow(s.w, row); err != nil {
		return fmt.Errorf("failed to write trigger row: %w", err)
	}
	return nil
}

// Path returns the session file path.
func (s *Sink) Path() string {
	return s.path
}

// Close flushes any buffered output and closes the session file.
func (s *Sink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// expandHome resolves a leading ~ so config values like ~/TRIGGER_DATA
// work even when no shell performed the expansion.
func expandHome(dir string) string {
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dir
	}
	return filepath.Join(home, strings.TrimPrefix(dir[1:], "/"))
}
