// ABOUTME: Tests for the CSV trigger sink
// ABOUTME: Covers file layout, per-row flushing, and directory creation
package csvsink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/TriggerSync-Protocol/triggersync-go/pkg/triggersync"
)

func TestSinkWritesHeaderAndRows(t *testing.T) {
	sink, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	when := time.Date(2025, 6, 15, 9, 30, 0, 123456789, time.UTC)
	if err := sink.HandleTrigger(triggersync.Event{Tick: 42, Time: when, Sequence: 1}); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(sink.Path())
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want header plus one row", len(records))
	}
	if records[0][0] != "timestamp_local" || records[0][1] != "epoch_nanos_utc" {
		t.Errorf("header = %v", records[0])
	}

	stamp, err := time.Parse(time.RFC3339Nano, records[1][0])
	if err != nil {
		t.Fatalf("timestamp_local %q does not parse: %v", records[1][0], err)
	}
	if !stamp.Equal(when) {
		t.Errorf("timestamp_local = %s, want instant %s", stamp, when)
	}

	nanos, err := strconv.ParseInt(records[1][1], 10, 64)
	if err != nil {
		t.Fatalf("epoch_nanos_utc %q does not parse: %v", records[1][1], err)
	}
	if nanos != when.UnixNano() {
		t.Errorf("epoch_nanos_utc = %d, want %d", nanos, when.UnixNano())
	}
}

func TestSinkFilenameCarriesSessionStamp(t *testing.T) {
	sink, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sink.Close()

	name := filepath.Base(sink.Path())
	if matched, _ := regexp.MatchString(`^triggers_\d{8}_\d{6}\.csv$`, name); !matched {
		t.Errorf("filename %q does not match triggers_YYYYMMDD_HHMMSS.csv", name)
	}
}

func TestSinkCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "capture", "session")
	sink, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sink.Close()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("output directory was not created: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("%s is not a directory", dir)
	}
}

func TestRowsVisibleBeforeClose(t *testing.T) {
	sink, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sink.Close()

	ev := triggersync.Event{Tick: 7, Time: time.Now(), Sequence: 1}
	if err := sink.HandleTrigger(ev); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}

	// The file is still open; every row must already be on disk.
	data, err := os.ReadFile(sink.Path())
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("got %d complete lines before Close, want header plus row", lines)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := expandHome("~/TRIGGER_DATA"); got != filepath.Join(home, "TRIGGER_DATA") {
		t.Errorf("expandHome(~/TRIGGER_DATA) = %q", got)
	}
	if got := expandHome("/var/data"); got != "/var/data" {
		t.Errorf("expandHome(/var/data) = %q", got)
	}
	if got := expandHome("relative/dir"); got != "relative/dir" {
		t.Errorf("expandHome(relative/dir) = %q", got)
	}
}
