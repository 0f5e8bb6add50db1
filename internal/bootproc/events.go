package bootproc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
)

// EventType enumerates the event kinds recorded by Events, mirroring
// Live.py's Events class (DECL/BOOT/SHUT/WSTART/WSTOP/UPDATE/INFO/EXC).
type EventType string

const (
	EventDeclared     EventType = "DECL"
	EventBooted       EventType = "BOOT"
	EventShutdown     EventType = "SHUT"
	EventWindowsStart EventType = "WSTART"
	EventWindowsStop  EventType = "WSTOP"
	EventUpdate       EventType = "UPDATE"
	EventInfo         EventType = "INFO"
	EventException    EventType = "EXC"
)

// Event is one recorded entry in the device's event log.
type Event struct {
	Timestamp int64           `json:"ts"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// EventLog is an append-only record of boot/shutdown/update events for a
// device, grounded on Events' SQLite-backed table. No SQLite driver is
// carried by the retrieval pack, so this reimplements the same
// backlog-then-flush shape over a newline-delimited JSON file instead of
// a database: entries queue in an in-memory backlog until the internal
// partition is mounted, then Flush appends them in one pass, matching
// _open_db's empty-backlog-on-connect behaviour.
type EventLog struct {
	path    string
	backlog []Event
}

// OpenEventLog binds to events.jsonl under internalDir (typically
// /internal), without requiring the path to exist yet.
func OpenEventLog(internalDir string) *EventLog {
	return &EventLog{path: filepath.Join(internalDir, "events.jsonl")}
}

func (e *EventLog) record(timestamp int64, typ EventType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	ev := Event{Timestamp: timestamp, Type: typ, Data: raw}
	if _, statErr := os.Stat(filepath.Dir(e.path)); statErr != nil {
		e.backlog = append(e.backlog, ev)
		return nil
	}
	return e.append(ev)
}

func (e *EventLog) append(ev Event) error {
	f, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "open event log", err)
	}
	defer f.Close()
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "append event log", err)
	}
	return nil
}

// Flush writes every backlogged event now that the internal partition is
// known to be mounted, emptying the backlog on success.
func (e *EventLog) Flush() error {
	for _, ev := range e.backlog {
		if err := e.append(ev); err != nil {
			return err
		}
	}
	e.backlog = nil
	return nil
}

func (e *EventLog) AddBooted(timestamp int64) error { return e.record(timestamp, EventBooted, struct{}{}) }

func (e *EventLog) AddShutdown(timestamp int64) error {
	return e.record(timestamp, EventShutdown, struct{}{})
}

func (e *EventLog) AddWindowsStart(timestamp int64) error {
	return e.record(timestamp, EventWindowsStart, struct{}{})
}

func (e *EventLog) AddWindowsStop(timestamp int64) error {
	return e.record(timestamp, EventWindowsStop, struct{}{})
}

func (e *EventLog) AddUpdate(timestamp int64, data map[string]any) error {
	return e.record(timestamp, EventUpdate, data)
}

func (e *EventLog) AddInfo(timestamp int64, module, message string) error {
	return e.record(timestamp, EventInfo, map[string]string{"module": module, "message": message})
}

func (e *EventLog) AddException(timestamp int64, module, errText string) error {
	return e.record(timestamp, EventException, map[string]string{"module": module, "error": errText})
}

// ReadAll loads every recorded event, for diagnostics or forwarding to a
// home-base service.
func (e *EventLog) ReadAll() ([]Event, error) {
	raw, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, insecaerr.Wrap(insecaerr.KindFilesystemError, "read event log", err)
	}
	var events []Event
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "parse event log", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
