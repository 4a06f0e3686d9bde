package hookstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Record is the last-known lifecycle record for one agent session. The
// state file maps session id to the most recent Record for that session;
// it is a last-value-per-key snapshot, not an append log.
type Record struct {
	SessionID string       `json:"session_id"`
	Cwd       string       `json:"cwd"`
	State     DisplayState `json:"state"`
	Timestamp int64        `json:"timestamp"` // epoch ms
	HookEvent string       `json:"hook_event"`
}

// Read parses the state file into a session id -> Record mapping.
// A missing file yields an empty mapping. Any parse error must be treated
// by the caller as "no update this cycle": the file may be observed
// mid-write by a concurrent emitter, and prior state must be retained.
func Read(path string) (map[string]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return map[string]Record{}, nil
	}

	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if records == nil {
		records = map[string]Record{}
	}
	return records, nil
}

// Merge folds one record into the state file under its session id and
// writes the result atomically (tmp + rename). Unreadable or legacy-shaped
// content is discarded and the file is rebuilt as a fresh mapping; this is
// the one-way migration from the old single-record format.
//
// Entries for other sessions whose timestamp is older than maxAge are
// dropped on the way through, so sessions that die without a final event
// do not accumulate in the file. maxAge <= 0 disables pruning.
func Merge(path string, rec Record, maxAge time.Duration) error {
	if rec.SessionID == "" {
		return fmt.Errorf("merge: record has no session id")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	records := readForMerge(path)
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).UnixMilli()
		for id, old := range records {
			if id != rec.SessionID && old.Timestamp < cutoff {
				delete(records, id)
			}
		}
	}
	records[rec.SessionID] = rec

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal state file: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// readForMerge loads the current mapping for a read-modify-write cycle.
// Unlike Read, it never fails: content that cannot be interpreted as a
// session mapping (including the legacy single-record shape, detected by a
// top-level string session_id) starts over empty.
func readForMerge(path string) map[string]Record {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return map[string]Record{}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]Record{}
	}

	// Legacy shape: the whole file is one record with a top-level
	// session_id string. Discard and rebuild.
	if idRaw, ok := raw["session_id"]; ok {
		var id string
		if err := json.Unmarshal(idRaw, &id); err == nil {
			return map[string]Record{}
		}
	}

	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil || records == nil {
		return map[string]Record{}
	}
	return records
}
