// Package opstate implements the State Store (C1): per-operation JSON state
// files with crash-safe atomic updates (write-to-temp + os.Rename) and an
// append-only, size-rotated event log.
package opstate

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/v0dev/v0core/internal/constants"
	"github.com/v0dev/v0core/internal/verr"
)

// CurrentSchemaVersion is the state.json schema version this binary writes.
const CurrentSchemaVersion = 1

// Phase enumerates the Phase State Machine's states.
type Phase string

const (
	PhaseInit          Phase = "init"
	PhasePlanned       Phase = "planned"
	PhaseQueued        Phase = "queued"
	PhaseExecuting     Phase = "executing"
	PhaseCompleted     Phase = "completed"
	PhasePendingMerge  Phase = "pending_merge"
	PhaseMerged        Phase = "merged"
	PhaseFailed        Phase = "failed"
	PhaseConflict      Phase = "conflict"
	PhaseInterrupted   Phase = "interrupted"
	PhaseCancelled     Phase = "cancelled"
)

// MergeStatus enumerates Operation.MergeStatus values.
type MergeStatus string

const (
	MergeStatusAbsent              MergeStatus = "absent"
	MergeStatusMerging             MergeStatus = "merging"
	MergeStatusMerged              MergeStatus = "merged"
	MergeStatusConflict            MergeStatus = "conflict"
	MergeStatusVerificationFailed  MergeStatus = "verification_failed"
)

// OpType enumerates Operation.Type values.
type OpType string

const (
	TypeFeature OpType = "feature"
	TypeRoadmap OpType = "roadmap"
	TypeGoal    OpType = "goal"
)

// Operation is the persisted unit of planned work. Field names
// are part of the on-disk schema and must not be renamed.
type Operation struct {
	Name            string      `json:"name"`
	Phase           Phase       `json:"phase"`
	Type            OpType      `json:"type,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	MergedAt        *time.Time  `json:"merged_at,omitempty"`
	CancelledAt     *time.Time  `json:"cancelled_at,omitempty"`
	Worktree        string      `json:"worktree,omitempty"`
	Branch          string      `json:"branch,omitempty"`
	TmuxSession     string      `json:"tmux_session,omitempty"`
	EpicID          string      `json:"epic_id,omitempty"`
	PlanFile        string      `json:"plan_file,omitempty"`
	MergeQueued     bool        `json:"merge_queued"`
	MergeStatus     MergeStatus `json:"merge_status,omitempty"`
	MergeCommit     string      `json:"merge_commit,omitempty"`
	MergeError      string      `json:"merge_error,omitempty"`
	MergeResumed    bool        `json:"merge_resumed,omitempty"`
	ResumeActor     string      `json:"resume_actor,omitempty"`
	WorktreeMissing bool        `json:"worktree_missing,omitempty"`
	Held            bool        `json:"held,omitempty"`
	HeldAt          *time.Time  `json:"held_at,omitempty"`
	SchemaVersion   int         `json:"_schema_version"`

	// extra preserves unknown fields across a read-modify-write cycle so a
	// schema migration never drops data it doesn't understand.
	extra map[string]json.RawMessage `json:"-"`
}

// Store is the C1 State Store over one project's build directory.
type Store struct {
	OperationsDir string
	// RotateBytes is the events.log size threshold that triggers rotation.
	RotateBytes int64
	// RotateKeep is how many rotated copies to retain.
	RotateKeep int
}

// New constructs a Store rooted at the given operations directory.
func New(operationsDir string) *Store {
	return &Store{OperationsDir: operationsDir, RotateBytes: 1 << 20, RotateKeep: 5}
}

func (s *Store) dir(op string) string       { return filepath.Join(s.OperationsDir, op) }
func (s *Store) statePath(op string) string { return filepath.Join(s.dir(op), constants.StateFileName) }
func (s *Store) eventsPath(op string) string {
	return filepath.Join(s.dir(op), constants.EventsFileName)
}

// Create creates a brand-new operation in PhaseInit.
func (s *Store) Create(name string, opType OpType) (*Operation, error) {
	now := time.Now().UTC()
	op := &Operation{
		Name:          name,
		Phase:         PhaseInit,
		Type:          opType,
		CreatedAt:     now,
		UpdatedAt:     now,
		MergeStatus:   MergeStatusAbsent,
		SchemaVersion: CurrentSchemaVersion,
	}
	if err := os.MkdirAll(s.dir(name), 0o755); err != nil {
		return nil, fmt.Errorf("creating operation directory: %w", err)
	}
	if err := s.writeAtomic(name, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Read loads an operation, migrating it in place if its stored schema
// version is older than CurrentSchemaVersion.
func (s *Store) Read(op string) (*Operation, error) {
	data, err := os.ReadFile(s.statePath(op))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", verr.ErrConfigNotFound, op)
		}
		return nil, fmt.Errorf("reading state for %s: %w", op, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing state for %s: %w", op, err)
	}
	var o Operation
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parsing state for %s: %w", op, err)
	}
	// Keep only the keys Operation has no field for; known keys are always
	// re-encoded from the typed fields, so a cleared omitempty field stays
	// cleared.
	t := reflect.TypeOf(o)
	for i := 0; i < t.NumField(); i++ {
		if name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ","); name != "-" {
			delete(raw, name)
		}
	}
	o.extra = raw

	if o.SchemaVersion < CurrentSchemaVersion {
		migrate(&o)
		if err := s.writeAtomic(op, &o); err != nil {
			return nil, fmt.Errorf("writing migrated state for %s: %w", op, err)
		}
		_ = s.EmitEvent(op, "schema:migrated", fmt.Sprintf("to v%d", CurrentSchemaVersion))
	}
	return &o, nil
}

// migrate performs the one documented idempotent, additive migration: the
// legacy "after" field is dropped in favor of recording the dependency in
// the external issue tracker.
func migrate(o *Operation) {
	delete(o.extra, "after")
	o.SchemaVersion = CurrentSchemaVersion
}

// ReadFields reads a single-pass snapshot of named fields via a generic
// projection function supplied by the caller.
func (s *Store) ReadFields(op string, project func(*Operation) any) (any, error) {
	o, err := s.Read(op)
	if err != nil {
		return nil, err
	}
	return project(o), nil
}

// Update applies one in-memory mutation and persists it atomically.
func (s *Store) Update(op string, mutate func(*Operation)) (*Operation, error) {
	return s.BulkUpdate(op, mutate)
}

// BulkUpdate applies all mutation functions to one in-memory copy and
// persists the result via a single write-to-temp + rename.
func (s *Store) BulkUpdate(op string, mutators ...func(*Operation)) (*Operation, error) {
	o, err := s.Read(op)
	if err != nil {
		return nil, err
	}
	for _, m := range mutators {
		m(o)
	}
	o.UpdatedAt = time.Now().UTC()
	if err := s.writeAtomic(op, o); err != nil {
		return nil, err
	}
	return o, nil
}

// writeAtomic serializes op to a same-directory temp file and renames it
// over state.json, so readers never observe a torn write.
func (s *Store) writeAtomic(op string, o *Operation) error {
	merged := map[string]json.RawMessage{}
	for k, v := range o.extra {
		merged[k] = v
	}
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", op, err)
	}
	// Re-merge any preserved unknown top-level fields over the typed encode.
	if len(merged) > 0 {
		var typed map[string]json.RawMessage
		if err := json.Unmarshal(data, &typed); err == nil {
			for k, v := range merged {
				if _, known := typed[k]; !known {
					typed[k] = v
				}
			}
			if out, err := json.MarshalIndent(typed, "", "  "); err == nil {
				data = out
			}
		}
	}

	dir := s.dir(op)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating operation directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.statePath(op)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming state file into place: %w", err)
	}
	return nil
}

// EmitEvent appends a "[ts] kind: detail" line to the operation's event
// log, rotating it first if it has grown past RotateBytes.
func (s *Store) EmitEvent(op, kind, detail string) error {
	path := s.eventsPath(op)
	if err := os.MkdirAll(s.dir(op), 0o755); err != nil {
		return fmt.Errorf("creating operation directory: %w", err)
	}
	if fi, err := os.Stat(path); err == nil && fi.Size() > s.RotateBytes {
		if err := s.rotate(op); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening events log: %w", err)
	}
	defer f.Close()
	line := fmt.Sprintf("[%s] %s: %s\n", time.Now().UTC().Format(time.RFC3339), kind, detail)
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(line); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return w.Flush()
}

// rotate shifts events.log -> events.log.1 -> events.log.2 ... up to
// RotateKeep, dropping the oldest copy.
func (s *Store) rotate(op string) error {
	base := s.eventsPath(op)
	oldest := fmt.Sprintf("%s.%d", base, s.RotateKeep)
	os.Remove(oldest)
	for i := s.RotateKeep - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", base, i)
		to := fmt.Sprintf("%s.%d", base, i+1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("rotating events log: %w", err)
			}
		}
	}
	if err := os.Rename(base, base+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotating events log: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the stored schema version, or 0 if the
// operation has never been written.
func (s *Store) GetSchemaVersion(op string) (int, error) {
	o, err := s.Read(op)
	if err != nil {
		if errors.Is(err, verr.ErrConfigNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return o.SchemaVersion, nil
}

// List returns every known operation name under the store.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.OperationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
