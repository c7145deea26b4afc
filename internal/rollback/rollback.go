// Package rollback implements the inverse-operation generator (C11): from
// the ordered list of successful results in a session, it builds a row set
// that, run back through the same pipeline, undoes the session's effect.
// It also appends the flat per-operation changelog consumed by the
// `history` CLI subcommand.
package rollback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bamops/reconciler/internal/checkpoint"
	"github.com/bamops/reconciler/internal/rows"
)

// identityFields are copied from the original row onto its inverse so the
// planner can re-resolve the same remote entity without a resource_id.
var identityFields = []string{
	"object_type", "config", "view", "parent_path",
	"cidr", "address", "absolute_name", "name", "mac_address",
}

// Warning is a non-fatal note surfaced alongside the generated rows, e.g.
// a resource_tag rollback with nothing left to point at.
type Warning struct {
	RowID   string
	Message string
}

// Generate builds the rollback row set for a session. original maps each
// row_id to the row that produced it, needed to recover the identity
// fields a create's inverse delete must target. results should be in the
// order operations completed; Generate replays them in reverse so that,
// e.g., a network created after its containing block is deleted before
// the block in the rollback plan.
func Generate(original map[string]*rows.Row, results []*checkpoint.Result) ([]*rows.Row, []Warning, error) {
	out := make([]*rows.Row, 0, len(results))
	var warnings []Warning

	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if !r.Success {
			continue
		}

		src, ok := original[r.RowID]
		if !ok {
			warnings = append(warnings, Warning{RowID: r.RowID, Message: "original row not found, skipping inverse"})
			continue
		}

		inv, warn, err := invert(r, src)
		if err != nil {
			return nil, nil, fmt.Errorf("rollback: row %s: %w", r.RowID, err)
		}
		if warn != "" {
			warnings = append(warnings, Warning{RowID: r.RowID, Message: warn})
		}
		if inv != nil {
			out = append(out, inv)
		}
	}

	return out, warnings, nil
}

func invert(r *checkpoint.Result, src *rows.Row) (*rows.Row, string, error) {
	switch r.OperationType {
	case "create":
		return invertCreate(r, src), "", nil
	case "update":
		return invertUpdate(r, src)
	case "delete":
		return invertDelete(r, src)
	case "noop":
		return nil, "", nil
	default:
		return nil, "", fmt.Errorf("unrecognised operation_type %q", r.OperationType)
	}
}

// invertCreate targets the same identity for deletion; a create has no
// prior state to restore, so the original row's own identity fields are
// enough for the planner to re-resolve the entity it made.
func invertCreate(r *checkpoint.Result, src *rows.Row) *rows.Row {
	fields := identitySubset(src.Fields)
	fields["row_id"] = "rollback-" + r.RowID
	fields["action"] = string(rows.ActionDelete)

	return &rows.Row{
		RowID:      fields["row_id"],
		Action:     rows.ActionDelete,
		ObjectType: src.ObjectType,
		Config:     src.Config,
		View:       src.View,
		Fields:     fields,
	}
}

// invertUpdate restores the fields observed immediately before the
// session's update. A resource_tag with no captured prior state (the tag
// or resource has since vanished) is a documented no-op-with-warning.
func invertUpdate(r *checkpoint.Result, src *rows.Row) (*rows.Row, string, error) {
	if len(r.PriorState) == 0 {
		if src.ObjectType == rows.ObjectResourceTag {
			return nil, "resource_tag update has no prior state to restore; skipping", nil
		}
		return nil, "", fmt.Errorf("update result carries no prior state")
	}

	fields := identitySubset(src.Fields)
	for k, v := range r.PriorState {
		fields[k] = fmt.Sprintf("%v", v)
	}
	fields["row_id"] = "rollback-" + r.RowID
	fields["action"] = string(rows.ActionUpdate)

	return &rows.Row{
		RowID:      fields["row_id"],
		Action:     rows.ActionUpdate,
		ObjectType: src.ObjectType,
		Config:     src.Config,
		View:       src.View,
		UpdateMode: rows.UpdateModeUpdateOnly,
		Fields:     fields,
	}, "", nil
}

// invertDelete recreates the entity from its captured prior state. A
// resource_tag whose underlying tag or resource was already gone at
// delete time carries no prior state either; that too is a no-op.
func invertDelete(r *checkpoint.Result, src *rows.Row) (*rows.Row, string, error) {
	if len(r.PriorState) == 0 {
		if src.ObjectType == rows.ObjectResourceTag {
			return nil, "resource_tag delete has no prior state to restore; skipping", nil
		}
		return nil, "", fmt.Errorf("delete result carries no prior state")
	}

	fields := make(map[string]string, len(r.PriorState)+4)
	for k, v := range r.PriorState {
		fields[k] = fmt.Sprintf("%v", v)
	}
	fields["row_id"] = "rollback-" + r.RowID
	fields["action"] = string(rows.ActionCreate)
	fields["object_type"] = string(src.ObjectType)
	fields["config"] = src.Config
	fields["view"] = src.View

	return &rows.Row{
		RowID:      fields["row_id"],
		Action:     rows.ActionCreate,
		ObjectType: src.ObjectType,
		Config:     src.Config,
		View:       src.View,
		UpdateMode: rows.UpdateModeCreateOnly,
		Fields:     fields,
	}, "", nil
}

func identitySubset(fields map[string]string) map[string]string {
	out := make(map[string]string, len(identityFields))
	for _, f := range identityFields {
		if v, ok := fields[f]; ok && v != "" {
			out[f] = v
		}
	}
	return out
}

// changelogEntry is one line of a session's .changelogs/<session_id>.jsonl
// file, consumed by the `history` CLI subcommand.
type changelogEntry struct {
	RowID         string `json:"row_id"`
	ObjectType    string `json:"object_type"`
	OperationType string `json:"operation_type"`
	Success       bool   `json:"success"`
	ResourceID    *int64 `json:"resource_id,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	RecordedAt    string `json:"recorded_at"`
}

// WriteChangelog appends one JSON line per result to
// <dir>/<session_id>.jsonl, creating the directory and file as needed.
func WriteChangelog(dir, sessionID string, results []*checkpoint.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("rollback: failed to create changelog directory: %w", err)
	}

	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("rollback: failed to open changelog %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range results {
		entry := changelogEntry{
			RowID:         r.RowID,
			ObjectType:    r.ObjectType,
			OperationType: r.OperationType,
			Success:       r.Success,
			ResourceID:    r.ResourceID,
			ErrorKind:     r.ErrorKind,
			RecordedAt:    r.RecordedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("rollback: failed to write changelog entry for row %s: %w", r.RowID, err)
		}
	}
	return nil
}

// ReadChangelog reads back every entry from a session's changelog file, in
// append order, for the `history` CLI subcommand.
func ReadChangelog(dir, sessionID string) ([]*checkpoint.Result, error) {
	path := filepath.Join(dir, sessionID+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rollback: failed to read changelog %s: %w", path, err)
	}

	var out []*checkpoint.Result
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var entry changelogEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("rollback: failed to decode changelog entry: %w", err)
		}
		out = append(out, &checkpoint.Result{
			RowID:         entry.RowID,
			ObjectType:    entry.ObjectType,
			OperationType: entry.OperationType,
			Success:       entry.Success,
			ResourceID:    entry.ResourceID,
			ErrorKind:     entry.ErrorKind,
		})
	}
	return out, nil
}
