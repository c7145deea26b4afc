// Package tabular reads the CSV-style input format: a BOM-tolerant,
// comment-aware reader that dispatches each row to its object_type schema
// in internal/rows and collects validation errors rather than aborting on
// the first one.
package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/bamops/reconciler/internal/rows"
)

// Mode selects how the parser treats a non-empty validation error list.
type Mode string

const (
	// ModeStrict fails the whole parse if any validation error occurred.
	ModeStrict Mode = "strict"
	// ModeWarn surfaces validation errors as warnings; valid rows proceed.
	ModeWarn Mode = "warn"
)

// SupportedSchemaVersions is the closed, configurable set of
// schema_version values this parser accepts without a warning.
var SupportedSchemaVersions = map[string]struct{}{
	"1": {}, "2": {},
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseResult is the outcome of a parse: the accepted rows plus every
// validation error encountered, in input order.
type ParseResult struct {
	Rows     []*rows.Row
	Errors   []*rows.ValidationError
	Warnings []string
}

// Parse reads r as BOM-tolerant, comment-aware CSV and returns every row
// dispatched through its object_type schema. In ModeStrict, a non-empty
// Errors list means the caller should treat the whole parse as failed;
// Rows is still populated with what did validate so callers can report
// both. In ModeWarn, Rows contains every row that passed its own schema's
// validation while Errors carries what failed for ones that didn't.
func Parse(r io.Reader, mode Mode) (*ParseResult, error) {
	br := bufio.NewReader(r)
	stripBOM(br)

	// encoding/csv doesn't tolerate '#'-prefixed comment lines mixed with
	// the header, so we pre-filter comment lines into Warnings metadata
	// and feed the rest to csv.Reader.
	var body strings.Builder
	var comments []string
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			comments = append(comments, line)
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tabular: scan failed: %w", err)
	}

	cr := csv.NewReader(strings.NewReader(body.String()))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return &ParseResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tabular: failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) == 0 || header[0] != "row_id" {
		return nil, fmt.Errorf("tabular: first column must be row_id, got %q", headerFirst(header))
	}

	result := &ParseResult{Warnings: comments}
	lineNum := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tabular: malformed record near line %d: %w", lineNum, err)
		}
		lineNum++

		fields := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(record) {
				fields[h] = strings.TrimSpace(record[i])
			}
		}

		row, rowErrs := buildRow(fields)
		result.Errors = append(result.Errors, rowErrs...)
		// an unsupported schema_version is only a warning; any other error
		// keeps the row out of Rows.
		valid := true
		for _, e := range rowErrs {
			if e.Field != "schema_version" {
				valid = false
				break
			}
		}
		if row != nil && valid {
			result.Rows = append(result.Rows, row)
		}
	}

	if mode == ModeStrict && len(result.Errors) > 0 {
		return result, fmt.Errorf("tabular: %d validation error(s) in strict mode", len(result.Errors))
	}

	return result, nil
}

func headerFirst(header []string) string {
	if len(header) == 0 {
		return ""
	}
	return header[0]
}

func buildRow(fields map[string]string) (*rows.Row, []*rows.ValidationError) {
	rowID := fields["row_id"]
	if rowID == "" {
		return nil, []*rows.ValidationError{{Message: "row_id is required"}}
	}

	objectType := rows.ObjectType(fields["object_type"])
	ctor, known := rows.SchemaRegistry[objectType]
	if !known {
		// unknown object_type: reported as a validation error, so Parse
		// leaves the row out of Rows and strict mode fails the parse.
		p := &rows.GenericPayload{}
		errs := p.Validate(rowID, fields)
		errs = append(errs, &rows.ValidationError{RowID: rowID, Field: "object_type", Message: "unknown object_type: " + string(objectType)})
		row := &rows.Row{
			RowID:      rowID,
			Action:     rows.Action(fields["action"]),
			ObjectType: objectType,
			Config:     fields["config"],
			View:       fields["view"],
			Fields:     fields,
			Payload:    p,
		}
		return row, errs
	}

	validator := ctor()
	errs := validator.Validate(rowID, fields)

	action := rows.Action(strings.ToLower(strings.TrimSpace(fields["action"])))
	if action != rows.ActionCreate && action != rows.ActionUpdate && action != rows.ActionDelete {
		errs = append(errs, &rows.ValidationError{RowID: rowID, Field: "action", Message: "must be one of create, update, delete"})
	}

	updateMode := rows.UpdateMode(strings.ToLower(strings.TrimSpace(fields["update_mode"])))
	if updateMode == "" {
		updateMode = rows.UpdateModeUpsert
	}

	if sv := strings.TrimSpace(fields["schema_version"]); sv != "" {
		if _, ok := SupportedSchemaVersions[sv]; !ok {
			errs = append(errs, &rows.ValidationError{RowID: rowID, Field: "schema_version", Message: "unsupported schema_version (warning): " + sv})
		}
	}

	row := &rows.Row{
		RowID:      rowID,
		Action:     action,
		ObjectType: objectType,
		Config:     fields["config"],
		View:       fields["view"],
		UpdateMode: updateMode,
		Fields:     fields,
		Payload:    validator,
	}

	return row, errs
}

func stripBOM(br *bufio.Reader) {
	peek, err := br.Peek(len(utf8BOM))
	if err != nil {
		return
	}
	if string(peek) == string(utf8BOM) {
		br.Discard(len(utf8BOM))
	}
}
