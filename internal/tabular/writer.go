package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/bamops/reconciler/internal/rows"
)

// WriteCSV writes rows back out in the same tabular schema they were read
// in, used for both the `export` CLI subcommand and the `rollback` CLI
// subcommand's rollback file. The header is the union of every row's Fields keys,
// row_id always first.
func WriteCSV(w io.Writer, data []*rows.Row) error {
	headerSet := map[string]struct{}{}
	for _, r := range data {
		for k := range r.Fields {
			headerSet[k] = struct{}{}
		}
	}
	delete(headerSet, "row_id")

	header := make([]string, 0, len(headerSet)+1)
	header = append(header, "row_id")
	rest := make([]string, 0, len(headerSet))
	for k := range headerSet {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	header = append(header, rest...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("tabular: failed to write header: %w", err)
	}

	for _, r := range data {
		record := make([]string, len(header))
		for i, h := range header {
			if h == "row_id" {
				record[i] = r.RowID
				continue
			}
			record[i] = r.Fields[h]
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("tabular: failed to write row %s: %w", r.RowID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
