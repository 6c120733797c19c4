package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Table is a header row plus records keyed by column name.
type Table struct {
	Columns []string
	Rows    []map[string]string
}

// Append adds one record. Missing columns render as empty cells.
func (t *Table) Append(row map[string]string) {
	t.Rows = append(t.Rows, row)
}

// WriteCSV streams the table to w in column order.
func WriteCSV(w io.Writer, t Table) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("csv requires at least one column")
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for j, col := range t.Columns {
			record[j] = row[col]
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
