package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// ParseFile parses the rows of a RECORD file.
//
// The format is CSV: comma-delimited, double-quote-quoted fields, "\n" line
// terminator. Exactly three columns are expected per row; rows carrying
// extra trailing columns are accepted with a warning (some build backends
// emit them), rows with fewer are a hard error identifying the 0-based row
// index. Backslash path separators are normalized to forward slashes,
// defending against archives built with inconsistent separators.
func ParseFile(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var entries []Entry
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("row index %d: %w", parseErr.Line-1, err)
			}
			return nil, err
		}
		// The CSV reader skips blank lines, so the physical position is the
		// only index that matches what the caller sees in the file.
		line, _ := reader.FieldPos(0)
		index := line - 1
		if len(row) < 3 {
			return nil, fmt.Errorf("row index %d: expected 3 elements, got %d", index, len(row))
		}
		if len(row) > 3 {
			log.Warn("dropping extra RECORD columns", "row", index, "columns", len(row))
		}

		path := strings.ReplaceAll(row[0], "\\", "/")
		entry, err := EntryFromRow(path, row[1], row[2])
		if err != nil {
			return nil, fmt.Errorf("row index %d: %w", index, err)
		}
		entries = append(entries, entry)
	}
}

// WriteFile writes one CSV row per entry, in the given order. Callers are
// responsible for any ordering and for relocating paths of entries recorded
// against a different scheme directory; no sorting is performed here.
func WriteFile(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	for _, entry := range entries {
		row := entry.Row()
		if err := writer.Write(row[:]); err != nil {
			return fmt.Errorf("writing RECORD row for %s: %w", entry.Path, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
