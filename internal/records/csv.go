// Package records turns the CSV bodies returned by the interactions API into
// ordered key/value records.
package records

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// InteractionTypeColumn is the column GloBI uses to tag each interaction.
const InteractionTypeColumn = "interaction_type"

// ParseCSV reads text whose first row is the header and returns one record
// per data row, in row order.
//
// Parsing is permissive: quotes are read leniently and rows may be ragged.
// A short row only carries the columns it actually has; cells beyond the
// header width are dropped. Blank lines are skipped. Input without any data
// row yields an empty, non-nil slice.
func ParseCSV(text string) ([]Record, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	out := []Record{}

	row, err := r.Read()
	if errors.Is(err, io.EOF) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	header := make([]string, len(row))
	copy(header, row)

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(out)+1, err)
		}

		var rec Record
		for i, name := range header {
			if i >= len(row) {
				break
			}
			rec.Set(name, row[i])
		}
		out = append(out, rec)
	}

	return out, nil
}

// Encode renders records as a JSON array. A nil slice encodes as [].
func Encode(recs []Record) ([]byte, error) {
	if recs == nil {
		recs = []Record{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return b, nil
}

// Decode parses a JSON array produced by Encode.
func Decode(data []byte) ([]Record, error) {
	out := []Record{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return out, nil
}

// CountInteractionTypes returns how many distinct interaction_type values
// appear across recs. Records without the column share one "absent" value.
func CountInteractionTypes(recs []Record) int {
	type key struct {
		value   string
		present bool
	}
	seen := make(map[key]struct{}, len(recs))
	for _, rec := range recs {
		v, ok := rec.Get(InteractionTypeColumn)
		seen[key{value: v, present: ok}] = struct{}{}
	}
	return len(seen)
}
