package checkpoint

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var csvHeader = []string{"table", "record_id", "error_class", "error_message", "attempts"}

// ExportFailuresCSV writes a run's unresolved failures as CSV for
// offline triage.
func (s *State) ExportFailuresCSV(w io.Writer, runID string) error {
	failures, err := s.Unresolved(runID, "")
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range failures {
		rec := []string{f.Table, f.RecordID, f.Class, f.Message, strconv.Itoa(f.Attempts)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFailuresCSV parses a failure export back into records, so a
// hand-edited snapshot can drive a replay.
func ReadFailuresCSV(r io.Reader) ([]FailureRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	for i, h := range csvHeader {
		if header[i] != h {
			return nil, fmt.Errorf("unexpected csv header %q, want %q", header[i], h)
		}
	}

	var out []FailureRecord
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row: %w", err)
		}
		attempts, err := strconv.Atoi(rec[4])
		if err != nil {
			return nil, fmt.Errorf("bad attempt count %q: %w", rec[4], err)
		}
		out = append(out, FailureRecord{
			Table:    rec[0],
			RecordID: rec[1],
			Class:    rec[2],
			Message:  rec[3],
			Attempts: attempts,
		})
	}
	return out, nil
}
