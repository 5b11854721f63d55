package snow

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// outputHeader matches the columns downstream ingestion expects.
var outputHeader = []string{"id", "date", "HNEIGEF", "NEIGETOT", "NEIGETOT06"}

// Writer emits acquired observations as CSV. The header is written
// lazily so an all-miss run leaves the output empty.
type Writer struct {
	csv         *csv.Writer
	wroteHeader bool
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// Write appends one observation row, emitting the header before the
// first one. Empty attribute fields stay empty; a blank is a value the
// station never reported, not a zero.
func (w *Writer) Write(obs Observation) error {
	if !w.wroteHeader {
		if err := w.csv.Write(outputHeader); err != nil {
			return err
		}
		w.wroteHeader = true
	}
	return w.csv.Write([]string{
		strconv.FormatInt(obs.StationID, 10),
		obs.Timestamp.UTC().Format(time.RFC3339),
		obs.HNEIGEF,
		obs.NEIGETOT,
		obs.NEIGETOT06,
	})
}

// Flush drains buffered rows and reports any deferred write error.
func (w *Writer) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}
