package scanner

import (
	"bufio"
	"encoding/json"
	"io"
)

// Reader is the client-side half of spec §4.9: it scans a running scan
// process's stdout and stderr line by line, JSON-decodes each line into
// a Record, and hands it to onRecord. One Reader instance is meant to
// outlive a single scan invocation; Run can be called concurrently for
// stdout and stderr from their own goroutines since it only ever calls
// onRecord, never touching shared state itself.
type Reader struct {
	onRecord func(Record)
}

// NewReader returns a Reader that calls onRecord for every well-formed
// JSON line it reads. Malformed lines are dropped rather than treated
// as fatal: a single corrupted line (e.g. a plugin writing to its own
// stdout before exec'ing into single-file mode) must not abort an
// otherwise-successful scan.
func NewReader(onRecord func(Record)) *Reader {
	return &Reader{onRecord: onRecord}
}

// Run reads r line by line until EOF or a read error, decoding each
// line as a Record. It is meant to be run in its own goroutine against
// a scan subprocess's Stdout pipe.
func (rd *Reader) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		rd.onRecord(rec)
	}
	return scanner.Err()
}
