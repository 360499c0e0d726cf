package core

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

// WriteJSONL serializes records as newline-delimited JSON into relPath
// inside sb, overwriting whatever was there, and returns the resulting
// file size in bytes.
func WriteJSONL[T any](sb *sandbox.Sandbox, relPath string, records []T) (int64, error) {
	f, err := sb.OpenFile(relPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}

	info, err := sb.Stat(relPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// DrainToJSONL writes every record an Accumulator has buffered (in memory
// and/or spilled to disk) out to relPath as one JSON-lines file, without
// ever holding the full record set in memory at once: each record streams
// from the accumulator straight to the output file's buffered writer. It
// returns the number of records written and the resulting file size.
func DrainToJSONL[T any](sb *sandbox.Sandbox, relPath string, acc *Accumulator[T]) (count int, size int64, err error) {
	f, err := sb.OpenFile(relPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return 0, 0, err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	drainErr := acc.Drain(func(rec T) error {
		count++
		return enc.Encode(rec)
	})

	flushErr := w.Flush()
	closeErr := f.Close()

	if drainErr != nil {
		return count, 0, drainErr
	}
	if flushErr != nil {
		return count, 0, flushErr
	}
	if closeErr != nil {
		return count, 0, closeErr
	}

	info, err := sb.Stat(relPath)
	if err != nil {
		return count, 0, err
	}
	return count, info.Size(), nil
}

// ReadJSONL decodes a newline-delimited JSON artifact file produced by
// WriteJSONL back into a slice of T.
func ReadJSONL[T any](sb *sandbox.Sandbox, relPath string) ([]T, error) {
	f, err := sb.OpenFile(relPath, os.O_RDONLY, 0640)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
