package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

// AccumulatorStrategy selects how an Accumulator buffers records before a
// stage writes its final artifact.
type AccumulatorStrategy int

const (
	// StrategyInMemory keeps every record in a slice. Fine for proxies with
	// a modest channel count; simplest and fastest.
	StrategyInMemory AccumulatorStrategy = iota
	// StrategyFileSpilled appends every record straight to disk, never
	// holding more than one buffered write's worth in memory. Used for EPG
	// ingestion, where a single source can carry hundreds of thousands of
	// programmes.
	StrategyFileSpilled
	// StrategyHybrid stays in memory until spillThreshold records have
	// accumulated, then spills everything buffered so far (and every
	// record after) to disk. Small runs never touch disk.
	StrategyHybrid
)

// Accumulator buffers records of type T contributed by multiple sources
// before a stage commits them as one JSON-lines artifact, spilling to a
// sequence of files under relSpillDir once it decides it no longer wants
// to grow an in-memory slice.
type Accumulator[T any] struct {
	sb             *sandbox.Sandbox
	spillDir       string
	strategy       AccumulatorStrategy
	spillThreshold int

	memory  []T
	count   int
	spilled bool

	spillSeq   int
	spillFiles []string
	curFile    *os.File
	curWriter  *bufio.Writer
	curEncoder *json.Encoder
	curCount   int
}

// NewAccumulator creates an Accumulator writing spill files under
// relSpillDir (sandbox-relative). spillThreshold bounds both how many
// records StrategyHybrid keeps in memory before spilling and how many
// records live in a single spill file; pass 0 for a default of 50000.
func NewAccumulator[T any](sb *sandbox.Sandbox, relSpillDir string, strategy AccumulatorStrategy, spillThreshold int) *Accumulator[T] {
	if spillThreshold <= 0 {
		spillThreshold = 50000
	}
	return &Accumulator[T]{
		sb:             sb,
		spillDir:       relSpillDir,
		strategy:       strategy,
		spillThreshold: spillThreshold,
	}
}

// Add appends a record, spilling to disk if the accumulator's strategy
// calls for it.
func (a *Accumulator[T]) Add(rec T) error {
	a.count++

	switch a.strategy {
	case StrategyInMemory:
		a.memory = append(a.memory, rec)
		return nil
	case StrategyHybrid:
		if !a.spilled && len(a.memory) < a.spillThreshold {
			a.memory = append(a.memory, rec)
			return nil
		}
	}

	if !a.spilled {
		if err := a.beginSpill(); err != nil {
			return err
		}
	}
	return a.appendSpill(rec)
}

// Count returns the total number of records added so far.
func (a *Accumulator[T]) Count() int {
	return a.count
}

// Spilled reports whether any record has been written to disk.
func (a *Accumulator[T]) Spilled() bool {
	return a.spilled
}

func (a *Accumulator[T]) beginSpill() error {
	if err := a.sb.MkdirAll(a.spillDir); err != nil {
		return err
	}
	if err := a.rotateSpillFile(); err != nil {
		return err
	}
	for _, rec := range a.memory {
		if err := a.curEncoder.Encode(rec); err != nil {
			return err
		}
		a.curCount++
	}
	a.memory = nil
	a.spilled = true
	return nil
}

func (a *Accumulator[T]) appendSpill(rec T) error {
	if a.curCount >= a.spillThreshold {
		if err := a.rotateSpillFile(); err != nil {
			return err
		}
	}
	if err := a.curEncoder.Encode(rec); err != nil {
		return err
	}
	a.curCount++
	return nil
}

func (a *Accumulator[T]) rotateSpillFile() error {
	if a.curFile != nil {
		if err := a.curWriter.Flush(); err != nil {
			return err
		}
		if err := a.curFile.Close(); err != nil {
			return err
		}
	}

	relPath := fmt.Sprintf("%s/spill_%d.jsonl", a.spillDir, a.spillSeq)
	a.spillSeq++
	a.curCount = 0

	f, err := a.sb.OpenFile(relPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	a.curFile = f
	a.curWriter = bufio.NewWriter(f)
	a.curEncoder = json.NewEncoder(a.curWriter)
	a.spillFiles = append(a.spillFiles, relPath)
	return nil
}

// Drain calls visit once per accumulated record, in the order Add was
// called, then removes every spill file it created regardless of whether
// visit returned an error. It is the only way to read an Accumulator's
// contents back out: a stage calls Drain once it is ready to write its
// own artifact from the accumulated records.
func (a *Accumulator[T]) Drain(visit func(T) error) error {
	if a.curFile != nil {
		if err := a.curWriter.Flush(); err != nil {
			return err
		}
		if err := a.curFile.Close(); err != nil {
			return err
		}
		a.curFile = nil
	}

	visitErr := a.drainAll(visit)
	cleanupErr := a.cleanup()
	if visitErr != nil {
		return visitErr
	}
	return cleanupErr
}

func (a *Accumulator[T]) drainAll(visit func(T) error) error {
	for _, rec := range a.memory {
		if err := visit(rec); err != nil {
			return err
		}
	}

	for _, relPath := range a.spillFiles {
		recs, err := ReadJSONL[T](a.sb, relPath)
		if err != nil {
			return fmt.Errorf("reading spill file %s: %w", relPath, err)
		}
		for _, rec := range recs {
			if err := visit(rec); err != nil {
				return err
			}
		}
	}

	return nil
}

// cleanup removes every spill file this accumulator created. Ownership of
// spill-file lifetime rests entirely with the accumulator that created
// them; callers never reach into spillDir directly.
func (a *Accumulator[T]) cleanup() error {
	for _, relPath := range a.spillFiles {
		if err := a.sb.Remove(relPath); err != nil {
			return err
		}
	}
	a.spillFiles = nil
	return nil
}
