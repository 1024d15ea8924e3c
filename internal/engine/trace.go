package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/streetsim/streetsim_core/internal/models"
)

// Trace records every processed event as a canonical line and folds it
// into a running SHA-256. Two runs of the same scenario must produce the
// same digest; a divergence is a determinism bug.
type Trace struct {
	h     hash.Hash
	lines []string
	max   int
}

// NewTrace keeps at most maxLines for inspection; the digest always
// covers the full run. maxLines <= 0 keeps everything.
func NewTrace(maxLines int) *Trace {
	return &Trace{h: sha256.New(), max: maxLines}
}

// Record appends one event line. The format is part of the digest
// contract, so changes to it invalidate stored digests.
func (t *Trace) Record(at models.SimTime, seq uint64, kind string, detail string) {
	line := fmt.Sprintf("%.6f %d %s %s", at.Seconds(), seq, kind, detail)
	t.h.Write([]byte(line))
	t.h.Write([]byte{'\n'})
	if t.max <= 0 || len(t.lines) < t.max {
		t.lines = append(t.lines, line)
	}
}

// Digest returns the hex SHA-256 of everything recorded so far.
func (t *Trace) Digest() string {
	return hex.EncodeToString(t.h.Sum(nil))
}

// Lines returns the retained event lines in order.
func (t *Trace) Lines() []string {
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
