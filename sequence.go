package qgerm

import (
	"sort"
	"strings"
)

/*
Sequence is an ordered list of gate labels. It is the unit both germ and
fiducial selection operate on: a germ is a Sequence that gets repeated, a
fiducial is a Sequence applied once before or after a germ power.

Sequences are immutable once constructed. Identity is the label tuple
only; the rendered display string is derived and carries no meaning.
*/
type Sequence struct {
	labels []string
	key    string
}

// EmptySequence is the zero-length sequence, rendered as "{}".
var EmptySequence = NewSequence()

// NewSequence builds a sequence from gate labels, first-applied first.
func NewSequence(labels ...string) Sequence {
	cp := make([]string, len(labels))
	copy(cp, labels)
	return Sequence{labels: cp, key: strings.Join(cp, "\x1f")}
}

// Labels returns a copy of the gate labels.
func (s Sequence) Labels() []string {
	cp := make([]string, len(s.labels))
	copy(cp, s.labels)
	return cp
}

// Len is the number of gate labels in the sequence.
func (s Sequence) Len() int { return len(s.labels) }

// Key is the canonical identity of the sequence, usable as a map key.
func (s Sequence) Key() string { return s.key }

// Equal reports whether two sequences hold the same label tuple.
func (s Sequence) Equal(o Sequence) bool { return s.key == o.key }

// At returns the label at position i.
func (s Sequence) At(i int) string { return s.labels[i] }

// Concat produces a new sequence that applies s first, then o.
func (s Sequence) Concat(o Sequence) Sequence {
	merged := make([]string, 0, len(s.labels)+len(o.labels))
	merged = append(merged, s.labels...)
	merged = append(merged, o.labels...)
	return NewSequence(merged...)
}

// Repeat produces a new sequence applying s n times. n <= 0 yields the
// empty sequence.
func (s Sequence) Repeat(n int) Sequence {
	if n <= 0 {
		return EmptySequence
	}
	rep := make([]string, 0, n*len(s.labels))
	for i := 0; i < n; i++ {
		rep = append(rep, s.labels...)
	}
	return NewSequence(rep...)
}

// ContainsAny reports whether any label of s appears in the given set.
func (s Sequence) ContainsAny(labels map[string]bool) bool {
	for _, l := range s.labels {
		if labels[l] {
			return true
		}
	}
	return false
}

// String renders the sequence in the concatenated-label text form used by
// the sequence-list file format. The empty sequence renders as "{}".
func (s Sequence) String() string {
	if len(s.labels) == 0 {
		return "{}"
	}
	return strings.Join(s.labels, "")
}

/*
AllSequences builds the candidate pool: every sequence over the given
labels with length between minLen and maxLen inclusive, deduplicated by
label tuple and sorted by (length, key) so pool order is deterministic.
*/
func AllSequences(labels []string, minLen, maxLen int) []Sequence {
	if minLen < 0 {
		minLen = 0
	}
	seen := map[string]bool{}
	var out []Sequence

	var build func(prefix []string)
	build = func(prefix []string) {
		if len(prefix) >= minLen {
			s := NewSequence(prefix...)
			if !seen[s.key] {
				seen[s.key] = true
				out = append(out, s)
			}
		}
		if len(prefix) == maxLen {
			return
		}
		for _, l := range labels {
			build(append(prefix, l))
		}
	}
	build(nil)

	SortSequences(out)
	return out
}

// SortSequences orders sequences by length, then by label tuple. This is
// the deterministic tie-break ordering used throughout the searches.
func SortSequences(seqs []Sequence) {
	sort.Slice(seqs, func(i, j int) bool {
		if seqs[i].Len() != seqs[j].Len() {
			return seqs[i].Len() < seqs[j].Len()
		}
		return seqs[i].key < seqs[j].key
	})
}

// Singletons returns the length-1 members of a pool, in pool order.
func Singletons(pool []Sequence) []Sequence {
	var out []Sequence
	for _, s := range pool {
		if s.Len() == 1 {
			out = append(out, s)
		}
	}
	return out
}

// TotalGateCount sums the lengths of all sequences in a set. Used as the
// tie-break between equal-score selections: fewer total gate operations
// wins.
func TotalGateCount(seqs []Sequence) int {
	n := 0
	for _, s := range seqs {
		n += s.Len()
	}
	return n
}
