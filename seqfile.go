package qgerm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseSequence reads the concatenated-label text form produced by
// Sequence.String. Labels begin at each 'G'; "{}" (or an empty string)
// is the empty sequence.
func ParseSequence(text string) (Sequence, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "{}" {
		return EmptySequence, nil
	}
	if !strings.HasPrefix(text, "G") {
		return Sequence{}, fmt.Errorf("parse sequence %q: labels must start with 'G'", text)
	}
	var labels []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i] == 'G' {
			labels = append(labels, text[start:i])
			start = i
		}
	}
	labels = append(labels, text[start:])
	for _, l := range labels {
		if len(l) < 2 {
			return Sequence{}, fmt.Errorf("parse sequence %q: bare 'G' label", text)
		}
	}
	return NewSequence(labels...), nil
}

// WriteSequences writes one human-readable sequence per line, the
// hand-off format consumed by the experiment-list assembler.
func WriteSequences(w io.Writer, seqs []Sequence) error {
	bw := bufio.NewWriter(w)
	for _, s := range seqs {
		if _, err := fmt.Fprintln(bw, s.String()); err != nil {
			return fmt.Errorf("write sequence list: %w", err)
		}
	}
	return bw.Flush()
}

// ReadSequences reads a sequence-per-line list. Blank lines and lines
// starting with '#' are skipped.
func ReadSequences(r io.Reader) ([]Sequence, error) {
	var out []Sequence
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s, err := ParseSequence(line)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read sequence list: %w", err)
	}
	return out, nil
}
