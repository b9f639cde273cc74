// Package tags maps tag labels to indices and derives the structural
// constraints of span tagging schemes.
package tags

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Vocab maps between tag labels and their integer indices.
type Vocab struct {
	toID  map[string]int
	toStr []string
}

// NewVocab builds a vocabulary from labels in index order.
// Labels are NFC-normalised; empty and duplicate labels are rejected.
func NewVocab(labels []string) (*Vocab, error) {
	v := &Vocab{
		toID:  make(map[string]int, len(labels)),
		toStr: make([]string, 0, len(labels)),
	}
	for i, l := range labels {
		label := normalizeLabel(l)
		if label == "" {
			return nil, fmt.Errorf("empty label at index %d", i)
		}
		if prev, ok := v.toID[label]; ok {
			return nil, fmt.Errorf("duplicate label %q at index %d (first at %d)", label, i, prev)
		}
		v.toID[label] = len(v.toStr)
		v.toStr = append(v.toStr, label)
	}
	return v, nil
}

// LoadVocab reads one label per line. Blank lines are skipped.
func LoadVocab(path string) (*Vocab, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var labels []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab %s: %w", path, err)
	}
	return NewVocab(labels)
}

func normalizeLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Index returns the index of label, or -1 if it is unknown.
func (v *Vocab) Index(label string) int {
	if id, ok := v.toID[normalizeLabel(label)]; ok {
		return id
	}
	return -1
}

// Label returns the label at index i, or "" if i is out of range.
func (v *Vocab) Label(i int) string {
	if i < 0 || i >= len(v.toStr) {
		return ""
	}
	return v.toStr[i]
}

// Size returns the number of labels.
func (v *Vocab) Size() int {
	return len(v.toStr)
}

// Labels returns a copy of the labels in index order.
func (v *Vocab) Labels() []string {
	out := make([]string, len(v.toStr))
	copy(out, v.toStr)
	return out
}

// Encode maps labels to indices. Unknown labels are an error.
func (v *Vocab) Encode(labels []string) ([]int, error) {
	ids := make([]int, len(labels))
	for i, l := range labels {
		id := v.Index(l)
		if id < 0 {
			return nil, fmt.Errorf("unknown label %q at position %d", l, i)
		}
		ids[i] = id
	}
	return ids, nil
}

// Decode maps indices back to labels.
func (v *Vocab) Decode(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = v.Label(id)
	}
	return out
}
