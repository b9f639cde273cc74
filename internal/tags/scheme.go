package tags

import (
	"fmt"
	"strings"
)

// Scheme is a span encoding grammar.
type Scheme int

const (
	// IOB is IOB1: spans start with I-, B- only separates adjacent spans of the same type.
	IOB Scheme = iota
	// BIO is IOB2: every span starts with B-.
	BIO
	// IOBES marks Begin, Inside, End and Single-token spans.
	IOBES
)

func (s Scheme) String() string {
	switch s {
	case IOB:
		return "IOB"
	case BIO:
		return "BIO"
	case IOBES:
		return "IOBES"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

// MaskFunc derives a transition mask for a vocabulary.
type MaskFunc func(v *Vocab, start, end, pad int) [][]bool

// Schemes maps configuration names to schemes. Aliases share an entry.
var Schemes = map[string]Scheme{
	"IOB":   IOB,
	"IOB1":  IOB,
	"BIO":   BIO,
	"IOB2":  BIO,
	"IOBES": IOBES,
	"BIOES": IOBES,
}

// ParseScheme resolves a scheme name case-insensitively.
func ParseScheme(name string) (Scheme, error) {
	s, ok := Schemes[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown span scheme %q", name)
	}
	return s, nil
}

var maskFuncs = map[Scheme]MaskFunc{
	IOB:   iobMask,
	BIO:   bioMask,
	IOBES: iobesMask,
}

// splitLabel splits "B-PER" into ("B", "PER"). Labels without a type, such
// as "O", return an empty type.
func splitLabel(label string) (prefix, typ string) {
	prefix, typ, found := strings.Cut(label, "-")
	if !found {
		return label, ""
	}
	return prefix, typ
}
