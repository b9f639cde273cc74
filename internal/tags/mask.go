package tags

import (
	"fmt"
	"strings"
)

// NoPad disables the padding constraint in TransitionMask.
const NoPad = -1

// TransitionMask returns an N×N mask indexed [to][from] where true marks a
// transition the scheme forbids. In every scheme nothing may move into
// start, nothing may leave end, and pad may only be followed by pad.
func TransitionMask(v *Vocab, scheme Scheme, start, end, pad int) ([][]bool, error) {
	n := v.Size()
	if start < 0 || start >= n {
		return nil, fmt.Errorf("start index %d out of range [0, %d)", start, n)
	}
	if end < 0 || end >= n {
		return nil, fmt.Errorf("end index %d out of range [0, %d)", end, n)
	}
	if pad != NoPad && (pad < 0 || pad >= n) {
		return nil, fmt.Errorf("pad index %d out of range [0, %d)", pad, n)
	}
	fn, ok := maskFuncs[scheme]
	if !ok {
		return nil, fmt.Errorf("no transition mask for scheme %s", scheme)
	}
	return fn(v, start, end, pad), nil
}

func newMask(n int) [][]bool {
	mask := make([][]bool, n)
	for i := range mask {
		mask[i] = make([]bool, n)
	}
	return mask
}

func hasPrefix(label, prefix string) bool {
	return strings.HasPrefix(label, prefix+"-")
}

func isOutside(label string) bool {
	return label == "O"
}

func sameType(a, b string) bool {
	_, ta := splitLabel(a)
	_, tb := splitLabel(b)
	return ta == tb
}

// baseMask applies the constraints shared by every scheme.
func baseMask(v *Vocab, start, end, pad int) [][]bool {
	n := v.Size()
	mask := newMask(n)
	for from := 0; from < n; from++ {
		for to := 0; to < n; to++ {
			if to == start || from == end {
				mask[to][from] = true
			}
			if pad != NoPad && from == pad && to != pad {
				mask[to][from] = true
			}
		}
	}
	return mask
}

func iobMask(v *Vocab, start, end, pad int) [][]bool {
	mask := baseMask(v, start, end, pad)
	n := v.Size()
	for from := 0; from < n; from++ {
		f := v.Label(from)
		for to := 0; to < n; to++ {
			t := v.Label(to)
			if !hasPrefix(t, "B") {
				continue
			}
			switch {
			case from == start:
				// A span can't open with B- in IOB1.
				mask[to][from] = true
			case hasPrefix(f, "B"), hasPrefix(f, "I"):
				if !sameType(f, t) {
					mask[to][from] = true
				}
			case isOutside(f):
				mask[to][from] = true
			}
		}
	}
	return mask
}

func bioMask(v *Vocab, start, end, pad int) [][]bool {
	mask := baseMask(v, start, end, pad)
	n := v.Size()
	for from := 0; from < n; from++ {
		f := v.Label(from)
		for to := 0; to < n; to++ {
			t := v.Label(to)
			if !hasPrefix(t, "I") {
				continue
			}
			switch {
			case from == start:
				mask[to][from] = true
			case hasPrefix(f, "B"), hasPrefix(f, "I"):
				if !sameType(f, t) {
					mask[to][from] = true
				}
			case isOutside(f):
				mask[to][from] = true
			}
		}
	}
	return mask
}

func iobesMask(v *Vocab, start, end, pad int) [][]bool {
	mask := baseMask(v, start, end, pad)
	n := v.Size()
	for from := 0; from < n; from++ {
		f := v.Label(from)
		for to := 0; to < n; to++ {
			t := v.Label(to)
			continues := hasPrefix(t, "I") || hasPrefix(t, "E")
			switch {
			case from == start:
				if continues {
					mask[to][from] = true
				}
			case hasPrefix(f, "B"), hasPrefix(f, "I"):
				// An open span must be continued or closed with the same type.
				if hasPrefix(t, "B") || hasPrefix(t, "S") || isOutside(t) || to == end || to == pad {
					mask[to][from] = true
				} else if continues && !sameType(f, t) {
					mask[to][from] = true
				}
			case hasPrefix(f, "E"), hasPrefix(f, "S"), isOutside(f):
				if continues {
					mask[to][from] = true
				}
			}
		}
	}
	return mask
}
