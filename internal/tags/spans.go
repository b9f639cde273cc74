package tags

// Span is an entity recovered from a tag sequence. End is exclusive.
type Span struct {
	Type  string `json:"type" cbor:"type"`
	Start int    `json:"start" cbor:"start"`
	End   int    `json:"end" cbor:"end"`
}

// Spans extracts entity spans from a decoded label sequence. Extraction is
// lenient: an I- (or E-) tag that does not continue an open span of the
// same type opens a new one, as conlleval does.
func Spans(labels []string, scheme Scheme) []Span {
	var spans []Span
	open := -1
	var openType string

	closeSpan := func(end int) {
		if open >= 0 {
			spans = append(spans, Span{Type: openType, Start: open, End: end})
			open = -1
			openType = ""
		}
	}
	begin := func(i int, typ string) {
		closeSpan(i)
		open = i
		openType = typ
	}

	for i, label := range labels {
		prefix, typ := splitLabel(label)
		if typ == "" {
			closeSpan(i)
			continue
		}
		continues := open >= 0 && openType == typ

		switch prefix {
		case "B":
			begin(i, typ)
		case "I":
			if !continues {
				begin(i, typ)
			}
		case "E":
			if scheme != IOBES {
				closeSpan(i)
				continue
			}
			if !continues {
				begin(i, typ)
			}
			closeSpan(i + 1)
		case "S":
			if scheme != IOBES {
				closeSpan(i)
				continue
			}
			begin(i, typ)
			closeSpan(i + 1)
		default:
			closeSpan(i)
		}
	}
	closeSpan(len(labels))
	return spans
}
