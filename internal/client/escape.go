package client

// escapeFilter watches master keystrokes for "~." at the start of a line,
// which detaches from the session. "~~" at the start of a line sends a
// single "~". A leading "~" is held back until the next byte decides what
// it means, so the held byte may be emitted by a later call.
type escapeFilter struct {
	lineStart bool // next byte begins a line
	held      bool // a line-start '~' is waiting for its successor
}

func newEscapeFilter() *escapeFilter {
	return &escapeFilter{lineStart: true}
}

// filter returns the bytes to forward and whether the user asked to detach.
// On detach the returned bytes precede the escape and may still be sent.
func (f *escapeFilter) filter(in []byte) (out []byte, detach bool) {
	out = make([]byte, 0, len(in)+1)
	for _, b := range in {
		if f.held {
			f.held = false
			switch b {
			case '.':
				return out, true
			case '~':
				out = append(out, '~')
				f.lineStart = false
				continue
			default:
				out = append(out, '~')
			}
		} else if f.lineStart && b == '~' {
			f.held = true
			continue
		}
		out = append(out, b)
		f.lineStart = b == '\r' || b == '\n'
	}
	return out, false
}

// release returns the held '~', if any, for input that ends without the
// byte that would decide it.
func (f *escapeFilter) release() []byte {
	if !f.held {
		return nil
	}
	f.held = false
	f.lineStart = false
	return []byte{'~'}
}

// reset forgets any held byte and treats the next input as a line start.
func (f *escapeFilter) reset() {
	f.lineStart = true
	f.held = false
}
