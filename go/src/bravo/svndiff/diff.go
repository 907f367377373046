package svndiff

const (
	matchGram = 4
	minMatch  = 4
)

// Diff computes a single Window expressing target as a sequence of
// copies from source and literal inserts. This is a straightforward
// hash-block matcher: not byte-optimal, but correct, and good enough to
// exercise the size guard either way (a poor match correctly no-ops the
// deltification rather than silently producing a larger delta).
func Diff(source, target []byte) *Window {
	window := &Window{TargetLength: int64(len(target))}

	if len(source) == 0 || len(target) == 0 {
		if len(target) > 0 {
			window.Ops = []Op{{Kind: OpInsert, Data: append([]byte(nil), target...)}}
		}

		return window
	}

	index := make(map[uint32][]int)

	if len(source) >= matchGram {
		for i := 0; i+matchGram <= len(source); i++ {
			h := gram(source[i : i+matchGram])
			index[h] = append(index[h], i)
		}
	}

	var literal []byte
	var sourceOffset, sourceLength int64
	haveSource := false

	flushLiteral := func() {
		if len(literal) > 0 {
			window.Ops = append(window.Ops, Op{Kind: OpInsert, Data: literal})
			literal = nil
		}
	}

	pos := 0

	for pos < len(target) {
		bestOffset, bestLen := -1, 0

		if pos+matchGram <= len(target) {
			h := gram(target[pos : pos+matchGram])

			for _, candidate := range index[h] {
				length := matchLength(source[candidate:], target[pos:])

				if length > bestLen {
					bestLen = length
					bestOffset = candidate
				}
			}
		}

		if bestLen >= minMatch {
			flushLiteral()

			window.Ops = append(window.Ops, Op{
				Kind:         OpCopySource,
				SourceOffset: int64(bestOffset),
				Length:       int64(bestLen),
			})

			end := int64(bestOffset + bestLen)

			if !haveSource {
				sourceOffset = int64(bestOffset)
				sourceLength = int64(bestLen)
				haveSource = true
			} else {
				if int64(bestOffset) < sourceOffset {
					sourceLength += sourceOffset - int64(bestOffset)
					sourceOffset = int64(bestOffset)
				}

				if end > sourceOffset+sourceLength {
					sourceLength = end - sourceOffset
				}
			}

			pos += bestLen
		} else {
			literal = append(literal, target[pos])
			pos++
		}
	}

	flushLiteral()
	window.SourceOffset = sourceOffset
	window.SourceLength = sourceLength

	return window
}

func gram(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func matchLength(a, b []byte) int {
	n := len(a)

	if len(b) < n {
		n = len(b)
	}

	length := 0

	for length < n && a[length] == b[length] {
		length++
	}

	return length
}
