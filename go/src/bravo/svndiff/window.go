// Package svndiff implements the binary-diff format the range reader and
// deltify/undeltify operations consume: a window format, the
// compose/apply algebra over it, and a small byte-keyed registry of
// algorithms a chunk's version byte may select.
package svndiff

import (
	"bytes"
	"encoding/binary"
	"io"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
)

const (
	magic = "SVN"

	VersionWindiff byte = 0
	VersionBsdiff  byte = 1
)

type OpKind uint8

const (
	OpInsert OpKind = iota
	OpCopySource
)

// Op is one instruction of a window's instruction stream. An Insert op
// carries its literal bytes directly (known at parse/compose time); a
// CopySource op names a byte range of the window's source view.
type Op struct {
	Kind         OpKind
	Data         []byte
	SourceOffset int64
	Length       int64
}

func (op Op) length() int64 {
	if op.Kind == OpInsert {
		return int64(len(op.Data))
	}

	return op.Length
}

// Window is a source view (SourceOffset, SourceLength) into some other
// byte string, a target length, and an
// instruction stream producing the target view. SourceOffset/SourceLength
// are zero-based into whatever source buffer the caller supplies at
// Apply time; chunk-level absolute offsets live in charlie/reps.Chunk,
// not here.
type Window struct {
	SourceOffset int64
	SourceLength int64
	TargetLength int64
	Ops          []Op
}

// SourceOps is the count of copy-from-source instructions, used by the
// composition engine's short-circuit rule: composition is done once the
// fed window's source view is empty or it has no copy-from-source ops.
func (w *Window) SourceOps() int {
	count := 0

	for _, op := range w.Ops {
		if op.Kind == OpCopySource {
			count++
		}
	}

	return count
}

// Apply executes w's instruction stream against source, producing exactly
// w.TargetLength bytes. out is a caller-owned destination: when its
// capacity already covers w.TargetLength, Apply writes into it directly
// and returns it sliced to length rather than allocating a fresh buffer;
// a caller with nothing to offer can pass nil. This is CPU-only and never
// blocks.
func Apply(w *Window, source []byte, out []byte) (target []byte, err error) {
	if int64(cap(out)) >= w.TargetLength {
		target = out[:0]
	} else {
		target = make([]byte, 0, w.TargetLength)
	}

	for _, op := range w.Ops {
		switch op.Kind {
		case OpInsert:
			target = append(target, op.Data...)

		case OpCopySource:
			rel := op.SourceOffset - w.SourceOffset

			if rel < 0 || rel+op.Length > int64(len(source)) {
				return nil, errors.Errorf(
					"svndiff: copy instruction [%d,%d) out of bounds of %d-byte source view",
					op.SourceOffset, op.SourceOffset+op.Length, len(source),
				)
			}

			target = append(target, source[rel:rel+op.Length]...)

		default:
			return nil, errors.Errorf("svndiff: unknown instruction kind %d", op.Kind)
		}
	}

	if int64(len(target)) != w.TargetLength {
		return nil, errors.Errorf(
			"svndiff: window produced %d bytes, expected %d",
			len(target), w.TargetLength,
		)
	}

	return target, nil
}

// Compose folds outer with inner: outer's source view is understood to
// be a slice of inner's (zero-based) target view. The result is a window
// equivalent to applying outer after inner, expressed directly against
// inner's source. Compose resolves every outer copy against inner's
// instruction stream in one pass, so it never yields a "fall back to the
// second window unchanged" result (see DESIGN.md).
func Compose(outer, inner *Window) (combined *Window, err error) {
	innerStarts := make([]int64, len(inner.Ops))

	var cursor int64

	for i, op := range inner.Ops {
		innerStarts[i] = cursor
		cursor += op.length()
	}

	combined = &Window{TargetLength: outer.TargetLength}

	haveSource := false

	for _, op := range outer.Ops {
		if op.Kind == OpInsert {
			combined.Ops = append(combined.Ops, op)
			continue
		}

		pos := op.SourceOffset
		remaining := op.Length

		idx := findOp(innerStarts, inner.Ops, pos)

		for remaining > 0 {
			if idx >= len(inner.Ops) {
				return nil, errors.Errorf(
					"svndiff: compose: outer window references beyond inner window's target view",
				)
			}

			innerOp := inner.Ops[idx]
			innerStart := innerStarts[idx]
			innerLen := innerOp.length()
			offsetIntoOp := pos - innerStart
			available := innerLen - offsetIntoOp
			take := remaining

			if take > available {
				take = available
			}

			switch innerOp.Kind {
			case OpInsert:
				combined.Ops = append(combined.Ops, Op{
					Kind: OpInsert,
					Data: append([]byte(nil), innerOp.Data[offsetIntoOp:offsetIntoOp+take]...),
				})

			case OpCopySource:
				newOffset := innerOp.SourceOffset + offsetIntoOp

				combined.Ops = append(combined.Ops, Op{
					Kind:         OpCopySource,
					SourceOffset: newOffset,
					Length:       take,
				})

				end := newOffset + take

				if !haveSource {
					combined.SourceOffset = newOffset
					combined.SourceLength = take
					haveSource = true
				} else {
					if newOffset < combined.SourceOffset {
						combined.SourceLength += combined.SourceOffset - newOffset
						combined.SourceOffset = newOffset
					}

					if end > combined.SourceOffset+combined.SourceLength {
						combined.SourceLength = end - combined.SourceOffset
					}
				}
			}

			pos += take
			remaining -= take
			idx++
		}
	}

	return combined, nil
}

func findOp(starts []int64, ops []Op, pos int64) int {
	for i, start := range starts {
		if pos < start+ops[i].length() {
			return i
		}
	}

	return len(ops)
}

// EncodeWindowPayload writes w's post-header bytes: the form a chunk's
// backing string actually holds (the 4-byte magic header is never
// persisted).
func EncodeWindowPayload(w io.Writer, window *Window) (err error) {
	for _, field := range []int64{window.SourceOffset, window.SourceLength, window.TargetLength} {
		if err = binary.Write(w, binary.BigEndian, field); err != nil {
			return errors.Wrap(err)
		}
	}

	if err = binary.Write(w, binary.BigEndian, uint32(len(window.Ops))); err != nil {
		return errors.Wrap(err)
	}

	for _, op := range window.Ops {
		if err = binary.Write(w, binary.BigEndian, uint8(op.Kind)); err != nil {
			return errors.Wrap(err)
		}

		switch op.Kind {
		case OpInsert:
			if err = binary.Write(w, binary.BigEndian, uint32(len(op.Data))); err != nil {
				return errors.Wrap(err)
			}

			if _, err = w.Write(op.Data); err != nil {
				return errors.Wrap(err)
			}

		case OpCopySource:
			if err = binary.Write(w, binary.BigEndian, op.SourceOffset); err != nil {
				return errors.Wrap(err)
			}

			if err = binary.Write(w, binary.BigEndian, op.Length); err != nil {
				return errors.Wrap(err)
			}
		}
	}

	return nil
}

// DecodeWindowPayload parses a chunk's stored payload directly — the same
// post-header bytes EncodeWindowPayload writes, with no magic/version
// prefix to strip. Lets a caller that already knows the algorithm version
// (as the range reader does, from the chunk record) skip resynthesizing
// and reparsing a header purely to satisfy ParseWindow's framed-bytes
// signature.
func DecodeWindowPayload(r io.Reader) (*Window, error) {
	return decodeWindowPayload(r)
}

func decodeWindowPayload(r io.Reader) (window *Window, err error) {
	window = &Window{}

	for _, field := range []*int64{&window.SourceOffset, &window.SourceLength, &window.TargetLength} {
		if err = binary.Read(r, binary.BigEndian, field); err != nil {
			return nil, errors.Wrap(err)
		}
	}

	var opCount uint32

	if err = binary.Read(r, binary.BigEndian, &opCount); err != nil {
		return nil, errors.Wrap(err)
	}

	window.Ops = make([]Op, opCount)

	for i := range window.Ops {
		var kind uint8

		if err = binary.Read(r, binary.BigEndian, &kind); err != nil {
			return nil, errors.Wrap(err)
		}

		op := Op{Kind: OpKind(kind)}

		switch op.Kind {
		case OpInsert:
			var length uint32

			if err = binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, errors.Wrap(err)
			}

			op.Data = make([]byte, length)

			if _, err = io.ReadFull(r, op.Data); err != nil {
				return nil, errors.Wrap(err)
			}

		case OpCopySource:
			if err = binary.Read(r, binary.BigEndian, &op.SourceOffset); err != nil {
				return nil, errors.Wrap(err)
			}

			if err = binary.Read(r, binary.BigEndian, &op.Length); err != nil {
				return nil, errors.Wrap(err)
			}

		default:
			return nil, errors.Errorf("svndiff: unknown op kind %d on decode", kind)
		}

		window.Ops[i] = op
	}

	return window, nil
}

// SynthesizeHeader reproduces the 4-byte "SVN"+version prefix the reader
// feeds to the parser; never persisted.
func SynthesizeHeader(version byte) []byte {
	return []byte{magic[0], magic[1], magic[2], version}
}

// ParseWindow parses a framed byte stream (magic header + version +
// window payload) into a version byte and a Window.
func ParseWindow(framed []byte) (version byte, window *Window, err error) {
	if len(framed) < 4 || string(framed[0:3]) != magic {
		return 0, nil, errors.Errorf("svndiff: missing %q magic header", magic)
	}

	version = framed[3]

	if window, err = decodeWindowPayload(bytes.NewReader(framed[4:])); err != nil {
		return 0, nil, errors.Wrap(err)
	}

	return version, window, nil
}
