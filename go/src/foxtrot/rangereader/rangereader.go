// Package rangereader resolves a (rep_key, offset, length) request into
// either a direct fulltext read or a walk+compose+apply across a
// representation's delta chain.
package rangereader

import (
	"bytes"

	"code.harrowgate.dev/repdelta/go/src/_/interfaces"
	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
	"code.harrowgate.dev/repdelta/go/src/alfa/pool"
	"code.harrowgate.dev/repdelta/go/src/alfa/trail"
	"code.harrowgate.dev/repdelta/go/src/bravo/svndiff"
	"code.harrowgate.dev/repdelta/go/src/charlie/reps"
	"code.harrowgate.dev/repdelta/go/src/delta/kvstore"
)

// ReadRange copies up to len(buf) bytes of repKey's reconstructed
// fulltext starting at offset into buf, returning the number of bytes
// actually copied. n==0 with a nil error signals EOF; this includes the
// boundary case offset==size, which must not raise.
func ReadRange(t *trail.Trail, store kvstore.Store, repKey string, offset int64, buf []byte) (n int, err error) {
	rep, err := store.ReadRep(t, repKey)
	if err != nil {
		return 0, errors.Wrap(err)
	}

	if rep.Kind == reps.KindFulltext {
		return store.StringRead(t, rep.StringKey, offset, buf)
	}

	curChunk, ok := chunkOffset(rep.Chunks, offset)
	if !ok {
		return 0, nil
	}

	written := 0

	for written < len(buf) {
		// Re-fetch on every chunk by design: a concurrent deltify/undeltify
		// swapping this rep's shape mid-stream must be observed, not served
		// from a stale copy.
		current, err := store.ReadRep(t, repKey)
		if err != nil {
			return written, errors.Wrap(err)
		}

		if current.Kind != reps.KindDelta || curChunk >= len(current.Chunks) {
			break
		}

		chunkStart := current.Chunks[curChunk].Offset
		chunkSkip := int64(0)

		if written == 0 && offset > chunkStart {
			chunkSkip = offset - chunkStart
		}

		// A chunk-aligned read (chunkSkip==0) with enough room left in the
		// caller's buffer to hold the whole chunk hands that slice straight
		// to produceChunk as its destination, so the common case never
		// allocates a scratch buffer at all. An unaligned start, or a
		// caller buffer too small for the full chunk, falls back to
		// produceChunk allocating its own and this loop copying out of it.
		var dst []byte

		if chunkSize := current.Chunks[curChunk].Size; chunkSkip == 0 && int64(len(buf)-written) >= chunkSize {
			dst = buf[written : written+int(chunkSize)]
		}

		data, usedDst, ok, err := produceChunk(t, store, current, curChunk, dst)
		if err != nil {
			return written, errors.Wrap(err)
		}

		if !ok {
			break
		}

		if usedDst {
			written += len(data)
			curChunk++

			continue
		}

		if chunkSkip > int64(len(data)) {
			return written, errors.MakeErrFsCorrupt(repKey, "requested offset falls outside its located chunk")
		}

		available := data[chunkSkip:]
		copyLen := len(buf) - written

		if copyLen > len(available) {
			copyLen = len(available)
		}

		copy(buf[written:written+copyLen], available[:copyLen])
		written += copyLen
		curChunk++

		if copyLen < len(available) {
			// Caller's buffer is full; the rest of this chunk would be
			// produced again (re-fetched) on the next call.
			break
		}
	}

	return written, nil
}

// chunkOffset finds the first chunk whose [offset, offset+size) contains
// the requested offset. A linear scan is sufficient; chunk counts are
// small.
func chunkOffset(chunks []reps.Chunk, offset int64) (int, bool) {
	for i, chunk := range chunks {
		if offset >= chunk.Offset && offset < chunk.Offset+chunk.Size {
			return i, true
		}
	}

	return 0, false
}

// produceChunk materializes the full target-view bytes for rep's cur-th
// chunk: either via the native composable window algebra, or, for a
// non-composable algorithm (the bsdiff extension), via a direct
// whole-rep apply against its (guaranteed fulltext) source. ok==false
// means the chain ran out of source data before producing anything.
// out, when non-nil, is a caller-owned destination exactly sized to this
// chunk; usedOut reports whether data aliases out rather than a freshly
// allocated buffer. Only the composable path honors out — the whole-rep
// path applies through the Algorithm interface's own io.Writer and always
// produces its own buffer.
func produceChunk(t *trail.Trail, store kvstore.Store, rep reps.Representation, cur int, out []byte) (data []byte, usedOut bool, ok bool, err error) {
	algorithm, err := svndiff.ForByte(rep.Chunks[cur].Version)
	if err != nil {
		return nil, false, false, errors.Wrap(err)
	}

	if !algorithm.ComposesInChain() {
		data, ok, err = produceWholeRepChunk(t, store, rep, cur, algorithm)
		return data, false, ok, err
	}

	return produceComposedChunk(t, store, rep, cur, out)
}

func produceWholeRepChunk(
	t *trail.Trail,
	store kvstore.Store,
	rep reps.Representation,
	cur int,
	algorithm svndiff.Algorithm,
) (data []byte, ok bool, err error) {
	wholeRep, isWholeRep := algorithm.(svndiff.WholeRepAlgorithm)
	if !isWholeRep {
		return nil, false, errors.Errorf("rangereader: algorithm %d is not composable and not a whole-rep algorithm", algorithm.Id())
	}

	if len(rep.Chunks) != 1 || cur != 0 || rep.Chunks[0].Offset != 0 {
		return nil, false, errors.MakeErrFsCorrupt(rep.RepKey, "non-composable delta must be a single chunk covering the whole representation")
	}

	chunk := rep.Chunks[0]

	sourceRep, err := store.ReadRep(t, chunk.RepKey)
	if err != nil {
		return nil, false, errors.Wrap(err)
	}

	if sourceRep.Kind != reps.KindFulltext {
		return nil, false, errors.MakeErrFsCorrupt(rep.RepKey, "non-composable delta's source must be fulltext")
	}

	sourceSize, err := store.StringSize(t, sourceRep.StringKey)
	if err != nil {
		return nil, false, errors.Wrap(err)
	}

	sourceBytes, err := kvstore.ReadAllString(t, store, sourceRep.StringKey, sourceSize)
	if err != nil {
		return nil, false, errors.Wrap(err)
	}

	patchBytes, err := readFullChunkPayload(t, store, chunk)
	if err != nil {
		return nil, false, errors.Wrap(err)
	}

	var out bytes.Buffer

	if err = wholeRep.Apply(bytes.NewReader(sourceBytes), bytes.NewReader(patchBytes), &out); err != nil {
		return nil, false, errors.Wrap(err)
	}

	if int64(out.Len()) != chunk.Size {
		return nil, false, errors.MakeErrFsCorrupt(rep.RepKey, "whole-rep delta produced unexpected size")
	}

	return out.Bytes(), true, nil
}

func produceComposedChunk(t *trail.Trail, store kvstore.Store, rep reps.Representation, cur int, out []byte) (data []byte, usedOut bool, ok bool, err error) {
	var (
		deltas   []reps.Representation
		terminal *reps.Representation
	)

	current := rep
	version := rep.Chunks[0].Version

	for {
		if current.Kind == reps.KindFulltext {
			fulltext := current
			terminal = &fulltext

			break
		}

		if cur >= len(current.Chunks) {
			terminal = nil

			break
		}

		if current.Chunks[cur].Version != version {
			return nil, false, false, errors.MakeErrFsCorrupt(rep.RepKey, "chunk version differs from chain head")
		}

		deltas = append(deltas, current)

		next, err := store.ReadRep(t, current.Chunks[cur].RepKey)
		if err != nil {
			return nil, false, false, errors.Wrap(err)
		}

		current = next
	}

	var (
		state     composeState
		prevScope *trail.Scope
	)

	// One child scope per composed window: getOneWindow borrows its
	// parse-time scratch reader from the current scope, and the previous
	// link's scope is released the moment its window has been folded into
	// state.combined, so at most two adjacent windows' worth of scratch
	// (the one just folded, the one being parsed) stays alive at once.
	for _, link := range deltas {
		scope := t.ChildScope()

		window, err := getOneWindow(scope, t, store, link, cur)
		if err != nil {
			scope.Release()

			if prevScope != nil {
				prevScope.Release()
			}

			return nil, false, false, errors.Wrap(err)
		}

		feedErr := state.feed(window)

		if prevScope != nil {
			prevScope.Release()
		}

		prevScope = scope

		if feedErr != nil {
			prevScope.Release()
			return nil, false, false, errors.Wrap(feedErr)
		}

		if state.done {
			break
		}
	}

	if prevScope != nil {
		defer prevScope.Release()
	}

	if state.combined == nil {
		return nil, false, false, nil
	}

	var sourceBuf []byte

	if terminal != nil && state.combined.SourceLength > 0 && state.combined.SourceOps() > 0 {
		sourceBuf = make([]byte, state.combined.SourceLength)

		n, err := store.StringRead(t, terminal.StringKey, state.combined.SourceOffset, sourceBuf)
		if err != nil {
			return nil, false, false, errors.Wrap(err)
		}

		if int64(n) != state.combined.SourceLength {
			return nil, false, false, errors.MakeErrFsCorrupt(rep.RepKey, "source fulltext shorter than composed window requires")
		}
	}

	usedOut = int64(cap(out)) >= state.combined.TargetLength

	target, err := svndiff.Apply(state.combined, sourceBuf, out)
	if err != nil {
		return nil, false, false, errors.Wrap(err)
	}

	return target, usedOut, true, nil
}

func getOneWindow(scope *trail.Scope, t *trail.Trail, store kvstore.Store, rep reps.Representation, cur int) (*svndiff.Window, error) {
	chunk := rep.Chunks[cur]

	payload, err := readFullChunkPayload(t, store, chunk)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	reader := trail.Borrow(scope, func() (*bytes.Reader, interfaces.FuncRepool) {
		return pool.GetByteReader(payload)
	})

	window, err := svndiff.DecodeWindowPayload(reader)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	return window, nil
}

func readFullChunkPayload(t *trail.Trail, store kvstore.Store, chunk reps.Chunk) ([]byte, error) {
	size, err := store.StringSize(t, chunk.StringKey)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	return kvstore.ReadAllString(t, store, chunk.StringKey, size)
}

// composeState implements the window composition fold rules over a
// sequence of windows fed outermost-first.
type composeState struct {
	combined *svndiff.Window
	done     bool
}

func (state *composeState) feed(window *svndiff.Window) error {
	if state.done {
		return nil
	}

	if state.combined == nil {
		state.combined = window
		state.done = window.SourceLength == 0 || window.SourceOps() == 0

		return nil
	}

	combined, err := svndiff.Compose(state.combined, window)
	if err != nil {
		return err
	}

	state.combined = combined
	state.done = combined.SourceLength == 0 || combined.SourceOps() == 0

	return nil
}
