// Package streams implements read/write stream objects layered on
// foxtrot/rangereader and delta/kvstore, plus the deltify/undeltify
// operations that swap a representation between its fulltext and delta
// forms in place.
package streams

import (
	"bytes"
	"hash"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
	"code.harrowgate.dev/repdelta/go/src/alfa/pool"
	"code.harrowgate.dev/repdelta/go/src/alfa/trail"
	"code.harrowgate.dev/repdelta/go/src/bravo/svndiff"
	"code.harrowgate.dev/repdelta/go/src/charlie/reps"
	"code.harrowgate.dev/repdelta/go/src/delta/kvstore"
	"code.harrowgate.dev/repdelta/go/src/foxtrot/rangereader"
)

const drainChunkSize = 32 * 1024

func sizeOfRep(t *trail.Trail, store kvstore.Store, rep reps.Representation) (int64, error) {
	if rep.Kind == reps.KindFulltext {
		return store.StringSize(t, rep.StringKey)
	}

	return rep.DeltaSize(), nil
}

// ReadStream is a cursor over a representation's reconstructed fulltext,
// a running MD5, and the size snapshotted at open that determines when
// the checksum seals.
type ReadStream struct {
	t      *trail.Trail
	store  kvstore.Store
	repKey string
	absent bool

	offset int64
	size   int64

	hash       hash.Hash
	repoolHash func()
	finalized  bool
}

// OpenReadStream opens a stream over repKey at offset 0. An empty repKey
// is the "null rep" case: legitimate, not an error, and carries zero
// content.
func OpenReadStream(t *trail.Trail, store kvstore.Store, repKey string) (*ReadStream, error) {
	return OpenReadStreamAt(t, store, repKey, 0)
}

// OpenReadStreamAt opens a stream over repKey starting at a caller-chosen
// offset, for resuming a read that was interrupted elsewhere. A null rep
// (empty repKey) only tolerates offset==0 — every further Read raises
// RepChanged, since there is no content a nonzero offset could have come
// from.
func OpenReadStreamAt(t *trail.Trail, store kvstore.Store, repKey string, offset int64) (*ReadStream, error) {
	stream := &ReadStream{t: t, store: store, repKey: repKey, offset: offset}

	if repKey == "" {
		stream.absent = true
	} else {
		rep, err := store.ReadRep(t, repKey)
		if err != nil {
			return nil, errors.Wrap(err)
		}

		if stream.size, err = sizeOfRep(t, store, rep); err != nil {
			return nil, errors.Wrap(err)
		}
	}

	stream.hash, stream.repoolHash = pool.GetMd5Hash()

	return stream, nil
}

// Read fills buf with up to len(buf) bytes, returning n==0 to signal
// end-of-stream. Once the cumulative offset reaches the size snapshotted
// at open, the running MD5 is finalized and checked against the rep's
// stored checksum exactly once; further calls are no-ops.
func (stream *ReadStream) Read(buf []byte) (n int, err error) {
	if stream.absent {
		if stream.offset > 0 {
			return 0, errors.ErrFsRepChanged
		}

		return 0, nil
	}

	if stream.offset >= stream.size {
		if !stream.finalized {
			if err = stream.finalize(); err != nil {
				return 0, err
			}
		}

		return 0, nil
	}

	if n, err = rangereader.ReadRange(stream.t, stream.store, stream.repKey, stream.offset, buf); err != nil {
		return n, errors.Wrap(err)
	}

	stream.hash.Write(buf[:n])
	stream.offset += int64(n)

	if stream.offset >= stream.size && !stream.finalized {
		if err = stream.finalize(); err != nil {
			return n, err
		}
	}

	return n, nil
}

// finalize re-reads the rep record (to observe a seal that happened after
// this stream was opened) and compares its checksum against the bytes
// actually produced.
func (stream *ReadStream) finalize() error {
	stream.finalized = true

	rep, err := stream.store.ReadRep(stream.t, stream.repKey)
	if err != nil {
		return errors.Wrap(err)
	}

	if rep.Checksum.IsZero() {
		return errors.ErrDeltaMd5ChecksumAbsent
	}

	sum := stream.hash.Sum(nil)

	if !bytes.Equal(sum, rep.Checksum[:]) {
		return errors.MakeErrFsCorrupt(stream.repKey, "reconstructed content does not match stored checksum")
	}

	return nil
}

// Close returns the stream's scratch MD5 hash to its pool. Safe to call
// even if the stream was never fully drained.
func (stream *ReadStream) Close() {
	if stream.repoolHash != nil {
		stream.repoolHash()
		stream.repoolHash = nil
	}
}

// drainAll reads stream to end-of-stream and returns everything read. The
// checksum verification in Read's finalize step runs as a side effect of
// reaching the end, so a caller never needs to check it separately.
func drainAll(stream *ReadStream, sizeHint int64) ([]byte, error) {
	out := make([]byte, 0, sizeHint)
	chunk := make([]byte, drainChunkSize)

	for {
		n, err := stream.Read(chunk)
		if err != nil {
			return nil, err
		}

		if n == 0 {
			return out, nil
		}

		out = append(out, chunk[:n]...)
	}
}

// WriteStream is append-only: MD5 running alongside, sealed into the
// rep's checksum field on Close.
type WriteStream struct {
	t      *trail.Trail
	store  kvstore.Store
	repKey string

	stringKey string

	hash       hash.Hash
	repoolHash func()
	finalized  bool
}

// OpenWriteStream always clears the rep's backing string first, then
// requires the rep to be mutable under this trail's txn_id, returning
// RepNotMutable rather than discarding it when the check fails.
func OpenWriteStream(t *trail.Trail, store kvstore.Store, repKey string) (*WriteStream, error) {
	rep, err := store.ReadRep(t, repKey)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	if !rep.MutableUnder(t.Txn.TxnId()) {
		return nil, errors.ErrFsRepNotMutable
	}

	if rep.Kind != reps.KindFulltext {
		return nil, errors.MakeErrFsCorrupt(repKey, "mutable representation is not fulltext")
	}

	if err = store.StringClear(t, rep.StringKey); err != nil {
		return nil, errors.Wrap(err)
	}

	stream := &WriteStream{t: t, store: store, repKey: repKey, stringKey: rep.StringKey}
	stream.hash, stream.repoolHash = pool.GetMd5Hash()

	return stream, nil
}

// Write appends buf in full. The backing string-store append is
// all-or-nothing in every Store implementation this module ships, so
// there is never an observable partial-write case here; a failed append
// simply returns an error with n==0.
func (stream *WriteStream) Write(buf []byte) (n int, err error) {
	if _, err = stream.store.StringAppend(stream.t, stream.stringKey, buf); err != nil {
		return 0, errors.Wrap(err)
	}

	stream.hash.Write(buf)

	return len(buf), nil
}

// Close finalizes the running MD5 into the rep's checksum field, if not
// already finalized, and releases the scratch hash.
func (stream *WriteStream) Close() error {
	if stream.finalized {
		return nil
	}

	defer stream.repoolHash()

	stream.finalized = true

	rep, err := stream.store.ReadRep(stream.t, stream.repKey)
	if err != nil {
		return errors.Wrap(err)
	}

	copy(rep.Checksum[:], stream.hash.Sum(nil))

	return stream.store.WriteRep(stream.t, stream.repKey, rep)
}

// Deltify converts target into a delta against source using the named
// algorithm, in place. No-op (silently) if the resulting delta would not
// be strictly smaller than an old fulltext target.
func Deltify(t *trail.Trail, store kvstore.Store, targetKey, sourceKey string, algorithmId byte) error {
	if targetKey == sourceKey {
		return errors.MakeErrFsCorrupt(targetKey, "cannot deltify a representation against itself")
	}

	targetRep, err := store.ReadRep(t, targetKey)
	if err != nil {
		return errors.Wrap(err)
	}

	sourceRep, err := store.ReadRep(t, sourceKey)
	if err != nil {
		return errors.Wrap(err)
	}

	algorithm, err := svndiff.ForByte(algorithmId)
	if err != nil {
		return errors.Wrap(err)
	}

	targetBytes, targetChecksum, err := readReconstructed(t, store, targetKey)
	if err != nil {
		return errors.Wrap(err)
	}

	var (
		payload   []byte
		chunkSize int64
	)

	if algorithm.ComposesInChain() {
		payload, chunkSize, err = deltifyWindowed(sourceKey, t, store, targetBytes)
	} else {
		payload, chunkSize, err = deltifyWholeRep(t, store, algorithm, sourceRep, targetBytes)
	}

	if err != nil {
		return errors.Wrap(err)
	}

	newStringKey, err := store.StringAppend(t, "", payload)
	if err != nil {
		return errors.Wrap(err)
	}

	chunk := reps.Chunk{
		Offset:    0,
		Size:      chunkSize,
		Version:   algorithm.Id(),
		StringKey: newStringKey,
		RepKey:    sourceKey,
		Checksum:  targetChecksum,
	}

	if targetRep.Kind == reps.KindFulltext {
		oldSize, err := store.StringSize(t, targetRep.StringKey)
		if err != nil {
			return errors.Wrap(err)
		}

		newTotal := int64(len(payload))

		if newTotal >= oldSize {
			return store.StringDelete(t, newStringKey)
		}
	}

	newRep := reps.Representation{
		RepKey:   targetKey,
		Kind:     reps.KindDelta,
		TxnId:    targetRep.TxnId,
		Checksum: targetRep.Checksum,
		Chunks:   []reps.Chunk{chunk},
	}

	if err = store.WriteRep(t, targetKey, newRep); err != nil {
		return errors.Wrap(err)
	}

	if targetRep.Kind == reps.KindFulltext {
		return store.StringDelete(t, targetRep.StringKey)
	}

	for _, oldChunk := range targetRep.Chunks {
		if err = store.StringDelete(t, oldChunk.StringKey); err != nil {
			return errors.Wrap(err)
		}
	}

	return nil
}

// deltifyWindowed is the native composable path: spec's single-window
// simplification (see DESIGN.md) means the whole target is one window
// against the whole reconstructed source, so there is exactly one chunk
// per deltify rather than a per-window stream.
func deltifyWindowed(sourceKey string, t *trail.Trail, store kvstore.Store, targetBytes []byte) (payload []byte, chunkSize int64, err error) {
	sourceBytes, _, err := readReconstructed(t, store, sourceKey)
	if err != nil {
		return nil, 0, errors.Wrap(err)
	}

	window := svndiff.Diff(sourceBytes, targetBytes)

	var buf bytes.Buffer

	if err = svndiff.EncodeWindowPayload(&buf, window); err != nil {
		return nil, 0, errors.Wrap(err)
	}

	return buf.Bytes(), int64(len(targetBytes)), nil
}

// deltifyWholeRep is the restricted path for a non-composable algorithm
// (bsdiff): the source must already be fulltext, matching the constraint
// foxtrot/rangereader's whole-rep fast path assumes.
func deltifyWholeRep(
	t *trail.Trail,
	store kvstore.Store,
	algorithm svndiff.Algorithm,
	sourceRep reps.Representation,
	targetBytes []byte,
) (payload []byte, chunkSize int64, err error) {
	wholeRep, ok := algorithm.(svndiff.WholeRepAlgorithm)
	if !ok {
		return nil, 0, errors.Errorf("streams: algorithm %d is neither composable nor whole-rep", algorithm.Id())
	}

	if sourceRep.Kind != reps.KindFulltext {
		return nil, 0, errors.Wrapf(errors.ErrFsGeneral, "algorithm %d requires a fulltext source", algorithm.Id())
	}

	sourceSize, err := store.StringSize(t, sourceRep.StringKey)
	if err != nil {
		return nil, 0, errors.Wrap(err)
	}

	sourceBytes, err := kvstore.ReadAllString(t, store, sourceRep.StringKey, sourceSize)
	if err != nil {
		return nil, 0, errors.Wrap(err)
	}

	patch, err := wholeRep.Compute(bytes.NewReader(sourceBytes), bytes.NewReader(targetBytes))
	if err != nil {
		return nil, 0, errors.Wrap(err)
	}

	return patch, int64(len(targetBytes)), nil
}

// ReadAll fully reconstructs repKey's content, the way Deltify and
// Undeltify do internally. Exported for callers (such as the compaction
// sweep) that need a target's reconstructed bytes outside of those two
// operations.
func ReadAll(t *trail.Trail, store kvstore.Store, repKey string) (data []byte, checksum reps.Checksum, err error) {
	return readReconstructed(t, store, repKey)
}

// readReconstructed fully drains repKey's read stream, returning its
// bytes and the MD5 computed over them (equal to the rep's stored
// checksum, per the verification ReadStream.Read performs at EOF).
func readReconstructed(t *trail.Trail, store kvstore.Store, repKey string) (data []byte, checksum reps.Checksum, err error) {
	stream, err := OpenReadStream(t, store, repKey)
	if err != nil {
		return nil, checksum, errors.Wrap(err)
	}

	defer stream.Close()

	data, err = drainAll(stream, stream.size)
	if err != nil {
		return nil, checksum, errors.Wrap(err)
	}

	rep, err := store.ReadRep(t, repKey)
	if err != nil {
		return nil, checksum, errors.Wrap(err)
	}

	return data, rep.Checksum, nil
}

// Undeltify materializes repKey back to a fulltext representation,
// preserving its checksum. No-op if already fulltext.
func Undeltify(t *trail.Trail, store kvstore.Store, repKey string) error {
	rep, err := store.ReadRep(t, repKey)
	if err != nil {
		return errors.Wrap(err)
	}

	if rep.Kind == reps.KindFulltext {
		return nil
	}

	oldChunks := rep.Chunks

	data, checksum, err := readReconstructed(t, store, repKey)
	if err != nil {
		return errors.Wrap(err)
	}

	newStringKey, err := store.StringAppend(t, "", data)
	if err != nil {
		return errors.Wrap(err)
	}

	newRep := reps.Representation{
		RepKey:    repKey,
		Kind:      reps.KindFulltext,
		TxnId:     rep.TxnId,
		Checksum:  checksum,
		StringKey: newStringKey,
	}

	if err = store.WriteRep(t, repKey, newRep); err != nil {
		return errors.Wrap(err)
	}

	for _, chunk := range oldChunks {
		if err = store.StringDelete(t, chunk.StringKey); err != nil {
			return errors.Wrap(err)
		}
	}

	return nil
}
