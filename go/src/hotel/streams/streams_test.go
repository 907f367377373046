package streams

import (
	"context"
	"crypto/md5"
	"testing"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
	"code.harrowgate.dev/repdelta/go/src/alfa/trail"
	"code.harrowgate.dev/repdelta/go/src/bravo/svndiff"
	"code.harrowgate.dev/repdelta/go/src/charlie/reps"
	"code.harrowgate.dev/repdelta/go/src/delta/kvstore"
)

func newTrail(txnId string) *trail.Trail {
	return trail.New(trail.MakeTxn(context.Background(), txnId))
}

// createMutableFulltext allocates a fresh empty mutable fulltext rep under
// txnId via kvstore.GetMutableRep, returning the new rep key.
func createMutableFulltext(t *trail.Trail, store kvstore.Store, txnId string) (string, error) {
	return kvstore.GetMutableRep(t, store, "", txnId)
}

func writeAndClose(t *trail.Trail, store kvstore.Store, repKey string, content []byte) error {
	ws, err := OpenWriteStream(t, store, repKey)
	if err != nil {
		return err
	}

	if _, err = ws.Write(content); err != nil {
		return err
	}

	return ws.Close()
}

func TestHelloWorldRoundTrip(t *testing.T) {
	store := kvstore.NewMemory()
	tr := newTrail("txn-1")

	repKey, err := createMutableFulltext(tr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext: %v", err)
	}

	content := []byte("hello, world")

	if err = writeAndClose(tr, store, repKey, content); err != nil {
		t.Fatalf("write/close: %v", err)
	}

	rep, err := store.ReadRep(tr, repKey)
	if err != nil {
		t.Fatalf("ReadRep: %v", err)
	}

	if rep.Kind != reps.KindFulltext {
		t.Fatalf("rep.Kind = %v, want fulltext", rep.Kind)
	}

	want := md5.Sum(content)
	if rep.Checksum != reps.Checksum(want) {
		t.Fatalf("checksum = %x, want %x", rep.Checksum, want)
	}

	got, checksum, err := ReadAll(tr, store, repKey)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if string(got) != string(content) {
		t.Fatalf("ReadAll() = %q, want %q", got, content)
	}

	if checksum != rep.Checksum {
		t.Fatalf("ReadAll checksum = %x, want %x", checksum, rep.Checksum)
	}
}

func TestDeltifyProducesSmallerChunkAndPreservesContent(t *testing.T) {
	store := kvstore.NewMemory()
	tr := newTrail("txn-1")

	sourceKey, err := createMutableFulltext(tr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext(source): %v", err)
	}

	if err = writeAndClose(tr, store, sourceKey, []byte("hello, world")); err != nil {
		t.Fatalf("write source: %v", err)
	}

	targetKey, err := createMutableFulltext(tr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext(target): %v", err)
	}

	targetContent := []byte("hello, there")

	if err = writeAndClose(tr, store, targetKey, targetContent); err != nil {
		t.Fatalf("write target: %v", err)
	}

	if err = Deltify(tr, store, targetKey, sourceKey, svndiff.VersionWindiff); err != nil {
		t.Fatalf("Deltify: %v", err)
	}

	targetRep, err := store.ReadRep(tr, targetKey)
	if err != nil {
		t.Fatalf("ReadRep(target): %v", err)
	}

	wantChecksum := md5.Sum(targetContent)

	if targetRep.Checksum != reps.Checksum(wantChecksum) {
		t.Fatalf("target checksum changed across deltify: got %x, want %x", targetRep.Checksum, wantChecksum)
	}

	if targetRep.Kind == reps.KindDelta {
		chunkSize, sizeErr := store.StringSize(tr, targetRep.Chunks[0].StringKey)
		if sizeErr != nil {
			t.Fatalf("StringSize: %v", sizeErr)
		}

		if chunkSize >= int64(len(targetContent)) {
			t.Fatalf("deltified chunk (%d bytes) is not smaller than fulltext (%d bytes)", chunkSize, len(targetContent))
		}
	}

	got, _, err := ReadAll(tr, store, targetKey)
	if err != nil {
		t.Fatalf("ReadAll(target) after deltify: %v", err)
	}

	if string(got) != string(targetContent) {
		t.Fatalf("ReadAll(target) = %q, want %q", got, targetContent)
	}
}

// TestDeltifySizeGuardNoop exercises the boundary where the produced delta
// is not strictly smaller than the fulltext target: deltifying an empty
// target against a large source must leave the target's fulltext form
// untouched and still return success.
func TestDeltifySizeGuardNoop(t *testing.T) {
	store := kvstore.NewMemory()
	tr := newTrail("txn-1")

	sourceKey, err := createMutableFulltext(tr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext(source): %v", err)
	}

	if err = writeAndClose(tr, store, sourceKey, []byte("a reasonably long piece of source content")); err != nil {
		t.Fatalf("write source: %v", err)
	}

	targetKey, err := createMutableFulltext(tr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext(target): %v", err)
	}

	if err = writeAndClose(tr, store, targetKey, nil); err != nil {
		t.Fatalf("write target: %v", err)
	}

	if err = Deltify(tr, store, targetKey, sourceKey, svndiff.VersionWindiff); err != nil {
		t.Fatalf("Deltify: %v", err)
	}

	rep, err := store.ReadRep(tr, targetKey)
	if err != nil {
		t.Fatalf("ReadRep: %v", err)
	}

	if rep.Kind != reps.KindFulltext {
		t.Fatalf("rep.Kind = %v, want fulltext (size guard should have no-opped)", rep.Kind)
	}
}

func TestDeltifySelfRejected(t *testing.T) {
	store := kvstore.NewMemory()
	tr := newTrail("txn-1")

	repKey, err := createMutableFulltext(tr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext: %v", err)
	}

	if err = writeAndClose(tr, store, repKey, []byte("content")); err != nil {
		t.Fatalf("write: %v", err)
	}

	err = Deltify(tr, store, repKey, repKey, svndiff.VersionWindiff)
	if !errors.IsFsCorrupt(err) {
		t.Fatalf("expected FsCorrupt deltifying a rep against itself, got %v", err)
	}
}

func TestWriteStreamRejectsImmutableRep(t *testing.T) {
	store := kvstore.NewMemory()
	mutableTr := newTrail("txn-1")

	repKey, err := createMutableFulltext(mutableTr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext: %v", err)
	}

	if err = writeAndClose(mutableTr, store, repKey, []byte("committed content")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Simulate commit: the rep is no longer mutable under any txn.
	rep, err := store.ReadRep(mutableTr, repKey)
	if err != nil {
		t.Fatalf("ReadRep: %v", err)
	}

	rep.TxnId = ""

	if err = store.WriteRep(mutableTr, repKey, rep); err != nil {
		t.Fatalf("WriteRep: %v", err)
	}

	laterTr := newTrail("txn-1")

	_, err = OpenWriteStream(laterTr, store, repKey)
	if !errors.IsFsRepNotMutable(err) {
		t.Fatalf("expected FsRepNotMutable after commit, got %v", err)
	}
}

func TestWriteStreamSucceedsWhileCurrent(t *testing.T) {
	store := kvstore.NewMemory()
	tr := newTrail("txn-1")

	repKey, err := createMutableFulltext(tr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext: %v", err)
	}

	if err = writeAndClose(tr, store, repKey, []byte("first draft")); err != nil {
		t.Fatalf("write: %v", err)
	}

	stream, err := OpenReadStream(tr, store, repKey)
	if err != nil {
		t.Fatalf("OpenReadStream: %v", err)
	}
	defer stream.Close()

	got, err := drainAll(stream, stream.size)
	if err != nil {
		t.Fatalf("drainAll: %v", err)
	}

	if string(got) != "first draft" {
		t.Fatalf("drainAll() = %q, want %q", got, "first draft")
	}
}

func TestUndeltifyInverse(t *testing.T) {
	store := kvstore.NewMemory()
	tr := newTrail("txn-1")

	sourceKey, err := createMutableFulltext(tr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext(source): %v", err)
	}

	if err = writeAndClose(tr, store, sourceKey, []byte("hello, world")); err != nil {
		t.Fatalf("write source: %v", err)
	}

	targetKey, err := createMutableFulltext(tr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext(target): %v", err)
	}

	targetContent := []byte("hello, there")

	if err = writeAndClose(tr, store, targetKey, targetContent); err != nil {
		t.Fatalf("write target: %v", err)
	}

	beforeData, beforeChecksum, err := ReadAll(tr, store, targetKey)
	if err != nil {
		t.Fatalf("ReadAll before deltify: %v", err)
	}

	if err = Deltify(tr, store, targetKey, sourceKey, svndiff.VersionWindiff); err != nil {
		t.Fatalf("Deltify: %v", err)
	}

	if err = Undeltify(tr, store, targetKey); err != nil {
		t.Fatalf("Undeltify: %v", err)
	}

	rep, err := store.ReadRep(tr, targetKey)
	if err != nil {
		t.Fatalf("ReadRep: %v", err)
	}

	if rep.Kind != reps.KindFulltext {
		t.Fatalf("rep.Kind after Undeltify = %v, want fulltext", rep.Kind)
	}

	afterData, _, err := ReadAll(tr, store, targetKey)
	if err != nil {
		t.Fatalf("ReadAll after undeltify: %v", err)
	}

	if string(afterData) != string(beforeData) {
		t.Fatalf("ReadAll after undeltify = %q, want %q", afterData, beforeData)
	}

	if rep.Checksum != beforeChecksum {
		t.Fatalf("checksum not preserved across deltify/undeltify: got %x, want %x", rep.Checksum, beforeChecksum)
	}
}

func TestUndeltifyNoopOnFulltext(t *testing.T) {
	store := kvstore.NewMemory()
	tr := newTrail("txn-1")

	repKey, err := createMutableFulltext(tr, store, "txn-1")
	if err != nil {
		t.Fatalf("createMutableFulltext: %v", err)
	}

	if err = writeAndClose(tr, store, repKey, []byte("already fulltext")); err != nil {
		t.Fatalf("write: %v", err)
	}

	before, err := store.ReadRep(tr, repKey)
	if err != nil {
		t.Fatalf("ReadRep: %v", err)
	}

	if err = Undeltify(tr, store, repKey); err != nil {
		t.Fatalf("Undeltify: %v", err)
	}

	after, err := store.ReadRep(tr, repKey)
	if err != nil {
		t.Fatalf("ReadRep after Undeltify: %v", err)
	}

	if before.StringKey != after.StringKey {
		t.Fatalf("Undeltify on an already-fulltext rep should be a no-op, string key changed from %q to %q", before.StringKey, after.StringKey)
	}
}

func TestOpenReadStreamAbsentRepKeyAtZero(t *testing.T) {
	store := kvstore.NewMemory()
	tr := newTrail("txn-1")

	stream, err := OpenReadStream(tr, store, "")
	if err != nil {
		t.Fatalf("OpenReadStream: %v", err)
	}
	defer stream.Close()

	n, err := stream.Read(make([]byte, 4))
	if err != nil {
		t.Fatalf("Read on absent rep at offset 0: %v", err)
	}

	if n != 0 {
		t.Fatalf("Read() = %d bytes, want 0", n)
	}
}

func TestOpenReadStreamAbsentRepKeyAtNonzeroOffset(t *testing.T) {
	store := kvstore.NewMemory()
	tr := newTrail("txn-1")

	stream, err := OpenReadStreamAt(tr, store, "", 5)
	if err != nil {
		t.Fatalf("OpenReadStreamAt: %v", err)
	}
	defer stream.Close()

	_, err = stream.Read(make([]byte, 4))
	if !errors.IsFsRepChanged(err) {
		t.Fatalf("expected RepChanged resuming an absent rep at offset>0, got %v", err)
	}
}
