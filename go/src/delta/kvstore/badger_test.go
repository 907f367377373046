package kvstore

import (
	"path/filepath"
	"testing"

	"code.harrowgate.dev/repdelta/go/src/charlie/reps"
)

func openTestBadger(t *testing.T) *Badger {
	t.Helper()

	b, err := OpenBadger(filepath.Join(t.TempDir(), "badger"))
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}

	t.Cleanup(func() { _ = b.Close() })

	return b
}

func TestBadgerStringAppendAndRead(t *testing.T) {
	b := openTestBadger(t)
	tr := testTrail()

	key, err := b.StringAppend(tr, "", []byte("hello"))
	if err != nil {
		t.Fatalf("StringAppend: %v", err)
	}

	if _, err = b.StringAppend(tr, key, []byte(", world")); err != nil {
		t.Fatalf("StringAppend (grow): %v", err)
	}

	buf := make([]byte, 12)

	n, err := b.StringRead(tr, key, 0, buf)
	if err != nil {
		t.Fatalf("StringRead: %v", err)
	}

	if string(buf[:n]) != "hello, world" {
		t.Fatalf("StringRead() = %q, want %q", buf[:n], "hello, world")
	}
}

func TestBadgerRepRoundTrip(t *testing.T) {
	b := openTestBadger(t)
	tr := testTrail()

	rep := reps.Representation{Kind: reps.KindFulltext, StringKey: "s1"}

	key, err := b.WriteNewRep(tr, rep)
	if err != nil {
		t.Fatalf("WriteNewRep: %v", err)
	}

	got, err := b.ReadRep(tr, key)
	if err != nil {
		t.Fatalf("ReadRep: %v", err)
	}

	if got.RepKey != key || got.StringKey != "s1" {
		t.Fatalf("ReadRep() = %+v", got)
	}
}

func TestBadgerStringAndRepKeysDoNotCollide(t *testing.T) {
	b := openTestBadger(t)
	tr := testTrail()

	if _, err := b.StringAppend(tr, "shared-1", []byte("string side")); err != nil {
		t.Fatalf("StringAppend: %v", err)
	}

	if err := b.WriteRep(tr, "shared-1", reps.Representation{Kind: reps.KindFulltext, StringKey: "shared-1"}); err != nil {
		t.Fatalf("WriteRep: %v", err)
	}

	buf := make([]byte, 32)

	n, err := b.StringRead(tr, "shared-1", 0, buf)
	if err != nil {
		t.Fatalf("StringRead: %v", err)
	}

	if string(buf[:n]) != "string side" {
		t.Fatalf("StringRead() = %q, want %q (string and rep tables must not collide)", buf[:n], "string side")
	}
}
