package rangereader

import (
	"testing"

	"code.harrowgate.dev/repdelta/go/src/bravo/svndiff"
)

func TestComposeStateShortCircuitsOnEmptySourceOps(t *testing.T) {
	onlyInsert := &svndiff.Window{TargetLength: 3, Ops: []svndiff.Op{{Kind: svndiff.OpInsert, Data: []byte("xyz")}}}

	var state composeState

	if err := state.feed(onlyInsert); err != nil {
		t.Fatalf("feed: %v", err)
	}

	if !state.done {
		t.Fatal("expected composeState to be done after a window with no source ops")
	}
}

func TestComposeStateFeedsOuterThenInner(t *testing.T) {
	outer := &svndiff.Window{
		SourceOffset: 0,
		SourceLength: 4,
		TargetLength: 4,
		Ops:          []svndiff.Op{{Kind: svndiff.OpCopySource, SourceOffset: 0, Length: 4}},
	}

	inner := &svndiff.Window{
		TargetLength: 4,
		Ops:          []svndiff.Op{{Kind: svndiff.OpInsert, Data: []byte("abcd")}},
	}

	var state composeState

	if err := state.feed(outer); err != nil {
		t.Fatalf("feed(outer): %v", err)
	}

	if state.done {
		t.Fatal("expected composition to continue after a window with source ops")
	}

	if err := state.feed(inner); err != nil {
		t.Fatalf("feed(inner): %v", err)
	}

	if !state.done {
		t.Fatal("expected composition to finish once the fed window is insert-only")
	}

	got, err := svndiff.Apply(state.combined, nil, nil)
	if err != nil {
		t.Fatalf("Apply(combined): %v", err)
	}

	if string(got) != "abcd" {
		t.Fatalf("Apply(combined) = %q, want %q", got, "abcd")
	}
}
