// Package compaction is the deep-deltify maintenance sweep: a
// size-based base selector that walks an existing delta chain down to
// its fulltext root and considers re-expressing the whole chain as one
// non-composable whole-rep delta against that root.
package compaction

import (
	"bytes"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
	"code.harrowgate.dev/repdelta/go/src/alfa/trail"
	"code.harrowgate.dev/repdelta/go/src/bravo/svndiff"
	"code.harrowgate.dev/repdelta/go/src/charlie/reps"
	"code.harrowgate.dev/repdelta/go/src/delta/kvstore"
	"code.harrowgate.dev/repdelta/go/src/golf/engineconfig"
	"code.harrowgate.dev/repdelta/go/src/hotel/streams"
)

// Candidate is one rep the sweep examined.
type Candidate struct {
	RepKey      string
	ChainDepth  int
	Deltified   bool
	SkipReason  string
	OldTotal    int64
	NewPatchLen int64
}

// Sweep examines each of repKeys and deep-deltifies those whose delta
// chain is at least config.Compaction.MinChainLength links deep and whose
// bsdiff-against-root patch size does not exceed SizeRatio times the
// chain's current total serialized size.
func Sweep(t *trail.Trail, store kvstore.Store, config engineconfig.CompactionConfig, repKeys []string) ([]Candidate, error) {
	results := make([]Candidate, 0, len(repKeys))

	for _, repKey := range repKeys {
		candidate, err := sweepOne(t, store, config, repKey)
		if err != nil {
			return results, errors.Wrap(err)
		}

		results = append(results, candidate)
	}

	return results, nil
}

func sweepOne(t *trail.Trail, store kvstore.Store, config engineconfig.CompactionConfig, repKey string) (Candidate, error) {
	candidate := Candidate{RepKey: repKey}

	rep, err := store.ReadRep(t, repKey)
	if err != nil {
		return candidate, errors.Wrap(err)
	}

	if rep.Kind != reps.KindDelta {
		candidate.SkipReason = "already fulltext"
		return candidate, nil
	}

	depth, root, totalSize, ok, err := chainDepth(t, store, rep)
	if err != nil {
		return candidate, errors.Wrap(err)
	}

	candidate.ChainDepth = depth
	candidate.OldTotal = totalSize

	if !ok {
		candidate.SkipReason = "chain does not conform to single-chunk-per-link shape"
		return candidate, nil
	}

	if depth < config.MinChainLength {
		candidate.SkipReason = "chain shorter than minimum"
		return candidate, nil
	}

	targetBytes, _, err := streams.ReadAll(t, store, repKey)
	if err != nil {
		return candidate, errors.Wrap(err)
	}

	rootBytes, _, err := streams.ReadAll(t, store, root.RepKey)
	if err != nil {
		return candidate, errors.Wrap(err)
	}

	bsdiff := svndiff.Bsdiff{}

	patch, err := computePatch(bsdiff, rootBytes, targetBytes)
	if err != nil {
		return candidate, errors.Wrap(err)
	}

	candidate.NewPatchLen = int64(len(patch))

	if float64(len(patch)) > config.SizeRatio*float64(totalSize) {
		candidate.SkipReason = "patch not small enough against current chain size"
		return candidate, nil
	}

	if err = streams.Deltify(t, store, repKey, root.RepKey, svndiff.VersionBsdiff); err != nil {
		return candidate, errors.Wrap(err)
	}

	candidate.Deltified = true

	return candidate, nil
}

// chainDepth walks repKey's delta chain to its fulltext root, following
// each link's sole chunk (this sweep only ever deep-deltifies chains
// produced by this module's own single-chunk-per-deltify discipline; a
// chain that doesn't conform is reported via ok==false rather than
// erroring the whole sweep).
func chainDepth(t *trail.Trail, store kvstore.Store, rep reps.Representation) (depth int, root reps.Representation, totalSize int64, ok bool, err error) {
	current := rep

	for current.Kind == reps.KindDelta {
		if len(current.Chunks) != 1 {
			return depth, root, totalSize, false, nil
		}

		size, sizeErr := store.StringSize(t, current.Chunks[0].StringKey)
		if sizeErr != nil {
			return depth, root, totalSize, false, errors.Wrap(sizeErr)
		}

		totalSize += size
		depth++

		next, readErr := store.ReadRep(t, current.Chunks[0].RepKey)
		if readErr != nil {
			return depth, root, totalSize, false, errors.Wrap(readErr)
		}

		current = next
	}

	return depth, current, totalSize, true, nil
}

func computePatch(algorithm svndiff.Bsdiff, source, target []byte) ([]byte, error) {
	patch, err := algorithm.Compute(bytes.NewReader(source), bytes.NewReader(target))
	if err != nil {
		return nil, errors.Wrap(err)
	}

	return patch, nil
}
