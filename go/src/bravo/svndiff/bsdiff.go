package svndiff

import (
	"io"

	bsdiffpkg "github.com/gabstv/go-bsdiff/pkg/bsdiff"
	bspatchpkg "github.com/gabstv/go-bsdiff/pkg/bspatch"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
)

// Algorithm is the capability a chunk's version byte selects.
// ComposesInChain reports whether the algorithm supports the
// compose/apply window algebra across an arbitrarily deep chain: windiff
// does, bsdiff does not and is restricted (at deltify time, see
// hotel/streams) to a single chunk against a fulltext source.
type Algorithm interface {
	Id() byte
	ComposesInChain() bool
}

// WholeRepAlgorithm is implemented by algorithms that diff an entire
// representation's fulltext in one shot rather than producing a
// composable Window.
type WholeRepAlgorithm interface {
	Algorithm
	Compute(source io.Reader, target io.Reader) (patch []byte, err error)
	Apply(source io.Reader, patch io.Reader, target io.Writer) (err error)
}

type windiffAlgorithm struct{}

func (windiffAlgorithm) Id() byte { return VersionWindiff }

func (windiffAlgorithm) ComposesInChain() bool { return true }

// Bsdiff adapts github.com/gabstv/go-bsdiff, a whole-blob diff library,
// to the non-composable, whole-representation delta form used by the
// deep-deltify maintenance sweep.
type Bsdiff struct{}

var _ WholeRepAlgorithm = Bsdiff{}

func (Bsdiff) Id() byte { return VersionBsdiff }

func (Bsdiff) ComposesInChain() bool { return false }

func (Bsdiff) Compute(source io.Reader, target io.Reader) (patch []byte, err error) {
	sourceData, err := io.ReadAll(source)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	targetData, err := io.ReadAll(target)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	if patch, err = bsdiffpkg.Bytes(sourceData, targetData); err != nil {
		return nil, errors.Wrap(err)
	}

	return patch, nil
}

func (Bsdiff) Apply(source io.Reader, patch io.Reader, target io.Writer) (err error) {
	sourceData, err := io.ReadAll(source)
	if err != nil {
		return errors.Wrap(err)
	}

	patchData, err := io.ReadAll(patch)
	if err != nil {
		return errors.Wrap(err)
	}

	var reconstructed []byte

	if reconstructed, err = bspatchpkg.Bytes(sourceData, patchData); err != nil {
		return errors.Wrap(err)
	}

	if _, err = target.Write(reconstructed); err != nil {
		return errors.Wrap(err)
	}

	return nil
}

var algorithms = map[byte]Algorithm{}

func registerAlgorithm(algorithm Algorithm) {
	algorithms[algorithm.Id()] = algorithm
}

func init() {
	registerAlgorithm(windiffAlgorithm{})
	registerAlgorithm(Bsdiff{})
}

// ForByte looks up the algorithm a chunk's version byte selects.
func ForByte(version byte) (Algorithm, error) {
	algorithm, ok := algorithms[version]
	if !ok {
		return nil, errors.Errorf("svndiff: no algorithm registered for version byte %d", version)
	}

	return algorithm, nil
}
