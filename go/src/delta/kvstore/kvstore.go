// Package kvstore is the backing key-value store, specified only by the
// operations the representation/content engine consumes: a `strings`
// table for byte-string storage and a `reps` table for representation
// records, both scoped to a trail.
package kvstore

import (
	"io"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
	"code.harrowgate.dev/repdelta/go/src/alfa/trail"
	"code.harrowgate.dev/repdelta/go/src/charlie/reps"
)

// StringStore is the string table contract.
type StringStore interface {
	// StringAppend allocates a new key when key=="" and appends bytes,
	// returning the (possibly newly allocated) key. Appending zero
	// bytes with an empty key allocates an empty string.
	StringAppend(t *trail.Trail, key string, data []byte) (string, error)
	// StringRead reads up to len(buf) bytes starting at offset.
	// n==0 signals end-of-string.
	StringRead(t *trail.Trail, key string, offset int64, buf []byte) (n int, err error)
	StringSize(t *trail.Trail, key string) (int64, error)
	StringClear(t *trail.Trail, key string) error
	StringDelete(t *trail.Trail, key string) error
}

// RepStore is the reps table contract.
type RepStore interface {
	ReadRep(t *trail.Trail, key string) (reps.Representation, error)
	WriteRep(t *trail.Trail, key string, rep reps.Representation) error
	WriteNewRep(t *trail.Trail, rep reps.Representation) (string, error)
	DeleteRep(t *trail.Trail, key string) error
}

// Store bundles both tables; every component above is written against
// this one interface.
type Store interface {
	StringStore
	RepStore
}

// ReadAllString is the "read entire rep as one buffer" convenience
// entry, including its size-limit rule: content that would not fit in an
// int is rejected with FsGeneral rather than silently truncated.
func ReadAllString(t *trail.Trail, store StringStore, key string, size int64) ([]byte, error) {
	if size < 0 || size > int64(^uint(0)>>1) {
		return nil, errors.ErrFsGeneral
	}

	buf := make([]byte, size)

	var total int64

	for total < size {
		n, err := store.StringRead(t, key, total, buf[total:])
		if err != nil {
			return nil, errors.Wrap(err)
		}

		if n == 0 {
			break
		}

		total += int64(n)
	}

	if total != size {
		return nil, errors.MakeErrFsCorrupt(key, "string shorter than its recorded size")
	}

	return buf, nil
}

// CopyInto streams a string's full contents into w.
func CopyInto(t *trail.Trail, store StringStore, key string, w io.Writer) error {
	buf := make([]byte, 32*1024)
	offset := int64(0)

	for {
		n, err := store.StringRead(t, key, offset, buf)
		if err != nil {
			return errors.Wrap(err)
		}

		if n == 0 {
			return nil
		}

		if _, err = w.Write(buf[:n]); err != nil {
			return errors.Wrap(err)
		}

		offset += int64(n)
	}
}
