// Package stringpack is an append-only, single-file backend for the
// string table half of delta/kvstore.Store, built around a sequential-
// entry-plus-index pack format pared down to the handful of operations
// the representation/content engine actually needs: append, read a
// range, size, clear, delete.
//
// A string's content is not necessarily one contiguous run in the
// backing file: every StringAppend call writes a new fragment at the
// current end of file and records it in the index, so repeated appends
// to the same key (as a write stream grows it) never require rewriting
// already-written bytes. Each fragment is compressed on the way in with
// github.com/DataDog/zstd and decompressed whole on read — a fragment
// is small enough (one window or one whole-rep patch) that seeking
// within a compressed run isn't worth the complexity. StringClear and
// StringDelete only drop a key from the index; like any append-only
// log, the displaced bytes are not reclaimed here — that is the same
// periodic-compaction responsibility india/compaction already models
// for delta chains, one layer up.
package stringpack

import (
	"os"
	"strconv"
	"sync"

	"github.com/DataDog/zstd"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
	"code.harrowgate.dev/repdelta/go/src/alfa/trail"
	"code.harrowgate.dev/repdelta/go/src/charlie/reps"
	"code.harrowgate.dev/repdelta/go/src/delta/kvstore"
)

// fragment names one compressed run in the backing file: storedLength is
// the compressed byte count on disk (what offset/ReadAt addresses),
// logicalLength is the decompressed size StringRead/StringSize reason
// about.
type fragment struct {
	offset        int64
	storedLength  int64
	logicalLength int64
}

// Pack is a kvstore.Store backed by one append-only file for string
// bodies and an in-memory table for rep records (small and numerous
// enough that packing them brings no benefit the way bulk string
// content does).
type Pack struct {
	mu sync.Mutex

	file  *os.File
	size  int64
	exist map[string]bool
	frags map[string][]fragment

	repRecords map[string]reps.Representation

	nextString int
	nextRep    int
}

var _ kvstore.Store = (*Pack)(nil)

func Open(path string) (*Pack, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err)
	}

	return &Pack{
		file:       file,
		size:       info.Size(),
		exist:      make(map[string]bool),
		frags:      make(map[string][]fragment),
		repRecords: make(map[string]reps.Representation),
	}, nil
}

func (pack *Pack) Close() error {
	return pack.file.Close()
}

func (pack *Pack) StringAppend(t *trail.Trail, key string, data []byte) (string, error) {
	pack.mu.Lock()
	defer pack.mu.Unlock()

	if key == "" {
		pack.nextString++
		key = "str-" + strconv.Itoa(pack.nextString)
		pack.exist[key] = true
	}

	if !pack.exist[key] {
		return "", errors.MakeErrNotFoundString(key)
	}

	if len(data) == 0 {
		return key, nil
	}

	compressed, err := zstd.Compress(nil, data)
	if err != nil {
		return "", errors.Wrap(err)
	}

	offset := pack.size

	if _, err = pack.file.WriteAt(compressed, offset); err != nil {
		return "", errors.Wrap(err)
	}

	pack.size += int64(len(compressed))
	pack.frags[key] = append(pack.frags[key], fragment{
		offset:        offset,
		storedLength:  int64(len(compressed)),
		logicalLength: int64(len(data)),
	})

	return key, nil
}

func (pack *Pack) StringRead(t *trail.Trail, key string, offset int64, buf []byte) (n int, err error) {
	pack.mu.Lock()
	defer pack.mu.Unlock()

	if !pack.exist[key] {
		return 0, errors.MakeErrNotFoundString(key)
	}

	if offset < 0 {
		return 0, errors.Errorf("stringpack: string_read offset %d out of range for %q", offset, key)
	}

	frags := pack.frags[key]

	var consumed int64

	for _, frag := range frags {
		if n >= len(buf) {
			break
		}

		fragEnd := consumed + frag.logicalLength

		if offset >= fragEnd {
			consumed = fragEnd
			continue
		}

		compressed := make([]byte, frag.storedLength)

		if _, readErr := pack.file.ReadAt(compressed, frag.offset); readErr != nil {
			return n, errors.Wrap(readErr)
		}

		decompressed, decErr := zstd.Decompress(nil, compressed)
		if decErr != nil {
			return n, errors.Wrap(decErr)
		}

		skip := int64(0)

		if offset > consumed {
			skip = offset - consumed
		}

		want := frag.logicalLength - skip
		room := int64(len(buf) - n)

		if want > room {
			want = room
		}

		copy(buf[n:n+int(want)], decompressed[skip:skip+want])

		n += int(want)
		consumed = fragEnd
	}

	return n, nil
}

func (pack *Pack) StringSize(t *trail.Trail, key string) (int64, error) {
	pack.mu.Lock()
	defer pack.mu.Unlock()

	if !pack.exist[key] {
		return 0, errors.MakeErrNotFoundString(key)
	}

	var total int64

	for _, frag := range pack.frags[key] {
		total += frag.logicalLength
	}

	return total, nil
}

func (pack *Pack) StringClear(t *trail.Trail, key string) error {
	pack.mu.Lock()
	defer pack.mu.Unlock()

	if !pack.exist[key] {
		return errors.MakeErrNotFoundString(key)
	}

	delete(pack.frags, key)

	return nil
}

func (pack *Pack) StringDelete(t *trail.Trail, key string) error {
	pack.mu.Lock()
	defer pack.mu.Unlock()

	delete(pack.exist, key)
	delete(pack.frags, key)

	return nil
}

func (pack *Pack) ReadRep(t *trail.Trail, key string) (reps.Representation, error) {
	pack.mu.Lock()
	defer pack.mu.Unlock()

	rep, ok := pack.repRecords[key]
	if !ok {
		return reps.Representation{}, errors.MakeErrNotFoundString(key)
	}

	return rep, nil
}

func (pack *Pack) WriteRep(t *trail.Trail, key string, rep reps.Representation) error {
	pack.mu.Lock()
	defer pack.mu.Unlock()

	rep.RepKey = key
	pack.repRecords[key] = rep

	return nil
}

func (pack *Pack) WriteNewRep(t *trail.Trail, rep reps.Representation) (string, error) {
	pack.mu.Lock()
	defer pack.mu.Unlock()

	pack.nextRep++
	key := "rep-" + strconv.Itoa(pack.nextRep)
	rep.RepKey = key
	pack.repRecords[key] = rep

	return key, nil
}

func (pack *Pack) DeleteRep(t *trail.Trail, key string) error {
	pack.mu.Lock()
	defer pack.mu.Unlock()

	delete(pack.repRecords, key)

	return nil
}

