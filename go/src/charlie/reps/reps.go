// Package reps holds the in-memory shape of a stored representation
// (fulltext or delta chain) and its tagged persisted encoding. Beyond
// (de)serialization it only checks a record's structural invariants and
// answers mutability and delta-size questions about it; every operation
// that reads or rewrites stored content lives in foxtrot/rangereader or
// hotel/streams.
package reps

import (
	"encoding/binary"
	"io"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
)

// Kind tags which payload a Representation carries.
type Kind uint8

const (
	KindFulltext Kind = iota
	KindDelta
)

func (kind Kind) String() string {
	switch kind {
	case KindFulltext:
		return "fulltext"
	case KindDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// Checksum is the 16-byte MD5 of a representation's fully reconstructed
// content. The zero value is the "not yet computed" sentinel; a read
// stream that reaches end-of-stream on a rep still carrying it returns
// DeltaMd5ChecksumAbsent. A freshly
// allocated empty mutable rep (kvstore.GetMutableRep) does not carry it: it
// starts with the MD5 of zero bytes.
type Checksum [16]byte

func (checksum Checksum) IsZero() bool {
	return checksum == Checksum{}
}

// Chunk is one link of a delta representation's chain.
type Chunk struct {
	Offset    int64
	Size      int64
	Version   byte
	StringKey string
	RepKey    string
	Checksum  Checksum
}

// Representation is the pure in-memory value of a stored rep record.
// Equality for "is this the rep I was reading" purposes is by RepKey, not
// by structural identity — callers must re-fetch by key across chunk
// boundaries rather than cache this value.
type Representation struct {
	RepKey    string
	Kind      Kind
	TxnId     string // empty means immutable
	Checksum  Checksum
	StringKey string  // valid iff Kind == KindFulltext
	Chunks    []Chunk // valid iff Kind == KindDelta, non-empty
}

func (rep *Representation) IsMutable() bool {
	return rep.TxnId != ""
}

func (rep *Representation) MutableUnder(txnId string) bool {
	return rep.TxnId != "" && rep.TxnId == txnId
}

// Validate checks the structural invariants required of any
// representation independent of how it is persisted: a mutable rep is
// always fulltext, and a delta rep's chunks are non-empty, size>0,
// offset-contiguous and offset-ordered starting at zero.
func (rep *Representation) Validate() error {
	if rep.Kind == KindDelta && rep.IsMutable() {
		return errors.MakeErrFsCorrupt(rep.RepKey, "mutable representation cannot be a delta")
	}

	if rep.Kind == KindDelta {
		if len(rep.Chunks) == 0 {
			return errors.MakeErrFsCorrupt(rep.RepKey, "delta representation has no chunks")
		}

		version := rep.Chunks[0].Version
		expectedOffset := int64(0)

		for i, chunk := range rep.Chunks {
			if chunk.Size <= 0 {
				return errors.MakeErrFsCorrupt(rep.RepKey, "chunk size must be > 0")
			}

			if chunk.Offset != expectedOffset {
				return errors.MakeErrFsCorrupt(rep.RepKey, "chunks are not offset-contiguous")
			}

			if chunk.Version != version {
				return errors.MakeErrFsCorrupt(rep.RepKey, "chunk version mismatch within one representation")
			}

			if chunk.RepKey == rep.RepKey {
				return errors.MakeErrFsCorrupt(rep.RepKey, "representation deltas against itself")
			}

			if i > 0 && chunk.RepKey != rep.Chunks[0].RepKey {
				return errors.MakeErrFsCorrupt(rep.RepKey, "chunks within one representation must share a source rep_key")
			}

			expectedOffset += chunk.Size
		}
	}

	return nil
}

// DeltaSize is the total reconstructed byte length a delta representation
// claims, derived purely from the chunk list (last chunk's offset plus
// size). It returns 0 for a rep with no chunks, which includes every
// fulltext rep: a fulltext's size is its backing string's size, which reps
// does not look up.
func (rep *Representation) DeltaSize() int64 {
	if len(rep.Chunks) == 0 {
		return 0
	}

	last := rep.Chunks[len(rep.Chunks)-1]

	return last.Offset + last.Size
}

// Encode writes the tagged wire form: a kind tag,
// txn_id (length-prefixed, empty for immutable), the 16-byte checksum,
// then either the fulltext string_key or the chunk list.
func (rep *Representation) Encode(w io.Writer) (err error) {
	if err = binary.Write(w, binary.BigEndian, uint8(rep.Kind)); err != nil {
		return errors.Wrap(err)
	}

	if err = writeString(w, rep.TxnId); err != nil {
		return errors.Wrap(err)
	}

	if _, err = w.Write(rep.Checksum[:]); err != nil {
		return errors.Wrap(err)
	}

	switch rep.Kind {
	case KindFulltext:
		if err = writeString(w, rep.StringKey); err != nil {
			return errors.Wrap(err)
		}

	case KindDelta:
		if err = binary.Write(w, binary.BigEndian, uint32(len(rep.Chunks))); err != nil {
			return errors.Wrap(err)
		}

		for _, chunk := range rep.Chunks {
			if err = encodeChunk(w, chunk); err != nil {
				return errors.Wrap(err)
			}
		}

	default:
		return errors.MakeErrFsCorrupt(rep.RepKey, "unknown representation kind")
	}

	return nil
}

func encodeChunk(w io.Writer, chunk Chunk) (err error) {
	if err = binary.Write(w, binary.BigEndian, chunk.Offset); err != nil {
		return err
	}

	if err = binary.Write(w, binary.BigEndian, chunk.Size); err != nil {
		return err
	}

	if err = binary.Write(w, binary.BigEndian, chunk.Version); err != nil {
		return err
	}

	if err = writeString(w, chunk.StringKey); err != nil {
		return err
	}

	if err = writeString(w, chunk.RepKey); err != nil {
		return err
	}

	_, err = w.Write(chunk.Checksum[:])

	return err
}

// Decode reads back what Encode wrote. RepKey is not part of the wire
// form (it is the store's key for this record) and must be set by the
// caller after Decode returns.
func Decode(r io.Reader) (rep Representation, err error) {
	var kindByte uint8

	if err = binary.Read(r, binary.BigEndian, &kindByte); err != nil {
		return rep, errors.Wrap(err)
	}

	rep.Kind = Kind(kindByte)

	if rep.TxnId, err = readString(r); err != nil {
		return rep, errors.Wrap(err)
	}

	if _, err = io.ReadFull(r, rep.Checksum[:]); err != nil {
		return rep, errors.Wrap(err)
	}

	switch rep.Kind {
	case KindFulltext:
		if rep.StringKey, err = readString(r); err != nil {
			return rep, errors.Wrap(err)
		}

	case KindDelta:
		var count uint32

		if err = binary.Read(r, binary.BigEndian, &count); err != nil {
			return rep, errors.Wrap(err)
		}

		rep.Chunks = make([]Chunk, count)

		for i := range rep.Chunks {
			if rep.Chunks[i], err = decodeChunk(r); err != nil {
				return rep, errors.Wrap(err)
			}
		}

	default:
		return rep, errors.MakeErrFsCorrupt("", "unknown representation kind on decode")
	}

	return rep, nil
}

func decodeChunk(r io.Reader) (chunk Chunk, err error) {
	if err = binary.Read(r, binary.BigEndian, &chunk.Offset); err != nil {
		return chunk, err
	}

	if err = binary.Read(r, binary.BigEndian, &chunk.Size); err != nil {
		return chunk, err
	}

	if err = binary.Read(r, binary.BigEndian, &chunk.Version); err != nil {
		return chunk, err
	}

	if chunk.StringKey, err = readString(r); err != nil {
		return chunk, err
	}

	if chunk.RepKey, err = readString(r); err != nil {
		return chunk, err
	}

	_, err = io.ReadFull(r, chunk.Checksum[:])

	return chunk, err
}

func writeString(w io.Writer, s string) (err error) {
	if err = binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}

	_, err = io.WriteString(w, s)

	return err
}

func readString(r io.Reader) (s string, err error) {
	var length uint32

	if err = binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}

	buf := make([]byte, length)

	if _, err = io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}
