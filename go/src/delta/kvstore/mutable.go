package kvstore

import (
	"crypto/md5"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
	"code.harrowgate.dev/repdelta/go/src/alfa/trail"
	"code.harrowgate.dev/repdelta/go/src/charlie/reps"
)

// emptyStringChecksum is the MD5 of zero bytes, the checksum a freshly
// allocated empty fulltext rep carries until its first write replaces it.
var emptyStringChecksum = reps.Checksum(md5.Sum(nil))

// GetMutableRep returns baseKey unchanged if it already names a
// representation mutable under txnId. Otherwise it allocates a fresh empty
// fulltext representation owned by txnId and returns its key, leaving
// baseKey (if any) untouched — the caller is expected to treat the
// returned key as baseKey's replacement, not layer it on top.
func GetMutableRep(t *trail.Trail, store Store, baseKey string, txnId string) (string, error) {
	if baseKey != "" {
		rep, err := store.ReadRep(t, baseKey)
		if err != nil {
			return "", errors.Wrap(err)
		}

		if rep.MutableUnder(txnId) {
			return baseKey, nil
		}
	}

	stringKey, err := store.StringAppend(t, "", nil)
	if err != nil {
		return "", errors.Wrap(err)
	}

	newKey, err := store.WriteNewRep(t, reps.Representation{
		Kind:      reps.KindFulltext,
		TxnId:     txnId,
		Checksum:  emptyStringChecksum,
		StringKey: stringKey,
	})
	if err != nil {
		return "", errors.Wrap(err)
	}

	return newKey, nil
}

// DeleteRepIfMutable deletes repKey's record and every string it owns, but
// only if it is mutable under txnId; a rep not owned by this transaction is
// left untouched, since it may be shared by other representations or
// already committed. Used to reclaim a mutable rep's storage when its
// owning transaction aborts.
func DeleteRepIfMutable(t *trail.Trail, store Store, repKey string, txnId string) error {
	rep, err := store.ReadRep(t, repKey)
	if err != nil {
		return errors.Wrap(err)
	}

	if !rep.MutableUnder(txnId) {
		return nil
	}

	if rep.Kind == reps.KindFulltext {
		if err = store.StringDelete(t, rep.StringKey); err != nil {
			return errors.Wrap(err)
		}
	} else {
		for _, chunk := range rep.Chunks {
			if err = store.StringDelete(t, chunk.StringKey); err != nil {
				return errors.Wrap(err)
			}
		}
	}

	return store.DeleteRep(t, repKey)
}
