package kvstore

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
	"code.harrowgate.dev/repdelta/go/src/alfa/trail"
	"code.harrowgate.dev/repdelta/go/src/charlie/reps"
)

// Badger is a github.com/dgraph-io/badger/v4 embedded transactional
// backend for Store, using the db.Update/db.View transaction idiom for
// a small object-metadata store. Every Store call runs in its own badger
// transaction (db.Update or db.View), so the calls made within one trail
// attempt are not grouped into a single badger transaction. String and
// rep keys live under disjoint prefixes
// so the two tables never collide in one keyspace.
type Badger struct {
	db *badger.DB

	mu         sync.Mutex
	nextString int
	nextRep    int
}

func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	return &Badger{db: db}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

var _ Store = (*Badger)(nil)

func stringKeyBytes(key string) []byte { return append([]byte("s:"), key...) }

func repKeyBytes(key string) []byte { return append([]byte("r:"), key...) }

// asTransient reclassifies badger's own conflict/resource errors as the
// Transient error kind, so alfa/trail's retry harness replays the
// attempt instead of surfacing a hard failure.
func asTransient(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, badger.ErrConflict) || errors.Is(err, badger.ErrTxnTooBig) {
		return errors.ErrTransient(err)
	}

	return errors.Wrap(err)
}

func (b *Badger) allocStringKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextString++
	return fmt.Sprintf("str-%d", b.nextString)
}

func (b *Badger) allocRepKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextRep++
	return fmt.Sprintf("rep-%d", b.nextRep)
}

func (b *Badger) StringAppend(t *trail.Trail, key string, data []byte) (string, error) {
	if key == "" {
		key = b.allocStringKey()
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		var existing []byte

		item, err := txn.Get(stringKeyBytes(key))

		switch {
		case err == nil:
			if existing, err = item.ValueCopy(nil); err != nil {
				return err
			}

		case err == badger.ErrKeyNotFound:
			existing = nil

		default:
			return err
		}

		return txn.Set(stringKeyBytes(key), append(existing, data...))
	})
	if err != nil {
		return "", asTransient(err)
	}

	return key, nil
}

func (b *Badger) StringRead(t *trail.Trail, key string, offset int64, buf []byte) (n int, err error) {
	txnErr := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stringKeyBytes(key))
		if err == badger.ErrKeyNotFound {
			return errors.MakeErrNotFoundString(key)
		} else if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if offset < 0 || offset > int64(len(val)) {
				return errors.Errorf("kvstore: string_read offset %d out of range for %q", offset, key)
			}

			n = copy(buf, val[offset:])

			return nil
		})
	})
	if txnErr != nil {
		return 0, asTransient(txnErr)
	}

	return n, nil
}

func (b *Badger) StringSize(t *trail.Trail, key string) (size int64, err error) {
	txnErr := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stringKeyBytes(key))
		if err == badger.ErrKeyNotFound {
			return errors.MakeErrNotFoundString(key)
		} else if err != nil {
			return err
		}

		size = int64(item.ValueSize())

		return nil
	})
	if txnErr != nil {
		return 0, asTransient(txnErr)
	}

	return size, nil
}

func (b *Badger) StringClear(t *trail.Trail, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(stringKeyBytes(key)); err == badger.ErrKeyNotFound {
			return errors.MakeErrNotFoundString(key)
		} else if err != nil {
			return err
		}

		return txn.Set(stringKeyBytes(key), []byte{})
	})

	return asTransient(err)
}

func (b *Badger) StringDelete(t *trail.Trail, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(stringKeyBytes(key))
	})

	return asTransient(err)
}

func (b *Badger) ReadRep(t *trail.Trail, key string) (rep reps.Representation, err error) {
	txnErr := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(repKeyBytes(key))
		if err == badger.ErrKeyNotFound {
			return errors.MakeErrNotFoundString(key)
		} else if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			rep, err = reps.Decode(bytes.NewReader(val))
			return err
		})
	})
	if txnErr != nil {
		return reps.Representation{}, asTransient(txnErr)
	}

	rep.RepKey = key

	return rep, nil
}

func (b *Badger) WriteRep(t *trail.Trail, key string, rep reps.Representation) error {
	var buf bytes.Buffer

	if err := rep.Encode(&buf); err != nil {
		return errors.Wrap(err)
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(repKeyBytes(key), buf.Bytes())
	})

	return asTransient(err)
}

func (b *Badger) WriteNewRep(t *trail.Trail, rep reps.Representation) (string, error) {
	key := b.allocRepKey()

	if err := b.WriteRep(t, key, rep); err != nil {
		return "", err
	}

	return key, nil
}

func (b *Badger) DeleteRep(t *trail.Trail, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(repKeyBytes(key))
	})

	return asTransient(err)
}
