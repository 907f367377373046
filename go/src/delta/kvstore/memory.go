package kvstore

import (
	"fmt"
	"sync"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
	"code.harrowgate.dev/repdelta/go/src/alfa/trail"
	"code.harrowgate.dev/repdelta/go/src/charlie/reps"
)

// Memory is a map-backed Store. It is the reference implementation the
// engine's tests run against (the Badger and stringpack backends are
// tested against themselves); it never raises a Transient
// error, since there is no real backing store beneath it to conflict.
type Memory struct {
	mu         sync.Mutex
	strings    map[string][]byte
	repRecords map[string]reps.Representation
	nextString int
	nextRep    int
}

func NewMemory() *Memory {
	return &Memory{
		strings:    make(map[string][]byte),
		repRecords: make(map[string]reps.Representation),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) StringAppend(t *trail.Trail, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == "" {
		m.nextString++
		key = fmt.Sprintf("str-%d", m.nextString)
		m.strings[key] = []byte{}
	}

	existing, ok := m.strings[key]
	if !ok {
		return "", errors.MakeErrNotFoundString(key)
	}

	m.strings[key] = append(existing, data...)

	return key, nil
}

func (m *Memory) StringRead(t *trail.Trail, key string, offset int64, buf []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.strings[key]
	if !ok {
		return 0, errors.MakeErrNotFoundString(key)
	}

	if offset < 0 || offset > int64(len(content)) {
		return 0, errors.Errorf("kvstore: string_read offset %d out of range for %q", offset, key)
	}

	n = copy(buf, content[offset:])

	return n, nil
}

func (m *Memory) StringSize(t *trail.Trail, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.strings[key]
	if !ok {
		return 0, errors.MakeErrNotFoundString(key)
	}

	return int64(len(content)), nil
}

func (m *Memory) StringClear(t *trail.Trail, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.strings[key]; !ok {
		return errors.MakeErrNotFoundString(key)
	}

	m.strings[key] = []byte{}

	return nil
}

func (m *Memory) StringDelete(t *trail.Trail, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.strings, key)

	return nil
}

func (m *Memory) ReadRep(t *trail.Trail, key string) (reps.Representation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep, ok := m.repRecords[key]
	if !ok {
		return reps.Representation{}, errors.MakeErrNotFoundString(key)
	}

	return rep, nil
}

func (m *Memory) WriteRep(t *trail.Trail, key string, rep reps.Representation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep.RepKey = key
	m.repRecords[key] = rep

	return nil
}

func (m *Memory) WriteNewRep(t *trail.Trail, rep reps.Representation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRep++
	key := fmt.Sprintf("rep-%d", m.nextRep)
	rep.RepKey = key
	m.repRecords[key] = rep

	return key, nil
}

func (m *Memory) DeleteRep(t *trail.Trail, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.repRecords, key)

	return nil
}
