package kv

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	cr "github.com/cockroachdb/errors"

	"github.com/juancollazo-ch/sku-price-scanner/internal/clock"
)

var errWrongType = cr.New("kv: operation against a key holding the wrong kind of value")

type entryKind int

const (
	kindString entryKind = iota
	kindList
	kindZSet
)

type entry struct {
	kind      entryKind
	str       string
	list      []string
	zset      map[string]float64
	expiresAt time.Time
}

// MemoryStore implementa Store en memoria con expiración perezosa. Pensado
// para desarrollo local (REDIS_ADDR vacío) y tests; no se comparte entre
// procesos.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]*entry
	clock clock.Clock
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.NewRealClock()
	}
	return &MemoryStore{data: make(map[string]*entry), clock: c}
}

// lookup devuelve la entrada viva; borra la expirada. Requiere s.mu.
func (s *MemoryStore) lookup(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return "", ErrNotFound
	}
	if e.kind != kindString {
		return "", errWrongType
	}
	return e.str, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &entry{kind: kindString, str: value, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookup(key) != nil {
		return false, nil
	}
	s.data[key] = &entry{kind: kindString, str: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *MemoryStore) DeleteIfEquals(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil || e.kind != kindString || e.str != value {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incr(key)
}

func (s *MemoryStore) incr(key string) (int64, error) {
	e := s.lookup(key)
	if e == nil {
		s.data[key] = &entry{kind: kindString, str: "1"}
		return 1, nil
	}
	if e.kind != kindString {
		return 0, errWrongType
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, cr.Wrapf(err, "kv: value of %q is not an integer", key)
	}
	n++
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) zset(key string, create bool) (*entry, error) {
	e := s.lookup(key)
	if e == nil {
		if !create {
			return nil, nil
		}
		e = &entry{kind: kindZSet, zset: make(map[string]float64)}
		s.data[key] = e
	}
	if e.kind != kindZSet {
		return nil, errWrongType
	}
	return e, nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.zset(key, true)
	if err != nil {
		return err
	}
	e.zset[member] = score
	return nil
}

func (s *MemoryStore) ZIncrBy(_ context.Context, key string, incr float64, member string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zincrby(key, incr, member)
}

func (s *MemoryStore) zincrby(key string, incr float64, member string) (float64, error) {
	e, err := s.zset(key, true)
	if err != nil {
		return 0, err
	}
	e.zset[member] += incr
	return e.zset[member], nil
}

// sortedMembers ordena como Redis: score ascendente, empate por miembro.
func sortedMembers(z map[string]float64) []ZMember {
	out := make([]ZMember, 0, len(z))
	for m, sc := range z {
		out = append(out, ZMember{Member: m, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

func (s *MemoryStore) ZRange(_ context.Context, key string, start, stop int64, rev bool) ([]ZMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.zset(key, false)
	if err != nil || e == nil {
		return nil, err
	}
	members := sortedMembers(e.zset)
	if rev {
		for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
			members[i], members[j] = members[j], members[i]
		}
	}
	lo, hi, ok := normalizeRange(start, stop, len(members))
	if !ok {
		return nil, nil
	}
	return append([]ZMember(nil), members[lo:hi]...), nil
}

func (s *MemoryStore) ZRemRangeByRank(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.zset(key, false)
	if err != nil || e == nil {
		return err
	}
	members := sortedMembers(e.zset)
	lo, hi, ok := normalizeRange(start, stop, len(members))
	if !ok {
		return nil
	}
	for _, m := range members[lo:hi] {
		delete(e.zset, m.Member)
	}
	if len(e.zset) == 0 {
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) list(key string, create bool) (*entry, error) {
	e := s.lookup(key)
	if e == nil {
		if !create {
			return nil, nil
		}
		e = &entry{kind: kindList}
		s.data[key] = e
	}
	if e.kind != kindList {
		return nil, errWrongType
	}
	return e, nil
}

func (s *MemoryStore) LPush(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lpush(key, value)
}

func (s *MemoryStore) lpush(key, value string) error {
	e, err := s.list(key, true)
	if err != nil {
		return err
	}
	e.list = append([]string{value}, e.list...)
	return nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.list(key, false)
	if err != nil || e == nil {
		return nil, err
	}
	lo, hi, ok := normalizeRange(start, stop, len(e.list))
	if !ok {
		return nil, nil
	}
	return append([]string(nil), e.list[lo:hi]...), nil
}

func (s *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ltrim(key, start, stop)
}

func (s *MemoryStore) ltrim(key string, start, stop int64) error {
	e, err := s.list(key, false)
	if err != nil || e == nil {
		return err
	}
	lo, hi, ok := normalizeRange(start, stop, len(e.list))
	if !ok {
		delete(s.data, key)
		return nil
	}
	e.list = append([]string(nil), e.list[lo:hi]...)
	return nil
}

type memOp func(s *MemoryStore) error

type memBatch struct {
	ops []memOp
}

func (b *memBatch) Incr(key string) {
	b.ops = append(b.ops, func(s *MemoryStore) error {
		_, err := s.incr(key)
		return err
	})
}

func (b *memBatch) LPush(key, value string) {
	b.ops = append(b.ops, func(s *MemoryStore) error { return s.lpush(key, value) })
}

func (b *memBatch) LTrim(key string, start, stop int64) {
	b.ops = append(b.ops, func(s *MemoryStore) error { return s.ltrim(key, start, stop) })
}

func (b *memBatch) ZIncrBy(key string, incr float64, member string) {
	b.ops = append(b.ops, func(s *MemoryStore) error {
		_, err := s.zincrby(key, incr, member)
		return err
	})
}

// Batch aplica todas las operaciones bajo un único lock. Como en MULTI/EXEC,
// un comando fallido no impide que se apliquen los demás.
func (s *MemoryStore) Batch(_ context.Context, fn func(b Batch)) error {
	b := &memBatch{}
	fn(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, op := range b.ops {
		if err := op(s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
