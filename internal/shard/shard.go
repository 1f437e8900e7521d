// Package shard は文字列キーで分割ロックされるインメモリテーブルを提供する。
// 同じストライプに属さないキー同士の操作は互いにブロックしない。
package shard

import (
	"hash/fnv"
	"sync"
)

// DefaultStripes は既定のストライプ数。
const DefaultStripes = 64

type stripe[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// Table はキーのハッシュでストライプに振り分けたマップ。
// 各ストライプは独立したRWMutexで保護される。
type Table[V any] struct {
	stripes []*stripe[V]
}

// New は指定ストライプ数のTableを生成する。n <= 0 の場合はDefaultStripesを使用する。
func New[V any](n int) *Table[V] {
	if n <= 0 {
		n = DefaultStripes
	}
	t := &Table[V]{stripes: make([]*stripe[V], n)}
	for i := range t.stripes {
		t.stripes[i] = &stripe[V]{m: make(map[string]V)}
	}
	return t
}

func (t *Table[V]) index(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(t.stripes)))
}

// View はkeyのストライプを読み取りロックした状態でfnを呼び出す。
// fnに渡されるマップはkeyを含むストライプ全体であり、fnの外へ持ち出してはならない。
func (t *Table[V]) View(key string, fn func(m map[string]V)) {
	s := t.stripes[t.index(key)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.m)
}

// Update はkeyのストライプを書き込みロックした状態でfnを呼び出す。
func (t *Table[V]) Update(key string, fn func(m map[string]V)) {
	s := t.stripes[t.index(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.m)
}

// UpdatePair は k1 と k2 のストライプを両方書き込みロックした状態でfnを呼び出す。
// m1 は k1 を含むストライプ、m2 は k2 を含むストライプ（同一の場合は同じマップ）。
// ロックは常にストライプ番号の昇順で取得するため、並行するUpdatePair同士でデッドロックしない。
func (t *Table[V]) UpdatePair(k1, k2 string, fn func(m1, m2 map[string]V)) {
	i, j := t.index(k1), t.index(k2)
	if i == j {
		s := t.stripes[i]
		s.mu.Lock()
		defer s.mu.Unlock()
		fn(s.m, s.m)
		return
	}

	lo, hi := min(i, j), max(i, j)
	t.stripes[lo].mu.Lock()
	defer t.stripes[lo].mu.Unlock()
	t.stripes[hi].mu.Lock()
	defer t.stripes[hi].mu.Unlock()

	fn(t.stripes[i].m, t.stripes[j].m)
}

// ViewAll は全ストライプを読み取りロックした状態で全エントリに対してfnを呼び出す。
// 呼び出し中は書き込みが行われないため、ある一時点の一貫したスナップショットになる。
func (t *Table[V]) ViewAll(fn func(key string, v V)) {
	for _, s := range t.stripes {
		s.mu.RLock()
	}
	defer func() {
		for _, s := range t.stripes {
			s.mu.RUnlock()
		}
	}()

	for _, s := range t.stripes {
		for k, v := range s.m {
			fn(k, v)
		}
	}
}

// Len は全エントリ数を返す。
func (t *Table[V]) Len() int {
	n := 0
	t.ViewAll(func(string, V) { n++ })
	return n
}

// DeleteIf はfnがtrueを返したエントリを削除し、削除件数を返す。
// ストライプごとに書き込みロックを取得するため、全体として一時点のスナップショットにはならない。
func (t *Table[V]) DeleteIf(fn func(key string, v V) bool) int {
	n := 0
	for _, s := range t.stripes {
		s.mu.Lock()
		for k, v := range s.m {
			if fn(k, v) {
				delete(s.m, k)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}
