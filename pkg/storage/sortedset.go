package storage

import "github.com/emirpasic/gods/trees/redblacktree"

// SortedSet stores a set (no duplicates allowed) of string keys in memory in
// a way that also provides fast sorted access. The memory datastore uses it
// to keep a zone's labels in lexical order for paged listing.
type SortedSet interface {
	Size() int
	Min() string
	Max() string
	Add(key string)
	Remove(key string)
	Exists(key string) bool
	Values() []string
	ValuesFrom(from string, limit int) []string
}

type RedBlackTreeSet struct {
	inner *redblacktree.Tree
}

var _ SortedSet = (*RedBlackTreeSet)(nil)

func NewSortedSet() *RedBlackTreeSet {
	return &RedBlackTreeSet{
		inner: redblacktree.NewWithStringComparator(),
	}
}

func (r *RedBlackTreeSet) Min() string {
	node := r.inner.Left()
	if node == nil {
		return ""
	}
	return node.Value.(string)
}

func (r *RedBlackTreeSet) Max() string {
	node := r.inner.Right()
	if node == nil {
		return ""
	}
	return node.Value.(string)
}

func (r *RedBlackTreeSet) Add(key string) {
	r.inner.Put(key, key)
}

func (r *RedBlackTreeSet) Remove(key string) {
	r.inner.Remove(key)
}

func (r *RedBlackTreeSet) Exists(key string) bool {
	_, ok := r.inner.Get(key)
	return ok
}

func (r *RedBlackTreeSet) Size() int {
	return r.inner.Size()
}

func (r *RedBlackTreeSet) Values() []string {
	values := make([]string, 0, r.inner.Size())
	for _, v := range r.inner.Keys() {
		values = append(values, v.(string))
	}
	return values
}

// ValuesFrom returns up to limit keys greater than or equal to from, in
// sorted order. A limit of zero or less means no limit.
func (r *RedBlackTreeSet) ValuesFrom(from string, limit int) []string {
	node, ok := r.inner.Ceiling(from)
	if !ok {
		return nil
	}

	var values []string
	it := r.inner.IteratorAt(node)
	for {
		values = append(values, it.Value().(string))
		if limit > 0 && len(values) >= limit {
			break
		}
		if !it.Next() {
			break
		}
	}
	return values
}
