// Package set provides a minimal generic set used for saga bookkeeping.
package set

// Set is a set of comparable values. The zero value is ready to use.
type Set[T comparable] map[T]struct{}

// Of returns a set holding items.
func Of[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Add inserts k and reports whether it was absent before.
// Adding to a nil set allocates it.
func (s *Set[T]) Add(k T) bool {
	if *s == nil {
		*s = make(Set[T])
	}
	if _, ok := (*s)[k]; ok {
		return false
	}
	(*s)[k] = struct{}{}
	return true
}

func (s Set[T]) Has(k T) bool {
	_, ok := s[k]
	return ok
}

func (s Set[T]) Len() int { return len(s) }
