// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import "bytes"

// Predicate decides whether a filter queue yields a popped item.
// It must not retain or modify the array.
type Predicate func(SGArray) bool

// EvenLength accepts items whose total length is even.
func EvenLength(a SGArray) bool {
	return a.Len()%2 == 0
}

// NonEmpty accepts items carrying at least one byte.
func NonEmpty(a SGArray) bool {
	return a.Len() > 0
}

// MinLength accepts items of at least n bytes.
func MinLength(n int) Predicate {
	return func(a SGArray) bool { return a.Len() >= n }
}

// HasPrefix accepts items starting with p, which may span segments.
func HasPrefix(p []byte) Predicate {
	return func(a SGArray) bool {
		rest := p
		for _, s := range a.Segs {
			if len(rest) == 0 {
				break
			}
			n := min(len(s), len(rest))
			if !bytes.Equal(s[:n], rest[:n]) {
				return false
			}
			rest = rest[n:]
		}
		return len(rest) == 0
	}
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(a SGArray) bool { return !p(a) }
}

// And accepts items every p accepts.
func And(ps ...Predicate) Predicate {
	return func(a SGArray) bool {
		for _, p := range ps {
			if !p(a) {
				return false
			}
		}
		return true
	}
}
