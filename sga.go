// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

// SGArray is a scatter-gather array: an ordered list of byte segments that
// together form one logical message or buffer.
//
// Push takes an SGArray as input; the segments are written in order and must
// not be modified until the push token resolves. A pop outcome carries the
// SGArray that was filled on completion.
type SGArray struct {
	Segs [][]byte
}

// NewSGArray returns an SGArray over the given segments without copying.
func NewSGArray(segs ...[]byte) SGArray {
	return SGArray{Segs: segs}
}

// Len returns the total payload length in bytes.
func (a SGArray) Len() int {
	n := 0
	for _, s := range a.Segs {
		n += len(s)
	}
	return n
}

// NumSegs returns the number of segments.
func (a SGArray) NumSegs() int {
	return len(a.Segs)
}

// Bytes returns the payload as one contiguous slice. A single-segment array
// is returned without copying.
func (a SGArray) Bytes() []byte {
	switch len(a.Segs) {
	case 0:
		return nil
	case 1:
		return a.Segs[0]
	}
	b := make([]byte, 0, a.Len())
	for _, s := range a.Segs {
		b = append(b, s...)
	}
	return b
}

// Clone returns a deep copy.
func (a SGArray) Clone() SGArray {
	if a.Segs == nil {
		return SGArray{}
	}
	segs := make([][]byte, len(a.Segs))
	for i, s := range a.Segs {
		segs[i] = append([]byte(nil), s...)
	}
	return SGArray{Segs: segs}
}

// advance returns the array with the first n bytes removed.
func (a SGArray) advance(n int) SGArray {
	segs := a.Segs
	for n > 0 && len(segs) > 0 {
		if n < len(segs[0]) {
			head := segs[0][n:]
			rest := make([][]byte, len(segs))
			rest[0] = head
			copy(rest[1:], segs[1:])
			return SGArray{Segs: rest}
		}
		n -= len(segs[0])
		segs = segs[1:]
	}
	return SGArray{Segs: segs}
}
