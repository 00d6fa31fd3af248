package evsync

// Bitset is a byte-packed set of event codes. The layout matches the
// bitmaps the kernel hands back from EVIOCGBIT/EVIOCGKEY/EVIOCGLED/EVIOCGSW,
// so query results decode into it without translation.
type Bitset []byte

// newBitset returns a set large enough to hold codes 0..max.
func newBitset(max uint16) Bitset {
	return make(Bitset, int(max)/8+1)
}

// Contains reports whether code is in the set. Codes beyond the set's
// capacity are absent.
func (b Bitset) Contains(code uint16) bool {
	i := int(code) / 8
	if i >= len(b) {
		return false
	}
	return b[i]&(1<<(code%8)) != 0
}

func (b Bitset) set(code uint16) {
	if i := int(code) / 8; i < len(b) {
		b[i] |= 1 << (code % 8)
	}
}

func (b Bitset) clear(code uint16) {
	if i := int(code) / 8; i < len(b) {
		b[i] &^= 1 << (code % 8)
	}
}

// Codes returns every member in ascending order.
func (b Bitset) Codes() []uint16 {
	var codes []uint16
	for i, byt := range b {
		if byt == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if byt&(1<<bit) != 0 {
				codes = append(codes, uint16(i*8+bit))
			}
		}
	}
	return codes
}

func (b Bitset) clone() Bitset {
	c := make(Bitset, len(b))
	copy(c, b)
	return c
}

// diffBitset calls f(code, present) for every code whose membership differs
// between old and new, in ascending code order. present is the membership
// in new.
func diffBitset(old, new Bitset, f func(code uint16, present bool)) {
	n := len(old)
	if len(new) > n {
		n = len(new)
	}
	for i := 0; i < n; i++ {
		var ob, nb byte
		if i < len(old) {
			ob = old[i]
		}
		if i < len(new) {
			nb = new[i]
		}
		changed := ob ^ nb
		if changed == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if changed&(1<<bit) != 0 {
				f(uint16(i*8+bit), nb&(1<<bit) != 0)
			}
		}
	}
}
