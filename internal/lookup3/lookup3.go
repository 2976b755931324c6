// Package lookup3 implements Bob Jenkins' lookup3 "hashlittle" mixing
// function, the 32-bit checksum CASC uses for its index file header and
// data-section integrity hashes.
//
// Grounded on the jenkinsHash implementation in scigolib-hdf5's B-tree v2
// code, which hashes HDF5 link names with the same lookup3 algorithm
// family; the mix/final round constants and byte-assembly order here match
// that reference.
package lookup3

func rot(x uint32, k uint) uint32 {
	return (x << k) | (x >> (32 - k))
}

// Hash returns the lookup3 hash of data, seeded with seed. CASC archives
// always seed with 0.
func Hash(data []byte, seed uint32) uint32 {
	length := len(data)
	a := uint32(0xdeadbeef) + uint32(length) + seed
	b := a
	c := a

	k := data
	for len(k) > 12 {
		a += uint32(k[0])
		a += uint32(k[1]) << 8
		a += uint32(k[2]) << 16
		a += uint32(k[3]) << 24
		b += uint32(k[4])
		b += uint32(k[5]) << 8
		b += uint32(k[6]) << 16
		b += uint32(k[7]) << 24
		c += uint32(k[8])
		c += uint32(k[9]) << 8
		c += uint32(k[10]) << 16
		c += uint32(k[11]) << 24

		a -= c
		a ^= rot(c, 4)
		c += b
		b -= a
		b ^= rot(a, 6)
		a += c
		c -= b
		c ^= rot(b, 8)
		b += a
		a -= c
		a ^= rot(c, 16)
		c += b
		b -= a
		b ^= rot(a, 19)
		a += c
		c -= b
		c ^= rot(b, 4)
		b += a

		k = k[12:]
	}

	n := len(k)
	if n >= 12 {
		c += uint32(k[11]) << 24
	}
	if n >= 11 {
		c += uint32(k[10]) << 16
	}
	if n >= 10 {
		c += uint32(k[9]) << 8
	}
	if n >= 9 {
		c += uint32(k[8])
	}
	if n >= 8 {
		b += uint32(k[7]) << 24
	}
	if n >= 7 {
		b += uint32(k[6]) << 16
	}
	if n >= 6 {
		b += uint32(k[5]) << 8
	}
	if n >= 5 {
		b += uint32(k[4])
	}
	if n >= 4 {
		a += uint32(k[3]) << 24
	}
	if n >= 3 {
		a += uint32(k[2]) << 16
	}
	if n >= 2 {
		a += uint32(k[1]) << 8
	}
	if n >= 1 {
		a += uint32(k[0])
	}
	if n == 0 {
		return c
	}

	c ^= b
	c -= rot(b, 14)
	a ^= c
	a -= rot(c, 11)
	b ^= a
	b -= rot(a, 25)
	c ^= b
	c -= rot(b, 16)
	a ^= c
	a -= rot(c, 4)
	b ^= a
	b -= rot(a, 14)
	c ^= b
	c -= rot(b, 24)

	return c
}
