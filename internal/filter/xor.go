package filter

import (
	"math/bits"
)

// fingerprint is the per-slot value type. uint8 gives a false-positive rate
// of about 1/256, uint16 about 1/65536.
type fingerprint interface {
	uint8 | uint16
}

// maxIterations bounds the number of seeds tried before construction gives
// up. With 1.23n+32 slots a single seed almost always succeeds.
const maxIterations = 100

// seedBase starts the splitmix64 sequence that yields construction seeds.
// It is fixed so the same key set always produces the same filter bytes.
const seedBase uint64 = 0x726f6f745f78736a

// xorFilter is a 3-wise XOR filter: three blocks of blockLength
// fingerprints. A key is present when the XOR of its three slots equals its
// fingerprint.
type xorFilter[F fingerprint] struct {
	seed         uint64
	blockLength  uint32
	fingerprints []F
}

type slot struct {
	xormask uint64
	count   uint32
}

type peeled struct {
	hash  uint64
	index uint32
}

// populate builds a filter over keys. keys must be non-empty and free of
// duplicates.
func populate[F fingerprint](keys []uint64) (*xorFilter[F], bool) {
	capacity := 32 + uint32(float64(len(keys))*1.23+0.999)
	blockLength := capacity / 3
	capacity = blockLength * 3

	slots := make([]slot, capacity)
	queue := make([]uint32, 0, capacity)
	stack := make([]peeled, 0, len(keys))

	rng := seedBase
	for iteration := 0; iteration < maxIterations; iteration++ {
		seed := splitmix64(&rng)
		clear(slots)
		for _, key := range keys {
			hash := mixsplit(key, seed)
			for _, idx := range positions(hash, blockLength) {
				slots[idx].xormask ^= hash
				slots[idx].count++
			}
		}

		queue = queue[:0]
		for i := range slots {
			if slots[i].count == 1 {
				queue = append(queue, uint32(i))
			}
		}

		stack = stack[:0]
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			if slots[idx].count != 1 {
				continue
			}
			hash := slots[idx].xormask
			stack = append(stack, peeled{hash: hash, index: idx})
			for _, other := range positions(hash, blockLength) {
				slots[other].xormask ^= hash
				slots[other].count--
				if slots[other].count == 1 {
					queue = append(queue, other)
				}
			}
		}

		if len(stack) != len(keys) {
			continue
		}

		fingerprints := make([]F, capacity)
		for i := len(stack) - 1; i >= 0; i-- {
			entry := stack[i]
			pos := positions(entry.hash, blockLength)
			fingerprints[entry.index] = 0
			fingerprints[entry.index] = fingerprintOf[F](entry.hash) ^
				fingerprints[pos[0]] ^ fingerprints[pos[1]] ^ fingerprints[pos[2]]
		}
		return &xorFilter[F]{
			seed:         seed,
			blockLength:  blockLength,
			fingerprints: fingerprints,
		}, true
	}
	return nil, false
}

func (x *xorFilter[F]) contains(key uint64) bool {
	hash := mixsplit(key, x.seed)
	pos := positions(hash, x.blockLength)
	return fingerprintOf[F](hash) == x.fingerprints[pos[0]]^x.fingerprints[pos[1]]^x.fingerprints[pos[2]]
}

// positions maps a hash to one slot in each of the three blocks.
func positions(hash uint64, blockLength uint32) [3]uint32 {
	return [3]uint32{
		reduce(uint32(hash), blockLength),
		reduce(uint32(bits.RotateLeft64(hash, 21)), blockLength) + blockLength,
		reduce(uint32(bits.RotateLeft64(hash, 42)), blockLength) + 2*blockLength,
	}
}

func fingerprintOf[F fingerprint](hash uint64) F {
	return F(hash ^ (hash >> 32))
}

// reduce maps hash uniformly onto [0, n) without a division.
func reduce(hash, n uint32) uint32 {
	return uint32((uint64(hash) * uint64(n)) >> 32)
}

func mixsplit(key, seed uint64) uint64 {
	return murmur64(key + seed)
}

func murmur64(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

func splitmix64(state *uint64) uint64 {
	*state += 0x9e3779b97f4a7c15
	z := *state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
