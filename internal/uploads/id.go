// Package uploads implements anonymous uploads: probably-unique identifier
// generation and the coordinator that picks a free name, persists content and
// registers the expiration task.
package uploads

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
	"sync"
)

// base62 keeps generated names readable: digits, upper case, lower case.
const base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ID is a probably-unique upload identifier. Collision probability depends on
// the configured length and the number of ids generated so far; actual
// uniqueness is enforced by the coordinator's exclusive-create loop.
type ID string

// FileName returns the stored file name for the id: the id alone when ext is
// empty, otherwise "id.ext". The extension is used verbatim and may itself
// contain dots (e.g. "tar.gz").
func (id ID) FileName(ext string) string {
	if ext == "" {
		return string(id)
	}
	return string(id) + "." + ext
}

// IDGenerator produces fixed-length base62 identifiers from an injected
// random source, so tests can seed it deterministically.
type IDGenerator struct {
	mu     sync.Mutex
	rng    *mrand.Rand
	length int
}

// NewIDGenerator returns a generator seeded from the system entropy source.
func NewIDGenerator(length int) *IDGenerator {
	var seed [16]byte
	_, _ = rand.Read(seed[:])
	src := mrand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	)
	return NewIDGeneratorWithSource(length, src)
}

// NewIDGeneratorWithSource returns a generator drawing from src. Intended for
// tests that need reproducible sequences.
func NewIDGeneratorWithSource(length int, src mrand.Source) *IDGenerator {
	return &IDGenerator{rng: mrand.New(src), length: length}
}

// Generate samples a new identifier. Safe for concurrent use.
func (g *IDGenerator) Generate() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	b := make([]byte, g.length)
	for i := range b {
		b[i] = base62[g.rng.IntN(len(base62))]
	}
	return ID(b)
}
