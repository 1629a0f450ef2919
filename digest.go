// Package shoplist provides the shared content identity and serialization
// layer for the recipe shopping assistant: a stable digest over
// (content key, alias) pairs and a closed set of persistence formats.
//
// The same digest addresses an entry in the in-memory cache tier and a file
// stem on the disk tier, so the two tiers are interchangeable to callers.
package shoplist

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// DigestSize is the size of a content digest in bytes (128 bits).
const DigestSize = 16

// Well-known aliases distinguishing derived views of the same content key.
const (
	// AliasSource marks raw, as-fetched content.
	AliasSource = "source"
	// AliasProcessed marks content derived from the source (cleaned HTML,
	// extracted recipe data, AI output).
	AliasProcessed = "processed"
)

// Digest is a truncated BLAKE3 digest identifying a (content key, alias)
// pair. It is an identity key, not an integrity hash; 128 bits is enough to
// make collisions between distinct keys a non-concern.
type Digest [DigestSize]byte

// NewDigest computes the digest for a content key under an alias.
// It is pure: the same (alias, key) pair always yields the same digest.
func NewDigest(alias, key string) Digest {
	sum := blake3.Sum256([]byte(alias + "_" + key))
	var d Digest
	copy(d[:], sum[:DigestSize])
	return d
}

// String returns the hex-encoded representation of the digest, which is also
// the filename stem used by the disk tier.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero returns true if the digest is all zeros (uninitialized).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) != DigestSize*2 {
		return fmt.Errorf("invalid digest length: expected %d hex chars, got %d", DigestSize*2, len(text))
	}
	_, err := hex.Decode(d[:], text)
	return err
}

// ParseDigest parses a hex-encoded digest string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if err := d.UnmarshalText([]byte(s)); err != nil {
		return Digest{}, err
	}
	return d, nil
}

// Provenance records which tier a loaded value came from. A save to the tier
// named by the value's provenance is skipped as a redundant self-write.
type Provenance string

const (
	// ProvenanceNone marks freshly produced values.
	ProvenanceNone Provenance = ""
	// ProvenanceMemory marks values loaded from the in-memory cache tier.
	ProvenanceMemory Provenance = "memory"
	// ProvenanceDisk marks values loaded from the disk storage tier.
	ProvenanceDisk Provenance = "disk"
)
