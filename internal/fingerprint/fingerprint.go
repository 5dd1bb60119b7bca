// Package fingerprint computes content digests used as deduplication keys.
//
// The digest is an equality proxy only: two uploads with the same digest are
// treated as the same content. BLAKE2b-256 is the default; BLAKE3 is offered
// as a faster alternative and MD5 for parity with older deployments. A digest
// collision is not a handled case.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

type Algorithm string

const (
	BLAKE2b Algorithm = "blake2b"
	BLAKE3  Algorithm = "blake3"
	MD5     Algorithm = "md5"
)

// Fingerprinter produces deterministic digests for byte streams. It holds no
// mutable state and is safe for concurrent use.
type Fingerprinter struct {
	algo Algorithm
}

// New returns a Fingerprinter for the named algorithm. An empty name selects
// BLAKE2b-256.
func New(algo string) (*Fingerprinter, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(algo)))
	if a == "" {
		a = BLAKE2b
	}
	switch a {
	case BLAKE2b, BLAKE3, MD5:
		return &Fingerprinter{algo: a}, nil
	}
	return nil, fmt.Errorf("unknown fingerprint algorithm %q", algo)
}

func (f *Fingerprinter) Algorithm() Algorithm {
	return f.algo
}

// NewHash returns a fresh hash.Hash so callers can fingerprint while copying
// a stream elsewhere (io.TeeReader / io.MultiWriter).
func (f *Fingerprinter) NewHash() hash.Hash {
	switch f.algo {
	case BLAKE3:
		return blake3.New()
	case MD5:
		return md5.New()
	}
	// blake2b.New256 only fails for oversized keys.
	h, _ := blake2b.New256(nil)
	return h
}

// Sum reads r to EOF and returns the hex digest prefixed with the algorithm
// name, e.g. "blake2b:9f86d0...". Read errors are returned unchanged.
func (f *Fingerprinter) Sum(r io.Reader) (string, error) {
	h := f.NewHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return f.Format(h), nil
}

// Format renders the current state of h the way Sum does.
func (f *Fingerprinter) Format(h hash.Hash) string {
	return string(f.algo) + ":" + hex.EncodeToString(h.Sum(nil))
}
