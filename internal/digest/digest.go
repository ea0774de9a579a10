package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported content digest algorithm.
type Algorithm string

const (
	AlgorithmSHA256  Algorithm = "sha256"
	AlgorithmBlake2b Algorithm = "blake2b"

	// DefaultAlgorithm is used when callers do not pick one.
	DefaultAlgorithm = AlgorithmSHA256

	hexDigestLength = 64
)

var validAlgorithms = map[Algorithm]struct{}{
	AlgorithmSHA256:  {},
	AlgorithmBlake2b: {},
}

// ParseAlgorithm validates a raw algorithm name.
func ParseAlgorithm(raw string) (Algorithm, error) {
	value := Algorithm(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return DefaultAlgorithm, nil
	}
	if _, ok := validAlgorithms[value]; !ok {
		return "", fmt.Errorf("unsupported digest algorithm: %s", raw)
	}
	return value, nil
}

// Address is a content address in "algorithm:hexdigest" form. It is the
// primary key correlating catalog records to stored bytes.
type Address string

// Parse validates an address string and returns it in canonical form.
func Parse(raw string) (Address, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	algorithm, hexDigest, found := strings.Cut(value, ":")
	if !found {
		return "", fmt.Errorf("content address must be algorithm:digest, got %q", raw)
	}
	if _, err := ParseAlgorithm(algorithm); err != nil {
		return "", err
	}
	if len(hexDigest) != hexDigestLength {
		return "", fmt.Errorf("content address digest must be %d hex chars, got %d", hexDigestLength, len(hexDigest))
	}
	if _, err := hex.DecodeString(hexDigest); err != nil {
		return "", fmt.Errorf("content address digest is not hex: %w", err)
	}
	return Address(algorithm + ":" + hexDigest), nil
}

// Algorithm returns the algorithm component of the address.
func (a Address) Algorithm() Algorithm {
	algorithm, _, _ := strings.Cut(string(a), ":")
	return Algorithm(algorithm)
}

// Hex returns the hex digest component of the address.
func (a Address) Hex() string {
	_, hexDigest, _ := strings.Cut(string(a), ":")
	return hexDigest
}

func (a Address) String() string {
	return string(a)
}

// Digester computes a content address over a byte stream. It never buffers
// the stream; arbitrarily large objects hash in constant memory.
type Digester struct {
	algorithm Algorithm
	hash      hash.Hash
}

// New returns a Digester for the given algorithm.
func New(algorithm Algorithm) (*Digester, error) {
	switch algorithm {
	case AlgorithmSHA256:
		return &Digester{algorithm: algorithm, hash: sha256.New()}, nil
	case AlgorithmBlake2b:
		h, err := blake2b.New256(nil)
		if err != nil {
			return nil, err
		}
		return &Digester{algorithm: algorithm, hash: h}, nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s", algorithm)
	}
}

// Write feeds bytes into the digest. Implements io.Writer so the Digester
// can sit inside an io.MultiWriter next to a staging file.
func (d *Digester) Write(p []byte) (int, error) {
	return d.hash.Write(p)
}

// Address finalizes and returns the content address.
func (d *Digester) Address() Address {
	return Address(string(d.algorithm) + ":" + hex.EncodeToString(d.hash.Sum(nil)))
}

// FromReader streams r to completion and returns its address and byte count.
func FromReader(algorithm Algorithm, r io.Reader) (Address, int64, error) {
	d, err := New(algorithm)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(d, r)
	if err != nil {
		return "", 0, err
	}
	return d.Address(), n, nil
}

// FromBytes addresses an in-memory payload.
func FromBytes(algorithm Algorithm, data []byte) (Address, error) {
	d, err := New(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := d.Write(data); err != nil {
		return "", err
	}
	return d.Address(), nil
}
