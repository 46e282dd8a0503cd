package backup

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Content hash algorithms
const (
	HashSHA256     = "sha256"
	HashSHA512     = "sha512"
	HashBlake2b256 = "blake2b-256"
	HashSHA3_256   = "sha3-256"
)

// SupportedHashAlgorithms lists the accepted algorithm names
var SupportedHashAlgorithms = []string{HashSHA256, HashSHA512, HashBlake2b256, HashSHA3_256}

// NewHash returns a hasher for algorithm
func NewHash(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "", HashSHA256:
		return sha256.New(), nil
	case HashSHA512:
		return sha512.New(), nil
	case HashBlake2b256:
		return blake2b.New256(nil)
	case HashSHA3_256:
		return sha3.New256(), nil
	}
	return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
}

// HashFile streams path through algorithm and returns the lowercase hex digest
func HashFile(path, algorithm string) (string, error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
