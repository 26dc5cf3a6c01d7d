// Package auth protects the board's write endpoints with an API key. The key
// is kept only as a bcrypt hash.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the bcrypt cost for hashing the API key.
	DefaultCost = 12
	// MinCost is the lowest cost HashKeyWithCost accepts.
	MinCost = bcrypt.MinCost
	MaxCost = bcrypt.MaxCost
)

var (
	ErrEmptyKey    = errors.New("auth: api key cannot be empty")
	ErrKeyMismatch = errors.New("auth: api key does not match")
	ErrInvalidHash = errors.New("auth: invalid key hash")
)

// HashKey hashes key with DefaultCost.
func HashKey(key string) (string, error) {
	return HashKeyWithCost(key, DefaultCost)
}

// HashKeyWithCost hashes key with the given bcrypt cost.
func HashKeyWithCost(key string, cost int) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if cost < MinCost || cost > MaxCost {
		return "", bcrypt.InvalidCostError(cost)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyKey compares key against hash. Any failure other than an empty
// input is reported as ErrKeyMismatch.
func VerifyKey(key, hash string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if hash == "" {
		return ErrInvalidHash
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrKeyMismatch
	}
	return nil
}

// HashCost returns the cost a hash was created with.
func HashCost(hash string) (int, error) {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, ErrInvalidHash
	}
	return cost, nil
}
