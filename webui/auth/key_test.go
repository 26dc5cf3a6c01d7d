package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashKeyWithCost(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		cost    int
		wantErr bool
	}{
		{"minimum cost", "secret-key", MinCost, false},
		{"empty key", "", MinCost, true},
		{"cost too low", "secret-key", MinCost - 1, true},
		{"cost too high", "secret-key", MaxCost + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashKeyWithCost(tt.key, tt.cost)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.HasPrefix(hash, "$2a$") {
				t.Errorf("hash = %q, want bcrypt format", hash)
			}
			cost, err := HashCost(hash)
			if err != nil || cost != tt.cost {
				t.Errorf("HashCost() = %d, %v; want %d", cost, err, tt.cost)
			}
		})
	}
}

func TestVerifyKey(t *testing.T) {
	hash, err := HashKeyWithCost("correct horse", MinCost)
	if err != nil {
		t.Fatalf("HashKeyWithCost() error = %v", err)
	}

	tests := []struct {
		name string
		key  string
		hash string
		want error
	}{
		{"match", "correct horse", hash, nil},
		{"mismatch", "battery staple", hash, ErrKeyMismatch},
		{"empty key", "", hash, ErrEmptyKey},
		{"empty hash", "correct horse", "", ErrInvalidHash},
		{"garbage hash", "correct horse", "not-a-hash", ErrKeyMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyKey(tt.key, tt.hash); !errors.Is(err, tt.want) {
				t.Errorf("VerifyKey() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHashCost_Invalid(t *testing.T) {
	if _, err := HashCost("nope"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("HashCost() error = %v, want ErrInvalidHash", err)
	}
}
