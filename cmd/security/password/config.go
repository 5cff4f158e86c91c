package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy

	// BcryptMaxCost bounds the cost accepted when verifying legacy bcrypt hashes.
	BcryptMaxCost int
}

// DefaultConfig returns the baseline used for field accounts.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      10,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
		BcryptMaxCost: 14,
	}
}

// LookupFunc resolves a configuration key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// FromEnv loads config from process environment variables.
func FromEnv() (Config, error) { return FromLookup(os.LookupEnv) }

// FromLookup loads config through lookup.
//
// Keys:
//   - BEACON_PASSWORD_MIN_LEN, BEACON_PASSWORD_MAX_LEN
//   - BEACON_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - BEACON_ARGON2_MEMORY_KIB, BEACON_ARGON2_ITERATIONS, BEACON_ARGON2_PARALLELISM
//   - BEACON_ARGON2_SALT_LEN, BEACON_ARGON2_KEY_LEN
//   - BEACON_BCRYPT_MAX_COST
func FromLookup(lookup LookupFunc) (Config, error) {
	cfg := DefaultConfig()
	if lookup == nil {
		return cfg, nil
	}

	ints := []struct {
		key      string
		min, max int
		set      func(int)
	}{
		{"BEACON_PASSWORD_MIN_LEN", 1, 1024, func(n int) { cfg.Policy.MinLength = n }},
		{"BEACON_PASSWORD_MAX_LEN", 1, 4096, func(n int) { cfg.Policy.MaxLength = n }},
		{"BEACON_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(n int) { cfg.Params.MemoryKiB = uint32(n) }},   // #nosec G115 -- range checked
		{"BEACON_ARGON2_ITERATIONS", 1, 20, func(n int) { cfg.Params.Iterations = uint32(n) }},                 // #nosec G115 -- range checked
		{"BEACON_ARGON2_PARALLELISM", 1, math.MaxUint8, func(n int) { cfg.Params.Parallelism = uint8(n) }},     // #nosec G115 -- range checked
		{"BEACON_ARGON2_SALT_LEN", 8, 64, func(n int) { cfg.Params.SaltLength = uint32(n) }},                   // #nosec G115 -- range checked
		{"BEACON_ARGON2_KEY_LEN", 16, 64, func(n int) { cfg.Params.KeyLength = uint32(n) }},                    // #nosec G115 -- range checked
		{"BEACON_BCRYPT_MAX_COST", 4, 31, func(n int) { cfg.BcryptMaxCost = n }},
	}
	for _, it := range ints {
		v, ok := lookup(it.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := parseIntInRange(v, it.min, it.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", it.key, err)
		}
		it.set(n)
	}

	if v, ok := lookup("BEACON_PASSWORD_REJECT_VERY_WEAK"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("BEACON_PASSWORD_REJECT_VERY_WEAK: invalid boolean")
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func parseIntInRange(s string, minVal, maxVal int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}
