package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envSource reads BEACON_* settings through viper. Process environment wins
// over the optional .env file.
type envSource struct {
	v *viper.Viper
}

func newEnvSource(envFile string) envSource {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // a missing .env is fine
	}
	v.AutomaticEnv()
	return envSource{v: v}
}

// Lookup satisfies the per-package LookupFunc loaders. Blank values count as
// unset.
func (s envSource) Lookup(key string) (string, bool) {
	v := strings.TrimSpace(s.v.GetString(key))
	return v, v != ""
}

func (s envSource) String(key, def string) string {
	if v, ok := s.Lookup(key); ok {
		return v
	}
	return def
}

func (s envSource) Bool(key string, def bool) bool {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int reads a positive int.
func (s envSource) Int(key string, def int) int {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Int32 reads a non-negative int32.
func (s envSource) Int32(key string, def int32) int32 {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

func (s envSource) Int64(key string, def int64) int64 {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s envSource) Duration(key string, def time.Duration) time.Duration {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// List reads a comma-separated list, dropping blanks.
func (s envSource) List(key string, def []string) []string {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// EnvLookup exposes the same .env plus environment resolution to tools that
// only need a handful of keys.
func EnvLookup(envFile string) func(string) (string, bool) {
	return newEnvSource(envFile).Lookup
}
