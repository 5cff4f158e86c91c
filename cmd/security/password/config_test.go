package password

import "testing"

func TestFromLookup_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := FromLookup(func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("FromLookup error: %v", err)
	}
	def := DefaultConfig()
	if cfg.Policy != def.Policy || cfg.Params.MemoryKiB != def.Params.MemoryKiB {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("BEACON_PASSWORD_MIN_LEN", "12")
	t.Setenv("BEACON_PASSWORD_MAX_LEN", "200")
	t.Setenv("BEACON_PASSWORD_REJECT_VERY_WEAK", "false")
	t.Setenv("BEACON_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("BEACON_ARGON2_ITERATIONS", "4")
	t.Setenv("BEACON_ARGON2_PARALLELISM", "2")
	t.Setenv("BEACON_ARGON2_SALT_LEN", "24")
	t.Setenv("BEACON_ARGON2_KEY_LEN", "32")
	t.Setenv("BEACON_BCRYPT_MAX_COST", "12")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	if cfg.Policy.MinLength != 12 || cfg.Policy.MaxLength != 200 || cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != 24 || cfg.Params.KeyLength != 32 || cfg.BcryptMaxCost != 12 {
		t.Fatalf("len override failed: %+v", cfg)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"min>max":   {"BEACON_PASSWORD_MIN_LEN", "5000"},
		"not int":   {"BEACON_ARGON2_ITERATIONS", "many"},
		"bad bool":  {"BEACON_PASSWORD_REJECT_VERY_WEAK", "perhaps"},
		"too small": {"BEACON_ARGON2_MEMORY_KIB", "1"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}
