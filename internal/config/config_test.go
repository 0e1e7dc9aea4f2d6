package config

import (
	"os"
	"reflect"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesLedgerServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	t.Setenv("LEDGER_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("INTERNAL_API_KEY", "primary-key")
	t.Setenv("LEDGER_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"PORT", "SERVER_PORT", "STORE_DRIVER", "STALE_PURCHASE_MINUTES",
		"PURCHASE_EXPIRY_SCHEDULE", "BALANCE_AUDIT_SCHEDULE", "CORS_ALLOWED_ORIGINS",
		"ADMIN_USER_IDS", "PURCHASE_RATE_LIMIT_PER_MINUTE", "DB_MAX_CONNS", "DB_MIN_CONNS",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("expected postgres driver by default, got %q", cfg.StoreDriver)
	}
	if cfg.StalePurchaseMinutes != defaultStalePurchaseMinutes {
		t.Fatalf("expected default stale minutes, got %d", cfg.StalePurchaseMinutes)
	}
	if cfg.PurchaseRateLimitPerMinute != defaultPurchaseRateLimit {
		t.Fatalf("expected default rate limit, got %d", cfg.PurchaseRateLimitPerMinute)
	}
	if cfg.DBMaxConns != defaultDBMaxConns || cfg.DBMinConns != defaultDBMinConns {
		t.Fatalf("unexpected pool sizing: max=%d min=%d", cfg.DBMaxConns, cfg.DBMinConns)
	}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, []string{"*"}) {
		t.Fatalf("expected wildcard CORS origin, got %v", cfg.CORSAllowedOrigins)
	}
	if len(cfg.AdminUserIDs) != 0 {
		t.Fatalf("expected no admin user ids, got %v", cfg.AdminUserIDs)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "unknown store driver falls back to postgres",
			env:  map[string]string{"STORE_DRIVER": "sqlite"},
			check: func(t *testing.T, cfg Config) {
				if cfg.StoreDriver != StoreDriverPostgres {
					t.Fatalf("expected postgres, got %q", cfg.StoreDriver)
				}
			},
		},
		{
			name: "memory driver is case insensitive",
			env:  map[string]string{"STORE_DRIVER": " Memory "},
			check: func(t *testing.T, cfg Config) {
				if cfg.StoreDriver != StoreDriverMemory {
					t.Fatalf("expected memory, got %q", cfg.StoreDriver)
				}
			},
		},
		{
			name: "negative stale minutes use default",
			env:  map[string]string{"STALE_PURCHASE_MINUTES": "-3"},
			check: func(t *testing.T, cfg Config) {
				if cfg.StalePurchaseMinutes != defaultStalePurchaseMinutes {
					t.Fatalf("expected default, got %d", cfg.StalePurchaseMinutes)
				}
			},
		},
		{
			name: "invalid cron schedule uses default",
			env:  map[string]string{"BALANCE_AUDIT_SCHEDULE": "every tuesday"},
			check: func(t *testing.T, cfg Config) {
				if cfg.BalanceAuditSchedule != defaultBalanceAuditSchedule {
					t.Fatalf("expected default schedule, got %q", cfg.BalanceAuditSchedule)
				}
			},
		},
		{
			name: "min conns above max conns is clamped",
			env:  map[string]string{"DB_MAX_CONNS": "10", "DB_MIN_CONNS": "50"},
			check: func(t *testing.T, cfg Config) {
				if cfg.DBMaxConns != 10 || cfg.DBMinConns != 10 {
					t.Fatalf("expected max=10 min=10, got max=%d min=%d", cfg.DBMaxConns, cfg.DBMinConns)
				}
			},
		},
		{
			name: "admin ids and origins are split and trimmed",
			env: map[string]string{
				"ADMIN_USER_IDS":       " user_a , ,user_b",
				"CORS_ALLOWED_ORIGINS": "https://app.zaryo.io, https://admin.zaryo.io",
			},
			check: func(t *testing.T, cfg Config) {
				if !reflect.DeepEqual(cfg.AdminUserIDs, []string{"user_a", "user_b"}) {
					t.Fatalf("unexpected admin ids: %v", cfg.AdminUserIDs)
				}
				if !reflect.DeepEqual(cfg.CORSAllowedOrigins, []string{"https://app.zaryo.io", "https://admin.zaryo.io"}) {
					t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			cfg, err := LoadConfig(t.TempDir())
			if err != nil {
				t.Fatalf("LoadConfig returned error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
