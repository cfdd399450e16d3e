package config

import (
	"image/color"
	"os"
	"slices"
	"testing"
)

var keys = []string{
	"PORT", "DATABASE_URL", "JWT_SECRET", "API_KEY_HASH", "ASSET_DIR", "ALLOWED_ORIGINS",
	"MAX_UPLOAD_MB", "DEFAULT_BLOCK_SIZE", "DEFAULT_FILL", "SEED_SAMPLE",
}

// clearEnv unsets every config variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.DefaultBlockSize != 12 || cfg.MaxUploadBytes() != 50<<20 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.DefaultFillColor() != (color.NRGBA{A: 0xff}) {
		t.Fatalf("fill = %v", cfg.DefaultFillColor())
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_BLOCK_SIZE", "200")
	t.Setenv("DEFAULT_FILL", "#ff8000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, http://localhost:3000 ,")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("Port = %d", cfg.Port)
	}
	if cfg.DefaultPixelate().BlockSize != 50 {
		t.Fatalf("block size not clamped: %d", cfg.DefaultBlockSize)
	}
	if cfg.DefaultFillColor() != (color.NRGBA{R: 0xff, G: 0x80, A: 0xff}) {
		t.Fatalf("fill = %v", cfg.DefaultFillColor())
	}
	if got := cfg.Origins(); !slices.Equal(got, []string{"https://a.example", "http://localhost:3000"}) {
		t.Fatalf("Origins = %q", got)
	}
	if got := cfg.OriginPatterns(); !slices.Equal(got, []string{"a.example", "localhost:3000"}) {
		t.Fatalf("OriginPatterns = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Port: 80, JWTSecret: "s", DefaultFill: "#000000"}, false},
		{"bad port", Config{Port: 0, JWTSecret: "s", DefaultFill: "#000000"}, true},
		{"empty secret", Config{Port: 80, DefaultFill: "#000000"}, true},
		{"bad fill", Config{Port: 80, JWTSecret: "s", DefaultFill: "black"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
