package config

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/pixelveil/pixelveil/backend-go/internal/effect"
)

type Config struct {
	Port             int    `envconfig:"PORT" default:"8080"`
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	JWTSecret        string `envconfig:"JWT_SECRET" default:"dev-secret-change-in-production"`
	APIKeyHash       string `envconfig:"API_KEY_HASH"`
	AssetDir         string `envconfig:"ASSET_DIR" default:"./data/images"`
	AllowedOrigins   string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
	MaxUploadMB      int64  `envconfig:"MAX_UPLOAD_MB" default:"50"`
	DefaultBlockSize int    `envconfig:"DEFAULT_BLOCK_SIZE" default:"12"`
	DefaultFill      string `envconfig:"DEFAULT_FILL" default:"#000000"`
	SeedSample       bool   `envconfig:"SEED_SAMPLE" default:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unusable values and clamps the rest into range.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 50
	}
	c.DefaultBlockSize = effect.ClampBlockSize(c.DefaultBlockSize)
	if _, err := effect.ParseHexColor(c.DefaultFill); err != nil {
		return fmt.Errorf("DEFAULT_FILL: %w", err)
	}
	return nil
}

// MaxUploadBytes is the request body limit for uploads.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Origins splits ALLOWED_ORIGINS into its entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// OriginPatterns returns the origins without their scheme, the form the
// websocket accept options expect.
func (c *Config) OriginPatterns() []string {
	origins := c.Origins()
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		out = append(out, o)
	}
	return out
}

func (c *Config) DefaultPixelate() effect.Pixelate {
	return effect.Pixelate{BlockSize: c.DefaultBlockSize}
}

func (c *Config) DefaultFillColor() color.NRGBA {
	fill, err := effect.ParseHexColor(c.DefaultFill)
	if err != nil {
		return color.NRGBA{A: 0xff}
	}
	return fill
}
