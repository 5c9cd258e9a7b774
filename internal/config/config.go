// Package config turns named request parameters and environment variables
// into typed settings.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/spf13/cast"
)

// Defaults for the named parameters.
const (
	DefaultEffect       = "blur"
	DefaultModel        = "haar_default"
	DefaultBlurStrength = 51
	DefaultPixelSize    = 20
)

// Parameter names accepted by FromParams.
const (
	ParamEffect       = "effect"
	ParamModel        = "model_type"
	ParamBlurStrength = "blur_strength"
	ParamPixelSize    = "pixel_size"
)

// Params are the per-request redaction settings.
type Params struct {
	Effect       string
	ModelType    string
	BlurStrength int
	PixelSize    int
}

// DefaultParams returns the settings used when a parameter is absent.
func DefaultParams() Params {
	return Params{
		Effect:       DefaultEffect,
		ModelType:    DefaultModel,
		BlurStrength: DefaultBlurStrength,
		PixelSize:    DefaultPixelSize,
	}
}

// FromParams reads a loosely typed parameter map (as decoded from JSON, flags
// or a job payload). Missing keys take their defaults. Strength and size must
// be convertible to integers; "51", 51 and 51.0 are all accepted.
func FromParams(raw map[string]interface{}) (Params, error) {
	p := DefaultParams()
	if raw == nil {
		return p, nil
	}

	if v, ok := raw[ParamEffect]; ok && v != nil {
		p.Effect = cast.ToString(v)
	}
	if v, ok := raw[ParamModel]; ok && v != nil {
		p.ModelType = cast.ToString(v)
	}

	var err error
	if p.BlurStrength, err = intParam(raw, ParamBlurStrength, p.BlurStrength); err != nil {
		return Params{}, err
	}
	if p.PixelSize, err = intParam(raw, ParamPixelSize, p.PixelSize); err != nil {
		return Params{}, err
	}
	return p, nil
}

func intParam(raw map[string]interface{}, key string, def int) (int, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	if f, isFloat := v.(float64); isFloat && f != float64(int(f)) {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", types.ErrInvalidParameter, key, v)
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrInvalidParameter, key, err)
	}
	return n, nil
}

// EffectConfig builds the effect settings. The effect name is passed through
// untouched; unknown effects are rejected when a Session is created.
func (p Params) EffectConfig() types.EffectConfig {
	return types.EffectConfig{
		Effect:       types.Effect(strings.ToLower(strings.TrimSpace(p.Effect))),
		BlurStrength: p.BlurStrength,
		PixelSize:    p.PixelSize,
	}
}

// Model resolves the requested model, falling back to the default variant.
func (p Params) Model() types.Model {
	return types.ParseModel(p.ModelType)
}

// Map renders the params back into their named form, e.g. for the job ledger.
func (p Params) Map() map[string]interface{} {
	return map[string]interface{}{
		ParamEffect:       p.Effect,
		ParamModel:        p.ModelType,
		ParamBlurStrength: p.BlurStrength,
		ParamPixelSize:    p.PixelSize,
	}
}

// Config holds process-wide settings read from the environment.
type Config struct {
	CascadeDir string
	VideoCodec string
	LogLevel   string
	OutputDir  string
	Workers    int
	Settle     time.Duration
}

// Load reads the VEIL_* environment variables.
func Load() *Config {
	return &Config{
		CascadeDir: getEnv("VEIL_CASCADE_DIR", "cascades"),
		VideoCodec: getEnv("VEIL_VIDEO_CODEC", ""),
		LogLevel:   getEnv("VEIL_LOG_LEVEL", "info"),
		OutputDir:  getEnv("VEIL_OUTPUT_DIR", "processed"),
		Workers:    getEnvAsInt("VEIL_WORKERS", runtime.NumCPU()),
		Settle:     getEnvAsDuration("VEIL_SETTLE", 2*time.Second),
	}
}

// DatabaseURL builds the ledger DSN from POSTGRES_* variables. ok is false
// when POSTGRES_HOST is unset, meaning no ledger is configured.
func DatabaseURL() (dsn string, ok bool) {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return "", false
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := getEnv("POSTGRES_DB", "veil")
	port := getEnv("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name), true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := cast.ToIntE(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := cast.ToDurationE(value); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}
