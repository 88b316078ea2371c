package config

import (
	"fmt"
	"strings"
)

// Mode is the build mode. It is read once at startup and never changes
// for the lifetime of the process.
type Mode int

const (
	ModeDevelopment Mode = iota
	ModeProduction
)

// String returns the string representation of the Mode
func (m Mode) String() string {
	switch m {
	case ModeDevelopment:
		return "development"
	case ModeProduction:
		return "production"
	default:
		return "unknown"
	}
}

// ParseMode accepts "development"/"dev" and "production"/"prod".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "development", "dev":
		return ModeDevelopment, nil
	case "production", "prod":
		return ModeProduction, nil
	default:
		return ModeDevelopment, fmt.Errorf("unknown build mode %q (want development or production)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so viper can decode
// the mode straight from config files and environment variables.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// IsProduction reports whether optimizing stages run.
func (m Mode) IsProduction() bool { return m == ModeProduction }

// SourceMaps reports whether stylesheets and bundles carry source maps.
func (m Mode) SourceMaps() bool { return !m.IsProduction() }

// Minify reports whether CSS is minified.
func (m Mode) Minify() bool { return m.IsProduction() }

// Prefix reports whether vendor prefixing runs on compiled CSS.
func (m Mode) Prefix() bool { return m.IsProduction() }

// CompressImages reports whether raster images are re-encoded.
func (m Mode) CompressImages() bool { return m.IsProduction() }

// BundlerMode is the mode string handed to the script bundler.
func (m Mode) BundlerMode() string {
	if m.IsProduction() {
		return "production"
	}
	return "development"
}
