// Package settings implements Palioxis's read-only typed view over
// configuration: a flat mapping from section/key to string, with typed
// accessors and caller-supplied defaults for missing keys. It is
// constructed once at startup and is immutable for the lifetime of the
// run.
package settings

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// Settings is an immutable, section/key flat view over configuration.
type Settings struct {
	v *viper.Viper
}

// Load reads configuration from an ini-formatted file (if path is
// non-empty) and from PALIOXIS_-prefixed environment variables, and
// returns the resulting Settings view.
//
// Section/key pairs are addressed internally as "section.key"; env vars
// override file values with "." replaced by "_" (e.g.
// PALIOXIS_SERVER_PORT overrides Server.port), matching the teacher's
// config loader convention.
func Load(path string) (*Settings, error) {
	v := viper.NewWithOptions(viper.IniLoadOptions(ini.LoadOptions{AllowPythonMultilineValues: true}))
	v.SetConfigType("ini")
	v.AutomaticEnv()
	v.SetEnvPrefix("PALIOXIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
			}
		}
	}

	return &Settings{v: v}, nil
}

// New wraps an already-populated viper instance. Used by tests and by
// callers that build up settings programmatically before freezing them
// into a Settings view.
func New(v *viper.Viper) *Settings {
	if v == nil {
		v = viper.New()
	}
	return &Settings{v: v}
}

func key(section, option string) string {
	return section + "." + option
}

// String returns a string setting, or def if the key is absent.
func (s *Settings) String(section, option, def string) string {
	k := key(section, option)
	if !s.v.IsSet(k) {
		return def
	}
	return s.v.GetString(k)
}

// Int returns an integer setting, or def if the key is absent.
func (s *Settings) Int(section, option string, def int) int {
	k := key(section, option)
	if !s.v.IsSet(k) {
		return def
	}
	return s.v.GetInt(k)
}

// Bool returns a boolean setting, or def if the key is absent.
func (s *Settings) Bool(section, option string, def bool) bool {
	k := key(section, option)
	if !s.v.IsSet(k) {
		return def
	}
	return s.v.GetBool(k)
}

// Float returns a floating-point setting, or def if the key is absent.
func (s *Settings) Float(section, option string, def float64) float64 {
	k := key(section, option)
	if !s.v.IsSet(k) {
		return def
	}
	return s.v.GetFloat64(k)
}

// Duration returns a duration setting, or def if the key is absent or
// unparsable.
func (s *Settings) Duration(section, option string, def time.Duration) time.Duration {
	k := key(section, option)
	if !s.v.IsSet(k) {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(s.v.GetString(k)))
	if err != nil {
		return def
	}
	return d
}

// StringSlice returns a multi-line setting split into non-empty,
// trimmed lines, or nil if the key is absent.
func (s *Settings) StringSlice(section, option string) []string {
	raw := s.v.GetString(key(section, option))
	if raw == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Set overrides a value. Only meant for assembling a Settings view
// programmatically (tests, the `generate config` command); once handed
// to the rest of the agent a Settings is treated as read-only.
func (s *Settings) Set(section, option string, value interface{}) {
	s.v.Set(key(section, option), value)
}
