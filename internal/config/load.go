// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// DatabaseURLEnv is consulted when database.url is empty.
const DatabaseURLEnv = "DATABASE_URL"

// FlagKeys maps command-line flag names to config keys. Only flags that the
// user actually set override the file.
var FlagKeys = map[string]string{
	"database-url": "database.url",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"metrics-addr": "metrics.addr",
}

// Load reads configuration from path (if non-empty), then applies changed
// flags from fs (if non-nil). Keys absent from both keep their Default
// values. A missing file at path is an error; callers that want an
// optional file should check for it first.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code("CONFIG_NOT_FOUND").With("path", path).Wrap(err)
			}
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateSchema(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", nil, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv(DatabaseURLEnv)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CheckVersion reports whether version satisfies SupportedVersion.
func CheckVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return oops.Code("CONFIG_VERSION_INVALID").With("version", version).Wrap(err)
	}
	c, err := semver.NewConstraint(SupportedVersion)
	if err != nil {
		return oops.Code("CONFIG_VERSION_INVALID").Wrap(err)
	}
	if !c.Check(v) {
		return oops.Code("CONFIG_VERSION_UNSUPPORTED").
			With("version", version).
			With("supported", SupportedVersion).
			Errorf("config version %s is not supported (want %s)", version, SupportedVersion)
	}
	return nil
}
