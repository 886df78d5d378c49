package config

import (
	"bytes"
	"context"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/edukit/logging"
)

// Read reads a config from the given file. Environment references such as ${SPI_BUS} are
// substituted before parsing.
func Read(ctx context.Context, filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from. The input is JSON5, so comments and trailing commas are allowed.
// Fields missing from the input keep their defaults.
func FromReader(ctx context.Context, originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var attributes map[string]interface{}
	if err := json5.Unmarshal(buf, &attributes); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}

	cfg := Default()
	cfg.ConfigFilePath = originalPath
	unused, err := decode(attributes, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode config %q", originalPath)
	}
	if len(unused) > 0 {
		logger.CWarnw(ctx, "config contains unknown keys", "path", originalPath, "keys", unused)
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode maps attributes onto out through its json tags. Durations may be given as strings
// ("10ms") and numbers may be quoted.
func decode(attributes map[string]interface{}, out interface{}) ([]string, error) {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, err
	}
	return md.Unused, nil
}
