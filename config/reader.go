package config

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"go.viam.com/mpc/logging"
)

// Read reads a config from the given file, expanding ${VAR} references from the environment.
// Fields absent from the file keep their Default values.
func Read(path string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config file %q", path)
	}
	cfg, err := FromReader(path, bytes.NewReader(buf), logger)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	cfg.ConfigFilePath = originalPath
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	logger.Debugw("read config",
		"path", originalPath,
		"steps", cfg.Horizon.Steps,
		"step_duration_sec", cfg.Horizon.StepDurationSec,
		"backend", cfg.Solver.Backend)
	return cfg, nil
}

// ApplyOverrides sets fields from dotted key=value pairs such as "horizon.steps=12" or
// "weights=1,1,0,0,0,0,0". Values are converted to the field's type. The result is validated.
func (c *Config) ApplyOverrides(overrides map[string]string) error {
	if len(overrides) == 0 {
		return nil
	}
	tree := map[string]interface{}{}
	for key, value := range overrides {
		if err := setPath(tree, strings.Split(key, "."), overrideValue(value)); err != nil {
			return errors.Wrapf(err, "bad override %q", key)
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           c,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(tree); err != nil {
		return errors.Wrap(err, "cannot apply overrides")
	}
	return c.Validate("")
}

func overrideValue(value string) interface{} {
	if !strings.Contains(value, ",") {
		return value
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func setPath(tree map[string]interface{}, path []string, value interface{}) error {
	for i, name := range path {
		if name == "" {
			return errors.New("empty key")
		}
		if i == len(path)-1 {
			if _, ok := tree[name]; ok {
				return errors.Errorf("%q set more than once", name)
			}
			tree[name] = value
			return nil
		}
		next, ok := tree[name]
		if !ok {
			sub := map[string]interface{}{}
			tree[name] = sub
			tree = sub
			continue
		}
		sub, ok := next.(map[string]interface{})
		if !ok {
			return errors.Errorf("%q is both a value and a section", name)
		}
		tree = sub
	}
	return nil
}

// Schema returns the JSON schema of the config file.
func Schema() ([]byte, error) {
	return json.MarshalIndent(jsonschema.Reflect(&Config{}), "", "  ")
}
