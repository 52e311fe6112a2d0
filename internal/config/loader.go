package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves one environment variable.
type LookupFunc func(name string) (string, bool)

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration through lookup. Every field is resolved
// from its `env` tag, then each name listed in `envAlt`, then `default`.
// All unparsable values are reported together, followed by Validate.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	if err := bind(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func bind(v reflect.Value, lookup LookupFunc) error {
	var errs []error
	t := v.Type()
	for i := range t.NumField() {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			errs = append(errs, bind(fv, lookup))
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := resolve(field.Tag, lookup)
		if !ok {
			continue
		}
		if err := assign(fv, raw); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, raw, err))
		}
	}
	return errors.Join(errs...)
}

// resolve returns the first non-empty value among the field's variables and
// its default.
func resolve(tag reflect.StructTag, lookup LookupFunc) (string, bool) {
	names := []string{tag.Get("env")}
	if alt := tag.Get("envAlt"); alt != "" {
		names = append(names, strings.Split(alt, ",")...)
	}
	for _, name := range names {
		if value, ok := lookup(strings.TrimSpace(name)); ok && value != "" {
			return value, true
		}
	}
	def, ok := tag.Lookup("default")
	return def, ok && def != ""
}

var durationType = reflect.TypeFor[time.Duration]()

func assign(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		fv.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		fv.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", fv.Type())
	}
	return nil
}
