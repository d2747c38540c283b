// Package config loads the gateway configuration: a YAML file on top of
// built-in defaults, then environment overrides on top of that.
//
// Environment variable names follow the pattern:
//
//	{Prefix}_{SECTION}_{FIELD}
//
// FIELD is the field's yaml key in upper case, so the variable for
// mediation.target_url is PASSTHRU_MEDIATION_TARGET_URL. Fields without a
// yaml tag use their Go name in UPPER_SNAKE_CASE. Named nested structs add a
// segment, embedded structs are flattened.
//
// Settable fields are strings, bools, numbers, time.Duration ("5s"),
// anything implementing encoding.TextUnmarshaler (such as [ByteSize], "1MiB")
// and map[string]string written as comma separated pairs:
//
//	PASSTHRU_SERVER_MAX_IN_FLIGHT=256
//	PASSTHRU_RELAY_REPLAY_CAPACITY=1MiB
//	PASSTHRU_MEDIATION_ENDPOINTS=orders=http://orders:8080/,stock=http://stock:8080/
//
// Slices, pointers, functions and interfaces are skipped, so services and
// phases only come from the file.
package config

import (
	"encoding"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	stringMapType       = reflect.TypeOf(map[string]string(nil))
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// Loader reads environment variables into configuration structs.
type Loader struct {
	// Prefix for environment variable names.
	// Default: "PASSTHRU".
	Prefix string

	// lookup overrides os.LookupEnv for testing.
	lookup func(string) (string, bool)
}

func (l Loader) prefix() string {
	if l.Prefix == "" {
		return "PASSTHRU"
	}
	return l.Prefix
}

func (l Loader) lookupEnv(key string) (string, bool) {
	if l.lookup != nil {
		return l.lookup(key)
	}
	return os.LookupEnv(key)
}

// Overlay applies environment overrides to the server, relay and mediation
// sections of f.
func (l Loader) Overlay(f *File) error {
	if err := l.Load("server", &f.Server); err != nil {
		return err
	}
	if err := l.Load("relay", &f.Relay); err != nil {
		return err
	}
	return l.Load("mediation", &f.Mediation)
}

// Load sets the fields of the struct dst points to from the variables of
// section. Fields without a variable keep their value.
func (l Loader) Load(section string, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: dst must be a pointer to a struct, got %T", dst)
	}
	for _, s := range settings(l.sectionPrefix(section), v.Elem()) {
		raw, ok := l.lookupEnv(s.key)
		if !ok {
			continue
		}
		if err := s.set(raw); err != nil {
			return fmt.Errorf("config: %s: %w", s.key, err)
		}
	}
	return nil
}

// Keys returns the variable names Load checks for dst, which may be a struct
// or a pointer to one.
func (l Loader) Keys(section string, dst any) []string {
	v := reflect.ValueOf(dst)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	var keys []string
	for _, s := range settings(l.sectionPrefix(section), v) {
		keys = append(keys, s.key)
	}
	return keys
}

func (l Loader) sectionPrefix(section string) string {
	return l.prefix() + "_" + normalizeSection(section)
}

// Load populates dst using the default Loader.
func Load(section string, dst any) error {
	return Loader{}.Load(section, dst)
}

// Keys returns variable names using the default Loader.
func Keys(section string, dst any) []string {
	return Loader{}.Keys(section, dst)
}

// setting is a field an environment variable can set.
type setting struct {
	key   string
	value reflect.Value
}

func settings(prefix string, v reflect.Value) []setting {
	var out []setting
	t := v.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		fv := v.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			out = append(out, settings(prefix, fv)...)
			continue
		}
		if !f.IsExported() {
			continue
		}

		key := prefix + "_" + envName(f)
		switch {
		case settable(f.Type):
			out = append(out, setting{key: key, value: fv})
		case f.Type.Kind() == reflect.Struct:
			out = append(out, settings(key, fv)...)
		}
	}
	return out
}

func settable(t reflect.Type) bool {
	if t == durationType || t == stringMapType || reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func (s setting) set(raw string) error {
	v := s.value
	switch {
	case v.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	case reflect.PointerTo(v.Type()).Implements(textUnmarshalerType):
		return v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(raw))
	case v.Type() == stringMapType:
		m, err := parsePairs(raw)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(m))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	}
	return nil
}

// parsePairs reads "a=x,b=y". An empty string is an empty map.
func parsePairs(raw string) (map[string]string, error) {
	m := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("malformed pair %q", pair)
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return m, nil
}

// envName is the yaml key of f in upper case, or its Go name in snake case.
func envName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "" || name == "-" {
		return toUpperSnake(f.Name)
	}
	return normalizeSection(name)
}

// normalizeSection upper-cases letters, turns hyphens, spaces and
// underscores into underscores and drops everything else.
func normalizeSection(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(unicode.ToUpper(r))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '_':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// toUpperSnake converts a CamelCase name to UPPER_SNAKE_CASE, keeping
// acronyms together: TargetURL → TARGET_URL, HTTPClient → HTTP_CLIENT.
func toUpperSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			lowerNext := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && lowerNext) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
