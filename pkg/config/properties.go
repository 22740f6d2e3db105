package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Properties is a flat view of the configuration file keyed by dotted path
// (e.g. "v2tic.https.port"). Environment variables always win over the file.
type Properties struct {
	values map[string]any
	lookup func(string) (string, bool)
}

// ReadProperties reads a YAML file and flattens it. If envFile is not empty
// and exists, it is loaded into the process environment first.
func ReadProperties(filename, envFile string) (*Properties, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err = godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("%w: loading %s: %v", ErrConfiguration, envFile, err)
			}
		}
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return ParseProperties(content)
}

// ParseProperties flattens YAML content into dotted keys.
func ParseProperties(content []byte) (*Properties, error) {
	tree := make(map[string]any)
	if err := yaml.Unmarshal(content, &tree); err != nil {
		return nil, fmt.Errorf("%w: parsing config: %v", ErrConfiguration, err)
	}

	p := NewProperties(nil)
	flatten("", tree, p.values)
	return p, nil
}

// NewProperties creates Properties from already flat values.
func NewProperties(values map[string]any) *Properties {
	p := &Properties{
		values: make(map[string]any, len(values)),
		lookup: os.LookupEnv,
	}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

// WithLookup replaces the environment lookup, mostly useful in tests.
func (p *Properties) WithLookup(fn func(string) (string, bool)) *Properties {
	p.lookup = fn
	return p
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		default:
			out[key] = val
		}
	}
}

// envNames returns the environment variable names checked for a key.
func envNames(key string) []string {
	underscored := strings.ReplaceAll(key, ".", "_")
	return []string{key, underscored, strings.ToUpper(underscored)}
}

func (p *Properties) raw(key string) (any, bool) {
	if p.lookup != nil {
		for _, name := range envNames(key) {
			if v, ok := p.lookup(name); ok {
				return v, true
			}
		}
	}
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether the key is set in the environment or the file.
func (p *Properties) Has(key string) bool {
	_, ok := p.raw(key)
	return ok
}

// Keys returns the sorted list of file keys.
func (p *Properties) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sub returns the direct children names under prefix,
// e.g. Sub("v2tic.languages.thresholds") -> ["de-DE", "en-US"].
func (p *Properties) Sub(prefix string) []string {
	prefix = strings.TrimSuffix(prefix, ".") + "."
	seen := make(map[string]struct{})
	for k := range p.values {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		name, _, _ := strings.Cut(rest, ".")
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (p *Properties) String(key, def string) string {
	v, ok := p.raw(key)
	if !ok || v == nil {
		return def
	}
	return fmt.Sprint(v)
}

func (p *Properties) Bool(key string, def bool) (bool, error) {
	v, ok := p.raw(key)
	if !ok || v == nil {
		return def, nil
	}
	return ParseBool(v)
}

func (p *Properties) Int(key string, def int) (int, error) {
	v, ok := p.raw(key)
	if !ok || v == nil {
		return def, nil
	}
	n, err := ToInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrConfiguration, key, err)
	}
	return n, nil
}

func (p *Properties) Float(key string, def float64) (float64, error) {
	v, ok := p.raw(key)
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	default:
		f, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(val)), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrConfiguration, key, err)
		}
		return f, nil
	}
}

func (p *Properties) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p.raw(key)
	if !ok || v == nil {
		return def, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrConfiguration, key, err)
	}
	return d, nil
}

// StringSlice accepts either a YAML list or a comma separated string.
func (p *Properties) StringSlice(key string, def []string) []string {
	v, ok := p.raw(key)
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return SplitList(fmt.Sprint(val))
	}
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseDuration accepts Go durations ("30s", "5m", "1h30m") and
// bare numbers which are treated as seconds.
func ParseDuration(v any) (time.Duration, error) {
	switch val := v.(type) {
	case int:
		return time.Duration(val) * time.Second, nil
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	case time.Duration:
		return val, nil
	}

	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// ParseBool accepts booleans and the usual string forms ("true", "yes", "1", "on").
func ParseBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int:
		return val != 0, nil
	}

	switch strings.ToLower(strings.TrimSpace(fmt.Sprint(v))) {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("%w: invalid boolean %q", ErrConfiguration, v)
}

// ToInt converts YAML/JSON scalar values into an int. Fractional numbers are rejected.
func ToInt(v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val != float64(int(val)) {
			return 0, fmt.Errorf("%v is not an integer", val)
		}
		return int(val), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(val))
	}
	return 0, fmt.Errorf("unsupported integer value %v (%T)", v, v)
}
