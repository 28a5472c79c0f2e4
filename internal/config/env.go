package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"genpool/internal/common/fsutil"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GENPOOL_"

// LoadDotEnv loads .env style files into the process environment. Variables
// already set win. Missing files are skipped; with no paths ".env" is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if !fsutil.PathExists(p) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from GENPOOL_<KEY> variables, where KEY is the
// upper-cased config key, e.g. GENPOOL_API_ADDR or GENPOOL_MAX_RETRIES.
// Lists are comma separated; GENPOOL_BOOTSTRAP takes "service:count,...".
func ApplyEnv(cfg *Config) error {
	current := map[string]any{}
	enc, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &current})
	if err != nil {
		return err
	}
	if err := enc.Decode(*cfg); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(strings.TrimSuffix(EnvPrefix, "_"))
	v.AutomaticEnv()
	for key, val := range current {
		v.SetDefault(key, val)
	}

	out := *cfg
	err = v.Unmarshal(&out,
		func(dc *mapstructure.DecoderConfig) { dc.TagName = "json" },
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(bootstrapHook, csvHook)),
	)
	if err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	*cfg = out
	return nil
}

var (
	bootstrapType = reflect.TypeOf([]Bootstrap(nil))
	stringsType   = reflect.TypeOf([]string(nil))
)

func bootstrapHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != bootstrapType {
		return data, nil
	}
	b, err := ParseBootstrap(data.(string))
	if err != nil {
		return nil, fmt.Errorf("%sBOOTSTRAP: %w", EnvPrefix, err)
	}
	return b, nil
}

func csvHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != stringsType {
		return data, nil
	}
	return SplitCSV(data.(string)), nil
}

// ParseBootstrap parses "aistudio:2,doubao:1". A bare service means one.
func ParseBootstrap(raw string) ([]Bootstrap, error) {
	var out []Bootstrap
	for _, part := range SplitCSV(raw) {
		svc, count, found := strings.Cut(part, ":")
		b := Bootstrap{Service: strings.TrimSpace(svc), Count: 1}
		if found {
			n, err := strconv.Atoi(strings.TrimSpace(count))
			if err != nil {
				return nil, fmt.Errorf("bad bootstrap count in %q", part)
			}
			b.Count = n
		}
		out = append(out, b)
	}
	return out, nil
}

// SplitCSV splits a comma-separated list and trims spaces; empty items are dropped.
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
