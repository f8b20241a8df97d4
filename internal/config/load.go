package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ameistad/shipyard/internal/constants"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Overrides are the values taken from CLI flags, the highest precedence source.
type Overrides struct {
	DataDir   string
	LogLevel  string
	LogFormat string
}

type LoadOptions struct {
	// ConfigPath is a file or a directory. Empty searches the working
	// directory and then ConfigDir.
	ConfigPath string
	Overrides  Overrides
}

// Load resolves the configuration from defaults, the config file, the
// SHIPYARD_ environment and flag overrides, in that order, then validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	configFile, err := locateConfigFile(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if configFile != "" {
		parser, err := getConfigParser(configFile)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(configFile), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFile, err)
		}
		if err := checkUnknownKeys(k.Keys()); err != nil {
			return nil, fmt.Errorf("%s: %w", configFile, err)
		}
	}

	if err := k.Load(env.Provider(constants.EnvVarPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := applyOverrides(k, opts.Overrides); err != nil {
		return nil, err
	}

	cfg := Default()
	decoderConfig := &mapstructure.DecoderConfig{
		TagName:          "koanf",
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			byteSizeDecodeHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	unmarshalConf := koanf.UnmarshalConf{
		Tag:           "koanf",
		DecoderConfig: decoderConfig,
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyTelegramFallback(&cfg, k, os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		dataDir, err := DataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine data directory: %w", err)
		}
		cfg.DataDir = dataDir
	}
	if cfg.DataDir, err = expandHome(cfg.DataDir); err != nil {
		return nil, err
	}

	if err := cfg.resolveEnvironments(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.source = configFile
	return &cfg, nil
}

// envKey maps SHIPYARD_NOTIFY__BOT_TOKEN to notify.bot_token. Variables that
// only steer path discovery are skipped.
func envKey(s string) string {
	s = strings.TrimPrefix(s, constants.EnvVarPrefix)
	if s == "CONFIG_DIR" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func applyOverrides(k *koanf.Koanf, o Overrides) error {
	for key, value := range map[string]string{
		"data_dir":   o.DataDir,
		"log.level":  o.LogLevel,
		"log.format": o.LogFormat,
	} {
		if value == "" {
			continue
		}
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("failed to apply flag override %s: %w", key, err)
		}
	}
	return nil
}

// applyTelegramFallback honours the TELEGRAM_* variables used by the
// existing cron scripts when the notify block leaves them unset.
func applyTelegramFallback(cfg *Config, k *koanf.Koanf, lookup func(string) (string, bool)) error {
	if cfg.Notify.BotToken == "" {
		if token, ok := lookup(constants.EnvVarTelegramToken); ok {
			cfg.Notify.BotToken = strings.TrimSpace(token)
		}
	}
	if len(cfg.Notify.Recipients) == 0 {
		if ids, ok := lookup(constants.EnvVarTelegramChatIDs); ok {
			cfg.Notify.Recipients = splitList(ids)
		}
	}
	if !k.Exists("probe.cooldown") {
		if raw, ok := lookup(constants.EnvVarAlertThrottleSec); ok && raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil || seconds < 0 {
				return fmt.Errorf("%s must be a non-negative integer, got %q", constants.EnvVarAlertThrottleSec, raw)
			}
			cfg.Probe.Cooldown = time.Duration(seconds) * time.Second
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// checkUnknownKeys rejects config file keys that do not map onto Config.
func checkUnknownKeys(keys []string) error {
	known := map[string]bool{}
	collectKeys(reflect.TypeOf(Config{}), "", known)

	for _, key := range keys {
		if !matchesKnownKey(key, known) {
			return fmt.Errorf("unknown config key: %s", key)
		}
	}
	return nil
}

func collectKeys(t reflect.Type, prefix string, out map[string]bool) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("koanf"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		out[key] = true

		ft := field.Type
		switch {
		case ft.Kind() == reflect.Struct:
			collectKeys(ft, key+".", out)
		case ft.Kind() == reflect.Map && ft.Elem().Kind() == reflect.Struct:
			out[key+".*"] = true
			collectKeys(ft.Elem(), key+".*.", out)
		}
	}
}

func matchesKnownKey(key string, known map[string]bool) bool {
	if known[key] {
		return true
	}
	segments := strings.Split(key, ".")
	for pattern := range known {
		patternSegments := strings.Split(pattern, ".")
		if len(patternSegments) != len(segments) {
			continue
		}
		match := true
		for i, seg := range patternSegments {
			if seg != "*" && seg != segments[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
