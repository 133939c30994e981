package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HARVEST_SERVER_ADDR.
const EnvPrefix = "HARVEST"

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations like files, environment
// variables, or remote configuration services.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	// It returns the parsed configuration or an error if loading fails.
	Load(ctx context.Context) (*Config, error)
}

// ViperLoader layers defaults, an optional YAML file and the environment, in
// increasing precedence.
type ViperLoader struct {
	path string
}

// NewViperLoader creates a loader. An empty path skips the file layer.
func NewViperLoader(path string) *ViperLoader { return &ViperLoader{path: path} }

func (l *ViperLoader) Load(context.Context) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration with no file or environment
// applied.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// ValidationError lists every invalid field with a readable message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, m := range e.Fields {
		msgs = append(msgs, m)
	}
	slices.Sort(msgs)
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks cfg against its validate tags. Field names in messages use
// the configuration key, e.g. "fetcher.base_url".
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterStructValidation(validateFetcher, FetcherConfig{})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return fmt.Errorf("registering validation translations: %w", err)
	}

	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		key := configKey(fe.Namespace())
		out.Fields[key] = key + ": " + fe.Translate(trans)
	}
	return out
}

// configKey turns "Config.fetcher.base_url" into "fetcher.base_url".
func configKey(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}

// validateFetcher requires a base URL only for the HTTP fetcher.
func validateFetcher(sl validator.StructLevel) {
	f := sl.Current().Interface().(FetcherConfig)
	if f.Kind == FetcherHTTP && strings.TrimSpace(f.BaseURL) == "" {
		sl.ReportError(f.BaseURL, "base_url", "BaseURL", "required", "")
	}
}
