package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/eugenenazirov/service-common/internal/logging"
	"github.com/eugenenazirov/service-common/internal/worker"
)

// Loader binds settings structs from files and the environment.
type Loader struct {
	envPrefix  string
	envFile    string
	configFile string
	workers    worker.Provider
	logger     *zap.Logger
	validate   *validator.Validate
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = strings.TrimSuffix(strings.ToUpper(prefix), "_")
	}
}

// WithEnvFile sets the .env file read before the environment. A missing
// file is ignored; an empty path disables it.
func WithEnvFile(path string) Option {
	return func(l *Loader) {
		l.envFile = path
	}
}

// WithConfigFile sets an optional YAML, JSON or TOML settings file.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.configFile = path
	}
}

// WithWorkerProvider overrides how the worker identity is resolved.
func WithWorkerProvider(p worker.Provider) Option {
	return func(l *Loader) {
		l.workers = p
	}
}

// WithLogger sets the logger used for non-fatal resolution diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader returns a Loader reading COMMON_ variables and ./.env.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		envPrefix: EnvPrefix,
		envFile:   ".env",
		workers:   worker.NewProcessProvider(),
		logger:    zap.NewNop(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load binds target, validates it, then computes the derived fields.
func (l *Loader) Load(ctx context.Context, target Provider) error {
	v := viper.New()
	v.SetEnvPrefix(l.envPrefix)

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	if err := l.applyEnvFile(v); err != nil {
		return err
	}

	for _, key := range settingKeys(reflect.TypeOf(target)) {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	squash := func(c *mapstructure.DecoderConfig) {
		c.Squash = true
	}
	if err := v.Unmarshal(target, squash); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	if err := l.validate.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	base := target.Base()
	if _, err := logging.ParseLevel(base.LoggingLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	l.derive(ctx, base)
	return nil
}

// applyEnvFile copies prefixed entries of the .env file into v, skipping
// variables already present in the real environment.
func (l *Loader) applyEnvFile(v *viper.Viper) error {
	if l.envFile == "" {
		return nil
	}

	values, err := godotenv.Read(l.envFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}

	prefix := l.envPrefix + "_"
	for name, value := range values {
		upper := strings.ToUpper(name)
		if !strings.HasPrefix(upper, prefix) {
			continue
		}
		if os.Getenv(upper) != "" {
			continue
		}
		v.Set(strings.ToLower(strings.TrimPrefix(upper, prefix)), value)
	}
	return nil
}

func (l *Loader) derive(ctx context.Context, s *Settings) {
	s.DBDatasource = BuildDatasource(s)
	l.assignWorkerIdentity(ctx, s)
	s.DockerPodID = PodID(s.DockerPodName)
}

// assignWorkerIdentity leaves WorkerID and WorkerPID untouched when the
// identity cannot be determined.
func (l *Loader) assignWorkerIdentity(ctx context.Context, s *Settings) {
	if s.WorkerType == WorkerTypeLocal || l.workers == nil {
		return
	}

	identity, err := l.workers.Identify(ctx, s.WorkerType)
	if err != nil {
		l.logger.Debug("worker identity unavailable",
			zap.String("worker_type", s.WorkerType),
			zap.Error(err),
		)
		return
	}
	s.WorkerID = identity.ID
	s.WorkerPID = identity.PID
}

// settingKeys lists the mapstructure keys of a settings struct, flattening
// embedded and squashed structs.
func settingKeys(t reflect.Type) []string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	var keys []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		if (field.Anonymous && name == "") || strings.Contains(opts, "squash") {
			keys = append(keys, settingKeys(field.Type)...)
			continue
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		keys = append(keys, name)
	}
	return keys
}
