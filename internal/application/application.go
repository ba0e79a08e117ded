package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/service-common/internal/config"
	"github.com/eugenenazirov/service-common/internal/database"
	"github.com/eugenenazirov/service-common/internal/httperr"
	"github.com/eugenenazirov/service-common/internal/logging"
	"github.com/eugenenazirov/service-common/internal/metrics"
	"github.com/eugenenazirov/service-common/internal/middleware"
	"github.com/eugenenazirov/service-common/internal/openapi"
	"github.com/eugenenazirov/service-common/internal/registry"
	"github.com/eugenenazirov/service-common/internal/server"
)

// Exit codes returned by Main.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

var notifyContext = signal.NotifyContext

// Initializer wires settings, logger, application object, database engine and
// exception handling into a registry, and exposes them through a CLI.
type Initializer struct {
	name        string
	registry    *registry.Registry
	newSettings func() config.Provider
	loaderOpts  []config.Option
	routes      []func(*server.App)
	baseLogger  *zap.Logger
	stderr      io.Writer

	ready    bool
	settings *config.Settings
	logger   *zap.Logger
	app      *server.App
	metrics  *metrics.Registry
}

// Option configures an Initializer.
type Option func(*Initializer)

// WithName sets the CLI program name.
func WithName(name string) Option {
	return func(i *Initializer) {
		i.name = name
	}
}

// WithRegistry shares an existing registry instead of creating one.
func WithRegistry(reg *registry.Registry) Option {
	return func(i *Initializer) {
		i.registry = reg
	}
}

// WithSettings sets the constructor of a service-specific settings type.
// The returned value must carry its defaults.
func WithSettings(newFn func() config.Provider) Option {
	return func(i *Initializer) {
		i.newSettings = newFn
	}
}

// WithLoaderOptions appends settings loader options.
func WithLoaderOptions(opts ...config.Option) Option {
	return func(i *Initializer) {
		i.loaderOpts = append(i.loaderOpts, opts...)
	}
}

// WithRoutes registers fn to add service routes once the application object exists.
func WithRoutes(fn func(*server.App)) Option {
	return func(i *Initializer) {
		i.routes = append(i.routes, fn)
	}
}

// WithLogger uses logger instead of building one from settings.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Initializer) {
		i.baseLogger = logger
	}
}

// WithStderr redirects CLI usage errors.
func WithStderr(w io.Writer) Option {
	return func(i *Initializer) {
		i.stderr = w
	}
}

// New returns an Initializer using the base settings type.
func New(opts ...Option) *Initializer {
	i := &Initializer{
		name:        "service",
		registry:    registry.New(),
		newSettings: func() config.Provider { return config.New() },
		stderr:      os.Stderr,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Registry returns the registry populated by Initialize.
func (i *Initializer) Registry() *registry.Registry {
	return i.registry
}

// Settings returns the resolved base settings, or nil before Initialize.
func (i *Initializer) Settings() *config.Settings {
	return i.settings
}

// Logger returns the service logger, or nil before Initialize.
func (i *Initializer) Logger() *zap.Logger {
	return i.logger
}

// App returns the application object, or nil before Initialize.
func (i *Initializer) App() *server.App {
	return i.app
}

// Initialize resolves settings, then builds the logger, the application
// object, the database engine when a datasource is configured, and installs
// the exception handlers and stock middlewares. Once it has succeeded,
// calling it again is a no-op; after a failure it starts over.
func (i *Initializer) Initialize(ctx context.Context) error {
	if i.ready {
		return nil
	}

	loader := config.NewLoader(i.loaderOpts...)
	provider, err := config.Resolve(ctx, loader, i.registry, false, i.newSettings)
	if err != nil {
		return fmt.Errorf("resolve settings: %w", err)
	}
	s := provider.Base()
	i.settings = s

	if err := i.initLogger(s); err != nil {
		return err
	}
	i.initApp(s)
	if err := i.initDatabase(s); err != nil {
		return err
	}
	httperr.Install(i.app, i.logger)
	if err := i.initMiddlewares(s); err != nil {
		return err
	}

	for _, fn := range i.routes {
		fn(i.app)
	}

	i.logger.Debug("initialized",
		zap.String("worker_type", s.WorkerType),
		zap.Int("worker_id", s.WorkerID),
		zap.String("pod_id", s.DockerPodID),
		zap.Strings("middlewares", i.app.Middlewares()),
	)
	i.ready = true
	return nil
}

func (i *Initializer) initLogger(s *config.Settings) error {
	if i.baseLogger != nil {
		i.logger = i.baseLogger.Named(s.LoggingDefaultLoggerName)
		return nil
	}

	logger, err := logging.New(logging.Options{
		Name:  s.LoggingDefaultLoggerName,
		Level: s.LoggingLevel,
		File:  s.LoggingFileName,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	i.logger = logger
	return nil
}

func (i *Initializer) initApp(s *config.Settings) {
	i.metrics = metrics.New("")
	i.metrics.SetWorkerInfo(metrics.WorkerInfo{
		WorkerType: s.WorkerType,
		WorkerID:   s.WorkerID,
		PodID:      s.DockerPodID,
	})

	app := server.New(server.Info{
		Title:        s.OpenAPITitle,
		Description:  s.OpenAPIDescription,
		Version:      s.OpenAPIVersion,
		ContactURL:   s.OpenAPIContactURL,
		ContactEmail: s.OpenAPIContactEmail,
		LicenseName:  s.OpenAPILicenseName,
		LicenseURL:   s.OpenAPILicenseURL,
		RootPath:     s.OpenAPIRootPath,
		APIPrefix:    s.OpenAPICommonAPIPrefix,
	}, i.logger,
		server.WithMetrics(i.metrics),
		server.WithTimeouts(server.Timeouts{
			ReadHeader:    s.ReadHeaderTimeout,
			Write:         s.WriteTimeout,
			Idle:          s.IdleTimeout,
			ShutdownGrace: s.ShutdownGracePeriod,
		}),
	)
	app.OnShutdown(i.disposeEngine)

	i.app = app
	i.registry.SetApp(app)
}

// disposeEngine is the application's shutdown hook.
func (i *Initializer) disposeEngine(ctx context.Context) error {
	engine := i.registry.Engine()
	if engine == nil {
		return nil
	}
	return engine.Dispose(ctx)
}

func (i *Initializer) initDatabase(s *config.Settings) error {
	if s.DBDatasource == "" {
		return nil
	}

	engine, err := database.Open(s.DBDatasource, database.Options{
		Echo:        s.DBLogging,
		PoolSize:    s.DBPoolSize,
		MaxOverflow: s.DBMaxOverflow,
		Logger:      i.logger,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	i.registry.SetEngine(engine)
	return nil
}

// initMiddlewares registers the stock middlewares. The last one registered
// sees requests first.
func (i *Initializer) initMiddlewares(s *config.Settings) error {
	stock := []middleware.Middleware{
		middleware.NewRateLimit(s.RateLimitRPS, s.RateLimitBurst),
		middleware.NewMetrics(i.metrics, i.app.RouteTemplate),
		middleware.NewCORS(s.CORSAllowOrigins),
		middleware.NewRequestID(),
	}
	for _, m := range stock {
		if _, err := middleware.PostInit(i.registry, m); err != nil {
			return fmt.Errorf("register %s middleware: %w", m.Name(), err)
		}
	}
	return nil
}

// Main parses args, initializes the service and runs the selected command.
// It returns the process exit code.
func (i *Initializer) Main(ctx context.Context, args []string) int {
	cli := kingpin.New(i.name, "Service bootstrap: run the HTTP server, apply migrations or export the OpenAPI document.")
	cli.ErrorWriter(i.stderr)
	cli.UsageWriter(i.stderr)

	envFile := cli.Flag("env-file", "Path to a .env file read before the environment.").Default(".env").String()
	configFile := cli.Flag("config", "Optional YAML, JSON or TOML settings file.").String()

	runCmd := cli.Command("run", "Start the HTTP server.")
	migrateCmd := cli.Command("migrate", "Apply database migrations.")
	openAPICmd := cli.Command("getOpenAPI", "Write the OpenAPI document to a file.")
	openAPIPath := openAPICmd.Arg("filepath", "Output file; .yaml or .yml writes YAML.").Required().String()

	command, err := i.parse(cli, args)
	switch {
	case errors.Is(err, errHelpShown):
		return ExitOK
	case err != nil:
		cli.Errorf("%s, try --help", err)
		return ExitUsage
	}

	i.loaderOpts = append([]config.Option{
		config.WithEnvFile(*envFile),
		config.WithConfigFile(*configFile),
	}, i.loaderOpts...)

	if err := i.Initialize(ctx); err != nil {
		fmt.Fprintf(i.stderr, "%s: error: %v\n", i.name, err)
		return ExitError
	}
	defer func() {
		_ = i.logger.Sync()
	}()

	switch command {
	case runCmd.FullCommand():
		err = i.RunServer(ctx)
	case migrateCmd.FullCommand():
		err = i.MigrateDatabase(ctx)
	case openAPICmd.FullCommand():
		err = i.ExportOpenAPI(*openAPIPath)
	}
	if err != nil {
		i.logger.Error("command failed", zap.String("command", command), zap.Error(err))
		return ExitError
	}
	return ExitOK
}

var errHelpShown = errors.New("help shown")

// parse runs cli without letting it exit the process. kingpin terminates
// after printing help, and also after printing usage for a missing command.
// The first case is reported as errHelpShown; the second keeps
// kingpin.ErrCommandNotSpecified.
func (i *Initializer) parse(cli *kingpin.Application, args []string) (string, error) {
	var helpRequested, terminated bool
	cli.Terminate(func(int) {
		terminated = true
	})
	cli.HelpFlag.PreAction(func(*kingpin.ParseContext) error {
		helpRequested = true
		return nil
	})

	command, err := cli.Parse(args)
	switch {
	case helpRequested:
		return "", errHelpShown
	case err != nil:
		return "", err
	case terminated:
		// "help [command]"
		return "", errHelpShown
	case command == "":
		return "", kingpin.ErrCommandNotSpecified
	}
	return command, nil
}

// RunServer serves the application until ctx is cancelled or SIGINT/SIGTERM
// arrives, then shuts down gracefully.
func (i *Initializer) RunServer(ctx context.Context) error {
	if !i.ready {
		return errNotInitialized
	}

	ctx, stop := notifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := i.settings
	return i.app.Run(ctx, s.Host, s.Port, s.LoggingAccessLog)
}

// MigrateDatabase applies the migrations found under db_migrations_path.
// Without a configured path it only logs.
func (i *Initializer) MigrateDatabase(ctx context.Context) error {
	if !i.ready {
		return errNotInitialized
	}

	i.logger.Info("Starting DB migrations.")
	s := i.settings
	if s.DBMigrationsPath == "" {
		i.logger.Info("no migrations path configured, nothing to apply")
		return nil
	}
	if s.DBDatasource == "" {
		return errors.New("migrations path set but no datasource configured")
	}
	return database.Migrate(ctx, s.DBDatasource, s.DBMigrationsPath, i.logger)
}

// ExportOpenAPI writes the application's OpenAPI document to path,
// overwriting it.
func (i *Initializer) ExportOpenAPI(path string) error {
	if !i.ready {
		return errNotInitialized
	}

	if err := openapi.WriteFile(path, i.app.OpenAPI()); err != nil {
		return err
	}
	i.logger.Info("openapi document written", zap.String("path", path))
	return nil
}

var errNotInitialized = errors.New("application not initialized")
