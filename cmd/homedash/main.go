package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"homedash/internal/calendar"
	"homedash/internal/config"
	"homedash/internal/dashmode"
	"homedash/internal/ics"
	appLog "homedash/internal/log"
	"homedash/internal/metrics"
	"homedash/internal/remote"
	"homedash/internal/screensaver"
	"homedash/internal/sysstats"
	"homedash/internal/weekplan"
	"homedash/internal/web"
)

// flagConfig holds CLI flag values; they override Settings when set.
type flagConfig struct {
	configPath string
	listen     string
	envFile    string
	debug      bool
	once       bool
}

func main() {
	flags := parseFlags()

	settings, err := config.LoadSettings(flags.envFile)
	if err != nil {
		appLog.Error("failed to load settings", err, "env_file", flags.envFile)
		os.Exit(1)
	}
	if flags.configPath != "" {
		settings.ConfigPath = flags.configPath
	}
	if flags.listen != "" {
		settings.Listen = flags.listen
	}
	if flags.debug {
		settings.Debug = true
	}
	setupLogging(settings)

	appLog.Info("homedash starting", "version", "0.1.0")

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, settings, flags.once); err != nil {
		appLog.Error("homedash failed", err)
		os.Exit(1)
	}
	appLog.Info("homedash exiting")
}

func run(ctx context.Context, settings config.Settings, once bool) error {
	store, err := config.OpenStore(settings.ConfigPath)
	if err != nil {
		return err
	}
	conf := store.Snapshot().Config

	appLog.Info("effective config",
		"listen", settings.Listen,
		"config_path", settings.ConfigPath,
		"data_dir", settings.DataDir,
		"timezone", conf.Timezone,
		"calendars", len(conf.Calendars),
		"weekplans", len(conf.WeekPlans),
		"mqtt_enabled", conf.MQTT.Enabled,
		"redis", settings.RedisAddr != "",
	)

	loc, err := conf.Location()
	if err != nil {
		return err
	}

	mm := metrics.NewManager(metrics.WithRuntimeCollectors())
	agg, err := calendar.New(ics.NewFetcher(), loc, calendar.WithMetrics(mm))
	if err != nil {
		return err
	}

	// -once prints the dashboard events and exits, for checking feeds from
	// a shell.
	if once {
		events := agg.Events(ctx, conf.Calendars, calendar.DashboardWindowDays)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	plans, err := weekplan.New(settings.DataDir, weekplan.Pdftoppm{})
	if err != nil {
		return err
	}
	saver, err := screensaver.New(filepath.Join(settings.DataDir, "static", "screensaver"), store)
	if err != nil {
		return err
	}

	mode, err := newModeManager(ctx, settings)
	if err != nil {
		return err
	}

	ctrl := remote.New(remote.WithMetrics(mm))
	if err := ctrl.Reconfigure(conf.MQTT); err != nil {
		appLog.Error("mqtt setup failed", err)
	}
	defer ctrl.Close()

	sampler, err := sysstats.NewSampler(sysstats.NewHostReader())
	if err != nil {
		return err
	}
	if err := sampler.Start(ctx, conf.StatsRefresh); err != nil {
		return err
	}
	defer sampler.Stop()

	srv, err := web.NewServer(web.Deps{
		Settings:    settings,
		Store:       store,
		Calendar:    agg,
		WeekPlans:   plans,
		Screensaver: saver,
		Mode:        mode,
		Remote:      ctrl,
		Stats:       sampler,
		Metrics:     mm,
	})
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

// newModeManager keeps the forced-dashboard state in Redis when configured,
// otherwise in a JSON file under the data dir.
func newModeManager(ctx context.Context, settings config.Settings) (*dashmode.Manager, error) {
	if settings.RedisAddr == "" {
		return dashmode.NewManager(dashmode.NewFileStore(filepath.Join(settings.DataDir, "dashboard_mode.json")))
	}
	client, err := dashmode.NewRedisClient(ctx, settings.RedisAddr, settings.RedisPassword)
	if err != nil {
		return nil, err
	}
	appLog.Info("dashboard mode stored in redis", "addr", settings.RedisAddr)
	return dashmode.NewManager(dashmode.NewRedisStore(client, dashmode.DefaultRedisKey))
}

func setupLogging(settings config.Settings) {
	if settings.Debug {
		appLog.SetConsole(os.Stderr)
		appLog.SetLevel(appLog.LevelDebug)
		return
	}
	level, ok := appLog.ParseLevel(settings.LogLevel)
	if !ok {
		appLog.Warn("unknown log level, using info", "log_level", settings.LogLevel)
		level = appLog.LevelInfo
	}
	appLog.SetLevel(level)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "", "Path to household config file (overrides settings if set)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides settings if set)")
	flag.StringVar(&cfg.envFile, "env-file", ".env", "Optional .env file loaded before HOMEDASH_* variables")
	flag.BoolVar(&cfg.debug, "debug", false, "Verbose console logging")
	flag.BoolVar(&cfg.once, "once", false, "Print the dashboard calendar events as JSON and exit")

	flag.Parse()

	return cfg
}
