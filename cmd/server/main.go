package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/NicolasHaas/parley/pkg/datastore"
	"github.com/NicolasHaas/parley/pkg/logging"
	"github.com/NicolasHaas/parley/pkg/server"
	"github.com/NicolasHaas/parley/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP bind address for the frame protocol")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP bind address for /metrics, /stats, /ws and /admin (empty to disable)")
	flag.BoolVar(&cfg.TLS, "tls", cfg.TLS, "Serve the frame protocol over TLS 1.3")
	flag.StringVar(&cfg.CertFile, "cert", "", "TLS certificate file (auto-generated if empty)")
	flag.StringVar(&cfg.KeyFile, "key", "", "TLS private key file (auto-generated if empty)")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory for generated files")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite archive path (empty to disable)")
	flag.StringVar(&cfg.GroupsFile, "groups-file", "", "YAML file defining groups to create on startup")
	flag.BoolVar(&cfg.WatchGroups, "watch-groups", false, "Re-import the groups file when it changes")
	flag.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "How long a poll stays open")
	flag.DurationVar(&cfg.DeliveryInterval, "delivery-interval", cfg.DeliveryInterval, "How often sessions drain their mailbox")
	flag.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "Wait between the shutdown broadcast and teardown")
	flag.DurationVar(&cfg.MetricsLogInterval, "metrics-log-interval", cfg.MetricsLogInterval, "Periodic metrics log interval (0 to disable)")
	flag.BoolVar(&cfg.ExportUsers, "export-users", false, "Export archived users as YAML and exit")
	flag.BoolVar(&cfg.ExportGroups, "export-groups", false, "Export archived groups as YAML and exit")
	flag.BoolVar(&cfg.ExportPolls, "export-polls", false, "Export archived poll results as YAML and exit")
	origins := flag.String("allowed-origins", "", "Comma-separated browser origins allowed on /ws (\"*\" for any)")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("parley-server", version.Full())
		return
	}
	if *origins != "" {
		cfg.AllowedOrigins = strings.Split(*origins, ",")
	}
	cfg.AdminToken = os.Getenv("PARLEY_ADMIN_TOKEN")

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	// Handle export commands (run and exit)
	if cfg.ExportUsers || cfg.ExportGroups || cfg.ExportPolls {
		if err := export(cfg); err != nil {
			slog.Error("export", "err", err)
			os.Exit(1)
		}
		return
	}

	var deps server.Dependencies
	if cfg.DBPath != "" {
		st, err := datastore.NewProviderFactory(cfg.DBPath)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		deps.Store = st
	}

	slog.Info("starting parley", "version", version.Full())
	srv := server.New(cfg, deps)
	if err := srv.Run(context.Background()); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func export(cfg server.Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("exports need -db")
	}
	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = st.Close() }()

	exports := []struct {
		enabled bool
		fn      func(datastore.DataProviderFactory) ([]byte, error)
	}{
		{cfg.ExportUsers, server.ExportUsersYAML},
		{cfg.ExportGroups, server.ExportGroupsYAML},
		{cfg.ExportPolls, server.ExportPollsYAML},
	}
	for _, e := range exports {
		if !e.enabled {
			continue
		}
		data, err := e.fn(st)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	}
	return nil
}
