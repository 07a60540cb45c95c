package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jzelinskie/stringz"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/openslides/backend/internal/datastore/postgres"
	"github.com/openslides/backend/internal/server"
	"github.com/openslides/backend/internal/telemetry"
	"github.com/openslides/backend/pkg/actions"
	"github.com/openslides/backend/pkg/authadapter"
	datastorecmd "github.com/openslides/backend/pkg/cmd/datastore"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/permission"
)

// serveConfig bundles the datastore engine config with the front door's own
// flags (bind address, auth service URL), so the subcommand is composed out
// of independently reusable flag groups.
type serveConfig struct {
	datastore datastorecmd.Config

	Addr           string
	AuthURL        string
	MetricsAddr    string
	AllowedOrigins []string
}

func newServeCmd() *cobra.Command {
	var cfg serveConfig

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the write-path action server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), &cfg)
		},
	}

	flags := serveCmd.Flags()
	if err := datastorecmd.RegisterDatastoreFlagsWithPrefix(flags, "", &cfg.datastore); err != nil {
		log.Fatal().Err(err).Msg("failed to register datastore flags")
	}
	flags.StringVar(&cfg.Addr, "http-addr", ":8000", "address to serve the action HTTP endpoint on")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	flags.StringVar(&cfg.AuthURL, "auth-url", "http://auth:9004/internal", "base URL of the external authentication service")
	flags.StringSliceVar(&cfg.AllowedOrigins, "cors-allowed-origins", []string{"*"}, "origins allowed to call the action endpoint cross-site")

	return serveCmd
}

func runServe(ctx context.Context, cfg *serveConfig) error {
	opts := []datastorecmd.Option{datastorecmd.FromConfig(&cfg.datastore)}
	if datastorecmd.Engine(cfg.datastore.Engine) == datastorecmd.PostgresEngine {
		pool, err := pgxpool.Connect(ctx, cfg.datastore.PostgresURI)
		if err != nil {
			return fmt.Errorf("serve: connecting to postgres: %w", err)
		}
		// pgx's extended protocol runs one statement per Exec.
		for _, stmt := range strings.Split(postgres.Schema, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("serve: applying datastore schema: %w", err)
			}
		}
		opts = append(opts, datastorecmd.WithPostgresPool(pool))
	}
	db, err := datastorecmd.NewDatastore(ctx, opts...)
	if err != nil {
		return fmt.Errorf("serve: building datastore client: %w", err)
	}

	checker := &permission.DatastoreChecker{DB: db}
	registry, err := actions.Build(checker)
	if err != nil {
		return fmt.Errorf("serve: building action registry: %w", err)
	}

	auth := authadapter.NewHTTPService(cfg.AuthURL)
	dispatcher := &dispatch.Dispatcher{
		Actions: registry.Actions,
		Models:  registry.Models,
		DB:      db,
		Perm:    checker,
		Auth:    auth,
	}
	srv := server.New(dispatcher, auth)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodPost},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(srv.Handler())
	handler = otelhttp.NewHandler(handler, "action")

	addr := stringz.DefaultEmpty(cfg.Addr, ":8000")
	color.New(color.FgGreen, color.Bold).Printf("backend listening on %s\n", addr)
	log.Info().Str("engine", cfg.datastore.Engine).Str("addr", addr).Msg("starting action server")

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(telemetry.Registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	return http.ListenAndServe(addr, handler)
}
