package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ecomsync/easyecom-extract/pkg/auth"
	"github.com/ecomsync/easyecom-extract/pkg/client"
	"github.com/ecomsync/easyecom-extract/pkg/engine"
	"github.com/ecomsync/easyecom-extract/pkg/logging"
	"github.com/ecomsync/easyecom-extract/pkg/sink"
	"github.com/ecomsync/easyecom-extract/pkg/state"
	"github.com/ecomsync/easyecom-extract/pkg/stream"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "easyecom-extract",
		Short:         "Incremental record extractor for the EasyEcom API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (default ./easyecom-extract.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-pretty", false, "human-readable log output")

	root.AddCommand(newRunCmd())
	root.AddCommand(newStreamsCmd())

	return root
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// initConfig wires viper: config file, EASYECOM_* env vars, flag overrides.
func initConfig(cmd *cobra.Command) error {
	v := viper.GetViper()

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("easyecom-extract")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("EASYECOM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_url", "https://api.easyecom.io")
	v.SetDefault("state_path", "state.json")
	v.SetDefault("page_timeout", "30s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	level, _ := cmd.Flags().GetString("log-level")
	pretty, _ := cmd.Flags().GetBool("log-pretty")
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(level),
		Pretty: pretty,
		Output: os.Stderr,
	})

	return nil
}

func newStreamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streams",
		Short: "List the streams this extractor knows about",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, st := range stream.All() {
				mode := "FULL_TABLE"
				if st.ReplicationKey != "" {
					mode = "INCREMENTAL(" + st.ReplicationKey + ")"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s %-12s %s\n", st.Name, mode, st.Path)
			}
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract all streams and emit RECORD/STATE messages on stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cmd); err != nil {
				return err
			}
			return runExtraction(cmd)
		},
	}
	cmd.Flags().String("state", "", "state file path (overrides state_path)")
	cmd.Flags().StringSlice("select", nil, "only extract the named streams")
	return cmd
}

func runExtraction(cmd *cobra.Command) error {
	ctx := cmd.Context()
	v := viper.GetViper()
	logger := logging.NewLogger("main")

	for _, key := range []string{"email", "password", "location_key"} {
		if v.GetString(key) == "" {
			return fmt.Errorf("missing required config %q", key)
		}
	}

	// State store: Redis when configured, local file otherwise.
	var store state.Store
	if redisURL := v.GetString("redis_url"); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis %s: %w", redisURL, err)
		}
		defer redisClient.Close()
		store = state.NewRedisStore(redisClient, v.GetString("redis_key"))
		logger.Info().Str("redis", redisURL).Msg("Using Redis state store")
	} else {
		path := v.GetString("state_path")
		if flagPath, _ := cmd.Flags().GetString("state"); flagPath != "" {
			path = flagPath
		}
		store = state.NewFileStore(path)
		logger.Info().Str("path", path).Msg("Using file state store")
	}

	runState, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	// Seed the authenticator with the persisted token triple so a still
	// valid token from the previous run is reused.
	var seed auth.Credential
	if t := runState.Token; t != nil {
		seed = auth.Credential{
			Token:    t.AccessToken,
			IssuedAt: time.Unix(int64(t.TokenCreatedAt), 0),
			TTL:      time.Duration(t.ExpiresIn) * time.Second,
		}
	}

	apiURL := strings.TrimRight(v.GetString("api_url"), "/")
	authURL := v.GetString("auth_url")
	if authURL == "" {
		authURL = apiURL + "/access/token"
	}

	authenticator, err := auth.New(auth.Config{
		Endpoint:    authURL,
		Email:       v.GetString("email"),
		Password:    v.GetString("password"),
		LocationKey: v.GetString("location_key"),
	}, seed)
	if err != nil {
		return fmt.Errorf("create authenticator: %w", err)
	}

	apiClient, err := client.New(client.Config{
		BaseURL:   apiURL,
		Auth:      authenticator,
		UserAgent: v.GetString("user_agent"),
		Timeout:   v.GetDuration("page_timeout"),
	}, client.DefaultRetryPolicy(logging.NewLogger("retry")))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	streams, err := selectStreams(cmd)
	if err != nil {
		return err
	}

	var startDate time.Time
	if raw := v.GetString("start_date"); raw != "" {
		startDate, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			// Accept the API's own layout too.
			startDate, err = time.Parse(state.ReplicationKeyLayout, raw)
		}
		if err != nil {
			return fmt.Errorf("parse start_date %q: %w", raw, err)
		}
	}

	if metricsAddr := v.GetString("metrics_addr"); metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	eng, err := engine.New(
		apiClient,
		streams,
		runState,
		sink.NewJSONWriter(os.Stdout),
		engine.Config{StartDate: startDate},
		engine.WithStore(store),
		engine.WithCredentialSource(authenticator),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	logger.Info().Int("streams", len(streams)).Msg("Starting extraction run")
	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("extraction run: %w", err)
	}
	logger.Info().Msg("Extraction run complete")
	return nil
}

// selectStreams applies the --select filter to the stream registry.
func selectStreams(cmd *cobra.Command) ([]stream.Stream, error) {
	selected, _ := cmd.Flags().GetStringSlice("select")
	all := stream.All()
	if len(selected) == 0 {
		return all, nil
	}

	byName := make(map[string]stream.Stream, len(all))
	for _, st := range all {
		byName[st.Name] = st
	}

	var out []stream.Stream
	for _, name := range selected {
		st, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown stream %q", name)
		}
		out = append(out, st)
	}
	return out, nil
}

// serveMetrics exposes /metrics for Prometheus scraping.
func serveMetrics(addr string) {
	logger := logging.NewLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics server failed")
	}
}
