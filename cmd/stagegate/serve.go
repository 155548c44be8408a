// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fluxcd/pkg/runtime/logger"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/stagegate/stagegate/internal/metrics"
	"github.com/stagegate/stagegate/internal/web"
	"github.com/stagegate/stagegate/internal/web/config"
)

const defaultPort = 3000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gate server",
	Long: `Start the HTTP server that delivers the staged scripts, the token flow
and the real-time hub. Secrets are read from the environment:
GATEWAY_SECRET, LOGIN_SECRET, TOKEN_SECRET, WEBHOOK_URL and TOKEN_WEBHOOK_URL.`,
	Args: cobra.NoArgs,
	RunE: serveCmdRun,
}

type serveFlags struct {
	port        int
	metricsAddr string
}

var serveArgs serveFlags

func init() {
	serveCmd.Flags().IntVar(&serveArgs.port, "port", 0,
		"The port the web server binds to. Defaults to $PORT or 3000.")
	serveCmd.Flags().StringVar(&serveArgs.metricsAddr, "metrics-addr", ":8080",
		"The address the metric endpoint binds to. Empty disables it.")
	rootCmd.AddCommand(serveCmd)
}

func serveCmdRun(cmd *cobra.Command, args []string) error {
	logger.SetLogger(logger.NewLogger(rootArgs.logOptions))
	log := ctrl.Log.WithName("stagegate")

	conf, err := config.Load(rootArgs.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	port := serveArgs.port
	if port == 0 {
		port, err = config.PortFromEnv(os.Getenv, defaultPort)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctrl.SetupSignalHandler())
	defer cancel()

	opts, err := web.NewOptions(ctx, conf, config.SecretsFromEnv(os.Getenv))
	if err != nil {
		return err
	}
	log.Info("Configuration loaded", "version", conf.Version, "dataDir", conf.DataDir)

	metricsErr := make(chan error, 1)
	if serveArgs.metricsAddr != "" {
		metrics.MustRegisterMetrics()
		go func() {
			err := web.StartMetricsServer(ctx, serveArgs.metricsAddr, log)
			if err != nil {
				cancel()
			}
			metricsErr <- err
		}()
	} else {
		close(metricsErr)
	}

	serverErr := web.StartServer(ctx, opts, port, log)
	cancel()
	return errors.Join(serverErr, <-metricsErr)
}
