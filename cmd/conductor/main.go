/*
Copyright 2026 The Conductor Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// conductor runs the autonomous multi-agent orchestrator described in
// the design: it resolves configuration and the static feature catalog,
// wires the pluggable external collaborators (Notifier, VCS, Builder,
// DecisionChannel) from their driver settings, and drives the
// orchestrator until the backlog drains or it is signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/conductorhq/conductor/internal/catalog"
	"github.com/conductorhq/conductor/internal/config"
	"github.com/conductorhq/conductor/internal/orchestrator"
	"github.com/conductorhq/conductor/internal/telemetry/httpserver"
	"github.com/conductorhq/conductor/internal/telemetry/logging"
	"github.com/conductorhq/conductor/internal/telemetry/metrics"
	"github.com/conductorhq/conductor/internal/telemetry/tracing"
	"github.com/conductorhq/conductor/pkg/builder"
	"github.com/conductorhq/conductor/pkg/decisionchannel"
	"github.com/conductorhq/conductor/pkg/notify"
	"github.com/conductorhq/conductor/pkg/vcs"
)

func main() {
	configPath := flag.String("config", "./conductor.yaml", "path to the orchestrator configuration document")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "conductor: load config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "conductor: build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	cat, err := catalog.Load(cfg.Paths.CatalogPath)
	if err != nil {
		logger.Fatal("load catalog", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Configure(ctx, "conductor", cfg.Admin.Enabled)
	if err != nil {
		logger.Fatal("configure tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	m := metrics.New()

	collab := orchestrator.Collaborators{
		Notifier:        buildNotifier(cfg.Notify, logger),
		VCS:             vcs.NewGit(cfg.VCS.WorkDir),
		Build:           buildBuilder(ctx, cfg.Builder, logger),
		DecisionChannel: decisionchannel.Null{},
	}

	o, err := orchestrator.New(cfg, cat, collab, m, logger)
	if err != nil {
		logger.Fatal("construct orchestrator", zap.Error(err))
	}

	// DecisionChannel needs the orchestrator's own Queue as its
	// Answerer, so it is wired after construction rather than through
	// Collaborators above.
	o.SetDecisionChannel(buildDecisionChannel(cfg.DecisionChannel, o.Decisions(), logger))

	if cfg.Admin.Enabled {
		admin := httpserver.New(cfg.Admin.Addr, o, m)
		go func() {
			if err := admin.Run(ctx); err != nil {
				logger.Error("admin server exited", zap.Error(err))
			}
		}()
	}

	final, err := o.Run(ctx)
	if err != nil {
		logger.Fatal("orchestrator run failed", zap.Error(err))
	}

	logger.Info("run complete",
		zap.Int("completed", len(final.Completed)),
		zap.Int("blocked", len(final.Blocked)),
		zap.Int("pending", len(final.Pending)),
		zap.Int("in_progress", len(final.InProgress)),
	)
	for _, id := range final.Blocked {
		logger.Warn("feature blocked, needs human attention", zap.String("feature", id), zap.String("reason", final.Reasons[id]))
	}

	if len(final.Blocked) > 0 {
		os.Exit(2)
	}
}

func buildNotifier(cfg config.NotifyConfig, logger *zap.Logger) notify.Notifier {
	switch cfg.Driver {
	case "file":
		return notify.NewFileNotifier(cfg.FilePath)
	case "slack":
		return notify.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel)
	default:
		return notify.Null{}
	}
}

func buildBuilder(ctx context.Context, cfg config.BuilderConfig, logger *zap.Logger) builder.Builder {
	switch cfg.Driver {
	case "anthropic":
		return builder.NewAnthropic(os.Getenv("ANTHROPIC_API_KEY"), anthropic.Model(cfg.Model))
	case "bedrock":
		b, err := builder.NewBedrock(ctx, cfg.Region, cfg.Model)
		if err != nil {
			logger.Fatal("construct bedrock builder", zap.Error(err))
		}
		return b
	default:
		return &builder.Mock{Outputs: []string{"FEATURE_COMPLETE:mock"}}
	}
}

func buildDecisionChannel(cfg config.DecisionChannelConfig, answerer decisionchannel.Answerer, logger *zap.Logger) decisionchannel.Channel {
	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	switch cfg.Driver {
	case "file":
		return decisionchannel.NewFile(cfg.DropDir, answerer, logger)
	case "slack":
		return decisionchannel.NewSlack(cfg.SlackToken, cfg.SlackChannel, answerer, interval, logger)
	case "linear":
		return decisionchannel.NewLinear(cfg.LinearAPIKey, cfg.LinearTeamID, cfg.LinearLabel, answerer, interval, logger)
	default:
		return decisionchannel.Null{}
	}
}
