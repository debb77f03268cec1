package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aetherpack/aetherbot/internal/adapters"
	"github.com/aetherpack/aetherbot/internal/adapters/dingtalk"
	"github.com/aetherpack/aetherbot/internal/adapters/discord"
	"github.com/aetherpack/aetherbot/internal/adapters/lark"
	"github.com/aetherpack/aetherbot/internal/adapters/onebot"
	"github.com/aetherpack/aetherbot/internal/adapters/telegram"
	"github.com/aetherpack/aetherbot/internal/agent"
	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/dispatcher"
	"github.com/aetherpack/aetherbot/internal/history"
	"github.com/aetherpack/aetherbot/internal/pipeline"
	"github.com/aetherpack/aetherbot/internal/providers"
	"github.com/aetherpack/aetherbot/internal/telemetry"
	"github.com/aetherpack/aetherbot/internal/tools"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}

	store, err := history.Open(cfg.History)
	if err != nil {
		slog.Error("failed to open history store", "error", err)
		os.Exit(1)
	}

	registry, err := providers.NewRegistry(cfg.Providers)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		os.Exit(1)
	}
	if registry.Len() == 0 {
		slog.Warn("no llm providers configured; users will get an error reply")
	}

	toolbox := tools.NewRegistry()
	for _, tool := range []tools.Tool{tools.NewClock(), tools.NewConversationReset(store)} {
		if err := toolbox.Register(tool); err != nil {
			slog.Error("tool registration failed", "tool", tool.Name(), "error", err)
			os.Exit(1)
		}
	}

	bus := dispatcher.New()
	manager := adapters.NewManager(bus)
	buildAdapters(cfg, bus, manager)
	if manager.Len() == 0 {
		slog.Error("no platform adapters enabled; nothing to do")
		os.Exit(1)
	}

	pipe := pipeline.New(ctx, cfg, manager.Send,
		pipeline.AccessStage{},
		pipeline.NewRateStage(),
		pipeline.WakeStage{},
		pipeline.NewAgentStage(registry, store, agent.New(toolbox)),
		pipeline.RenderStage{},
	)

	// wire every handler before any adapter can publish
	bus.Subscribe(dispatcher.EventMessageReceived, "pipeline", pipe.HandleEvent)
	bus.Subscribe(dispatcher.EventConnected, "lifecycle-log", logLifecycle)
	bus.Subscribe(dispatcher.EventDisconnected, "lifecycle-log", logLifecycle)
	bus.Subscribe(dispatcher.EventDecodeFailed, "decode-log", logDecodeFailure)

	if err := bus.Verify(
		dispatcher.EventMessageReceived,
		dispatcher.EventConnected,
		dispatcher.EventDisconnected,
		dispatcher.EventDecodeFailed,
	); err != nil {
		slog.Error("dispatcher wiring incomplete", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := config.Watch(ctx, cfgPath, cfg); err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	if err := manager.StartAll(ctx); err != nil {
		slog.Warn("running with degraded platform coverage", "error", err)
	}
	slog.Info("aetherbot gateway running", "version", Version, "adapters", manager.Len())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")

	cancel()
	manager.StopAll()
	pipe.Wait()
	if err := store.Close(); err != nil {
		slog.Warn("history close failed", "error", err)
	}
	if err := shutdownTracing(context.Background()); err != nil {
		slog.Warn("trace flush failed", "error", err)
	}
}

func buildAdapters(cfg *config.Config, bus *dispatcher.Dispatcher, manager *adapters.Manager) {
	if cfg.Platforms.Telegram.Enabled {
		a, err := telegram.New(cfg.Platforms.Telegram, bus)
		if err != nil {
			slog.Error("telegram adapter unavailable", "error", err)
		} else {
			manager.Add(a)
		}
	}
	if cfg.Platforms.Discord.Enabled {
		a, err := discord.New(cfg.Platforms.Discord, bus)
		if err != nil {
			slog.Error("discord adapter unavailable", "error", err)
		} else {
			manager.Add(a)
		}
	}
	if cfg.Platforms.OneBot.Enabled {
		manager.Add(onebot.New(cfg.Platforms.OneBot, bus))
	}
	if cfg.Platforms.DingTalk.Enabled {
		manager.Add(dingtalk.New(cfg.Platforms.DingTalk, bus))
	}
	if cfg.Platforms.Lark.Enabled {
		a, err := lark.New(cfg.Platforms.Lark, bus)
		if err != nil {
			slog.Error("lark adapter unavailable", "error", err)
		} else {
			manager.Add(a)
		}
	}
}

func logLifecycle(ev dispatcher.Event) error {
	slog.Info("platform state changed", "platform", ev.PlatformID, "event", ev.Kind)
	return nil
}

func logDecodeFailure(ev dispatcher.Event) error {
	slog.Warn("inbound event decode failed", "platform", ev.PlatformID, "error", ev.Err)
	return nil
}
