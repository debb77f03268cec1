package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aetherpack/aetherbot/internal/agent"
	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/history"
	"github.com/aetherpack/aetherbot/internal/message"
	"github.com/aetherpack/aetherbot/internal/providers"
	"github.com/aetherpack/aetherbot/internal/tools"
)

// ErrNoProvider marks a run that could not start because no LLM backend
// is configured. Users see a friendly localized text instead.
var ErrNoProvider = errors.New("no llm provider configured")

// MetaProviderID, set on State.Meta by an earlier stage, overrides the
// default provider for one run.
const MetaProviderID = "provider_id"

// AgentStage resolves the provider and persona, loads the history
// window, and drives the orchestrator to a terminal outcome.
type AgentStage struct {
	registry     *providers.Registry
	store        history.Store
	orchestrator *agent.Orchestrator
}

func NewAgentStage(registry *providers.Registry, store history.Store, orch *agent.Orchestrator) *AgentStage {
	return &AgentStage{registry: registry, store: store, orchestrator: orch}
}

func (*AgentStage) Name() string { return "agent" }

func (s *AgentStage) Run(ctx context.Context, st *State) error {
	if !st.Woken || st.Text == "" {
		st.Terminal = true
		return nil
	}

	texts := textsFor(st.Snap.Locale)

	pc, provider, err := s.resolveProvider(st)
	if err != nil {
		slog.Warn("pipeline: no usable provider", "chat", st.Msg.ChatKey(), "error", err)
		st.Reply = message.TextReply(st.Msg.PlatformID, st.Msg.ChatID, texts.NoProvider)
		st.Terminal = true
		return nil
	}

	systemPrompt := ""
	if persona, ok := st.Snap.DefaultPersona(); ok {
		systemPrompt = persona.SystemPrompt
		st.Persona = persona.Name
	}

	chatKey := st.Msg.ChatKey()
	hist, err := s.store.Recent(ctx, chatKey, st.Snap.Agent.HistoryWindow)
	if err != nil {
		slog.Warn("pipeline: history load failed", "chat", chatKey, "error", err)
		// run without context rather than dropping the message
		hist = nil
	}

	res := s.orchestrator.Run(ctx, agent.RunRequest{
		Provider:        provider,
		Model:           pc.Model,
		SystemPrompt:    systemPrompt,
		History:         hist,
		UserText:        st.Text,
		Invocation:      tools.Invocation{ChatKey: chatKey, SenderID: st.Msg.SenderID},
		MaxToolRounds:   st.Snap.Agent.MaxToolRounds,
		ProviderTimeout: st.Snap.Agent.ProviderTimeout(),
		ToolTimeout:     st.Snap.Agent.ToolTimeout(),
		Retry: providers.RetryConfig{
			MaxAttempts: st.Snap.Agent.MaxRetries,
			BaseDelay:   st.Snap.Agent.RetryDelay(),
		},
	})

	switch res.Outcome {
	case agent.OutcomeDone:
		s.persist(ctx, chatKey, res)
		st.Reply = message.TextReply(st.Msg.PlatformID, st.Msg.ChatID, res.Reply)
	case agent.OutcomeCapped:
		slog.Warn("pipeline: run capped", "chat", chatKey, "rounds", res.Rounds)
		s.persist(ctx, chatKey, res)
		reply := res.Reply
		if reply == "" {
			reply = texts.Capped
		}
		st.Reply = message.TextReply(st.Msg.PlatformID, st.Msg.ChatID, reply)
	case agent.OutcomeFailed:
		slog.Error("pipeline: run failed", "chat", chatKey, "error", res.Err)
		if errors.Is(res.Err, context.Canceled) {
			// cancelled runs end without a user-visible reply
			st.Terminal = true
			return nil
		}
		st.Reply = message.TextReply(st.Msg.PlatformID, st.Msg.ChatID, texts.Failed)
	}
	return nil
}

// resolveProvider picks the per-run override when set, otherwise the
// configured default.
func (s *AgentStage) resolveProvider(st *State) (config.ProviderConfig, providers.Provider, error) {
	var pc config.ProviderConfig
	var ok bool

	if id, has := st.Meta[MetaProviderID].(string); has && id != "" {
		pc, ok = st.Snap.ProviderByID(id)
		if !ok {
			return pc, nil, fmt.Errorf("%w: override %q not found", ErrNoProvider, id)
		}
	} else if pc, ok = st.Snap.DefaultProvider(); !ok {
		return pc, nil, ErrNoProvider
	}

	if p, found := s.registry.Get(pc.ID); found {
		return pc, p, nil
	}
	// provider added by hot reload after the registry was built
	p, err := providers.Build(pc)
	if err != nil {
		return pc, nil, err
	}
	return pc, p, nil
}

func (s *AgentStage) persist(ctx context.Context, chatKey string, res *agent.RunResult) {
	if err := s.store.Append(ctx, chatKey, res.NewTurns...); err != nil {
		slog.Warn("pipeline: history append failed", "chat", chatKey, "error", err)
	}
}
