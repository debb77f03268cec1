package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/dispatcher"
	"github.com/aetherpack/aetherbot/internal/message"
)

// Sender delivers a rendered reply back to its platform adapter.
type Sender func(ctx context.Context, out *message.Outbound) error

// Pipeline runs the stage chain for every inbound message. Messages in
// the same chat run one at a time in arrival order; distinct chats run
// concurrently, each on its own goroutine.
type Pipeline struct {
	cfg    *config.Config
	stages []Stage
	send   Sender
	locks  *lockArena

	ctx context.Context
	wg  sync.WaitGroup
}

func New(ctx context.Context, cfg *config.Config, send Sender, stages ...Stage) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		stages: stages,
		send:   send,
		locks:  newLockArena(),
		ctx:    ctx,
	}
}

// HandleEvent is the dispatcher subscription point for inbound messages.
func (p *Pipeline) HandleEvent(ev dispatcher.Event) error {
	if ev.Kind != dispatcher.EventMessageReceived || ev.Message == nil {
		return nil
	}
	p.wg.Add(1)
	go p.process(ev.Message)
	return nil
}

// Wait blocks until in-flight runs drain. Called during shutdown after
// the root context is cancelled.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) process(msg *message.Message) {
	defer p.wg.Done()

	key := msg.ChatKey()
	entry := p.locks.acquire(key)
	defer p.locks.release(key, entry)

	if p.ctx.Err() != nil {
		return
	}

	// one immutable config view for the whole run
	st := &State{
		Msg:  msg,
		Snap: p.cfg.Snapshot(),
		Meta: make(map[string]any),
	}

	for _, stage := range p.stages {
		if err := stage.Run(p.ctx, st); err != nil {
			slog.Error("pipeline: stage failed",
				"stage", stage.Name(), "chat", key, "error", err)
			break
		}
		if st.Terminal {
			break
		}
	}

	// a run aborted by shutdown produces no reply
	if st.Reply == nil || p.ctx.Err() != nil {
		return
	}
	if err := p.send(p.ctx, st.Reply); err != nil {
		slog.Error("pipeline: reply delivery failed", "chat", key, "error", err)
	}
}
