// Package gateway wires the agent together: channels feed perceptions
// onto the bus, a single worker drives them through the soul pipeline,
// and resulting actions are routed back to the channels.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/lunalinkco/aster/internal/bus"
	"github.com/lunalinkco/aster/internal/channel"
	"github.com/lunalinkco/aster/internal/config"
	"github.com/lunalinkco/aster/internal/memory"
	"github.com/lunalinkco/aster/internal/mind"
	"github.com/lunalinkco/aster/internal/paint"
	"github.com/lunalinkco/aster/internal/soul"
)

// Options for creating a Gateway
type Options struct {
	Cognition  soul.Cognition // injected cognition for testing
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	soul     *soul.Soul
	engine   *memory.Engine
	channels *channel.ChannelManager
	cron     *cron.Cron
	closeCog func()

	mu      sync.Mutex
	pending []bus.Perception
	wake    chan struct{}

	wm *soul.WorkingMemory

	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		wake:       make(chan struct{}, 1),
		signalChan: opts.SignalChan,
	}

	dbPath := strings.TrimSpace(cfg.Memory.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "aster.db")
	}
	engine, err := memory.NewEngine(dbPath)
	if err != nil {
		return nil, fmt.Errorf("create memory engine: %w", err)
	}
	g.engine = engine

	var searcher soul.Searcher
	if cfg.Retrieval.Enabled {
		engine.SetEmbedder(memory.NewEmbedder(cfg))
		searcher = engine
	}

	persona := g.buildPersona()

	cog := opts.Cognition
	closeCog := func() {}
	if cog == nil {
		cog, closeCog, err = mind.New(cfg, persona)
		if err != nil {
			_ = engine.Close()
			return nil, fmt.Errorf("create cognition: %w", err)
		}
	}
	g.closeCog = closeCog

	g.soul = soul.New(cfg, cog, engine, searcher, g.bus.Dispatch)
	g.wm = soul.NewWorkingMemory(persona)

	var painter channel.Painter
	if cfg.Paint.Enabled {
		painter = paint.NewClient(cfg)
	}

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus, painter, func(ch, mention string) {
		g.soul.SetMention(ch, mention)
	})
	if err != nil {
		closeCog()
		_ = engine.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.cron = cron.New(cron.WithSeconds())
	schedule := cfg.Memory.CompactSchedule
	if schedule == "" {
		schedule = config.DefaultCompactSchedule
	}
	if _, err := g.cron.AddFunc(schedule, func() {
		log.Printf("[gateway] compacting memory store")
		if err := g.engine.Compact(cfg.Memory.DocRetentionDays); err != nil {
			log.Printf("[gateway] compact warning: %v", err)
		}
	}); err != nil {
		closeCog()
		_ = engine.Close()
		return nil, fmt.Errorf("schedule compaction: %w", err)
	}

	return g, nil
}

// buildPersona assembles the static core context from the workspace's
// SOUL.md, falling back to a minimal self-description.
func (g *Gateway) buildPersona() string {
	if data, err := os.ReadFile(filepath.Join(g.cfg.Agent.Workspace, "SOUL.md")); err == nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			return text
		}
	}
	return fmt.Sprintf("You are %s, a playful and curious conversationalist.", g.cfg.Agent.Name)
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	g.cron.Start()

	go g.intakeLoop(ctx)
	go g.workLoop(ctx)

	log.Printf("[gateway] %s is listening", g.soul.Name())

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// intakeLoop moves perceptions from the bus into the pending queue so
// the queue depth is observable while the worker is busy.
func (g *Gateway) intakeLoop(ctx context.Context) {
	for {
		select {
		case p := <-g.bus.Inbound:
			log.Printf("[gateway] perception from %s/%s: %s", p.Meta.Channel, p.AuthorName, truncate(p.Content, 80))
			g.mu.Lock()
			g.pending = append(g.pending, p)
			g.mu.Unlock()
			select {
			case g.wake <- struct{}{}:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

// workLoop drains the pending queue one perception at a time. The
// snapshot function hands the live queue to the pipeline so its gate
// decisions reflect messages that arrived after processing began.
func (g *Gateway) workLoop(ctx context.Context) {
	for {
		select {
		case <-g.wake:
			for {
				p, ok := g.pop()
				if !ok {
					break
				}
				g.process(ctx, p)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) pop() (bus.Perception, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) == 0 {
		return bus.Perception{}, false
	}
	p := g.pending[0]
	g.pending = append([]bus.Perception(nil), g.pending[1:]...)
	return p, true
}

func (g *Gateway) pendingSnapshot() []bus.Perception {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]bus.Perception, len(g.pending))
	copy(out, g.pending)
	return out
}

func (g *Gateway) process(ctx context.Context, p bus.Perception) {
	if g.cfg.Retrieval.Enabled && p.Kind == bus.PerceptionChatted && !p.Internal {
		doc := fmt.Sprintf("%s: %s", p.AuthorName, p.Content)
		go func() {
			if err := g.engine.AddDocument(ctx, doc); err != nil {
				log.Printf("[gateway] index perception warning: %v", err)
			}
		}()
	}

	g.wm = g.soul.Process(ctx, p, g.pendingSnapshot, g.wm)
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.engine != nil {
		if err := g.engine.Close(); err != nil {
			log.Printf("[gateway] close memory engine warning: %v", err)
		}
	}
	if g.closeCog != nil {
		g.closeCog()
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
