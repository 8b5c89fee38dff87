package soul

import (
	"sync"

	"github.com/lunalinkco/aster/internal/bus"
	"github.com/lunalinkco/aster/internal/config"
)

// Soul runs the perception-gating and response-decision pipeline for
// one agent instance. It performs no I/O itself; side effects are
// observable only through dispatched actions.
type Soul struct {
	name     string
	cog      Cognition
	store    Store
	search   Searcher
	gate     Gate
	dispatch func(bus.Action)

	retrievalFloor float64
	retrievalLimit int
	summaryTrigger int
	summaryKeep    int
	paintEnabled   bool

	mu       sync.RWMutex
	mentions map[string]string // channel name -> explicit mention token
}

// New wires a Soul from its collaborators. search may be nil to
// disable retrieval augmentation.
func New(cfg *config.Config, cog Cognition, store Store, search Searcher, dispatch func(bus.Action)) *Soul {
	return &Soul{
		name:           cfg.Agent.Name,
		cog:            cog,
		store:          store,
		search:         search,
		gate:           Gate{BacklogLimit: cfg.Gate.BacklogLimit},
		dispatch:       dispatch,
		retrievalFloor: cfg.Retrieval.SimilarityFloor,
		retrievalLimit: cfg.Retrieval.Limit,
		summaryTrigger: cfg.Summary.Trigger,
		summaryKeep:    cfg.Summary.Keep,
		paintEnabled:   cfg.Paint.Enabled,
		mentions:       make(map[string]string),
	}
}

// Name returns the agent's display name.
func (s *Soul) Name() string {
	return s.name
}

// SetMention registers the explicit mention token for a channel, used
// by the addressee fast path. Channel adapters call this once their
// own platform identity is known.
func (s *Soul) SetMention(channel, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mentions[channel] = token
}

func (s *Soul) mentionToken(channel string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mentions[channel]
}
