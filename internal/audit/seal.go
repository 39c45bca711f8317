package audit

import (
	"context"
	"encoding/json"

	"github.com/kurogate/kuro/infrastructure/logging"
	"github.com/kurogate/kuro/infrastructure/state"
)

const headKey = "head"

// HeadStore persists the chain head across restarts so a freshly started
// gateway continues the same hash chain instead of starting a new one.
type HeadStore struct {
	state *state.PersistentState
}

func NewHeadStore(backend state.PersistenceBackend) (*HeadStore, error) {
	ps, err := state.NewPersistentState(state.Config{
		Backend:   backend,
		KeyPrefix: "audit:",
		MaxSize:   4096,
	})
	if err != nil {
		return nil, err
	}
	return &HeadStore{state: ps}, nil
}

// Load returns the last persisted head, or a zero head if none exists yet.
func (h *HeadStore) Load(ctx context.Context) (Head, error) {
	data, err := h.state.Load(ctx, headKey)
	if err != nil {
		return Head{}, nil
	}
	var head Head
	if err := json.Unmarshal(data, &head); err != nil {
		return Head{}, err
	}
	return head, nil
}

// Save persists the current head.
func (h *HeadStore) Save(ctx context.Context, head Head) error {
	data, err := json.Marshal(head)
	if err != nil {
		return err
	}
	return h.state.Save(ctx, headKey, data)
}

// Sealer flushes the in-memory chain head to durable storage and appends
// "day_sealed" marker entries on request. cmd/gateway runs Flush every five
// minutes; nothing calls SealDay automatically at a day boundary.
type Sealer struct {
	chain *Chain
	heads *HeadStore
	log   *logging.Logger
}

func NewSealer(chain *Chain, heads *HeadStore, log *logging.Logger) *Sealer {
	return &Sealer{chain: chain, heads: heads, log: log}
}

// Flush persists the current head. Intended to run from a cron schedule
// (see cmd/gateway wiring of robfig/cron) every few minutes.
func (s *Sealer) Flush(ctx context.Context) error {
	head := s.chain.Head()
	if err := s.heads.Save(ctx, head); err != nil {
		if s.log != nil {
			s.log.WithError(err).Error("audit head flush failed")
		}
		return err
	}
	return nil
}

// SealDay appends a day_sealed marker entry naming day as its resource and
// then flushes the head. The marker is written to the file of the current
// UTC date, whichever day is named, and the next entry chains from its hash.
func (s *Sealer) SealDay(ctx context.Context, day string) error {
	_, err := s.chain.Append("", "system", "day_sealed", day, nil)
	if err != nil {
		return err
	}
	return s.Flush(ctx)
}
