package policy

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSyncInterval is how often the syncer pulls a fresh snapshot.
const DefaultSyncInterval = 300 * time.Second

// Source fetches the resolved rule set for one agent from the control
// plane. The returned set is keyed like Store rules.
type Source interface {
	FetchPolicies(ctx context.Context, agentKey string) (Set, error)
}

// Syncer keeps a Store fresh by periodically pulling the full policy set
// and swapping it in atomically. A failed pull keeps the previous
// snapshot; evaluations never see a partial update.
type Syncer struct {
	store    *Store
	source   Source
	agentKey string
	interval time.Duration
}

func NewSyncer(store *Store, source Source, agentKey string, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Syncer{store: store, source: source, agentKey: agentKey, interval: interval}
}

// SyncOnce pulls and installs a single snapshot.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	rules, err := s.source.FetchPolicies(ctx, s.agentKey)
	if err != nil {
		return err
	}
	s.store.Replace(rules)
	log.Debug().Int("rules", len(rules)).Msg("policy snapshot replaced")
	return nil
}

// Run syncs immediately, then on every tick until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	if err := s.SyncOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("initial policy sync failed, keeping empty snapshot")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				log.Warn().Err(err).Msg("policy sync failed, keeping previous snapshot")
			}
		}
	}
}
