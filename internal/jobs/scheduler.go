package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"warden/internal/ids"
	"warden/internal/repository"
)

const purgeLeaseKey = "warden:jobs:purge-tokens"

// Scheduler runs housekeeping on a cron schedule. Purging is an optimization:
// expired and revoked tokens are already rejected by every lookup.
type Scheduler struct {
	cron     *cron.Cron
	tokens   repository.TokenStore
	lease    *redis.Client
	leaseTTL time.Duration
	schedule string
	owner    string
	now      func() time.Time
	log      zerolog.Logger
}

// NewScheduler builds a scheduler over the token store. lease may be nil, in
// which case every replica purges on its own schedule.
func NewScheduler(tokens repository.TokenStore, lease *redis.Client, schedule string, leaseTTL time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		tokens:   tokens,
		lease:    lease,
		leaseTTL: leaseTTL,
		schedule: schedule,
		owner:    ids.New(),
		now:      time.Now,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.schedule == "" {
		s.log.Info().Msg("token purge disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.purge); err != nil {
		return fmt.Errorf("schedule token purge %q: %w", s.schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule. The returned context is done once a running purge
// has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.RunPurge(ctx); err != nil {
		s.log.Error().Err(err).Msg("token purge failed")
	}
}

// RunPurge removes expired and revoked tokens once, unless another replica
// holds the lease.
func (s *Scheduler) RunPurge(ctx context.Context) (int64, error) {
	if s.lease != nil {
		acquired, err := s.lease.SetNX(ctx, purgeLeaseKey, s.owner, s.leaseTTL).Result()
		if err != nil {
			s.log.Warn().Err(err).Msg("purge lease unavailable, purging anyway")
		} else if !acquired {
			s.log.Debug().Msg("token purge skipped, lease held elsewhere")
			return 0, nil
		}
	}

	n, err := s.tokens.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	if n > 0 {
		s.log.Info().Int64("removed", n).Msg("expired tokens purged")
	}
	return n, nil
}
