// workers/scheduler.go
package workers

import (
	"context"
	"fmt"
	"time"

	"hyrebuy-backend/services"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const inviteSweepInterval = 5 * time.Minute

// SnapshotStore receives exported leaderboard snapshots.
type SnapshotStore interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

type LeaderboardSnapshot struct {
	GeneratedAt time.Time                   `json:"generated_at"`
	Entries     []services.LeaderboardEntry `json:"entries"`
}

// Scheduler runs the periodic maintenance jobs.
type Scheduler struct {
	Groups *services.GroupService
	Ledger *services.RewardsLedger
	Store  SnapshotStore // nil disables export
	Log    *zap.Logger

	SnapshotSize       int
	LeaderboardRefresh time.Duration

	sched gocron.Scheduler
}

func NewScheduler(groups *services.GroupService, ledger *services.RewardsLedger, store SnapshotStore, log *zap.Logger, snapshotSize int, refresh time.Duration) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if snapshotSize < 1 {
		snapshotSize = 100
	}
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}
	return &Scheduler{
		Groups:             groups,
		Ledger:             ledger,
		Store:              store,
		Log:                log,
		SnapshotSize:       snapshotSize,
		LeaderboardRefresh: refresh,
	}
}

// Start registers the jobs and starts the scheduler. Jobs stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	// Every 5 minutes: expire stale invites
	if _, err := sched.NewJob(
		gocron.DurationJob(inviteSweepInterval),
		gocron.NewTask(func() {
			if _, err := s.ExpireInvites(ctx); err != nil {
				s.Log.Error("[SCHEDULER] invite expiry failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("register invite expiry job: %w", err)
	}

	// Leaderboard refresh and snapshot export
	if _, err := sched.NewJob(
		gocron.DurationJob(s.LeaderboardRefresh),
		gocron.NewTask(func() {
			if err := s.RefreshLeaderboard(ctx); err != nil {
				s.Log.Error("[SCHEDULER] leaderboard refresh failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("register leaderboard job: %w", err)
	}

	s.sched = sched
	sched.Start()
	s.Log.Info("[SCHEDULER] started",
		zap.Duration("invite_sweep", inviteSweepInterval),
		zap.Duration("leaderboard_refresh", s.LeaderboardRefresh),
	)
	return nil
}

func (s *Scheduler) Shutdown() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}

func (s *Scheduler) ExpireInvites(ctx context.Context) (int64, error) {
	return s.Groups.ExpireInvites(ctx, time.Now())
}

// RefreshLeaderboard recomputes the stored ranks of the top accounts and, when a store is
// configured, uploads the snapshot to leaderboards/<RFC3339>.json.
func (s *Scheduler) RefreshLeaderboard(ctx context.Context) error {
	entries, err := s.Ledger.Leaderboard(ctx, s.SnapshotSize)
	if err != nil {
		return err
	}
	if s.Store == nil {
		return nil
	}
	now := time.Now().UTC()
	key := "leaderboards/" + now.Format(time.RFC3339) + ".json"
	url, err := s.Store.PutJSON(ctx, key, LeaderboardSnapshot{GeneratedAt: now, Entries: entries})
	if err != nil {
		return err
	}
	s.Log.Info("[SCHEDULER] leaderboard snapshot exported", zap.String("url", url), zap.Int("entries", len(entries)))
	return nil
}
