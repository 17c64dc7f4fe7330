package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Executor sends a command to a game server.
type Executor interface {
	Execute(ctx context.Context, serverID, command string) (string, error)
}

// maxResultLen caps the stored reply of a scheduled command.
const maxResultLen = 512

type Scheduler struct {
	store *Store
	exec  Executor
	now   func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func New(store *Store, exec Executor) *Scheduler {
	return &Scheduler{
		store: store,
		exec:  exec,
		now:   time.Now,
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			next := s.now().Truncate(time.Minute).Add(time.Minute)
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.RunDue(ctx, next)
			}
		}
	}()

	log.Info().Msg("scheduler started")
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// RunDue executes every enabled schedule whose expression matches now and
// records the outcome. It returns the number of schedules run.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	schedules, err := s.store.Enabled(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: load schedules")
		return 0
	}

	ran := 0
	for _, sc := range schedules {
		expr, err := ParseCron(sc.Cron)
		if err != nil {
			log.Warn().Err(err).Str("schedule", sc.ID).Str("cron", sc.Cron).Msg("scheduler: invalid cron")
			continue
		}
		if !expr.Matches(now) {
			continue
		}

		logger := log.With().Str("schedule", sc.ID).Str("server", sc.ServerID).Logger()
		logger.Info().Str("command", sc.Command).Msg("scheduler: running")

		result, err := s.exec.Execute(ctx, sc.ServerID, sc.Command)
		if err != nil {
			logger.Warn().Err(err).Msg("scheduler: command failed")
			result = "error: " + err.Error()
		}
		if len(result) > maxResultLen {
			result = result[:maxResultLen]
		}
		if err := s.store.MarkRun(ctx, sc.ID, now, result); err != nil {
			logger.Error().Err(err).Msg("scheduler: record run")
		}
		ran++
	}
	return ran
}
