package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Sweeper runs housekeeping jobs (finished sessions, lobby tombstones) on a
// fixed cadence.
type Sweeper struct {
	sched    gocron.Scheduler
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(log *zap.Logger, interval time.Duration, opts ...gocron.SchedulerOption) (*Sweeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("sweeper")
	opts = append([]gocron.SchedulerOption{gocron.WithLogger(gocronLogger{log.Sugar()})}, opts...)
	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Sweeper{sched: sched, interval: interval, log: log}, nil
}

// Every registers fn to run once per interval. A run still in progress when
// the next is due is skipped.
func (s *Sweeper) Every(name string, fn func(ctx context.Context) (int, error)) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func(ctx context.Context) {
			n, err := fn(ctx)
			if err != nil {
				s.log.Error("sweep failed", zap.String("job", name), zap.Error(err))
				return
			}
			if n > 0 {
				s.log.Debug("sweep done", zap.String("job", name), zap.Int("removed", n))
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// SweepSessions schedules h.Sweep with the given retention.
func (s *Sweeper) SweepSessions(h *Hub, retention time.Duration) error {
	return s.Every("sessions", func(ctx context.Context) (int, error) {
		return h.Sweep(ctx, retention)
	})
}

func (s *Sweeper) Start() { s.sched.Start() }

func (s *Sweeper) Shutdown() error { return s.sched.Shutdown() }

// gocronLogger adapts zap's sugared key/value logger to gocron.Logger.
type gocronLogger struct{ l *zap.SugaredLogger }

func (g gocronLogger) Debug(msg string, args ...any) { g.l.Debugw(msg, args...) }
func (g gocronLogger) Info(msg string, args ...any)  { g.l.Infow(msg, args...) }
func (g gocronLogger) Warn(msg string, args ...any)  { g.l.Warnw(msg, args...) }
func (g gocronLogger) Error(msg string, args ...any) { g.l.Errorw(msg, args...) }
