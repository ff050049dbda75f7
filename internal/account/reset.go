package account

import (
	"context"

	"github.com/robfig/cron/v3"

	logx "blastbot/pkg/logx"
)

// ResetScheduler fires the pool's daily quota reset at midnight in the
// pool's configured location. The pool also rolls over lazily on access,
// so the cron tick mainly keeps idle accounts fresh and the log honest.
type ResetScheduler struct {
	c   *cron.Cron
	log logx.Logger
}

func NewResetScheduler(p *Pool, log logx.Logger) (*ResetScheduler, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := cron.New(cron.WithLocation(p.Location()))
	if _, err := c.AddFunc("0 0 * * *", p.ResetDaily); err != nil {
		return nil, err
	}
	return &ResetScheduler{c: c, log: log}, nil
}

func (s *ResetScheduler) Start(ctx context.Context) {
	s.c.Start()
	s.log.Debug("daily reset scheduler started")
}

func (s *ResetScheduler) Stop(ctx context.Context) {
	stopped := s.c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	s.log.Debug("daily reset scheduler stopped")
}
