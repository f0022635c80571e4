package rollover

import (
	"context"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

const (
	DefaultInterval = time.Minute
	stopTimeout     = 5 * time.Second
)

// Service drives a Detector from a fixed-interval cron schedule.
type Service struct {
	detector *Detector
	interval time.Duration
	// OnTick, if set, observes every poll.
	OnTick func(rolled bool)

	mu     sync.Mutex
	cron   *rcron.Cron
	cancel context.CancelFunc
	stopCh chan struct{}
}

func NewService(detector *Detector, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{detector: detector, interval: interval}
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	logger := rcron.PrintfLogger(log.Default())
	c := rcron.New(rcron.WithChain(rcron.Recover(logger), rcron.SkipIfStillRunning(logger)))
	c.Schedule(rcron.Every(s.interval), rcron.FuncJob(func() {
		rolled := s.detector.Tick(runCtx)
		if s.OnTick != nil {
			s.OnTick(rolled)
		}
	}))

	s.mu.Lock()
	s.cron = c
	s.cancel = cancel
	s.stopCh = stopCh
	s.mu.Unlock()

	c.Start()
	log.Printf("[rollover] started, every %s, watching from %s", s.interval, s.detector.LastObserved())

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// Stop halts the timer and waits up to five seconds for a running check.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	stopCh := s.stopCh
	s.cron = nil
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if stopCh != nil {
		close(stopCh)
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(stopTimeout):
		log.Printf("[rollover] stop timeout waiting for running check")
	}
	if cancel != nil {
		cancel()
	}
	log.Printf("[rollover] stopped")
}
