package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/feed"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/tenant"
	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

// ErrBusy is returned by TriggerNow while a cycle is already in flight.
var ErrBusy = errors.New("a check is already in progress")

// Fetcher returns the feed's current active alerts. Satisfied by *feed.Client.
type Fetcher interface {
	FetchActiveAlerts(ctx context.Context) []feed.Alert
}

// Deliverer fans a batch out to tenants. Satisfied by *fanout.Deliverer.
type Deliverer interface {
	DeliverBatch(ctx context.Context, alerts []feed.Alert) int
}

// DeliveredView is the read side of the delivered set used for filtering.
type DeliveredView interface {
	Contains(id string) bool
	Len() int
}

// Stats is a point-in-time view of the poll loop for the status surface.
type Stats struct {
	Cycles        int64
	LastCycleAt   time.Time
	LastCycleNew  int
	DeliveredSize int
}

// Service runs the poll loop: fetch, filter, deliver. Cycles never overlap;
// manual triggers share the same exclusion as the scheduled tick.
type Service struct {
	interval  time.Duration
	fetcher   Fetcher
	deliverer Deliverer
	registry  *tenant.Registry
	delivered DeliveredView
	log       logx.Logger

	cycleMu sync.Mutex

	statsMu      sync.Mutex
	cycles       int64
	lastCycleAt  time.Time
	lastCycleNew int
}

func New(
	interval time.Duration,
	fetcher Fetcher,
	deliverer Deliverer,
	registry *tenant.Registry,
	delivered DeliveredView,
	log logx.Logger,
) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		interval:  interval,
		fetcher:   fetcher,
		deliverer: deliverer,
		registry:  registry,
		delivered: delivered,
		log:       log,
	}
}

// Run blocks until ctx is done, firing a cycle immediately and then on every
// interval tick.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("poll loop starting",
		logx.Duration("interval", s.interval),
		logx.Int("delivered", s.delivered.Len()))

	// First cycle right away; the schedule only fires after one interval.
	s.tick(ctx)

	c := cron.New()
	if _, err := c.AddFunc("@every "+s.interval.String(), func() { s.tick(ctx) }); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn("poll loop stop timed out waiting for running cycle")
	}
	return ctx.Err()
}

// tick runs a scheduled cycle, skipping if the previous one is still going.
func (s *Service) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.cycleMu.TryLock() {
		s.log.Warn("previous cycle still running, skipping tick")
		return
	}
	defer s.cycleMu.Unlock()
	s.runCycle(ctx, "schedule")
}

// TriggerNow runs one cycle on demand. Returns ErrBusy instead of queueing
// when a cycle is already in flight.
func (s *Service) TriggerNow(ctx context.Context) error {
	if !s.cycleMu.TryLock() {
		return ErrBusy
	}
	defer s.cycleMu.Unlock()
	s.runCycle(ctx, "manual")
	return nil
}

func (s *Service) runCycle(ctx context.Context, trigger string) {
	cycle := uuid.NewString()
	log := s.log.With(logx.String("cycle", cycle), logx.String("trigger", trigger))

	tenants := s.registry.Count()
	if tenants == 0 {
		// Nobody to deliver to; don't touch the feed at all.
		log.Debug("no tenants registered, skipping fetch")
		s.recordCycle(0)
		return
	}

	start := time.Now()
	alerts := s.fetcher.FetchActiveAlerts(ctx)
	fresh := feed.FilterNew(alerts, s.delivered)
	if len(fresh) == 0 {
		log.Debug("no new alerts",
			logx.Int("active", len(alerts)),
			logx.Duration("took", time.Since(start)))
		s.recordCycle(0)
		return
	}

	log.Info("new alerts found",
		logx.Int("new", len(fresh)),
		logx.Int("active", len(alerts)),
		logx.Int("tenants", tenants))

	posted := s.deliverer.DeliverBatch(ctx, fresh)
	log.Info("cycle finished",
		logx.Int("new", len(fresh)),
		logx.Int("committed", posted),
		logx.Duration("took", time.Since(start)))
	s.recordCycle(len(fresh))
}

func (s *Service) recordCycle(fresh int) {
	s.statsMu.Lock()
	s.cycles++
	s.lastCycleAt = time.Now()
	s.lastCycleNew = fresh
	s.statsMu.Unlock()
}

func (s *Service) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Stats{
		Cycles:        s.cycles,
		LastCycleAt:   s.lastCycleAt,
		LastCycleNew:  s.lastCycleNew,
		DeliveredSize: s.delivered.Len(),
	}
}
