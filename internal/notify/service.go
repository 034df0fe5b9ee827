package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	logx "planbook/pkg/logx"
)

const fireLayout = "2006-01-02 15:04"

// Reminder is one armed alert.
type Reminder struct {
	ID      int64 // record id; arming again for the same id replaces
	Date    string
	Time    string
	Message string
	At      time.Time
}

// Sender delivers a due reminder. The platform alert integration plugs in
// here; the default is LogSender.
type Sender interface {
	Send(ctx context.Context, r Reminder) error
}

// LogSender writes the reminder as a log line.
type LogSender struct {
	Log logx.Logger
}

func (s LogSender) Send(ctx context.Context, r Reminder) error {
	_ = ctx
	s.Log.Info("reminder",
		logx.Int64("id", r.ID),
		logx.String("date", r.Date),
		logx.String("time", r.Time),
		logx.String("message", r.Message),
	)
	return nil
}

// Config controls the reminder service.
//
// Defaults (when fields are omitted/zero):
//   - rate_per_sec: 5
//   - retry_max: 2
//   - retry_base: 500ms
//   - history_size: 200
//   - timezone: process local time
type Config struct {
	Enabled     bool
	RatePerSec  int
	RetryMax    int
	RetryBase   time.Duration
	HistorySize int
	Timezone    string // IANA TZ, e.g. "Asia/Jakarta"
}

// Service holds the pending reminder set and dispatches due ones from a
// per-minute cron sweep. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	sender  Sender
	loc     *time.Location
	limiter *rate.Limiter

	c       *cron.Cron
	pending map[int64]Reminder
	sendWG  sync.WaitGroup

	// Delivered history, bounded, newest last.
	hmu     sync.Mutex
	history []Reminder
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		sender:  sender,
		pending: map[int64]Reminder{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = 2
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}

	loc := time.Local
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			s.log.Warn("invalid reminder timezone; using local", logx.String("tz", cfg.Timezone), logx.Err(err))
		}
	}

	s.cfg = cfg
	s.loc = loc
	// Token bucket: burst = rate per sec, so a sweep with several due
	// reminders doesn't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start begins the per-minute sweep. Idempotent; a no-op when disabled.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		return nil
	}

	c := cron.New(cron.WithLocation(s.loc))
	if _, err := c.AddFunc("* * * * *", func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("reminder sweep: %w", err)
	}
	c.Start()
	s.c = c
	s.log.Debug("reminder sweep started")
	return nil
}

// Stop halts the sweep and waits for in-flight deliveries (bounded by
// ctx).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("reminder shutdown timed out with deliveries in flight")
	}
}

// Schedule arms a reminder for the record. Any previous reminder for the
// same id is superseded by this call, including when the new field values
// arm nothing: an edit that clears the time must not leave the old
// reminder ticking. Records with no time chosen or a fire time already in
// the past are skipped, which is an outcome, not an error.
func (s *Service) Schedule(id int64, date, timeOfDay, message string) error {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	if timeOfDay == "" {
		s.log.Debug("reminder skipped: no time chosen", logx.Int64("id", id), logx.String("date", date))
		return nil
	}

	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()

	at, err := time.ParseInLocation(fireLayout, date+" "+timeOfDay, loc)
	if err != nil {
		return fmt.Errorf("reminder %d: parse fire time: %w", id, err)
	}
	if at.Before(time.Now().In(loc)) {
		s.log.Debug("reminder skipped: fire time already past", logx.Int64("id", id), logx.Time("at", at))
		return nil
	}

	s.mu.Lock()
	s.pending[id] = Reminder{ID: id, Date: date, Time: timeOfDay, Message: message, At: at}
	s.mu.Unlock()

	s.log.Debug("reminder armed", logx.Int64("id", id), logx.Time("at", at))
	return nil
}

// Cancel disarms the reminder for a record; no-op when none is pending.
func (s *Service) Cancel(id int64) {
	s.mu.Lock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		s.log.Debug("reminder cancelled", logx.Int64("id", id))
	}
}

// Pending returns the armed reminders ordered by fire time.
func (s *Service) Pending() []Reminder {
	s.mu.Lock()
	out := make([]Reminder, 0, len(s.pending))
	for _, r := range s.pending {
		out = append(out, r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// History returns delivered reminders, oldest first.
func (s *Service) History() []Reminder {
	s.hmu.Lock()
	out := make([]Reminder, len(s.history))
	copy(out, s.history)
	s.hmu.Unlock()
	return out
}

// sweep moves due reminders out of the pending set and dispatches them.
func (s *Service) sweep(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []Reminder
	for id, r := range s.pending {
		if !r.At.After(now) {
			due = append(due, r)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, r := range due {
		r := r
		s.sendWG.Add(1)
		go func() {
			defer s.sendWG.Done()
			s.deliver(ctx, r)
		}()
	}
}

func (s *Service) deliver(ctx context.Context, r Reminder) {
	s.mu.Lock()
	lim := s.limiter
	retryMax := s.cfg.RetryMax
	retryBase := s.cfg.RetryBase
	histMax := s.cfg.HistorySize
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return
	}

	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			backoff := retryBase << (attempt - 1)
			s.log.Debug("reminder delivery retry",
				logx.Int64("id", r.ID),
				logx.Int("attempt", attempt),
				logx.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
		if lastErr = s.sender.Send(ctx, r); lastErr == nil {
			s.appendHistory(r, histMax)
			s.log.Debug("reminder delivered", logx.Int64("id", r.ID))
			return
		}
	}
	s.log.Warn("reminder delivery failed",
		logx.Int64("id", r.ID),
		logx.Int("attempts", retryMax+1),
		logx.Err(lastErr),
	)
}

func (s *Service) appendHistory(r Reminder, max int) {
	s.hmu.Lock()
	s.history = append(s.history, r)
	if max > 0 && len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}
