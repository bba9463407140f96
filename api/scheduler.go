/*
scheduler.go - Scheduled activation runner

PURPOSE:
  Runs the activation sweeps (boost activation, boost expiry, discount
  activation and conclusion) for every configured tenant on a cron schedule.

DESIGN:
  - robfig/cron drives the schedule; overlapping runs are skipped
  - Each tenant is swept independently; one failing tenant does not stop
    the others
  - Every run is recorded by the service for audit and the admin UI
  - The sweeps are idempotent, so a missed tick is caught up by the next

CONFIGURATION:
  - Schedule: five-field cron expression or descriptor (default: "@hourly")
  - Enabled:  whether the scheduler is active (default: true)

USAGE:
  scheduler := NewActivationScheduler(svc, []string{"acme"}, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunActivation endpoint (manual trigger)
  - rewards/runner.go: the sweeps
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/rewards"
)

// DefaultActivationSchedule runs the sweeps at the top of every hour.
const DefaultActivationSchedule = "@hourly"

// ActivationScheduler runs the activation sweeps on a schedule.
type ActivationScheduler struct {
	Service   *rewards.Service
	ClientIDs []string
	Schedule  string
	Enabled   bool
	Log       logrus.FieldLogger

	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
}

// NewActivationScheduler creates a new scheduler.
func NewActivationScheduler(svc *rewards.Service, clientIDs []string, log logrus.FieldLogger) *ActivationScheduler {
	return &ActivationScheduler{
		Service:   svc,
		ClientIDs: clientIDs,
		Schedule:  DefaultActivationSchedule,
		Enabled:   true,
		Log:       log,
	}
}

// Start begins the scheduler.
func (s *ActivationScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("[Scheduler] Disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	logger := cron.PrintfLogger(s.Log)
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	id, err := c.AddFunc(s.Schedule, func() { s.RunNow(context.Background()) })
	if err != nil {
		return fmt.Errorf("invalid activation schedule %q: %w", s.Schedule, err)
	}
	c.Start()
	s.cron, s.entry = c, id

	s.Log.WithFields(logrus.Fields{
		"schedule": s.Schedule,
		"tenants":  len(s.ClientIDs),
	}).Info("[Scheduler] Started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *ActivationScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.Log.Info("[Scheduler] Stopped")
}

// RunNow sweeps every tenant immediately and returns the reports of the
// runs that completed.
func (s *ActivationScheduler) RunNow(ctx context.Context) []*rewards.RunReport {
	s.Log.Infof("[Scheduler] Running activation for %d tenant(s)", len(s.ClientIDs))

	reports := make([]*rewards.RunReport, 0, len(s.ClientIDs))
	for _, clientID := range s.ClientIDs {
		log := s.Log.WithField("client_id", clientID)
		report, err := s.Service.RunScheduledActivation(ctx, clientID, "cron")
		if err != nil {
			log.WithError(err).Error("[Scheduler] Activation run failed")
			continue
		}
		reports = append(reports, report)

		fields := logrus.Fields{
			"run_id":              report.RunID,
			"boosts_activated":    len(report.BoostsActivated),
			"boosts_expired":      len(report.BoostsExpired),
			"discounts_activated": len(report.DiscountsActivated),
			"discounts_concluded": len(report.DiscountsConcluded),
			"row_errors":          len(report.Errors),
		}
		if len(report.Errors) > 0 {
			log.WithFields(fields).Warn("[Scheduler] Completed with row errors")
		} else {
			log.WithFields(fields).Info("[Scheduler] Completed")
		}
	}
	return reports
}

// NextRun returns when the next scheduled run will occur, or the zero time
// when the scheduler is not running.
func (s *ActivationScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}
