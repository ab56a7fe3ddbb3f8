// Package jobs runs the periodic maintenance of an admin panel deployment.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth"
)

// Cleaner purges expired auth state. *panelauth.Engine implements it.
type Cleaner interface {
	Cleanup(ctx context.Context) (panelauth.CleanupReport, error)
}

// Janitor calls Cleaner.Cleanup on a cron schedule. Runs never overlap.
type Janitor struct {
	cron     *cron.Cron
	cleaner  Cleaner
	schedule string
	timeout  time.Duration
}

// NewJanitor validates schedule in the given IANA timezone. An unknown
// timezone falls back to UTC.
func NewJanitor(cleaner Cleaner, schedule, timezone string) (*Janitor, error) {
	if cleaner == nil {
		return nil, fmt.Errorf("janitor: cleaner is required")
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.WithError(err).WithField("timezone", timezone).Warn("janitor: unknown timezone, using UTC")
		loc = time.UTC
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	j := &Janitor{cron: c, cleaner: cleaner, schedule: schedule, timeout: 5 * time.Minute}
	if _, err := c.AddFunc(schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("janitor: schedule %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce performs one cleanup pass and logs the outcome.
func (j *Janitor) RunOnce(ctx context.Context) (panelauth.CleanupReport, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	report, err := j.cleaner.Cleanup(ctx)
	fields := log.Fields{
		"sessions":         report.Sessions,
		"codes":            report.Codes,
		"reset_tokens":     report.ResetTokens,
		"recovery_tokens":  report.RecoveryTokens,
		"emergency_tokens": report.EmergencyTokens,
		"duration":         report.Duration.String(),
	}
	if err != nil {
		log.WithError(err).WithFields(fields).Error("[janitor] cleanup failed")
		return report, err
	}
	log.WithFields(fields).Info("[janitor] cleanup done")
	return report, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
	log.WithField("schedule", j.schedule).Info("janitor started")
}

// Stop waits for a running pass to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	log.Info("janitor stopped")
}
