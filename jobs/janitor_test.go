package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/panelauth"
)

var _ Cleaner = (*panelauth.Engine)(nil)

type countingCleaner struct {
	calls  atomic.Int32
	report panelauth.CleanupReport
	err    error
}

func (c *countingCleaner) Cleanup(ctx context.Context) (panelauth.CleanupReport, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return panelauth.CleanupReport{}, errors.New("cleanup must run with a deadline")
	}
	return c.report, c.err
}

func TestNewJanitorRejectsBadSchedule(t *testing.T) {
	if _, err := NewJanitor(&countingCleaner{}, "every now and then", "UTC"); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	if _, err := NewJanitor(nil, "@every 1m", "UTC"); err == nil {
		t.Fatal("expected missing cleaner error")
	}
}

func TestJanitorUnknownTimezoneFallsBack(t *testing.T) {
	if _, err := NewJanitor(&countingCleaner{}, "0 3 * * *", "Mars/Olympus_Mons"); err != nil {
		t.Fatalf("unknown timezone must fall back to UTC: %v", err)
	}
}

func TestJanitorRunOnce(t *testing.T) {
	cleaner := &countingCleaner{report: panelauth.CleanupReport{Sessions: 3, Codes: 2}}
	j, err := NewJanitor(cleaner, "@every 1h", "Europe/Berlin")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	report, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Sessions != 3 || report.Codes != 2 || cleaner.calls.Load() != 1 {
		t.Fatalf("unexpected report %+v after %d calls", report, cleaner.calls.Load())
	}

	cleaner.err = errors.New("database down")
	if _, err := j.RunOnce(context.Background()); !errors.Is(err, cleaner.err) {
		t.Fatalf("expected cleanup error, got %v", err)
	}
}

func TestJanitorRunsOnSchedule(t *testing.T) {
	cleaner := &countingCleaner{}
	j, err := NewJanitor(cleaner, "@every 1s", "UTC")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	j.Start()
	defer j.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for cleaner.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
