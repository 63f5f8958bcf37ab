package usecase

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeDriver struct {
	job     func(time.Time)
	stopped bool
}

func (f *fakeDriver) Start(_ context.Context, job func(time.Time)) error {
	f.job = job
	return nil
}

func (f *fakeDriver) Stop(context.Context) error {
	f.stopped = true
	return nil
}

func TestSchedulerLogsFailedRuns(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// every combination fails, so each run aborts with zero entries
	pipeline := NewPipeline(PipelineDeps{
		Source: &fakeSource{
			failCombos: map[string]bool{"Utilities/us/free": true},
		},
		Enricher:     &fakeEnricher{},
		Store:        &fakeStore{},
		Logger:       testLogger(),
		Combinations: combos([2]string{"Utilities", "us"}),
	})

	driver := &fakeDriver{}
	s := NewScheduler(driver, pipeline, logger)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if driver.job == nil {
		t.Fatal("job not registered with driver")
	}

	driver.job(testBatch)

	if !strings.Contains(buf.String(), "scheduled run failed") {
		t.Errorf("run failure not logged: %q", buf.String())
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !driver.stopped {
		t.Error("driver not stopped")
	}
}

func TestSchedulerTruncatesTriggerToBatchTimestamp(t *testing.T) {
	store := &fakeStore{}
	pipeline := NewPipeline(PipelineDeps{
		Source:       &fakeSource{},
		Enricher:     &fakeEnricher{},
		Store:        store,
		Logger:       testLogger(),
		Combinations: combos([2]string{"Utilities", "us"}),
	})

	driver := &fakeDriver{}
	s := NewScheduler(driver, pipeline, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	trigger := testBatch.Add(123456789 * time.Nanosecond)
	driver.job(trigger)

	for _, row := range store.rows {
		if !row.GeneratedAt.Equal(testBatch) {
			t.Errorf("generated_at = %v, want trigger truncated to %v", row.GeneratedAt, testBatch)
		}
	}
	if len(store.rows) == 0 {
		t.Fatal("run published nothing")
	}
}
