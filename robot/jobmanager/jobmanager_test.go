package jobmanager

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/edukit/logging"
)

func TestJobConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		jc    JobConfig
		isErr bool
	}{
		{"duration", JobConfig{Name: "a", Schedule: "1s"}, false},
		{"cron", JobConfig{Name: "a", Schedule: "*/5 * * * *"}, false},
		{"no name", JobConfig{Schedule: "1s"}, true},
		{"no schedule", JobConfig{Name: "a"}, true},
		{"negative", JobConfig{Name: "a", Schedule: "-1s"}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.jc.Validate()
			if tc.isErr {
				test.That(t, err, test.ShouldNotBeNil)
			} else {
				test.That(t, err, test.ShouldBeNil)
			}
		})
	}
}

func TestJobmanager(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	jm, err := New(logger)
	test.That(t, err, test.ShouldBeNil)

	var runs atomic.Int64
	test.That(t, jm.AddJob(JobConfig{Name: "count", Schedule: "10ms"}, func(ctx context.Context) error {
		runs.Inc()
		return nil
	}), test.ShouldBeNil)
	test.That(t, jm.AddJob(JobConfig{Name: "count", Schedule: "10ms"}, nil), test.ShouldNotBeNil)
	test.That(t, jm.AddJob(JobConfig{Name: "fail", Schedule: "1h"}, func(ctx context.Context) error {
		return errors.New("bad job")
	}), test.ShouldBeNil)
	test.That(t, jm.JobNames(), test.ShouldResemble, []string{"count", "fail"})

	jm.Start()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, runs.Load(), test.ShouldBeGreaterThanOrEqualTo, int64(3))
	})

	test.That(t, jm.RunNow("fail"), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, observed.FilterMessage("job failed").Len(), test.ShouldEqual, 1)
	})
	test.That(t, jm.RunNow("missing"), test.ShouldNotBeNil)

	test.That(t, jm.RemoveJob("count"), test.ShouldBeNil)
	test.That(t, jm.RemoveJob("count"), test.ShouldNotBeNil)
	test.That(t, jm.JobNames(), test.ShouldResemble, []string{"fail"})

	test.That(t, jm.Shutdown(), test.ShouldBeNil)
}

func TestMaintenance(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	job := Maintenance(logger)
	test.That(t, job(context.Background()), test.ShouldBeNil)
	test.That(t, job(context.Background()), test.ShouldBeNil)

	entries := observed.FilterMessage("maintenance").All()
	test.That(t, len(entries), test.ShouldEqual, 2)
	test.That(t, entries[1].ContextMap(), test.ShouldContainKey, "heap_alloc")
}
