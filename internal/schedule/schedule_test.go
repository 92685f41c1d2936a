package schedule

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/store"
	"github.com/tidegraph/tide/internal/types"
	"github.com/tidegraph/tide/internal/workflow"
)

func TestBuildCronTrigger(t *testing.T) {
	t.Run("valid fields round-trip", func(t *testing.T) {
		spec, err := BuildCronTrigger(CronFields{Hour: "10", Minute: "30"})
		require.NoError(t, err)

		assert.Equal(t, KindCron, spec.Kind())
		assert.Equal(t, "* 30 10 * * *", spec.Expression())

		config := spec.Config()
		assert.Equal(t, "10", config["hour"])
		assert.Equal(t, "30", config["minute"])

		rebuilt, err := SpecFromConfig(KindCron, config)
		require.NoError(t, err)
		assert.Equal(t, spec.Expression(), rebuilt.Expression())
	})

	t.Run("hour out of domain fails", func(t *testing.T) {
		_, err := BuildCronTrigger(CronFields{Hour: "25", Minute: "30"})
		var werr *workflow.Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, workflow.ErrCodeInvalidTrigger, werr.Code)
	})

	t.Run("field forms", func(t *testing.T) {
		cases := map[string]CronFields{
			"wildcard":  {Hour: "*"},
			"step":      {Minute: "*/15"},
			"range":     {Hour: "9-17"},
			"named dow": {DayOfWeek: "MON"},
			"numeric":   {Second: "30", Day: "15", Month: "6"},
		}
		for name, fields := range cases {
			t.Run(name, func(t *testing.T) {
				assert.True(t, ValidateCronExpression(fields))
			})
		}
	})

	t.Run("invalid forms", func(t *testing.T) {
		assert.False(t, ValidateCronExpression(CronFields{Minute: "60"}))
		assert.False(t, ValidateCronExpression(CronFields{Month: "13"}))
		assert.False(t, ValidateCronExpression(CronFields{Day: "0"}))
		assert.False(t, ValidateCronExpression(CronFields{Hour: "not-a-field"}))
	})

	t.Run("unknown timezone fails", func(t *testing.T) {
		_, err := BuildCronTrigger(CronFields{Hour: "10", Timezone: "Mars/Olympus"})
		require.Error(t, err)
	})

	t.Run("next fire matches fields", func(t *testing.T) {
		spec, err := BuildCronTrigger(CronFields{Second: "0", Minute: "30", Hour: "10", Timezone: "UTC"})
		require.NoError(t, err)

		from := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		next := spec.Next(from)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), next)
	})

	t.Run("end date bounds firing", func(t *testing.T) {
		end := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		spec, err := BuildCronTrigger(CronFields{Minute: "30", Hour: "10", Timezone: "UTC", EndDate: &end})
		require.NoError(t, err)

		next := spec.Next(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
		assert.True(t, next.IsZero())
	})
}

func TestBuildIntervalTrigger(t *testing.T) {
	t.Run("combined units", func(t *testing.T) {
		spec, err := BuildIntervalTrigger(IntervalFields{Hours: 1, Minutes: 30, Seconds: 45})
		require.NoError(t, err)
		assert.Equal(t, KindInterval, spec.Kind())
		assert.EqualValues(t, 5445, spec.IntervalSeconds())
	})

	t.Run("round-trips through config", func(t *testing.T) {
		spec, err := BuildIntervalTrigger(IntervalFields{Minutes: 5})
		require.NoError(t, err)

		rebuilt, err := SpecFromConfig(KindInterval, spec.Config())
		require.NoError(t, err)
		assert.Equal(t, spec.IntervalSeconds(), rebuilt.IntervalSeconds())
	})

	t.Run("rejects zero and negative", func(t *testing.T) {
		_, err := BuildIntervalTrigger(IntervalFields{})
		assert.Error(t, err)

		_, err = BuildIntervalTrigger(IntervalFields{Seconds: -1})
		assert.Error(t, err)
	})

	t.Run("rejects non-integer totals", func(t *testing.T) {
		_, err := BuildIntervalTrigger(IntervalFields{Seconds: 1.5})
		assert.Error(t, err)

		// Fractional units are fine when the total is whole.
		_, err = BuildIntervalTrigger(IntervalFields{Minutes: 1.5})
		assert.NoError(t, err)
	})

	t.Run("rejects non-finite totals", func(t *testing.T) {
		_, err := BuildIntervalTrigger(IntervalFields{Seconds: math.Inf(1)})
		assert.Error(t, err)

		_, err = BuildIntervalTrigger(IntervalFields{Seconds: math.NaN()})
		assert.Error(t, err)
	})
}

func TestValidateIntervalSeconds(t *testing.T) {
	assert.False(t, ValidateIntervalSeconds(0))
	assert.False(t, ValidateIntervalSeconds(-1))
	assert.False(t, ValidateIntervalSeconds(0.5))
	assert.False(t, ValidateIntervalSeconds(math.Inf(1)))
	assert.False(t, ValidateIntervalSeconds(math.Inf(-1)))
	assert.False(t, ValidateIntervalSeconds(math.NaN()))
	assert.True(t, ValidateIntervalSeconds(60))
}

// fakeRunner records fired executions.
type fakeRunner struct {
	mu    sync.Mutex
	runs  []map[string]any
	fired chan struct{}
}

func (r *fakeRunner) Execute(_ context.Context, w *workflow.Workflow, trigger workflow.TriggerType, input map[string]any) (*execution.WorkflowExecution, error) {
	r.mu.Lock()
	r.runs = append(r.runs, input)
	r.mu.Unlock()

	select {
	case r.fired <- struct{}{}:
	default:
	}

	return &execution.WorkflowExecution{
		ID:          types.NewID(),
		WorkflowID:  w.ID,
		Status:      workflow.StatusCompleted,
		TriggerType: trigger,
	}, nil
}

func scheduledWorkflow(t *testing.T, db *store.Memory) *workflow.Workflow {
	t.Helper()
	w, err := workflow.NewBuilder("heartbeat").
		AddToolNode("ping", map[string]any{"tool_id": "ping"}).
		Build()
	require.NoError(t, err)
	require.NoError(t, db.SaveWorkflow(context.Background(), w))
	return w
}

func TestSchedulerFiresIntervalSchedule(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	w := scheduledWorkflow(t, db)

	spec, err := BuildIntervalTrigger(IntervalFields{Seconds: 1})
	require.NoError(t, err)

	sched := &store.Schedule{
		ID:          types.NewID(),
		WorkflowID:  w.ID,
		Name:        "every-second",
		TriggerKind: KindInterval,
		Spec:        spec.Config(),
		IsActive:    true,
	}
	require.NoError(t, db.SaveSchedule(ctx, sched))

	runner := &fakeRunner{fired: make(chan struct{}, 1)}
	s := NewScheduler(runner, db, db)

	// Start reloads active schedules from the store, so a restarted
	// process resumes firing without re-registration.
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	select {
	case <-runner.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("schedule never fired")
	}

	// Wait for fire bookkeeping to land.
	require.Eventually(t, func() bool {
		got, err := db.GetSchedule(ctx, sched.ID)
		return err == nil && got.RunCount >= 1
	}, 5*time.Second, 50*time.Millisecond)

	got, err := db.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastRunAt)
	assert.NotNil(t, got.NextRunAt)

	history, err := db.ListScheduleHistory(ctx, sched.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, string(workflow.StatusCompleted), history[0].Status)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.NotEmpty(t, runner.runs)
	assert.Equal(t, sched.ID.String(), runner.runs[0]["schedule_id"])
}

func TestSchedulerRegisterRecordsNextRun(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	w := scheduledWorkflow(t, db)

	spec, err := BuildCronTrigger(CronFields{Minute: "30", Hour: "2"})
	require.NoError(t, err)

	sched := &store.Schedule{
		ID:          types.NewID(),
		WorkflowID:  w.ID,
		Name:        "nightly",
		TriggerKind: KindCron,
		Spec:        spec.Config(),
		IsActive:    true,
	}

	runner := &fakeRunner{fired: make(chan struct{}, 1)}
	s := NewScheduler(runner, db, db)
	require.NoError(t, s.Register(ctx, sched))
	defer s.Unregister(sched.ID)

	got, err := db.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now()))
}

func TestSchedulerRejectsInvalidSpec(t *testing.T) {
	db := store.NewMemory()
	runner := &fakeRunner{fired: make(chan struct{}, 1)}
	s := NewScheduler(runner, db, db)

	err := s.Register(context.Background(), &store.Schedule{
		ID:          types.NewID(),
		TriggerKind: KindCron,
		Spec:        map[string]any{"hour": "25"},
	})
	var werr *workflow.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, workflow.ErrCodeInvalidTrigger, werr.Code)
}
