package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidegraph/tide/internal/engine"
	"github.com/tidegraph/tide/internal/llm"
	"github.com/tidegraph/tide/internal/processor"
	"github.com/tidegraph/tide/internal/schedule"
	"github.com/tidegraph/tide/internal/store"
	"github.com/tidegraph/tide/internal/types"
	"github.com/tidegraph/tide/internal/workflow"
)

var (
	scheduleName     string
	scheduleCron     string
	scheduleEvery    time.Duration
	scheduleTimezone string
	scheduleLive     bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring workflow schedules",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <workflow.yaml>",
	Short: "Register a recurring schedule for a workflow",
	Long: `Add stores the workflow and registers a schedule for it. Exactly
one of --cron or --every must be given. Cron expressions use six
fields with seconds, for example "0 30 10 * * *".`,
	Args: cobra.ExactArgs(1),
	RunE: runScheduleAdd,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered schedules",
	RunE:  runScheduleList,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:     "remove <schedule-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a schedule",
	Args:    cobra.ExactArgs(1),
	RunE:    runScheduleRemove,
}

var scheduleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the scheduler until interrupted",
	Long: `Start loads every active schedule from the database and fires the
associated workflows on time. Runs until SIGINT or SIGTERM.`,
	RunE: runScheduleStart,
}

func init() {
	scheduleAddCmd.Flags().StringVar(&scheduleName, "name", "", "Schedule name (defaults to the workflow name)")
	scheduleAddCmd.Flags().StringVar(&scheduleCron, "cron", "", "Six-field cron expression with seconds")
	scheduleAddCmd.Flags().DurationVar(&scheduleEvery, "every", 0, "Fixed interval between runs, e.g. 90s or 2h")
	scheduleAddCmd.Flags().StringVar(&scheduleTimezone, "timezone", "", "IANA timezone for cron evaluation")

	scheduleStartCmd.Flags().BoolVar(&scheduleLive, "live", false, "Invoke the configured LLM provider for agent nodes")

	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleStartCmd)
}

func openStore() (*store.SQLite, error) {
	return store.OpenSQLite(cfg.Database.Path)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	if (scheduleCron == "") == (scheduleEvery == 0) {
		return fmt.Errorf("exactly one of --cron or --every is required")
	}

	w, err := workflow.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}

	var spec *schedule.TriggerSpec
	if scheduleCron != "" {
		fields := strings.Fields(scheduleCron)
		if len(fields) != 6 {
			return fmt.Errorf("cron expression needs 6 fields (with seconds), got %d", len(fields))
		}
		spec, err = schedule.BuildCronTrigger(schedule.CronFields{
			Second:    fields[0],
			Minute:    fields[1],
			Hour:      fields[2],
			Day:       fields[3],
			Month:     fields[4],
			DayOfWeek: fields[5],
			Timezone:  scheduleTimezone,
		})
	} else {
		spec, err = schedule.BuildIntervalTrigger(schedule.IntervalFields{
			Seconds:  scheduleEvery.Seconds(),
			Timezone: scheduleTimezone,
		})
	}
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SaveWorkflow(cmd.Context(), w); err != nil {
		return err
	}

	name := scheduleName
	if name == "" {
		name = w.Name
	}
	sched := &store.Schedule{
		ID:          types.NewID(),
		WorkflowID:  w.ID,
		Name:        name,
		TriggerKind: spec.Kind(),
		Spec:        spec.Config(),
		Timezone:    scheduleTimezone,
		IsActive:    true,
	}
	next := spec.Next(time.Now())
	if !next.IsZero() {
		sched.NextRunAt = &next
	}
	if err := db.SaveSchedule(cmd.Context(), sched); err != nil {
		return err
	}

	cmd.Printf("schedule %s registered for workflow %s\n", sched.ID, w.Name)
	if sched.NextRunAt != nil {
		cmd.Printf("next run: %s\n", sched.NextRunAt.Format(time.RFC3339))
	}
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	schedules, err := db.ListSchedules(cmd.Context())
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		cmd.Println("no schedules registered")
		return nil
	}
	for _, s := range schedules {
		state := "inactive"
		if s.IsActive {
			state = "active"
		}
		next := "-"
		if s.NextRunAt != nil {
			next = s.NextRunAt.Format(time.RFC3339)
		}
		cmd.Printf("%s  %-20s %-8s %-8s runs=%d next=%s\n",
			s.ID, s.Name, s.TriggerKind, state, s.RunCount, next)
	}
	return nil
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	id := types.ID(args[0])
	if err := db.DeleteSchedule(cmd.Context(), id); err != nil {
		return err
	}
	cmd.Printf("schedule %s removed\n", id)
	return nil
}

func runScheduleStart(cmd *cobra.Command, args []string) error {
	if !cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled in configuration")
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	var invoker processor.AgentInvoker = &llm.StaticInvoker{}
	if scheduleLive {
		invoker, err = llm.NewInvokerFromConfig(cfg.LLM, logger)
		if err != nil {
			return err
		}
	}

	executor := engine.NewWorkflowExecutor(
		engine.WithLogger(logger),
		engine.WithMaxParallel(cfg.Core.MaxParallelNodes),
		engine.WithProcessorConfig(processor.Config{AgentInvoker: invoker}),
		engine.WithExecutionStore(db),
	)

	scheduler := schedule.NewScheduler(executor, db, db,
		schedule.WithSchedulerLogger(logger))
	if err := scheduler.Start(cmd.Context()); err != nil {
		return err
	}
	logger.Info("scheduler started", "db", cfg.Database.Path)

	<-cmd.Context().Done()
	logger.Info("shutting down")
	scheduler.Stop()
	return nil
}
