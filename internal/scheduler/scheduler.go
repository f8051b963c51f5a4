// Package scheduler wraps a gocron scheduler for the server's
// periodic maintenance jobs: reply-cache eviction and monitor
// subscription purges.
package scheduler

import (
	"errors"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyJobName  = errors.New("job name is required")
	ErrEmptySchedule = errors.New("job schedule is required")
)

// Service owns one gocron scheduler. Construct it at startup and pass
// it where needed; jobs panicking are logged, never fatal.
type Service struct {
	scheduler gocron.Scheduler
}

// New creates a stopped scheduler; call Start once jobs are added.
func New() (*Service, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithGlobalJobOptions(
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
					log.Error().
						Str("job_id", jobID.String()).
						Str("job_name", jobName).
						Interface("panic", recoverData).
						Msg("Scheduler job panicked")
				}),
			),
		),
	)
	if err != nil {
		return nil, err
	}
	return &Service{scheduler: sched}, nil
}

// Start begins running scheduled jobs.
func (s *Service) Start() {
	log.Info().Msg("Scheduler starting")
	s.scheduler.Start()
}

// Stop shuts down the scheduler and prevents new jobs from running.
func (s *Service) Stop() error {
	log.Info().Msg("Scheduler stopping")
	return s.scheduler.Shutdown()
}

// AddCronJob registers a cron-based job.
func (s *Service) AddCronJob(name, cronExpr string, task func()) (gocron.Job, error) {
	if strings.TrimSpace(cronExpr) == "" {
		return nil, ErrEmptySchedule
	}
	return s.add(name, gocron.CronJob(cronExpr, false), task)
}

// AddIntervalJob registers a fixed-interval job.
func (s *Service) AddIntervalJob(name string, every time.Duration, task func()) (gocron.Job, error) {
	if every <= 0 {
		return nil, ErrEmptySchedule
	}
	return s.add(name, gocron.DurationJob(every), task)
}

func (s *Service) add(name string, def gocron.JobDefinition, task func()) (gocron.Job, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyJobName
	}
	jobLogger := log.With().Str("job_name", name).Logger()
	jobLogger.Info().Msg("Registering scheduler job")

	wrappedTask := func() {
		jobLogger.Debug().Msg("Scheduler job started")
		task()
		jobLogger.Debug().Msg("Scheduler job completed")
	}

	return s.scheduler.NewJob(def, gocron.NewTask(wrappedTask), gocron.WithName(name))
}
