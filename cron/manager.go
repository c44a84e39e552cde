package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager schedules the periodic maintenance jobs: the local cache
// sweep and the partition janitor. Specs use six fields with seconds,
// matching the configured defaults.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	timezone        *time.Location
	jobs            map[string]*types.JobEntry
	state           atomic.Value
	mu              sync.RWMutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (*Manager, error) {
	timezoneStr := config.GetConfig().Cron.Timezone
	timezone, err := time.LoadLocation(timezoneStr)
	if err != nil {
		timezone = time.UTC
	}

	cronL := safeCronLogger{logger: logger}

	cronOptions := []cron.Option{
		cron.WithLocation(timezone),
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronL)),
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         metrics,
		cron:            cron.New(cronOptions...),
		jobs:            make(map[string]*types.JobEntry),
		timezone:        timezone,
		shutdown:        make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
		jobTimeout:      10 * time.Minute,
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (m *Manager) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrCronExpressionInvalid
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}

	wrappedJob := m.wrapJob(jobName, job)

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.shutdown:
		return types.ErrCronSchedulerStopped
	default:
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.ErrCronJobExists
	}

	entryID, err := m.cron.AddFunc(spec, wrappedJob)
	if err != nil {
		return types.WrapError(err, "failed to add cron job")
	}

	entry := &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		Job:     wrappedJob,
		AddedAt: time.Now(),
	}

	if cronEntry := m.cron.Entry(entryID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}

	m.jobs[jobName] = entry

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrCronIsRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	m.cron.Start()
	m.setSchedulerStatus(1)
	m.logger.Info("Cron manager started",
		zap.String("timezone", m.timezone.String()),
		zap.Int("jobs", len(m.jobs)))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) &&
		!m.transitionState(StateStarting, StateStopping) {
		return types.ErrServerNotRunning
	}

	m.shutdownOnce.Do(func() {
		defer func() {
			m.setState(StateStopped)
			m.cancel()
		}()

		close(m.shutdown)

		stopCtx := m.cron.Stop()
		select {
		case <-stopCtx.Done():
			m.logger.Info("Cron scheduler stopped gracefully")
		case <-time.After(m.shutdownTimeout):
			m.logger.Warn("Cron manager stop timeout, some jobs may still be running")
		}

		m.setSchedulerStatus(0)
	})

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) wrapJob(jobName string, job func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Panic in cron job",
					zap.String("job_name", jobName),
					zap.Any("panic", r))
				m.incJobErrorsCounter(jobName)
			}
		}()

		select {
		case <-m.shutdown:
			m.logger.Info("Job skipped due to shutdown", zap.String("job_name", jobName))
			return
		default:
		}

		startTime := time.Now()
		m.updateJobStatsStart(jobName, startTime)

		var err error
		done := make(chan struct{})

		go func() {
			defer func() {
				if r := recover(); r != nil {
					err = types.Errorf(types.ErrCronJobFailed, "job panic: %v", r)
				}
				close(done)
			}()
			job()
		}()

		jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		select {
		case <-done:
		case <-jobCtx.Done():
			err = types.Errorf(types.ErrCronJobTimeout, "timeout after %v", m.jobTimeout)
		}

		duration := time.Since(startTime)

		result := "success"
		if err != nil {
			result = "error"
			m.incJobErrorsCounter(jobName)
			m.logger.Error("Cron job failed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration),
				zap.Error(err))
		} else {
			m.logger.Debug("Cron job completed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration))
		}

		m.incJobExecutionsCounter(jobName, result)
		m.observeJobDuration(jobName, duration.Seconds())
		m.updateJobStatsFinish(jobName, duration, err)
	}
}

func (m *Manager) updateJobStatsStart(jobName string, startTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return
	}

	entry.LastRun = startTime
	entry.Error = nil

	if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
}

func (m *Manager) updateJobStatsFinish(jobName string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return
	}

	entry.LastDuration = duration
	entry.TotalDuration += duration
	entry.RunCount++
	entry.Error = err

	if entry.RunCount > 0 {
		entry.AvgDuration = entry.TotalDuration / time.Duration(entry.RunCount)
	}

	if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
}

func (m *Manager) incJobExecutionsCounter(jobName, result string) {
	if m.metrics == nil {
		return
	}

	counter := m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	})
	counter.Inc()
}

func (m *Manager) incJobErrorsCounter(jobName string) {
	if m.metrics == nil {
		return
	}

	counter := m.metrics.Counter("cron_job_errors_total", map[string]string{
		"job_name": jobName,
	})
	counter.Inc()
}

func (m *Manager) observeJobDuration(jobName string, seconds float64) {
	if m.metrics == nil {
		return
	}

	histogram := m.metrics.Histogram("cron_job_duration_seconds",
		[]float64{0.1, 1.0, 10.0, 60.0, 300.0},
		map[string]string{"job_name": jobName},
	)
	histogram.Observe(seconds)
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
}

type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, convertFields(keysAndValues)...)
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(convertFields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func convertFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
