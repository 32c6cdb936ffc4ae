package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverloop/api/internal/logging"
	"github.com/coverloop/api/internal/service"
)

type stubJobs struct {
	ran []string
	err error
}

func (s *stubJobs) RunJob(ctx context.Context, jobID string) error {
	s.ran = append(s.ran, jobID)
	return s.err
}

type stubCron struct {
	calls int
	err   error
}

func (s *stubCron) Sweep(ctx context.Context) (*service.SweepResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &service.SweepResult{JobsCreated: 1}, nil
}

type stubHub struct {
	codes []string
}

func (s *stubHub) BroadcastError(jobID string, code, message string) {
	s.codes = append(s.codes, code)
}

func TestProcessJob(t *testing.T) {
	jobs := &stubJobs{}
	hub := &stubHub{}
	w := NewCoverWorker(jobs, &stubCron{}, hub, logging.Discard())

	task, err := service.NewCoverJobTask("job-1")
	require.NoError(t, err)
	require.NoError(t, w.ProcessJob(context.Background(), task))
	assert.Equal(t, []string{"job-1"}, jobs.ran)

	jobs.err = errors.New("db down")
	assert.Error(t, w.ProcessJob(context.Background(), task))
	assert.Equal(t, []string{"JOB_FAILED"}, hub.codes)

	jobs.err = service.ErrJobNotFound
	err = w.ProcessJob(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessJob_BadPayloadSkipsRetry(t *testing.T) {
	w := NewCoverWorker(&stubJobs{}, &stubCron{}, &stubHub{}, logging.Discard())
	err := w.ProcessJob(context.Background(), asynq.NewTask(service.TaskTypeCoverJob, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessCron(t *testing.T) {
	cron := &stubCron{}
	w := NewCoverWorker(&stubJobs{}, cron, &stubHub{}, logging.Discard())

	require.NoError(t, w.ProcessCron(context.Background(), service.NewCoverCronTask()))
	assert.Equal(t, 1, cron.calls)

	cron.err = errors.New("boom")
	assert.Error(t, w.ProcessCron(context.Background(), service.NewCoverCronTask()))
}
