package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
	timeout    time.Duration
	logger     logrus.FieldLogger
	done       func(Job)
}

func NewWorker(pool *jobChannelPool, id int, timeout time.Duration, logger logrus.FieldLogger, done func(Job)) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
		timeout:    timeout,
		logger:     logger,
		done:       done,
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			job := <-w.jobChannel
			if job.stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
			if w.done != nil {
				w.done(job)
			}
			if !w.pool.release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) {
	entry := w.logger.WithFields(logrus.Fields{
		"worker":     w.id,
		"job":        job.Name,
		"session_id": job.SessionID,
	})
	if job.Run == nil {
		return
	}

	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return job.Run(ctx)
	}()
	if err != nil {
		entry.WithError(err).Debug("sync job failed")
		return
	}
	entry.WithField("elapsed", time.Since(start)).Debug("sync job done")
}
