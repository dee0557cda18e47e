package worker

import (
	"container/list"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config sizes the dispatcher and its worker pool.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	JobTimeout  time.Duration
}

type sessionQueue struct {
	jobs     []Job
	enqueued bool // waiting in the ready list
	running  bool // a job of this session is on a worker
}

// Dispatcher fans background jobs out to a bounded worker pool. Sessions
// take turns in the ready list so one chatty session cannot starve the rest.
type Dispatcher struct {
	pool   *jobChannelPool
	logger logrus.FieldLogger
	limit  int
	notify chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	queues   map[string]*sessionQueue // job queue for each session
	ready    *list.List               // round-robin list of session ids
	queued   int
	inFlight int
	closed   bool
	idle     *sync.Cond
}

func NewDispatcher(cfg Config, logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	d := &Dispatcher{
		logger: logger,
		limit:  cfg.QueueSize,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		queues: make(map[string]*sessionQueue),
		ready:  list.New(),
	}
	d.idle = sync.NewCond(&d.mu)
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, func(p *jobChannelPool, id int) *Worker {
		return NewWorker(p, id, cfg.JobTimeout, logger, d.finish)
	})

	// warm up
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a job. It never blocks on the job itself.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrPoolClosed
	}
	if d.queued >= d.limit {
		d.mu.Unlock()
		return ErrPoolBusy
	}
	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	q.jobs = append(q.jobs, job)
	d.queued++
	if !q.enqueued && !q.running {
		q.enqueued = true
		d.ready.PushBack(job.SessionID)
	}
	d.mu.Unlock()
	d.wake()
	return nil
}

// Wait blocks until every accepted job has finished.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	for d.queued > 0 || d.inFlight > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Close stops accepting jobs, lets queued and running ones complete and
// then shuts the workers down.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	already := d.closed
	d.closed = true
	d.mu.Unlock()
	if !already {
		d.wake()
	}
	<-d.done
}

func (d *Dispatcher) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		job, ok, stop := d.next()
		if stop {
			d.pool.shutdown()
			return
		}
		if !ok {
			<-d.notify
			continue
		}
		workerChan := d.pool.acquire()
		d.logger.WithFields(logrus.Fields{
			"job":        job.Name,
			"session_id": job.SessionID,
			"worker":     d.pool.workerID(workerChan),
		}).Trace("dispatch sync job")
		workerChan <- job
	}
}

// next pops the first job of the session at the front of the ready list.
func (d *Dispatcher) next() (Job, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false, d.closed && d.queued == 0 && d.inFlight == 0
	}
	sessionID := elem.Value.(string)
	d.ready.Remove(elem)

	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.enqueued = false
	q.running = true
	d.queued--
	d.inFlight++
	return job, true, false
}

// finish runs on the worker goroutine once a job returns.
func (d *Dispatcher) finish(job Job) {
	d.mu.Lock()
	d.inFlight--
	if q, ok := d.queues[job.SessionID]; ok {
		q.running = false
		if len(q.jobs) > 0 {
			q.enqueued = true
			d.ready.PushBack(job.SessionID)
		} else {
			delete(d.queues, job.SessionID)
		}
	}
	if d.queued == 0 && d.inFlight == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
	d.wake()
}
