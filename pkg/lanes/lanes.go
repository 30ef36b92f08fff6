package lanes

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harun/runcore/internal/observability"
	"github.com/harun/runcore/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("lane queue closed")

// Task is one unit of lane work.
type Task func(ctx context.Context) error

type job struct {
	ctx        context.Context
	task       Task
	enqueuedAt time.Time
}

type lane struct {
	queue  []*job
	active bool
}

// Queue serializes tasks per lane key.
type Queue struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates an empty queue.
func New(logger zerolog.Logger) *Queue {
	observability.EnsureRegistered()
	return &Queue{
		lanes:  make(map[string]*lane),
		logger: logger.With().Str("component", "lanes").Logger(),
	}
}

// Submit appends task to the lane named key and returns how many tasks are
// ahead of it. The task runs with ctx once every earlier task of the lane
// has returned.
func (q *Queue) Submit(ctx context.Context, key string, task Task) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	l, ok := q.lanes[key]
	if !ok {
		l = &lane{}
		q.lanes[key] = l
		q.wg.Add(1)
		go q.drain(key, l)
	}
	l.queue = append(l.queue, &job{ctx: ctx, task: task, enqueuedAt: time.Now()})

	ahead := len(l.queue) - 1
	if l.active {
		ahead++
	}
	observability.AddLaneQueued(1)

	q.logger.Debug().
		Str("lane", key).
		Int("ahead", ahead).
		Msg("Task queued")
	return ahead, nil
}

// Pending reports the queued and executing tasks of key.
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[key]
	if !ok {
		return 0
	}
	n := len(l.queue)
	if l.active {
		n++
	}
	return n
}

// Lanes returns the number of live lanes.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// Close stops accepting tasks. Queued tasks still run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Wait blocks until every lane has drained. Call Close first.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) drain(key string, l *lane) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(l.queue) == 0 {
			l.active = false
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue = l.queue[1:]
		l.active = true
		q.mu.Unlock()

		observability.AddLaneQueued(-1)
		observability.RecordLaneWait(time.Since(j.enqueuedAt))
		q.execute(key, j)
	}
}

func (q *Queue) execute(key string, j *job) {
	ctx, span := tracing.StartSpan(j.ctx, "runcore.lanes", "lanes.execute", attribute.String("lane", key))
	defer span.End()

	start := time.Now()
	err := j.task(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		q.logger.Warn().
			Str("lane", key).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("Task failed")
		return
	}
	q.logger.Debug().
		Str("lane", key).
		Dur("duration", time.Since(start)).
		Msg("Task completed")
}
