// Package dispatcher runs crawl tasks on a fixed pool of workers fed from an
// unbounded FIFO queue. Tasks may push follow-up tasks while executing, so the
// queue tracks a pending count that covers queued and in-flight work; Join
// blocks until both reach zero.
package dispatcher

import (
	"context"
	"sync"

	"archivecrawl/pkg/logger"
)

// Task is a unit of crawl work executed by a pool worker
type Task interface {
	// Execute performs the work. It may push further tasks onto the queue.
	Execute(ctx context.Context) error

	// OnFault decides whether the task should be requeued after Execute
	// returned err. Returning false abandons the task.
	OnFault(err error) bool

	// Describe returns log fields identifying the task
	Describe() map[string]interface{}
}

// Queue is an unbounded FIFO work queue with drain accounting. Every pushed
// task increments the pending count; workers decrement it after the task
// finishes, whether it succeeded, was abandoned, or was requeued as a new
// push. Join returns once the count drops to zero.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Task
	pending int
	closed  bool
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a task. Pushing to a closed queue is a no-op.
func (q *Queue) Push(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, t)
	q.pending++
	q.cond.Broadcast()
}

// pop blocks until a task is available or the queue is closed
func (q *Queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// done marks one pending task as finished
func (q *Queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending < 0 {
		panic("dispatcher: done called more times than push")
	}
	q.cond.Broadcast()
}

// Join blocks until every pushed task has finished, including tasks pushed
// by other tasks while draining.
func (q *Queue) Join() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		q.cond.Wait()
	}
}

// close rejects further pushes, discards queued tasks and wakes blocked
// workers and Join waiters. In-flight tasks still account their completion,
// so Join returns once they finish.
func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending -= len(q.items)
	q.items = nil
	q.cond.Broadcast()
}

// Pending returns the number of queued plus in-flight tasks
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Pool executes queued tasks on a fixed number of workers
type Pool struct {
	numWorkers int
	queue      *Queue
	wg         sync.WaitGroup
	logger     logger.Logger
}

// NewPool creates a worker pool draining queue
func NewPool(numWorkers int, queue *Queue, log logger.Logger) *Pool {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{
		numWorkers: numWorkers,
		queue:      queue,
		logger:     log,
	}
}

// Start launches the workers
func (p *Pool) Start(ctx context.Context) {
	p.logger.InfoWithFields("Starting dispatcher pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop closes the queue and waits for all workers to exit. Call after Join
// when the queue has drained, or earlier to abandon queued work.
func (p *Pool) Stop() {
	p.queue.close()
	p.wg.Wait()
	p.logger.Info("Dispatcher pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.logger.WithField("worker_id", id)
	log.Debug("Worker started")

	for {
		task, ok := p.queue.pop()
		if !ok {
			log.Debug("Worker shutting down")
			return
		}

		err := task.Execute(ctx)
		if err != nil {
			fields := task.Describe()
			fields["error"] = err.Error()
			if task.OnFault(err) {
				log.WarnWithFields("Task failed, requeuing", fields)
				p.queue.Push(task)
			} else {
				log.ErrorWithFields("Task failed, abandoning", fields)
			}
		}

		// Always account the finished execution, even when the task was
		// requeued as a fresh push.
		p.queue.done()

		if ctx.Err() != nil {
			log.Debug("Worker context cancelled")
			return
		}
	}
}
