package server

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NahomAnteneh/oxen/internal/kvstore"
	"github.com/NahomAnteneh/oxen/internal/vlog"
)

// pollInterval is how long the worker sleeps between empty-queue polls.
const pollInterval = 200 * time.Millisecond

// TaskKind discriminates finalize-queue tasks.
type TaskKind string

const (
	TaskTreeFromEntries TaskKind = "tree_from_entries"
	TaskWarmCache       TaskKind = "warm_cache"
	TaskUnlock          TaskKind = "unlock"
)

// Task is a durable unit of work for the finalize queue.
type Task struct {
	RepoNamespace string   `json:"repo_ns"`
	RepoName      string   `json:"repo_name"`
	CommitID      string   `json:"commit_id"`
	Branch        string   `json:"branch,omitempty"`
	Kind          TaskKind `json:"kind"`
}

// Queue is a durable FIFO of finalize tasks backed by a bbolt KV store,
// so a crash between enqueue and worker-ack never loses a task: tasks
// remain on the queue until the worker acks them.
type Queue struct {
	kv       *kvstore.Store
	seq      atomic.Uint64
	mu       sync.Mutex
	depth    int
	maxDepth int
}

// NewQueue opens (or creates) the durable queue at path, capping depth
// at maxDepth for backpressure: once depth reaches the threshold, new
// completion calls should return 202 with a retry-after instead of
// enqueuing.
func NewQueue(path string, maxDepth int) (*Queue, error) {
	kv, err := kvstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open finalize queue: %w", err)
	}
	q := &Queue{kv: kv, maxDepth: maxDepth}
	// Resume depth and the sequence counter from whatever survived a
	// restart, so new keys keep sorting after un-acked ones.
	var lastSeq uint64
	err = kv.Range(nil, nil, func(e kvstore.Entry) error {
		q.depth++
		if len(e.Key) == 8 {
			lastSeq = binary.BigEndian.Uint64(e.Key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.seq.Store(lastSeq)
	return q, nil
}

func (q *Queue) Close() error { return q.kv.Close() }

// ErrQueueFull signals depth-based backpressure.
type ErrQueueFull struct{}

func (e *ErrQueueFull) Error() string { return "finalize queue is at capacity" }

// Push enqueues a task, returning ErrQueueFull if the queue already holds
// maxDepth tasks.
func (q *Queue) Push(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxDepth > 0 && q.depth >= q.maxDepth {
		return &ErrQueueFull{}
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, q.seq.Add(1))
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := q.kv.Put(key, data); err != nil {
		return err
	}
	q.depth++
	return nil
}

// Pop returns the oldest task without removing it, or ok=false if the
// queue is empty; Ack removes it.
func (q *Queue) Pop() (key []byte, task Task, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var found bool
	scanErr := q.kv.Range(nil, nil, func(e kvstore.Entry) error {
		if found {
			return nil
		}
		found = true
		key = append([]byte(nil), e.Key...)
		return json.Unmarshal(e.Value, &task)
	})
	if scanErr != nil {
		return nil, Task{}, false, scanErr
	}
	if !found {
		return nil, Task{}, false, nil
	}
	return key, task, true, nil
}

// Ack removes a popped task from the durable store, making it idempotent
// to retry a crash between Pop and Ack (the task is simply popped again).
func (q *Queue) Ack(key []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.kv.Delete(key); err != nil {
		return err
	}
	if q.depth > 0 {
		q.depth--
	}
	return nil
}

func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Handler processes one task. Handlers must be idempotent: a task may be
// retried after a crash between Pop and Ack.
type Handler func(Task) error

// Worker pops tasks FIFO and dispatches them to handler, one at a time,
// until Stop is called.
type Worker struct {
	q       *Queue
	handler Handler
	stop    chan struct{}
	done    chan struct{}
}

func NewWorker(q *Queue, handler Handler) *Worker {
	return &Worker{q: q, handler: handler, stop: make(chan struct{}), done: make(chan struct{})}
}

func (w *Worker) Run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		key, task, ok, err := w.q.Pop()
		if err != nil {
			vlog.L().Sugar().Errorf("finalize queue pop failed: %v", err)
			continue
		}
		if !ok {
			select {
			case <-w.stop:
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		if err := w.handler(task); err != nil {
			vlog.L().Sugar().Errorf("finalize task %s/%s (%s) failed, will retry: %v", task.RepoNamespace, task.RepoName, task.Kind, err)
			// Left on the queue; pause before retrying so a persistently
			// failing task cannot spin the worker.
			select {
			case <-w.stop:
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if err := w.q.Ack(key); err != nil {
			vlog.L().Sugar().Errorf("failed to ack finalize task: %v", err)
		}
	}
}

func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}
