package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task es una unidad de trabajo fire-and-forget. Recibe el contexto del pool,
// no el del request que la originó.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// WorkerPool ejecuta tareas en segundo plano sin que el caller espere su
// resultado. Enqueue nunca bloquea: con la cola llena la tarea se descarta.
type WorkerPool struct {
	jobs    chan Task
	workers int
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started bool
}

func NewWorkerPool(workers, queueSize int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = zap.L()
	}

	return &WorkerPool{
		jobs:    make(chan Task, queueSize),
		workers: workers,
		logger:  logger,
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Enqueue devuelve false si la tarea se descartó (cola llena o pool cerrado).
func (wp *WorkerPool) Enqueue(task Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		wp.logger.Warn("worker pool closed, dropping task", zap.String("task", task.Name))
		return false
	}

	select {
	case wp.jobs <- task:
		return true
	default:
		wp.logger.Warn("worker queue full, dropping task",
			zap.String("task", task.Name),
			zap.Int("queue_size", cap(wp.jobs)),
		)
		return false
	}
}

// Stop deja de aceptar tareas y espera a que se drene la cola.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
}

// Pending devuelve cuántas tareas esperan en la cola.
func (wp *WorkerPool) Pending() int {
	return len(wp.jobs)
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	wp.logger.Debug("worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			wp.logger.Debug("worker stopped", zap.Int("worker_id", id))
			return

		case task, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.run(ctx, id, task)
		}
	}
}

// run aísla cada tarea: un error o un panic se registran y no salen del pool.
func (wp *WorkerPool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("worker task panicked",
				zap.Int("worker_id", id),
				zap.String("task", task.Name),
				zap.Any("panic", r),
			)
		}
	}()

	if err := task.Run(ctx); err != nil {
		wp.logger.Warn("worker task failed",
			zap.Int("worker_id", id),
			zap.String("task", task.Name),
			zap.Error(err),
		)
	}
}
