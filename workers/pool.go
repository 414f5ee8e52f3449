package workers

import (
	"context"
	"fmt"
	"sync"

	"carbitrage/models"
)

// LogFunc receives job-level events, keyed by the job name.
type LogFunc func(level models.LogLevel, source, message string)

func discardLog(models.LogLevel, string, string) {}

// Pool runs jobs on at most size goroutines. Submit blocks while the pool
// is full.
type Pool struct {
	semaphore chan struct{}
	wg        sync.WaitGroup
	logf      LogFunc
}

func NewPool(size int, logf LogFunc) *Pool {
	if size < 1 {
		size = 1
	}
	if logf == nil {
		logf = discardLog
	}
	return &Pool{
		semaphore: make(chan struct{}, size),
		logf:      logf,
	}
}

// Submit waits for a free slot and starts job. It returns ctx.Err() without
// running the job if the context ends first.
func (p *Pool) Submit(ctx context.Context, name string, job func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case p.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.semaphore }()
		defer func() {
			if r := recover(); r != nil {
				p.logf(models.LogLevelError, name, fmt.Sprintf("worker panic: %v", r))
			}
		}()

		job()
	}()
	return nil
}

// Wait blocks until all submitted jobs have completed.
func (p *Pool) Wait() {
	p.wg.Wait()
}
