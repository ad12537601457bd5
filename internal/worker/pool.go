package worker

import (
	"context"
	"sync"

	"remessa-import/internal/logger"

	"github.com/rs/zerolog"
)

// Pool runs import-processing tasks on a fixed set of workers. Tasks are
// dropped with a warning when the queue is full rather than blocking the
// submitter.
type Pool struct {
	workerCount int
	taskChan    chan func(context.Context) error
	wg          sync.WaitGroup
	log         zerolog.Logger
}

func NewPool(workerCount int) *Pool {
	return &Pool{
		workerCount: workerCount,
		taskChan:    make(chan func(context.Context) error, workerCount*2),
		log:         logger.Get(),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("worker_count", p.workerCount).Msg("Starting worker pool")

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) Stop() {
	p.log.Info().Msg("Stopping worker pool")
	close(p.taskChan)
	p.wg.Wait()
	p.log.Info().Msg("Worker pool stopped")
}

func (p *Pool) Submit(task func(context.Context) error) {
	select {
	case p.taskChan <- task:
	default:
		p.log.Warn().Msg("Worker pool queue full, task dropped")
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.log.With().Int("worker_id", id).Logger()
	log.Debug().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Worker stopping due to context cancellation")
			return
		case task, ok := <-p.taskChan:
			if !ok {
				log.Debug().Msg("Worker stopping due to closed task channel")
				return
			}

			if err := task(ctx); err != nil {
				log.Error().Err(err).Msg("Task execution failed")
			}
		}
	}
}
