// Copyright (C) 2023 Andrew Dunstall
//
// Registry is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Registry is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package dispatch implements the bounded callback worker pool: user
// callbacks are invoked with per-callback isolation, and submissions for
// a single key are funneled through one worker slot to preserve
// per-key ordering.
package dispatch

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Job is one callback invocation request.
type Job struct {
	Key      string
	Callback func(content string)
	Content  string
}

// Pool is a fixed-size worker pool consuming a bounded queue per worker.
// Jobs for the same Key always land on the same worker, so a single key's
// callbacks observe submission order even though workers run concurrently.
type Pool struct {
	queues []chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

func New(workers int, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		queues: make([]chan Job, workers),
		logger: logger,
	}
	for i := range p.queues {
		p.queues[i] = make(chan Job, queueSize)
	}
	p.wg.Add(workers)
	for i := range p.queues {
		go p.worker(p.queues[i])
	}
	return p
}

// Submit enqueues job on the worker slot determined by hashing its key.
// Submit blocks if that worker's queue is full, applying natural
// backpressure rather than dropping notifications.
func (p *Pool) Submit(job Job) {
	idx := xxhash.Sum64String(job.Key) % uint64(len(p.queues))
	p.queues[idx] <- job
}

// Close stops accepting new work and waits for queued jobs to drain.
func (p *Pool) Close() {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
}

func (p *Pool) worker(queue chan Job) {
	defer p.wg.Done()
	for job := range queue {
		p.invoke(job)
	}
}

func (p *Pool) invoke(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("callback panicked", zap.String("key", job.Key), zap.Any("recovered", r))
		}
	}()
	job.Callback(job.Content)
}
