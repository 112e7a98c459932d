/*
 * Copyright © 2025 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package submitter

import (
	"context"
	"sync"
	"time"

	"github.com/hyperledger/firefly-common/pkg/log"

	"github.com/kaleido-io/relaymesh/internal/types"
)

const (
	emptyQueueSleep  = 100 * time.Millisecond
	confirmIdleSleep = 200 * time.Millisecond
	allNotReadySleep = 500 * time.Millisecond
	weakSeqPause     = 1 * time.Second
	defaultBatchSize = 32
)

// Config tunes one destination's pipeline
type Config struct {
	MaxBatchSize int
	// PostSubmitPause is inserted after each submit iteration on chains
	// whose sequencing breaks under back-to-back submissions
	PostSubmitPause time.Duration
}

// SerialSubmitter owns the three per-destination queues and the four
// cooperative pipeline tasks. It accepts operations over a channel and is
// responsible for executing the right strategy to deliver them, retrying
// retriable failures according to each operation's own backoff.
type SerialSubmitter struct {
	ctx       context.Context
	ctxCancel context.CancelFunc

	domain       types.Domain
	rx           <-chan *PendingMessage
	prepareQueue *OpQueue
	submitQueue  *OpQueue
	confirmQueue *OpQueue
	metrics      *Metrics
	maxBatchSize int
	postSubmit   time.Duration

	done sync.WaitGroup
}

func NewSerialSubmitter(bgCtx context.Context, domain types.Domain, rx <-chan *PendingMessage, retryBus *RetryBus, m *Metrics, conf *Config) *SerialSubmitter {
	ctx, cancel := context.WithCancel(log.WithLogField(bgCtx, "destination", domain.Name))
	maxBatchSize := defaultBatchSize
	postSubmit := time.Duration(0)
	if conf != nil {
		if conf.MaxBatchSize > 0 {
			maxBatchSize = conf.MaxBatchSize
		}
		postSubmit = conf.PostSubmitPause
	}
	if postSubmit == 0 && domain.Protocol == types.ProtocolCosmos {
		// back-to-back submissions trip account sequence checks there
		postSubmit = weakSeqPause
	}
	return &SerialSubmitter{
		ctx:          ctx,
		ctxCancel:    cancel,
		domain:       domain,
		rx:           rx,
		prepareQueue: NewOpQueue("prepare_queue", retryBus, m.queueLenCallback("prepare_queue")),
		submitQueue:  NewOpQueue("submit_queue", retryBus, m.queueLenCallback("submit_queue")),
		confirmQueue: NewOpQueue("confirm_queue", retryBus, m.queueLenCallback("confirm_queue")),
		metrics:      m,
		maxBatchSize: maxBatchSize,
		postSubmit:   postSubmit,
	}
}

func (s *SerialSubmitter) Domain() types.Domain { return s.domain }

// PrepareQueue is exposed for the composition root's tests
func (s *SerialSubmitter) PrepareQueue() *OpQueue { return s.prepareQueue }

func (s *SerialSubmitter) Start() {
	tasks := []func(){s.receiveTask, s.prepareTask, s.submitTask, s.confirmTask}
	s.done.Add(len(tasks))
	for _, task := range tasks {
		go func(run func()) {
			defer s.done.Done()
			run()
		}(task)
	}
	log.L(s.ctx).Infof("Started serial submitter for %s", s.domain)
}

func (s *SerialSubmitter) Stop() {
	s.ctxCancel()
	s.done.Wait()
}

func (s *SerialSubmitter) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// receiveTask moves inbound operations onto the prepare queue
func (s *SerialSubmitter) receiveTask() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case op, ok := <-s.rx:
			if !ok {
				return
			}
			if op.Destination().ID != s.domain.ID {
				// wiring bug in the composition root; refuse the operation
				log.L(s.ctx).Errorf("Operation for %s received by submitter for %s", op.Destination(), s.domain)
				continue
			}
			log.L(s.ctx).Tracef("Received operation for message %s", op.ID())
			s.prepareQueue.Push(op)
		}
	}
}

// prepareTask drains a batch, prepares concurrently, and routes results
func (s *SerialSubmitter) prepareTask() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		batch := s.prepareQueue.PopMany(s.ctx, s.maxBatchSize)
		if len(batch) == 0 {
			if !s.sleep(emptyQueueSleep) {
				return
			}
			continue
		}
		results := s.runConcurrently(batch, func(op *PendingMessage) Result {
			return op.Prepare(s.ctx)
		})
		notReady := 0
		for i, op := range batch {
			switch results[i].Type {
			case ResultSuccess:
				log.L(s.ctx).Debugf("Operation %s prepared", op.ID())
				s.metrics.incPrepared()
				s.submitQueue.Push(op)
			case ResultNotReady:
				notReady++
				s.prepareQueue.Push(op)
			case ResultReprepare:
				notReady++
				s.metrics.incFailed()
				s.prepareQueue.Push(op)
			case ResultConfirm:
				log.L(s.ctx).Debugf("Operation %s already delivered, confirming", op.ID())
				s.confirmQueue.Push(op)
			case ResultDrop:
				s.metrics.incDropped()
			}
		}
		if notReady == len(batch) {
			if !s.sleep(allNotReadySleep) {
				return
			}
		}
	}
}

// submitTask submits singles directly and larger batches as one
// destination transaction with serial fallback
func (s *SerialSubmitter) submitTask() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		batch := s.submitQueue.PopMany(s.ctx, s.maxBatchSize)
		switch {
		case len(batch) == 0:
			if !s.sleep(emptyQueueSleep) {
				return
			}
			continue
		case len(batch) == 1:
			s.submitSingle(batch[0])
		default:
			s.submitBatch(batch)
		}
		if s.postSubmit > 0 {
			if !s.sleep(s.postSubmit) {
				return
			}
		}
	}
}

func (s *SerialSubmitter) submitSingle(op *PendingMessage) {
	switch result := op.Submit(s.ctx); result.Type {
	case ResultSuccess:
		s.metrics.incSubmitted(1)
		s.confirmQueue.Push(op)
	case ResultReprepare:
		s.metrics.incFailed()
		s.prepareQueue.Push(op)
	case ResultDrop:
		s.metrics.incDropped()
	default:
		s.prepareQueue.Push(op)
	}
}

func (s *SerialSubmitter) submitBatch(batch []*PendingMessage) {
	outcome, err := s.trySubmitAsBatch(batch)
	if err != nil {
		log.L(s.ctx).Warnf("Batch submission of %d ops failed, falling back to serial: %s", len(batch), err)
		for _, op := range batch {
			s.submitSingle(op)
		}
		return
	}
	log.L(s.ctx).Infof("Submitted batch of %d ops in tx %s", len(batch), outcome.TxID)
	s.metrics.incSubmitted(len(batch))
	for _, op := range batch {
		op.RecordBatchOutcome(outcome)
		s.confirmQueue.Push(op)
	}
}

func (s *SerialSubmitter) trySubmitAsBatch(batch []*PendingMessage) (*types.TxOutcome, error) {
	items := make([]*types.BatchItem, len(batch))
	for i, op := range batch {
		item, err := op.TryBatch(s.ctx)
		if err != nil {
			return nil, err
		}
		items[i] = item
	}
	// one mailbox per destination, so any member's context serves
	result, err := batch[0].ctx.DestinationMailbox.ProcessBatch(s.ctx, items)
	if err != nil {
		return nil, err
	}
	return result.Outcome, nil
}

// confirmTask checks delivery concurrently and routes results
func (s *SerialSubmitter) confirmTask() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		batch := s.confirmQueue.PopMany(s.ctx, s.maxBatchSize)
		if len(batch) == 0 {
			if !s.sleep(confirmIdleSleep) {
				return
			}
			continue
		}
		results := s.runConcurrently(batch, func(op *PendingMessage) Result {
			return op.Confirm(s.ctx)
		})
		allWaiting := true
		for i, op := range batch {
			switch results[i].Type {
			case ResultSuccess:
				log.L(s.ctx).Debugf("Operation %s confirmed", op.ID())
				s.metrics.incConfirmed()
				allWaiting = false
			case ResultNotReady, ResultConfirm:
				s.confirmQueue.Push(op)
			case ResultReprepare:
				s.metrics.incFailed()
				s.prepareQueue.Push(op)
				allWaiting = false
			case ResultDrop:
				s.metrics.incDropped()
				allWaiting = false
			}
		}
		if allWaiting {
			if !s.sleep(allNotReadySleep) {
				return
			}
		}
	}
}

// runConcurrently joins one goroutine per operation in the batch
func (s *SerialSubmitter) runConcurrently(batch []*PendingMessage, fn func(op *PendingMessage) Result) []Result {
	results := make([]Result, len(batch))
	var wg sync.WaitGroup
	wg.Add(len(batch))
	for i, op := range batch {
		go func(i int, op *PendingMessage) {
			defer wg.Done()
			results[i] = fn(op)
		}(i, op)
	}
	wg.Wait()
	return results
}
