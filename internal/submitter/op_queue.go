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
	"container/heap"
	"context"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/log"
)

// OpQueue is a priority queue of pending operations ordered by (status
// priority, next-attempt time, insertion sequence). One mutex guards the
// heap; it is never held across a suspension point.
type OpQueue struct {
	mux      sync.Mutex
	ops      opHeap
	nextSeq  uint64
	name     string
	retryRx  <-chan RetryRequest
	retryBus *RetryBus
	onLen    func(n int)
}

// NewOpQueue subscribes the queue to the retry bus at construction, so no
// retry request published after startup can be missed. onLen mirrors the
// queue depth to a metrics gauge and may be nil.
func NewOpQueue(name string, retryBus *RetryBus, onLen func(n int)) *OpQueue {
	q := &OpQueue{
		name:     name,
		retryBus: retryBus,
		onLen:    onLen,
	}
	if retryBus != nil {
		q.retryRx = retryBus.Subscribe()
	}
	return q
}

func (q *OpQueue) Name() string { return q.name }

// Push inserts the operation in priority order
func (q *OpQueue) Push(op *PendingMessage) {
	q.mux.Lock()
	defer q.mux.Unlock()
	if op.seq == 0 {
		q.nextSeq++
		op.seq = q.nextSeq
	}
	heap.Push(&q.ops, op)
	q.reportLen()
}

func (q *OpQueue) Len() int {
	q.mux.Lock()
	defer q.mux.Unlock()
	return len(q.ops)
}

// PopMany removes and returns up to n ready operations. Retry requests
// are drained first so manual retries take effect on the very next batch.
// Operations that are not yet ready are re-inserted where they were.
func (q *OpQueue) PopMany(ctx context.Context, n int) []*PendingMessage {
	q.processRetryRequests(ctx)
	q.mux.Lock()
	defer q.mux.Unlock()
	batch := make([]*PendingMessage, 0, n)
	var notReady []*PendingMessage
	scanLimit := len(q.ops)
	for i := 0; i < scanLimit && len(batch) < n && len(q.ops) > 0; i++ {
		op := heap.Pop(&q.ops).(*PendingMessage)
		if op.IsReady() {
			batch = append(batch, op)
		} else {
			notReady = append(notReady, op)
		}
	}
	for _, op := range notReady {
		heap.Push(&q.ops, op)
	}
	q.reportLen()
	return batch
}

// processRetryRequests non-blockingly drains the retry subscription,
// zeroing the attempt time of every matching queued operation
func (q *OpQueue) processRetryRequests(ctx context.Context) {
	if q.retryRx == nil {
		return
	}
	for {
		select {
		case req := <-q.retryRx:
			q.mux.Lock()
			matched := 0
			processed := len(q.ops)
			for _, op := range q.ops {
				if req.Pattern.Matches(op.Message, false) {
					op.ResetAttemptTime()
					matched++
				}
			}
			// attempt times changed, so rebuild the ordering
			heap.Init(&q.ops)
			q.mux.Unlock()
			log.L(ctx).Infof("Retry request %s matched %d of %d ops in %s", req.UUID, matched, processed, q.name)
			q.retryBus.Respond(RetryResponse{UUID: req.UUID, Processed: processed, Matched: matched})
		default:
			return
		}
	}
}

func (q *OpQueue) reportLen() {
	if q.onLen != nil {
		q.onLen(len(q.ops))
	}
}

// opHeap implements container/heap ordering over pending operations
type opHeap []*PendingMessage

func (h opHeap) Len() int { return len(h) }

func (h opHeap) Less(i, j int) bool {
	pi, pj := statusPriority(h[i].status), statusPriority(h[j].status)
	if pi != pj {
		return pi < pj
	}
	if !h[i].nextAttemptAfter.Equal(h[j].nextAttemptAfter) {
		return h[i].nextAttemptAfter.Before(h[j].nextAttemptAfter)
	}
	return h[i].seq < h[j].seq
}

func (h opHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *opHeap) Push(x any) {
	*h = append(*h, x.(*PendingMessage))
}

func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return op
}
