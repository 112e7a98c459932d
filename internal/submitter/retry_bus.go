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

	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/kaleido-io/relaymesh/internal/matching"
	"github.com/kaleido-io/relaymesh/internal/msgs"
)

// RetryRequest asks every queue to make matching operations immediately
// eligible again
type RetryRequest struct {
	UUID    string
	Pattern *matching.MatchingList
}

// RetryResponse is posted once per queue that processed a request
type RetryResponse struct {
	UUID      string `json:"uuid"`
	Processed int    `json:"processed"`
	Matched   int    `json:"matched"`
}

const retryBusBuffer = 100

// RetryBus fans RetryRequests out to every OpQueue and funnels their
// responses back to the HTTP layer. Subscriber buffers are bounded; a
// full buffer fails the publish so the caller can surface the error
// rather than silently losing a manual retry.
type RetryBus struct {
	mux         sync.Mutex
	subscribers []chan RetryRequest
	responses   chan RetryResponse
}

func NewRetryBus() *RetryBus {
	return &RetryBus{
		responses: make(chan RetryResponse, retryBusBuffer),
	}
}

// Subscribe registers a new queue; must complete before Publish is called
func (rb *RetryBus) Subscribe() <-chan RetryRequest {
	rb.mux.Lock()
	defer rb.mux.Unlock()
	ch := make(chan RetryRequest, retryBusBuffer)
	rb.subscribers = append(rb.subscribers, ch)
	return ch
}

// SubscriberCount tells the HTTP layer how many responses to await
func (rb *RetryBus) SubscriberCount() int {
	rb.mux.Lock()
	defer rb.mux.Unlock()
	return len(rb.subscribers)
}

// Publish delivers the request to every subscriber, or fails without
// partial delivery if any buffer is full
func (rb *RetryBus) Publish(ctx context.Context, req RetryRequest) error {
	rb.mux.Lock()
	defer rb.mux.Unlock()
	for _, ch := range rb.subscribers {
		if len(ch) == cap(ch) {
			return i18n.NewError(ctx, msgs.MsgRetryChannelFull)
		}
	}
	for _, ch := range rb.subscribers {
		ch <- req
	}
	return nil
}

func (rb *RetryBus) Respond(resp RetryResponse) {
	select {
	case rb.responses <- resp:
	default:
		// response consumer has gone away; nothing useful to do
	}
}

func (rb *RetryBus) Responses() <-chan RetryResponse {
	return rb.responses
}
