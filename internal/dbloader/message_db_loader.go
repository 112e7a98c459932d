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

package dbloader

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kaleido-io/relaymesh/internal/matching"
	"github.com/kaleido-io/relaymesh/internal/metrics"
	"github.com/kaleido-io/relaymesh/internal/store"
	"github.com/kaleido-io/relaymesh/internal/submitter"
	"github.com/kaleido-io/relaymesh/internal/types"
)

const emptyTickSleep = 1 * time.Second

// variables so tests can tighten the destination wait
var (
	destinationWaitMax  = 5 * time.Minute
	destinationWaitPoll = 500 * time.Millisecond
)

// DestinationRegistry is this origin's view of the destinations: the
// send-channel into each destination's submitter and the message context
// for each (this origin, destination) pair. Destinations may register
// asynchronously during incremental startup, so lookups can wait.
type DestinationRegistry struct {
	mux      sync.RWMutex
	channels map[uint32]chan<- *submitter.PendingMessage
	contexts map[uint32]*submitter.MessageContext
}

func NewDestinationRegistry() *DestinationRegistry {
	return &DestinationRegistry{
		channels: make(map[uint32]chan<- *submitter.PendingMessage),
		contexts: make(map[uint32]*submitter.MessageContext),
	}
}

func (r *DestinationRegistry) Register(destination uint32, ch chan<- *submitter.PendingMessage, msgCtx *submitter.MessageContext) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.channels[destination] = ch
	r.contexts[destination] = msgCtx
}

func (r *DestinationRegistry) lookup(destination uint32) (chan<- *submitter.PendingMessage, *submitter.MessageContext) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.channels[destination], r.contexts[destination]
}

// MessageDbLoader finds undelivered messages in one origin's indexed
// store and hands them to the appropriate destination submitter. It is
// the only component that advances the origin's nonce scan.
type MessageDbLoader struct {
	origin       types.Domain
	db           *store.OriginStore
	whitelist    *matching.MatchingList
	blacklist    *matching.MatchingList
	addressBlack *matching.AddressBlacklist
	appContexts  *matching.AppContextClassifier
	destinations *DestinationRegistry
	metrics      *LoaderMetrics
	iterator     *forwardBackwardIterator
	maxRetries   uint32
}

func NewMessageDbLoader(
	ctx context.Context,
	db *store.OriginStore,
	whitelist, blacklist *matching.MatchingList,
	addressBlacklist *matching.AddressBlacklist,
	appContexts *matching.AppContextClassifier,
	destinations *DestinationRegistry,
	loaderMetrics *LoaderMetrics,
	maxRetries uint32,
) (*MessageDbLoader, error) {
	iterator, err := newForwardBackwardIterator(ctx, db)
	if err != nil {
		return nil, err
	}
	return &MessageDbLoader{
		origin:       db.Domain(),
		db:           db,
		whitelist:    whitelist,
		blacklist:    blacklist,
		addressBlack: addressBlacklist,
		appContexts:  appContexts,
		destinations: destinations,
		metrics:      loaderMetrics,
		iterator:     iterator,
		maxRetries:   maxRetries,
	}, nil
}

func (l *MessageDbLoader) Origin() types.Domain { return l.origin }

// Run ticks until the context ends. Store errors are logged and retried
// on the next tick rather than killing the loop.
func (l *MessageDbLoader) Run(ctx context.Context) {
	ctx = log.WithLogField(ctx, "origin", l.origin.Name)
	log.L(ctx).Infof("Message loader started for %s", l.origin)
	for ctx.Err() == nil {
		produced, err := l.Tick(ctx)
		if err != nil {
			log.L(ctx).Errorf("Loader tick failed: %s", err)
		}
		if !produced {
			select {
			case <-ctx.Done():
			case <-time.After(emptyTickSleep):
			}
		}
	}
	log.L(ctx).Infof("Message loader stopped for %s", l.origin)
}

// Tick is one round of the scan, extracted from the loop for testing.
// It reports whether a message was produced (callers sleep when not).
func (l *MessageDbLoader) Tick(ctx context.Context) (bool, error) {
	msg, err := l.iterator.tryGetNextMessage(ctx, l.metrics)
	if err != nil || msg == nil {
		return false, err
	}

	if !l.whitelist.Matches(msg, true) {
		log.L(ctx).Debugf("Message %s not whitelisted, skipping", msg.ID())
		return true, nil
	}
	if l.blacklist.Matches(msg, false) {
		log.L(ctx).Debugf("Message %s blacklisted, skipping", msg.ID())
		return true, nil
	}
	if blacklisted := l.addressBlack.FindBlacklistedAddress(msg); blacklisted != nil {
		log.L(ctx).Debugf("Message %s involves blacklisted address %s, skipping", msg.ID(), hex.EncodeToString(blacklisted))
		return true, nil
	}

	// Destinations may still be initializing during startup; the iterator
	// has already advanced past this message, so hold it and wait rather
	// than losing it
	ch, msgCtx, ok := l.waitForDestination(ctx, msg.Destination)
	if !ok {
		log.L(ctx).Debugf("Message %s destined for unknown domain %d after max wait, skipping", msg.ID(), msg.Destination)
		return true, nil
	}

	appContext := l.appContexts.Classify(msg)
	numRetries, err := l.db.RetryCount(ctx, msg.ID())
	if err != nil {
		log.L(ctx).Warnf("Could not restore retry count for %s: %s", msg.ID(), err)
	}
	pending := submitter.NewPendingMessage(msg, msgCtx, appContext, numRetries, l.maxRetries)
	if err := l.db.MapPayload(ctx, pending.PayloadUUID(), msg.ID()); err != nil {
		log.L(ctx).Warnf("Could not record payload mapping for %s: %s", msg.ID(), err)
	}

	log.L(ctx).Debugf("Sending message %s to submitter for domain %d", msg.ID(), msg.Destination)
	select {
	case ch <- pending:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return true, nil
}

// waitForDestination polls the registry until both the send-channel and
// the message context exist, bounded by an absolute ceiling
func (l *MessageDbLoader) waitForDestination(ctx context.Context, destination uint32) (chan<- *submitter.PendingMessage, *submitter.MessageContext, bool) {
	deadline := time.Now().Add(destinationWaitMax)
	logged := false
	for {
		ch, msgCtx := l.destinations.lookup(destination)
		if ch != nil && msgCtx != nil {
			return ch, msgCtx, true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return nil, nil, false
		}
		if !logged {
			log.L(ctx).Debugf("Destination %d not ready, waiting for it to initialize", destination)
			logged = true
		}
		select {
		case <-ctx.Done():
			return nil, nil, false
		case <-time.After(destinationWaitPoll):
		}
	}
}

// LoaderMetrics tracks the highest nonce the scan has observed overall,
// and the most recently observed nonce per destination
type LoaderMetrics struct {
	mux        sync.Mutex
	maxSeen    int64
	anyGauge   prometheus.Gauge
	destGauges map[uint32]prometheus.Gauge
}

func NewLoaderMetrics(m *metrics.Metrics, origin types.Domain, destinations []types.Domain) *LoaderMetrics {
	vec := m.LastKnownMessageNonce()
	destGauges := make(map[uint32]prometheus.Gauge, len(destinations))
	for _, destination := range destinations {
		destGauges[destination.ID] = vec.WithLabelValues("db_loader_loop", origin.Name, destination.Name)
	}
	return &LoaderMetrics{
		maxSeen:    -1,
		anyGauge:   vec.WithLabelValues("db_loader_loop", origin.Name, "any"),
		destGauges: destGauges,
	}
}

func (lm *LoaderMetrics) recordNonce(msg *types.Message) {
	if lm == nil {
		return
	}
	lm.mux.Lock()
	defer lm.mux.Unlock()
	if int64(msg.Nonce) > lm.maxSeen {
		lm.maxSeen = int64(msg.Nonce)
		lm.anyGauge.Set(float64(msg.Nonce))
	}
	if gauge, ok := lm.destGauges[msg.Destination]; ok {
		gauge.Set(float64(msg.Nonce))
	}
}
