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
	"fmt"
	"math"
	"runtime"

	"github.com/hyperledger/firefly-common/pkg/log"

	"github.com/kaleido-io/relaymesh/internal/store"
	"github.com/kaleido-io/relaymesh/internal/types"
)

// messageState classifies what the store holds at one nonce
type messageState int

const (
	// stateUnindexed: the indexer has not written this nonce yet
	stateUnindexed messageState = iota
	// stateProcessable: indexed and not yet delivered
	stateProcessable
	// stateProcessed: indexed and already marked delivered
	stateProcessed
)

type nonceDirection int

const (
	directionHigh nonceDirection = iota
	directionLow
)

// directionalNonceIterator walks the origin's dense nonce space one way.
// The high iterator saturates at the top of the u32 range; the low one
// stops for good after passing nonce zero.
type directionalNonceIterator struct {
	nonce     *uint32
	direction nonceDirection
	db        *store.OriginStore
}

func (it *directionalNonceIterator) String() string {
	n := "nil"
	if it.nonce != nil {
		n = fmt.Sprintf("%d", *it.nonce)
	}
	dir := "high"
	if it.direction == directionLow {
		dir = "low"
	}
	return fmt.Sprintf("nonceIterator{nonce: %s, direction: %s}", n, dir)
}

// canAdvance is false once the iterator has hit its end of the nonce
// space: the top of the u32 range going up, or past zero going down
func (it *directionalNonceIterator) canAdvance() bool {
	if it.nonce == nil {
		return false
	}
	return it.direction == directionLow || *it.nonce < math.MaxUint32
}

func (it *directionalNonceIterator) iterate() {
	switch it.direction {
	case directionHigh:
		if it.nonce != nil && *it.nonce < math.MaxUint32 {
			next := *it.nonce + 1
			it.nonce = &next
		}
	case directionLow:
		if it.nonce != nil {
			if *it.nonce == 0 {
				// zero has been visited; nothing below it
				it.nonce = nil
			} else {
				next := *it.nonce - 1
				it.nonce = &next
			}
		}
	}
}

func (it *directionalNonceIterator) tryGetNextNonce(ctx context.Context, metrics *LoaderMetrics) (messageState, *types.Message, error) {
	if it.nonce == nil {
		return stateUnindexed, nil, nil
	}
	msg, err := it.db.MessageByNonce(ctx, *it.nonce)
	if err != nil {
		return stateUnindexed, nil, err
	}
	if msg == nil {
		return stateUnindexed, nil, nil
	}
	metrics.recordNonce(msg)
	processed, err := it.db.IsProcessed(ctx, *it.nonce)
	if err != nil {
		return stateUnindexed, nil, err
	}
	if processed {
		log.L(ctx).Tracef("Nonce %d already marked processed", *it.nonce)
		return stateProcessed, nil, nil
	}
	return stateProcessable, msg, nil
}

// forwardBackwardIterator prefers new (high) nonces but backfills older
// undelivered ones whenever the tip is exhausted
type forwardBackwardIterator struct {
	highNonceIter *directionalNonceIterator
	lowNonceIter  *directionalNonceIterator
}

func newForwardBackwardIterator(ctx context.Context, db *store.OriginStore) (*forwardBackwardIterator, error) {
	highNonce, err := db.HighestSeenNonce(ctx)
	if err != nil {
		return nil, err
	}
	start := uint32(0)
	if highNonce != nil {
		start = *highNonce
	}
	high := &directionalNonceIterator{nonce: &start, direction: directionHigh, db: db}
	low := &directionalNonceIterator{nonce: highNonce, direction: directionLow, db: db}
	// step below the high start so the same nonce is not handed out twice
	low.iterate()
	log.L(ctx).Debugf("Initialized nonce iterators: high=%s low=%s", high, low)
	return &forwardBackwardIterator{highNonceIter: high, lowNonceIter: low}, nil
}

// tryGetNextMessage scans until it finds a processable message or both
// directions are unindexed. The scan may cross millions of processed
// nonces after a restart, so it yields the processor every iteration.
func (fb *forwardBackwardIterator) tryGetNextMessage(ctx context.Context, metrics *LoaderMetrics) (*types.Message, error) {
	for ctx.Err() == nil {
		highState, highMsg, err := fb.highNonceIter.tryGetNextNonce(ctx, metrics)
		if err != nil {
			return nil, err
		}
		lowState, lowMsg, err := fb.lowNonceIter.tryGetNextNonce(ctx, metrics)
		if err != nil {
			return nil, err
		}

		switch {
		// higher nonces always take priority; a saturated tip that is
		// fully delivered yields to the low side instead of spinning
		case highState == stateProcessed && fb.highNonceIter.canAdvance():
			fb.highNonceIter.iterate()
		case highState == stateProcessable:
			fb.highNonceIter.iterate()
			return highMsg, nil

		// the low iterator only advances when the tip is stuck
		case lowState == stateProcessed:
			fb.lowNonceIter.iterate()
		case lowState == stateProcessable:
			fb.lowNonceIter.iterate()
			return lowMsg, nil

		default:
			// both unindexed: nothing to do this tick
			return nil, nil
		}
		runtime.Gosched()
	}
	return nil, ctx.Err()
}
