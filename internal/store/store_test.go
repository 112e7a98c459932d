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

package store

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaleido-io/relaymesh/internal/types"
)

func newTestStore(t *testing.T) (context.Context, *OriginStore) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	return ctx, s.ForOrigin(types.Domain{ID: 1, Name: "origin1"})
}

func testMessage(nonce uint32) *types.Message {
	return &types.Message{
		Version:     3,
		Nonce:       nonce,
		Origin:      1,
		Sender:      types.MustBytes32("0x9d4454B023096f34B160D6B654540c56A1F81688"),
		Destination: 2,
		Recipient:   types.MustBytes32("0x6AD4DEBA8A147d000C09de6465267a9047d1c217"),
		Body:        []byte("hello"),
	}
}

func TestMessageRoundTrip(t *testing.T) {
	ctx, os := newTestStore(t)

	msg := testMessage(5)
	require.NoError(t, os.StoreMessage(ctx, msg))

	byNonce, err := os.MessageByNonce(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, msg, byNonce)
	assert.Equal(t, msg.ID(), byNonce.ID())

	byID, err := os.MessageByID(ctx, msg.ID())
	require.NoError(t, err)
	assert.Equal(t, msg, byID)

	missing, err := os.MessageByNonce(ctx, 6)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreMessageIdempotent(t *testing.T) {
	ctx, os := newTestStore(t)
	msg := testMessage(1)
	require.NoError(t, os.StoreMessage(ctx, msg))
	require.NoError(t, os.StoreMessage(ctx, msg))
}

func TestOriginScoping(t *testing.T) {
	ctx, os := newTestStore(t)
	require.NoError(t, os.StoreMessage(ctx, testMessage(0)))

	other := os.store.ForOrigin(types.Domain{ID: 99, Name: "other"})
	msg, err := other.MessageByNonce(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestHighestSeenNonce(t *testing.T) {
	ctx, os := newTestStore(t)

	nonce, err := os.HighestSeenNonce(ctx)
	require.NoError(t, err)
	assert.Nil(t, nonce)

	require.NoError(t, os.SetHighestSeenNonce(ctx, 7))
	require.NoError(t, os.SetHighestSeenNonce(ctx, 9))
	nonce, err = os.HighestSeenNonce(ctx)
	require.NoError(t, err)
	require.NotNil(t, nonce)
	assert.Equal(t, uint32(9), *nonce)
}

func TestProcessedMarkers(t *testing.T) {
	ctx, os := newTestStore(t)
	msg := testMessage(3)

	processed, err := os.IsProcessed(ctx, 3)
	require.NoError(t, err)
	assert.False(t, processed)

	outcome := &types.TxOutcome{TxID: types.MustBytes32("0xab00000000000000000000000000000000000000000000000000000000000000"), Executed: true, BlockNumber: 10}
	require.NoError(t, os.MarkProcessed(ctx, 3, msg.ID(), outcome))
	// idempotent: the first marker wins
	require.NoError(t, os.MarkProcessed(ctx, 3, msg.ID(), nil))

	processed, err = os.IsProcessed(ctx, 3)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestGasPaymentsAggregate(t *testing.T) {
	ctx, os := newTestStore(t)
	msg := testMessage(0)

	total, count, err := os.TotalGasPayment(ctx, msg.ID())
	require.NoError(t, err)
	assert.Zero(t, total.Sign())
	assert.Zero(t, count)

	require.NoError(t, os.StoreGasPayment(ctx, 1, msg.ID(), big.NewInt(50)))
	require.NoError(t, os.StoreGasPayment(ctx, 2, msg.ID(), big.NewInt(100)))
	// replayed indexer event is a no-op
	require.NoError(t, os.StoreGasPayment(ctx, 2, msg.ID(), big.NewInt(100)))

	total, count, err = os.TotalGasPayment(ctx, msg.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(150), total.Int64())
	assert.Equal(t, 2, count)
}

func TestRetryCounts(t *testing.T) {
	ctx, os := newTestStore(t)
	id := testMessage(0).ID()

	count, err := os.RetryCount(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, os.SetRetryCount(ctx, id, 3))
	require.NoError(t, os.SetRetryCount(ctx, id, 4))
	count, err = os.RetryCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), count)
}

func TestPayloadMapping(t *testing.T) {
	ctx, os := newTestStore(t)
	msg := testMessage(0)

	require.NoError(t, os.MapPayload(ctx, "11111111-2222-3333-4444-555555555555", msg.ID()))
	id, err := os.MessageIDForPayload(ctx, "11111111-2222-3333-4444-555555555555")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, msg.ID(), *id)

	missing, err := os.MessageIDForPayload(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMerkleInsertions(t *testing.T) {
	ctx, os := newTestStore(t)
	require.NoError(t, os.StoreMerkleInsertion(ctx, 0, testMessage(0).ID()))
	require.NoError(t, os.StoreMerkleInsertion(ctx, 0, testMessage(0).ID()))
}
