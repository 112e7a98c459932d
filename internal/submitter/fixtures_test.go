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
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaleido-io/relaymesh/internal/components"
	"github.com/kaleido-io/relaymesh/internal/gaspayment"
	"github.com/kaleido-io/relaymesh/internal/store"
	"github.com/kaleido-io/relaymesh/internal/types"
)

var testDestination = types.Domain{ID: 2, Name: "dest2", Protocol: types.ProtocolEthereum}

type testMailbox struct {
	domain  types.Domain
	address types.Bytes32

	// deliveredResults is consumed one per call, holding the last entry
	deliveredResults []bool
	deliveredErrs    []error
	deliveredCalls   atomic.Int32

	estimate      *types.CostEstimate
	estimateErrs  []error
	estimateCalls atomic.Int32

	processOutcome *types.TxOutcome
	processErr     error
	processCalls   atomic.Int32

	batchResult *types.BatchResult
	batchErr    error
	batchCalls  atomic.Int32
}

func newTestMailbox() *testMailbox {
	return &testMailbox{
		domain:           testDestination,
		deliveredResults: []bool{false},
		estimate:         &types.CostEstimate{GasLimit: big.NewInt(50000), GasPrice: big.NewInt(1)},
		processOutcome: &types.TxOutcome{
			TxID:     types.MustBytes32("0x0abc000000000000000000000000000000000000000000000000000000000000"),
			Executed: true,
		},
		batchErr: fmt.Errorf("%w: no native batching", components.ErrTransient),
	}
}

func pick[T any](results []T, call int32) T {
	if int(call) < len(results) {
		return results[call]
	}
	return results[len(results)-1]
}

func (mb *testMailbox) Domain() types.Domain   { return mb.domain }
func (mb *testMailbox) Address() types.Bytes32 { return mb.address }

func (mb *testMailbox) Delivered(_ context.Context, _ types.Bytes32) (bool, error) {
	call := mb.deliveredCalls.Add(1) - 1
	if len(mb.deliveredErrs) > 0 {
		if err := pick(mb.deliveredErrs, call); err != nil {
			return false, err
		}
	}
	return pick(mb.deliveredResults, call), nil
}

func (mb *testMailbox) Process(_ context.Context, _ *types.Message, _ types.Metadata, _ *big.Int) (*types.TxOutcome, error) {
	mb.processCalls.Add(1)
	if mb.processErr != nil {
		return nil, mb.processErr
	}
	return mb.processOutcome, nil
}

func (mb *testMailbox) ProcessEstimateCosts(_ context.Context, _ *types.Message, _ types.Metadata) (*types.CostEstimate, error) {
	call := mb.estimateCalls.Add(1) - 1
	if len(mb.estimateErrs) > 0 {
		if err := pick(mb.estimateErrs, call); err != nil {
			return nil, err
		}
	}
	return mb.estimate, nil
}

func (mb *testMailbox) ProcessBatch(_ context.Context, items []*types.BatchItem) (*types.BatchResult, error) {
	mb.batchCalls.Add(1)
	if mb.batchErr != nil {
		return nil, mb.batchErr
	}
	return mb.batchResult, nil
}

type testProvider struct {
	domain     types.Domain
	isContract bool
	err        error
}

func (p *testProvider) Domain() types.Domain { return p.domain }

func (p *testProvider) IsContract(_ context.Context, _ types.Bytes32) (bool, error) {
	return p.isContract, p.err
}

type testBuilder struct {
	metadata types.Metadata
	errs     []error
	calls    atomic.Int32
}

func (b *testBuilder) Build(_ context.Context, _ *types.Message) (types.Metadata, error) {
	call := b.calls.Add(1) - 1
	if len(b.errs) > 0 {
		if err := pick(b.errs, call); err != nil {
			return nil, err
		}
	}
	// vary the bytes per build, as live validators would
	return append(types.Metadata{byte(call)}, b.metadata...), nil
}

type testFixture struct {
	ctx      context.Context
	mailbox  *testMailbox
	provider *testProvider
	builder  *testBuilder
	origin   *store.OriginStore
	msgCtx   *MessageContext
}

func newTestFixture(t *testing.T, policies ...gaspayment.Policy) *testFixture {
	ctx := context.Background()
	db, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	origin := db.ForOrigin(types.Domain{ID: 1, Name: "origin1"})
	mailbox := newTestMailbox()
	provider := &testProvider{domain: testDestination, isContract: true}
	builder := &testBuilder{metadata: types.Metadata("proof")}
	return &testFixture{
		ctx:      ctx,
		mailbox:  mailbox,
		provider: provider,
		builder:  builder,
		origin:   origin,
		msgCtx: &MessageContext{
			DestinationMailbox:  mailbox,
			DestinationProvider: provider,
			MetadataBuilder:     builder,
			GasEnforcer:         gaspayment.NewEnforcer(policies, origin),
			OriginStore:         origin,
		},
	}
}

func testMsg(nonce uint32) *types.Message {
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

func (f *testFixture) newPendingMessage(t *testing.T, nonce uint32) *PendingMessage {
	msg := testMsg(nonce)
	require.NoError(t, f.origin.StoreMessage(f.ctx, msg))
	return NewPendingMessage(msg, f.msgCtx, "", 0, 750)
}

func transientErr(msg string) error {
	return fmt.Errorf("%w: %s", components.ErrTransient, msg)
}
