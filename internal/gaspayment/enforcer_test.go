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

package gaspayment

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaleido-io/relaymesh/internal/matching"
	"github.com/kaleido-io/relaymesh/internal/types"
)

type testPaymentStore struct {
	payments map[types.Bytes32]*big.Int
	counts   map[types.Bytes32]int
}

func newTestPaymentStore() *testPaymentStore {
	return &testPaymentStore{
		payments: map[types.Bytes32]*big.Int{},
		counts:   map[types.Bytes32]int{},
	}
}

func (s *testPaymentStore) pay(id types.Bytes32, amount int64) {
	total := s.payments[id]
	if total == nil {
		total = new(big.Int)
	}
	s.payments[id] = total.Add(total, big.NewInt(amount))
	s.counts[id]++
}

func (s *testPaymentStore) TotalGasPayment(_ context.Context, messageID types.Bytes32) (*big.Int, int, error) {
	total := s.payments[messageID]
	if total == nil {
		total = new(big.Int)
	}
	return new(big.Int).Set(total), s.counts[messageID], nil
}

func testMessage() *types.Message {
	return &types.Message{Nonce: 0, Origin: 1, Destination: 2, Body: []byte("hello")}
}

func testEstimate() *types.CostEstimate {
	return &types.CostEstimate{GasLimit: big.NewInt(50000), GasPrice: big.NewInt(1)}
}

func TestPolicyNoneAlwaysPasses(t *testing.T) {
	ctx := context.Background()
	enforcer := NewEnforcer(nil, newTestPaymentStore())

	outcome, err := enforcer.MeetsRequirementPreflight(ctx, testMessage())
	require.NoError(t, err)
	assert.Equal(t, OutcomeMet, outcome)

	gasLimit, outcome, err := enforcer.MeetsRequirement(ctx, testMessage(), testEstimate())
	require.NoError(t, err)
	assert.Equal(t, OutcomeMet, outcome)
	assert.Equal(t, int64(50000), gasLimit.Int64())
}

// A payment arriving between two prepare attempts flips the decision
func TestMinimumPolicyRetryThenSucceed(t *testing.T) {
	ctx := context.Background()
	store := newTestPaymentStore()
	msg := testMessage()
	enforcer := NewEnforcer([]Policy{{Type: PolicyTypeMinimum, Payment: big.NewInt(100)}}, store)

	store.pay(msg.ID(), 50)
	outcome, err := enforcer.MeetsRequirementPreflight(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, outcome)

	store.pay(msg.ID(), 100)
	outcome, err = enforcer.MeetsRequirementPreflight(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMet, outcome)

	gasLimit, outcome, err := enforcer.MeetsRequirement(ctx, msg, testEstimate())
	require.NoError(t, err)
	assert.Equal(t, OutcomeMet, outcome)
	assert.Equal(t, int64(50000), gasLimit.Int64())
}

func TestFeeQuotingDefersPreflight(t *testing.T) {
	ctx := context.Background()
	enforcer := NewEnforcer([]Policy{{Type: PolicyTypeOnChainFeeQuoting, Num: 1, Denom: 2}}, newTestPaymentStore())
	outcome, err := enforcer.MeetsRequirementPreflight(ctx, testMessage())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUndecided, outcome)
}

func TestFeeQuotingHalfPayment(t *testing.T) {
	ctx := context.Background()
	store := newTestPaymentStore()
	msg := testMessage()
	enforcer := NewEnforcer([]Policy{{Type: PolicyTypeOnChainFeeQuoting, Num: 1, Denom: 2}}, store)

	// gas limit 50000 at num/denom 1/2 requires 25000 paid gas
	store.pay(msg.ID(), 24999)
	_, outcome, err := enforcer.MeetsRequirement(ctx, msg, testEstimate())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, outcome)

	store.pay(msg.ID(), 1)
	gasLimit, outcome, err := enforcer.MeetsRequirement(ctx, msg, testEstimate())
	require.NoError(t, err)
	assert.Equal(t, OutcomeMet, outcome)
	assert.Equal(t, int64(50000), gasLimit.Int64())
}

func TestFirstMatchingPolicyGoverns(t *testing.T) {
	ctx := context.Background()
	store := newTestPaymentStore()
	msg := testMessage()

	var scopedList matching.MatchingList
	require.NoError(t, json.Unmarshal([]byte(`[{"destinationdomain": "2"}]`), &scopedList))
	var missList matching.MatchingList
	require.NoError(t, json.Unmarshal([]byte(`[{"destinationdomain": "99"}]`), &missList))

	// the strict minimum is scoped to another destination, so the second
	// policy (scoped to ours) governs
	enforcer := NewEnforcer([]Policy{
		{Type: PolicyTypeMinimum, Payment: big.NewInt(1000000), List: &missList},
		{Type: PolicyTypeNone, List: &scopedList},
	}, store)

	outcome, err := enforcer.MeetsRequirementPreflight(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMet, outcome)
}

// A wildcard minimum policy shadows everything after it
func TestPolicyOrderMatters(t *testing.T) {
	ctx := context.Background()
	store := newTestPaymentStore()
	msg := testMessage()

	enforcer := NewEnforcer([]Policy{
		{Type: PolicyTypeMinimum, Payment: big.NewInt(100)},
		{Type: PolicyTypeNone},
	}, store)

	outcome, err := enforcer.MeetsRequirementPreflight(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
}

func TestL2GasLimitPreferred(t *testing.T) {
	ctx := context.Background()
	enforcer := NewEnforcer(nil, newTestPaymentStore())
	estimate := testEstimate()
	estimate.L2GasLimit = big.NewInt(123456)

	gasLimit, outcome, err := enforcer.MeetsRequirement(ctx, testMessage(), estimate)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMet, outcome)
	assert.Equal(t, int64(123456), gasLimit.Int64())
}
