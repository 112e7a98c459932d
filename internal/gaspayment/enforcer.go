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
	"math/big"

	"github.com/hyperledger/firefly-common/pkg/log"

	"github.com/kaleido-io/relaymesh/internal/matching"
	"github.com/kaleido-io/relaymesh/internal/types"
)

// PaymentStore is the read side of the origin's indexed IGP events
type PaymentStore interface {
	TotalGasPayment(ctx context.Context, messageID types.Bytes32) (total *big.Int, numPayments int, err error)
}

// Outcome classifies a policy decision
type Outcome int

const (
	// OutcomeMet allows relaying now
	OutcomeMet Outcome = iota
	// OutcomeRetry denies for now; a future payment could satisfy the policy
	OutcomeRetry
	// OutcomeDrop denies permanently; no payment can ever satisfy the policy
	OutcomeDrop
	// OutcomeUndecided means the preflight could not short-circuit and the
	// post-estimate check must run
	OutcomeUndecided
)

// PolicyType is the tagged variant selector for enforcement policies
type PolicyType string

const (
	PolicyTypeNone              PolicyType = "none"
	PolicyTypeMinimum           PolicyType = "minimum"
	PolicyTypeOnChainFeeQuoting PolicyType = "onChainFeeQuoting"
)

// Policy is one enforcement variant paired with the matching list that
// scopes it. The first policy whose list matches a message governs.
type Policy struct {
	Type PolicyType
	// Minimum: the required aggregate payment
	Payment *big.Int
	// OnChainFeeQuoting: require payment*denom >= gas_limit*num
	Num   uint64
	Denom uint64
	List  *matching.MatchingList
}

// Enforcer evaluates the ordered policy list against origin gas payments.
// A default unconditional policy is appended at construction, so every
// message is governed by exactly one policy.
type Enforcer struct {
	policies []Policy
	store    PaymentStore
}

func NewEnforcer(policies []Policy, store PaymentStore) *Enforcer {
	// the trailing default makes "no applicable policy" unrepresentable
	policies = append(policies, Policy{Type: PolicyTypeNone})
	return &Enforcer{policies: policies, store: store}
}

func (e *Enforcer) policyFor(msg *types.Message) *Policy {
	for i := range e.policies {
		p := &e.policies[i]
		if p.List.Matches(msg, true) {
			return p
		}
	}
	return nil
}

// MeetsRequirementPreflight decides the policy from the aggregate payment
// alone where possible, before any metadata build or gas estimation.
func (e *Enforcer) MeetsRequirementPreflight(ctx context.Context, msg *types.Message) (Outcome, error) {
	policy := e.policyFor(msg)
	if policy == nil {
		return OutcomeDrop, nil
	}
	switch policy.Type {
	case PolicyTypeNone:
		return OutcomeMet, nil
	case PolicyTypeMinimum:
		total, _, err := e.store.TotalGasPayment(ctx, msg.ID())
		if err != nil {
			return OutcomeUndecided, err
		}
		if total.Cmp(policy.Payment) >= 0 {
			return OutcomeMet, nil
		}
		log.L(ctx).Debugf("Message %s paid %s of required %s", msg.ID(), total, policy.Payment)
		return OutcomeRetry, nil
	default:
		// fee quoting needs the cost estimate
		return OutcomeUndecided, nil
	}
}

// MeetsRequirement runs the post-estimate check. On success it returns the
// gas limit to submit with: the estimate's limit, or the L2 component for
// chains that meter execution there.
func (e *Enforcer) MeetsRequirement(ctx context.Context, msg *types.Message, estimate *types.CostEstimate) (*big.Int, Outcome, error) {
	policy := e.policyFor(msg)
	if policy == nil {
		return nil, OutcomeDrop, nil
	}
	gasLimit := estimate.GasLimit
	if estimate.L2GasLimit != nil {
		gasLimit = estimate.L2GasLimit
	}
	switch policy.Type {
	case PolicyTypeNone:
		return gasLimit, OutcomeMet, nil
	case PolicyTypeMinimum:
		total, _, err := e.store.TotalGasPayment(ctx, msg.ID())
		if err != nil {
			return nil, OutcomeUndecided, err
		}
		if total.Cmp(policy.Payment) >= 0 {
			return gasLimit, OutcomeMet, nil
		}
		return nil, OutcomeRetry, nil
	case PolicyTypeOnChainFeeQuoting:
		total, _, err := e.store.TotalGasPayment(ctx, msg.ID())
		if err != nil {
			return nil, OutcomeUndecided, err
		}
		// paid * gas_price * denom >= total_cost * num, i.e. the payment
		// covers num/denom of the estimated cost at the current price
		paid := new(big.Int).Mul(total, estimate.GasPrice)
		paid = paid.Mul(paid, new(big.Int).SetUint64(policy.Denom))
		required := new(big.Int).Mul(estimate.TotalCost(), new(big.Int).SetUint64(policy.Num))
		if paid.Cmp(required) >= 0 {
			return gasLimit, OutcomeMet, nil
		}
		log.L(ctx).Debugf("Message %s under fee quote: paid-side %s, required-side %s", msg.ID(), paid, required)
		return nil, OutcomeRetry, nil
	default:
		return nil, OutcomeDrop, nil
	}
}
