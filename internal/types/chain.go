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

package types

import (
	"fmt"
	"math/big"
)

// Protocol names a chain family. Families differ in sequencing semantics,
// which the submitter accounts for after each submission.
type Protocol string

const (
	ProtocolEthereum Protocol = "ethereum"
	ProtocolCosmos   Protocol = "cosmos"
	ProtocolSealevel Protocol = "sealevel"
)

// Domain identifies one chain within the protocol. The 32-bit id is the
// on-chain identity; the name is config-local.
type Domain struct {
	ID       uint32
	Name     string
	Protocol Protocol
}

func (d Domain) String() string {
	if d.Name != "" {
		return fmt.Sprintf("%s (%d)", d.Name, d.ID)
	}
	return fmt.Sprintf("domain %d", d.ID)
}

// Metadata is the opaque proof blob the destination mailbox hands to its
// ISM when accepting a message.
type Metadata []byte

// TxOutcome reports the result of a submitted process transaction
type TxOutcome struct {
	TxID              Bytes32  `json:"txId"`
	Executed          bool     `json:"executed"`
	BlockNumber       uint64   `json:"blockNumber"`
	GasUsed           *big.Int `json:"gasUsed"`
	EffectiveGasPrice *big.Int `json:"effectiveGasPrice"`
}

// CostEstimate is the result of simulating a process call
type CostEstimate struct {
	GasLimit   *big.Int `json:"gasLimit"`
	GasPrice   *big.Int `json:"gasPrice"`
	L2GasLimit *big.Int `json:"l2GasLimit,omitempty"`
}

// TotalCost is gas_limit * gas_price, plus the L2 component where present
func (c *CostEstimate) TotalCost() *big.Int {
	total := new(big.Int).Mul(c.GasLimit, c.GasPrice)
	if c.L2GasLimit != nil {
		total = total.Add(total, new(big.Int).Mul(c.L2GasLimit, c.GasPrice))
	}
	return total
}

// BatchItem pairs a message with the metadata it will be processed with,
// for multi-message destination transactions.
type BatchItem struct {
	Message  *Message
	Metadata Metadata
	GasLimit *big.Int
}

// BatchResult reports a batch submission: the outcome of the one batch
// transaction, and the indexes of items the adapter reports as not
// included. The serial submitter applies Outcome to every item of the
// batch; it does not read FailedIndexes.
type BatchResult struct {
	Outcome       *TxOutcome
	FailedIndexes []int
}
