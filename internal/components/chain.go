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

package components

import (
	"context"
	"errors"
	"math/big"

	"github.com/kaleido-io/relaymesh/internal/types"
)

// Mailbox is the destination-side contract surface the pipeline drives.
// Implementations are chain-family specific and live behind the adapter
// boundary; the pipeline only sees this interface.
type Mailbox interface {
	Domain() types.Domain
	Address() types.Bytes32

	// Delivered reports whether the destination accepted this message id
	Delivered(ctx context.Context, messageID types.Bytes32) (bool, error)

	// Process submits the message with its metadata, optionally capping gas
	Process(ctx context.Context, message *types.Message, metadata types.Metadata, gasLimit *big.Int) (*types.TxOutcome, error)

	// ProcessEstimateCosts simulates Process and returns the cost estimate
	ProcessEstimateCosts(ctx context.Context, message *types.Message, metadata types.Metadata) (*types.CostEstimate, error)

	// ProcessBatch submits multiple messages in a single transaction
	ProcessBatch(ctx context.Context, items []*types.BatchItem) (*types.BatchResult, error)
}

// Provider is the minimal chain-query surface outside any contract
type Provider interface {
	Domain() types.Domain
	IsContract(ctx context.Context, address types.Bytes32) (bool, error)
}

// MetadataBuilder produces the opaque metadata the destination ISM
// requires. Two calls for the same message may return different bytes
// (validators sign new checkpoints), but both must be acceptable.
type MetadataBuilder interface {
	Build(ctx context.Context, message *types.Message) (types.Metadata, error)
}

// ValidatorAnnounce is the origin-side registry of validator checkpoint
// storage locations, consumed by metadata builders.
type ValidatorAnnounce interface {
	GetAnnouncedStorageLocations(ctx context.Context, validators []types.Bytes32) ([][]string, error)
}

// Sentinel classifications for adapter errors. Adapters wrap their
// failures in one of these; the pipeline boundary converts them to
// operation results and nothing else inspects them.
var (
	// ErrTransient marks RPC flakes and timeouts: retry in place
	ErrTransient = errors.New("transient chain error")
	// ErrPermanent marks malformed input or chain-cap violations: drop
	ErrPermanent = errors.New("permanent chain error")
	// ErrUnsupported marks an ISM type no builder can serve: drop
	ErrUnsupported = errors.New("unsupported")
)

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
