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

package evmrpc

import (
	"context"
	"fmt"

	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/kaleido-io/relaymesh/internal/components"
	"github.com/kaleido-io/relaymesh/internal/msgs"
	"github.com/kaleido-io/relaymesh/internal/types"
)

// ISM module types, mirroring the on-chain moduleType() enumeration
const (
	ismTypeUnused   = 0
	ismTypeRouting  = 1
	ismTypeNull     = 5
	ismTypeCCIPRead = 6
)

// IsmMetadataBuilder resolves the recipient's ISM through the mailbox and
// produces metadata for the module types this adapter can serve: only the
// unused and null module types, which take empty metadata. Every other
// module type (multisig and aggregation included) is reported as
// unsupported, a terminal drop for the message.
type IsmMetadataBuilder struct {
	client  *Client
	mailbox *Mailbox
}

func NewIsmMetadataBuilder(client *Client, mailbox *Mailbox) *IsmMetadataBuilder {
	return &IsmMetadataBuilder{client: client, mailbox: mailbox}
}

func (b *IsmMetadataBuilder) Build(ctx context.Context, message *types.Message) (types.Metadata, error) {
	ismAddress, err := b.recipientISM(ctx, message.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", components.ErrTransient, err)
	}
	moduleType, err := b.moduleType(ctx, ismAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", components.ErrTransient, err)
	}
	switch moduleType {
	case ismTypeUnused, ismTypeNull:
		// nothing for the ISM to verify
		return types.Metadata{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", components.ErrUnsupported,
			i18n.NewError(ctx, msgs.MsgMetadataUnsupported, message.Recipient))
	}
}

func (b *IsmMetadataBuilder) recipientISM(ctx context.Context, recipient types.Bytes32) (types.Bytes32, error) {
	data := append(selector("recipientIsm(address)"), recipient[:]...)
	var result string
	if err := b.client.Call(ctx, &result, "eth_call", callParams(b.mailbox.Address(), "", data), "latest"); err != nil {
		return types.Bytes32{}, err
	}
	return types.ParseBytes32(result)
}

func (b *IsmMetadataBuilder) moduleType(ctx context.Context, ism types.Bytes32) (int, error) {
	var result string
	if err := b.client.Call(ctx, &result, "eth_call", callParams(ism, "", selector("moduleType()")), "latest"); err != nil {
		return 0, err
	}
	word, err := decodeWord(ctx, result)
	if err != nil {
		return 0, err
	}
	return int(word.Int64()), nil
}

var _ components.MetadataBuilder = (*IsmMetadataBuilder)(nil)
