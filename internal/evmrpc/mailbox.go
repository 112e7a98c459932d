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
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"golang.org/x/crypto/sha3"

	"github.com/kaleido-io/relaymesh/internal/components"
	"github.com/kaleido-io/relaymesh/internal/msgs"
	"github.com/kaleido-io/relaymesh/internal/types"
)

// Mailbox drives the destination mailbox contract over JSON-RPC. The node
// owns the submitting account (eth_sendTransaction), so no key material
// lives in this process; the from address is passed in by the caller
// (the chain's connection config).
type Mailbox struct {
	client  *Client
	domain  types.Domain
	address types.Bytes32
	from    string
}

func NewMailbox(client *Client, domain types.Domain, address types.Bytes32, from string) *Mailbox {
	return &Mailbox{client: client, domain: domain, address: address, from: from}
}

func (mb *Mailbox) Domain() types.Domain   { return mb.domain }
func (mb *Mailbox) Address() types.Bytes32 { return mb.address }

func (mb *Mailbox) Delivered(ctx context.Context, messageID types.Bytes32) (bool, error) {
	data := append(selector("delivered(bytes32)"), messageID[:]...)
	var result string
	err := mb.client.Call(ctx, &result, "eth_call", callParams(mb.address, mb.from, data), "latest")
	if err != nil {
		return false, err
	}
	word, err := decodeWord(ctx, result)
	if err != nil {
		return false, err
	}
	return word.Sign() != 0, nil
}

func (mb *Mailbox) processCalldata(message *types.Message, metadata types.Metadata) []byte {
	return append(selector("process(bytes,bytes)"), encodeBytesPair(metadata, message.Encode())...)
}

func (mb *Mailbox) Process(ctx context.Context, message *types.Message, metadata types.Metadata, gasLimit *big.Int) (*types.TxOutcome, error) {
	params := callParams(mb.address, mb.from, mb.processCalldata(message, metadata))
	if gasLimit != nil {
		params["gas"] = "0x" + gasLimit.Text(16)
	}
	var txHash string
	if err := mb.client.Call(ctx, &txHash, "eth_sendTransaction", params); err != nil {
		return nil, err
	}
	return mb.waitForReceipt(ctx, txHash)
}

func (mb *Mailbox) waitForReceipt(ctx context.Context, txHash string) (*types.TxOutcome, error) {
	for {
		var receipt struct {
			Status            string `json:"status"`
			BlockNumber       string `json:"blockNumber"`
			GasUsed           string `json:"gasUsed"`
			EffectiveGasPrice string `json:"effectiveGasPrice"`
		}
		err := mb.client.Call(ctx, &receipt, "eth_getTransactionReceipt", txHash)
		if err != nil {
			return nil, err
		}
		if receipt.BlockNumber != "" {
			txID, err := types.ParseBytes32(txHash)
			if err != nil {
				return nil, i18n.WrapError(ctx, err, msgs.MsgRPCBadResponse, "eth_getTransactionReceipt")
			}
			blockNumber, _ := new(big.Int).SetString(strings.TrimPrefix(receipt.BlockNumber, "0x"), 16)
			gasUsed, _ := new(big.Int).SetString(strings.TrimPrefix(receipt.GasUsed, "0x"), 16)
			gasPrice, _ := new(big.Int).SetString(strings.TrimPrefix(receipt.EffectiveGasPrice, "0x"), 16)
			outcome := &types.TxOutcome{
				TxID:              txID,
				Executed:          receipt.Status == "0x1",
				GasUsed:           gasUsed,
				EffectiveGasPrice: gasPrice,
			}
			if blockNumber != nil {
				outcome.BlockNumber = blockNumber.Uint64()
			}
			log.L(ctx).Debugf("Transaction %s mined in block %d executed=%t", txHash, outcome.BlockNumber, outcome.Executed)
			return outcome, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (mb *Mailbox) ProcessEstimateCosts(ctx context.Context, message *types.Message, metadata types.Metadata) (*types.CostEstimate, error) {
	params := callParams(mb.address, mb.from, mb.processCalldata(message, metadata))
	var gasHex string
	if err := mb.client.Call(ctx, &gasHex, "eth_estimateGas", params); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgGasEstimateFailed, message.ID())
	}
	var priceHex string
	if err := mb.client.Call(ctx, &priceHex, "eth_gasPrice"); err != nil {
		return nil, err
	}
	gasLimit, ok1 := new(big.Int).SetString(strings.TrimPrefix(gasHex, "0x"), 16)
	gasPrice, ok2 := new(big.Int).SetString(strings.TrimPrefix(priceHex, "0x"), 16)
	if !ok1 || !ok2 {
		return nil, i18n.NewError(ctx, msgs.MsgRPCBadResponse, "eth_estimateGas")
	}
	return &types.CostEstimate{GasLimit: gasLimit, GasPrice: gasPrice}, nil
}

// ProcessBatch is not natively supported by the mailbox contract; batches
// fall back to the submitter's serial path.
func (mb *Mailbox) ProcessBatch(ctx context.Context, items []*types.BatchItem) (*types.BatchResult, error) {
	if len(items) == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgBatchIsEmpty)
	}
	return nil, i18n.NewError(ctx, msgs.MsgRPCBadResponse, "process_batch unsupported")
}

// Provider answers chain-level queries outside any contract
type Provider struct {
	client *Client
	domain types.Domain
}

func NewProvider(client *Client, domain types.Domain) *Provider {
	return &Provider{client: client, domain: domain}
}

func (p *Provider) Domain() types.Domain { return p.domain }

func (p *Provider) IsContract(ctx context.Context, address types.Bytes32) (bool, error) {
	var code string
	err := p.client.Call(ctx, &code, "eth_getCode", "0x"+hex.EncodeToString(address[12:]), "latest")
	if err != nil {
		return false, err
	}
	return code != "" && code != "0x", nil
}

// helpers

func selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

func callParams(to types.Bytes32, from string, data []byte) map[string]any {
	params := map[string]any{
		"to":   "0x" + hex.EncodeToString(to[12:]),
		"data": "0x" + hex.EncodeToString(data),
	}
	if from != "" {
		params["from"] = from
	}
	return params
}

// encodeBytesPair ABI-encodes two dynamic bytes arguments
func encodeBytesPair(a, b []byte) []byte {
	headLen := 64
	encA := encodeBytes(a)
	out := make([]byte, 0, headLen+len(encA)+len(encodeBytes(b)))
	out = append(out, word(uint64(headLen))...)
	out = append(out, word(uint64(headLen+len(encA)))...)
	out = append(out, encA...)
	out = append(out, encodeBytes(b)...)
	return out
}

func encodeBytes(data []byte) []byte {
	padded := (len(data) + 31) / 32 * 32
	out := make([]byte, 32+padded)
	binary.BigEndian.PutUint64(out[24:32], uint64(len(data)))
	copy(out[32:], data)
	return out
}

func word(v uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}

func decodeWord(ctx context.Context, hexResult string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(hexResult, "0x"), 16)
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgRPCBadResponse, "eth_call")
	}
	return v, nil
}

var _ components.Mailbox = (*Mailbox)(nil)
var _ components.Provider = (*Provider)(nil)
