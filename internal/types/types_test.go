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
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytes32Hex(t *testing.T) {
	b, err := ParseBytes32("0x0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), b[31])

	// bare hex without prefix
	b2, err := ParseBytes32("0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, b, b2)
}

func TestParseBytes32AddressPadding(t *testing.T) {
	b, err := ParseBytes32("0x9d4454B023096f34B160D6B654540c56A1F81688")
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		assert.Zero(t, b[i])
	}
	assert.Equal(t, uint8(0x9d), b[12])
	assert.Equal(t, uint8(0x88), b[31])
}

func TestParseBytes32Base58(t *testing.T) {
	b, err := ParseBytes32("DdTMkk9nuqH5LnD56HLkPiKMV3yB3BNEYSQfgmJHa5i7")
	require.NoError(t, err)
	assert.False(t, b.IsZero())
}

func TestParseBytes32Bad(t *testing.T) {
	_, err := ParseBytes32("0x01")
	assert.Error(t, err)
	_, err = ParseBytes32("not-an-address-!!!")
	assert.Error(t, err)
	_, err = ParseBytes32("")
	assert.Error(t, err)
}

func TestBytes32JSONRoundTrip(t *testing.T) {
	original := MustBytes32("0x9d4454B023096f34B160D6B654540c56A1F81688")
	data, err := json.Marshal(original)
	require.NoError(t, err)
	var restored Bytes32
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, original, restored)
}

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	msg := &Message{
		Version:     3,
		Nonce:       42,
		Origin:      1,
		Sender:      MustBytes32("0x9d4454B023096f34B160D6B654540c56A1F81688"),
		Destination: 2,
		Recipient:   MustBytes32("0x6AD4DEBA8A147d000C09de6465267a9047d1c217"),
		Body:        []byte("hello"),
	}
	decoded, err := DecodeMessage(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestMessageIDDeterministic(t *testing.T) {
	msg := &Message{Nonce: 1, Origin: 1, Destination: 2, Body: []byte("x")}
	assert.Equal(t, msg.ID(), msg.ID())

	other := &Message{Nonce: 2, Origin: 1, Destination: 2, Body: []byte("x")}
	assert.NotEqual(t, msg.ID(), other.ID())
}

func TestDecodeMessageTooShort(t *testing.T) {
	_, err := DecodeMessage([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCostEstimateTotalCost(t *testing.T) {
	estimate := &CostEstimate{GasLimit: big.NewInt(50000), GasPrice: big.NewInt(10)}
	assert.Equal(t, int64(500000), estimate.TotalCost().Int64())

	estimate.L2GasLimit = big.NewInt(1000)
	assert.Equal(t, int64(510000), estimate.TotalCost().Int64())
}
