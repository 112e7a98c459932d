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
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Bytes32 is a fixed 32-byte identifier, used for message ids and for
// addresses normalized to the interchain 32-byte form (20-byte EVM
// addresses are left-padded with zeros).
type Bytes32 [32]byte

// ParseBytes32 accepts 0x-prefixed or bare hex of 32 or 20 bytes, or a
// base58 string decoding to 32 bytes.
func ParseBytes32(s string) (Bytes32, error) {
	var b32 Bytes32
	hexStr := strings.TrimPrefix(s, "0x")
	if isHex(hexStr) {
		raw, err := hex.DecodeString(hexStr)
		if err != nil {
			return b32, err
		}
		switch len(raw) {
		case 32:
			copy(b32[:], raw)
			return b32, nil
		case 20:
			copy(b32[12:], raw)
			return b32, nil
		default:
			return b32, fmt.Errorf("hex value must be 20 or 32 bytes (got %d)", len(raw))
		}
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return b32, err
	}
	if len(raw) != 32 {
		return b32, fmt.Errorf("base58 value must decode to 32 bytes (got %d)", len(raw))
	}
	copy(b32[:], raw)
	return b32, nil
}

func isHex(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// MustBytes32 panics on a bad value, for tests and static initializers only
func MustBytes32(s string) Bytes32 {
	b32, err := ParseBytes32(s)
	if err != nil {
		panic(err)
	}
	return b32
}

func (b Bytes32) String() string {
	return "0x" + hex.EncodeToString(b[:])
}

func (b Bytes32) IsZero() bool {
	return b == Bytes32{}
}

func (b Bytes32) Equals(other Bytes32) bool {
	return bytes.Equal(b[:], other[:])
}

func (b Bytes32) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *Bytes32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBytes32(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b Bytes32) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Bytes32) UnmarshalText(text []byte) error {
	parsed, err := ParseBytes32(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
