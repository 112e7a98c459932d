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
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Message is the immutable interchain payload. The (Origin, Nonce) tuple
// uniquely identifies a message; ID() is globally unique.
type Message struct {
	Version     uint8   `json:"version"`
	Nonce       uint32  `json:"nonce"`
	Origin      uint32  `json:"origin"`
	Sender      Bytes32 `json:"sender"`
	Destination uint32  `json:"destination"`
	Recipient   Bytes32 `json:"recipient"`
	Body        []byte  `json:"body"`
}

// Encode produces the canonical wire layout the origin mailbox hashes at
// dispatch time: version, nonce, origin, sender, destination, recipient,
// then the raw body. All integers big-endian.
func (m *Message) Encode() []byte {
	buf := make([]byte, 0, 1+4+4+32+4+32+len(m.Body))
	buf = append(buf, m.Version)
	buf = binary.BigEndian.AppendUint32(buf, m.Nonce)
	buf = binary.BigEndian.AppendUint32(buf, m.Origin)
	buf = append(buf, m.Sender[:]...)
	buf = binary.BigEndian.AppendUint32(buf, m.Destination)
	buf = append(buf, m.Recipient[:]...)
	buf = append(buf, m.Body...)
	return buf
}

// ID is the keccak256 hash of the canonical encoding
func (m *Message) ID() Bytes32 {
	var id Bytes32
	h := sha3.NewLegacyKeccak256()
	h.Write(m.Encode())
	copy(id[:], h.Sum(nil))
	return id
}

func (m *Message) String() string {
	return fmt.Sprintf("message %s origin=%d nonce=%d destination=%d", m.ID(), m.Origin, m.Nonce, m.Destination)
}

// DecodeMessage is the inverse of Encode
func DecodeMessage(raw []byte) (*Message, error) {
	const headerLen = 1 + 4 + 4 + 32 + 4 + 32
	if len(raw) < headerLen {
		return nil, fmt.Errorf("message too short: %d bytes", len(raw))
	}
	m := &Message{}
	m.Version = raw[0]
	m.Nonce = binary.BigEndian.Uint32(raw[1:5])
	m.Origin = binary.BigEndian.Uint32(raw[5:9])
	copy(m.Sender[:], raw[9:41])
	m.Destination = binary.BigEndian.Uint32(raw[41:45])
	copy(m.Recipient[:], raw[45:77])
	m.Body = append([]byte{}, raw[headerLen:]...)
	return m, nil
}
