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

package matching

import (
	"bytes"

	"github.com/kaleido-io/relaymesh/internal/types"
)

// AddressBlacklist rejects messages whose sender or recipient bytes equal
// any configured entry. Entries may be any length; comparison is exact
// byte equality against the 32-byte normalized addresses.
type AddressBlacklist struct {
	Addresses [][]byte
}

func NewAddressBlacklist(addresses [][]byte) *AddressBlacklist {
	return &AddressBlacklist{Addresses: addresses}
}

// FindBlacklistedAddress returns the first address in the message that is
// blacklisted, or nil
func (b *AddressBlacklist) FindBlacklistedAddress(msg *types.Message) []byte {
	if b == nil {
		return nil
	}
	for _, candidate := range [][]byte{msg.Sender[:], msg.Recipient[:]} {
		for _, blacklisted := range b.Addresses {
			if bytes.Equal(candidate, blacklisted) {
				return blacklisted
			}
		}
	}
	return nil
}

// AppContext pairs a matching list with a human-readable label, used only
// to tag operation metrics
type AppContext struct {
	Name string
	List *MatchingList
}

// AppContextClassifier resolves the first configured app context whose
// list matches the message
type AppContextClassifier struct {
	contexts []AppContext
}

func NewAppContextClassifier(contexts []AppContext) *AppContextClassifier {
	return &AppContextClassifier{contexts: contexts}
}

// Classify returns the matched label, or "" when no context applies
func (c *AppContextClassifier) Classify(msg *types.Message) string {
	if c == nil {
		return ""
	}
	for _, appContext := range c.contexts {
		if appContext.List.Matches(msg, false) {
			return appContext.Name
		}
	}
	return ""
}
