// Copyright © 2025 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package msgs

import (
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

var registered sync.Once
var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	registered.Do(func() {
		i18n.RegisterPrefix("RM00", "Relaymesh")
	})
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (
	// Config RM0000XX
	MsgConfigFileMissing          = ffe("RM000000", "config file not found at '%s'")
	MsgConfigFileParseFailed      = ffe("RM000001", "failed to parse config file '%s'")
	MsgConfigNoRelayChains        = ffe("RM000002", "relayChains must name at least one chain")
	MsgConfigUnknownChain         = ffe("RM000003", "chain '%s' referenced in '%s' has no entry under chains")
	MsgConfigBadDomainID          = ffe("RM000004", "chain '%s' has an invalid domain id")
	MsgConfigBadConnectionType    = ffe("RM000005", "chain '%s' has unsupported connection type '%s'")
	MsgConfigBadGasFraction       = ffe("RM000006", "invalid gasFraction '%s'; expected 'numerator / denominator'")
	MsgConfigBadEnforcementPolicy = ffe("RM000007", "unknown gas payment enforcement policy type '%s'")
	MsgConfigBadAddressBlacklist  = ffe("RM000008", "invalid hex address '%s' in addressBlacklist")
	MsgConfigDBPathRequired       = ffe("RM000009", "db path is required")

	// Matching list RM0001XX
	MsgMatchingListBadValue  = ffe("RM000100", "field '%s' must be the wildcard \"*\", a value, or an array of values")
	MsgMatchingListBadDomain = ffe("RM000101", "field '%s' has invalid domain id '%v'")
	MsgMatchingListBadAddr   = ffe("RM000102", "field '%s' has invalid hex/base58 address '%v'")
	MsgMatchingListBadRule   = ffe("RM000103", "matching list rules must be JSON objects")

	// Store RM0002XX
	MsgStoreOpenFailed       = ffe("RM000200", "failed to open durable store at '%s'")
	MsgStoreMigrationFailed  = ffe("RM000201", "durable store schema migration failed")
	MsgStoreInvalidRawrecord = ffe("RM000202", "invalid stored message record for id %s")

	// Pipeline RM0003XX
	MsgSubmissionDataMissing = ffe("RM000300", "operation has no submission data; prepare must succeed before submit")
	MsgBatchIsEmpty          = ffe("RM000301", "cannot submit an empty operation batch")
	MsgMetadataUnsupported   = ffe("RM000302", "ISM type for recipient %s is not supported")
	MsgRetryChannelFull      = ffe("RM000303", "failed to send retry request to the queue: subscriber buffer full")
	MsgRetryResponseTimeout  = ffe("RM000304", "timed out waiting for retry responses for request %s")

	// Chain adapters RM0004XX
	MsgRPCRequestFailed  = ffe("RM000400", "JSON-RPC request '%s' failed")
	MsgRPCErrorResponse  = ffe("RM000401", "JSON-RPC error %d: %s")
	MsgRPCBadResponse    = ffe("RM000402", "unexpected JSON-RPC result for '%s'")
	MsgGasEstimateFailed = ffe("RM000403", "gas estimation failed for message %s")
)
