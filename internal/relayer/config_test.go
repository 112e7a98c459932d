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

package relayer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaleido-io/relaymesh/internal/gaspayment"
	"github.com/kaleido-io/relaymesh/internal/types"
)

const testConfigYAML = `
db: relayer.db
relayChains: chain1,chain2
chains:
  chain1:
    domainId: 1
    connection:
      type: evm
      url: http://localhost:8545
      from: "0x9d4454B023096f34B160D6B654540c56A1F81688"
    mailbox: "0x6AD4DEBA8A147d000C09de6465267a9047d1c217"
  chain2:
    domainId: 2
    protocol: cosmos
    connection:
      type: evm
      url: http://localhost:8546
    mailbox: "0x6AD4DEBA8A147d000C09de6465267a9047d1c218"
gasPaymentEnforcement:
  - type: minimum
    payment: "100"
    matchingList:
      - destinationDomain: "2"
  - type: onChainFeeQuoting
    gasFraction: "1 / 2"
whitelist:
  - originDomain: "1"
blacklist: []
addressBlacklist: "0x9d4454B023096f34B160D6B654540c56A1F81688,0xdeadbeef"
transactionGasLimit: "250000"
skipTransactionGasLimitFor: chain2
metricAppContexts:
  - name: uniswap
    matchingList:
      - recipientAddress: "0x6AD4DEBA8A147d000C09de6465267a9047d1c217"
maxMessageRetries: 10
`

func writeTestConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAndResolveConfig(t *testing.T) {
	ctx := context.Background()
	conf, err := LoadConfig(ctx, writeTestConfig(t, testConfigYAML))
	require.NoError(t, err)

	resolved, errs := conf.Resolve(ctx)
	require.Empty(t, errs)

	assert.Equal(t, "relayer.db", resolved.DB)
	assert.Equal(t, []string{"chain1", "chain2"}, resolved.RelayChains)
	assert.Equal(t, uint32(1), resolved.Domains["chain1"].ID)
	assert.Equal(t, types.ProtocolEthereum, resolved.Domains["chain1"].Protocol)
	assert.Equal(t, types.ProtocolCosmos, resolved.Domains["chain2"].Protocol)

	require.Len(t, resolved.Policies, 2)
	assert.Equal(t, gaspayment.PolicyTypeMinimum, resolved.Policies[0].Type)
	assert.Equal(t, int64(100), resolved.Policies[0].Payment.Int64())
	assert.Equal(t, gaspayment.PolicyTypeOnChainFeeQuoting, resolved.Policies[1].Type)
	assert.Equal(t, uint64(1), resolved.Policies[1].Num)
	assert.Equal(t, uint64(2), resolved.Policies[1].Denom)

	assert.False(t, resolved.Whitelist.IsEmpty())
	assert.True(t, resolved.Blacklist.IsEmpty(), "explicit empty list behaves as absent")
	require.Len(t, resolved.AddressBlacklist.Addresses, 2)
	assert.Len(t, resolved.AddressBlacklist.Addresses[0], 32, "20-byte address normalized")
	assert.Len(t, resolved.AddressBlacklist.Addresses[1], 4, "non-address byte string kept as-is")

	assert.Equal(t, int64(250000), resolved.TransactionGasLimit.Int64())
	assert.True(t, resolved.SkipGasLimitFor["chain2"])
	assert.Equal(t, uint32(10), resolved.MaxMessageRetries)
	require.Len(t, resolved.AppContexts, 1)
	assert.Equal(t, "uniswap", resolved.AppContexts[0].Name)
}

func TestResolveAccumulatesAllErrors(t *testing.T) {
	ctx := context.Background()
	conf := &Config{
		// missing db
		RelayChains: "chain1,missing",
		Chains: map[string]*ChainConfig{
			"chain1": {}, // missing domainId
		},
		GasPaymentEnforcement: []*GasPaymentEnforcementConfig{
			{Type: strPtr("bogus")},
			{Type: strPtr("onChainFeeQuoting"), GasFraction: strPtr("nonsense")},
		},
		AddressBlacklist: "0xzz",
	}

	_, errs := conf.Resolve(ctx)
	// every problem is reported in one pass
	assert.GreaterOrEqual(t, len(errs), 6)
}

func TestResolveDefaults(t *testing.T) {
	ctx := context.Background()
	conf := &Config{
		DB:          "relayer.db",
		RelayChains: "chain1",
		Chains: map[string]*ChainConfig{
			"chain1": {DomainID: uint32Ptr(1)},
		},
	}
	resolved, errs := conf.Resolve(ctx)
	require.Empty(t, errs)
	assert.Equal(t, uint32(750), resolved.MaxMessageRetries)
	assert.Equal(t, 32, resolved.MaxBatchSize)
	assert.Equal(t, "127.0.0.1:9090", resolved.ServerAddress)
	assert.Nil(t, resolved.TransactionGasLimit)
	assert.Empty(t, resolved.Policies, "default None policy is appended by the enforcer")
	assert.True(t, resolved.Whitelist.IsEmpty())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(context.Background(), "/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	_, err := LoadConfig(context.Background(), writeTestConfig(t, "::::not yaml"))
	assert.Error(t, err)
}

func strPtr(s string) *string    { return &s }
func uint32Ptr(v uint32) *uint32 { return &v }
