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
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayerWiringStartStop(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "relayer.db")
	configYAML := strings.Replace(testConfigYAML, "db: relayer.db", "db: "+dbPath, 1) + `
server:
  address: 127.0.0.1
  port: 0
`
	conf, err := LoadConfig(ctx, writeTestConfig(t, configYAML))
	require.NoError(t, err)
	resolved, errs := conf.Resolve(ctx)
	require.Empty(t, errs)

	r, err := NewRelayer(ctx, resolved)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	// both destinations have submitters, both origins have loaders
	assert.Len(t, r.submitters, 2)
	assert.Len(t, r.loaders, 2)

	// the HTTP surface is live
	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", r.ServerAddress()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelayerBadMailboxAddress(t *testing.T) {
	ctx := context.Background()
	conf := &Config{
		DB:          filepath.Join(t.TempDir(), "relayer.db"),
		RelayChains: "chain1",
		Chains: map[string]*ChainConfig{
			"chain1": {DomainID: uint32Ptr(1), Mailbox: strPtr("not-an-address-!!!")},
		},
	}
	resolved, errs := conf.Resolve(ctx)
	require.Empty(t, errs)
	_, err := NewRelayer(ctx, resolved)
	assert.Error(t, err)
}
