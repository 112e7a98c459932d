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
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-common/pkg/retry"

	"github.com/kaleido-io/relaymesh/internal/components"
	"github.com/kaleido-io/relaymesh/internal/msgs"
)

// Client is a minimal JSON-RPC 2.0 client over HTTP. Transient transport
// failures are retried here with backoff; JSON-RPC error responses are
// returned to the caller, which classifies them.
type Client struct {
	http  *resty.Client
	retry *retry.Retry
	reqID atomic.Int64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func NewClient(url string, requestTimeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(url).
			SetTimeout(requestTimeout).
			SetHeader("Content-Type", "application/json"),
		retry: &retry.Retry{
			InitialDelay: 100 * time.Millisecond,
			MaximumDelay: 5 * time.Second,
			Factor:       2.0,
		},
	}
}

// Call performs one JSON-RPC request, unmarshalling the result into out.
// Transport-level failures retry a bounded number of times and then
// surface as transient chain errors.
func (c *Client) Call(ctx context.Context, out any, method string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	req := &rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	}
	var rpcResp rpcResponse
	const maxAttempts = 3
	err := c.retry.Do(ctx, method, func(attempt int) (retryable bool, err error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&rpcResp).
			Post("")
		if err != nil {
			log.L(ctx).Debugf("JSON-RPC %s attempt %d failed: %s", method, attempt, err)
			return attempt < maxAttempts, err
		}
		if resp.IsError() {
			return attempt < maxAttempts, fmt.Errorf("HTTP %d", resp.StatusCode())
		}
		return false, nil
	})
	if err != nil {
		return wrapTransient(i18n.WrapError(ctx, err, msgs.MsgRPCRequestFailed, method))
	}
	if rpcResp.Error != nil {
		return i18n.NewError(ctx, msgs.MsgRPCErrorResponse, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgRPCBadResponse, method)
		}
	}
	return nil
}

func wrapTransient(err error) error {
	return fmt.Errorf("%w: %s", components.ErrTransient, err)
}
