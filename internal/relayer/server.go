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
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"

	"github.com/kaleido-io/relaymesh/internal/matching"
	"github.com/kaleido-io/relaymesh/internal/metrics"
	"github.com/kaleido-io/relaymesh/internal/msgs"
	"github.com/kaleido-io/relaymesh/internal/submitter"
)

const retryResponseTimeout = 30 * time.Second

// Server is the operator-facing HTTP surface: manual message retries and
// the prometheus scrape endpoint.
type Server struct {
	retryBus *submitter.RetryBus
	metrics  *metrics.Metrics
	server   *http.Server
	listener net.Listener
	// retryMux serializes retry requests, which share one response channel
	retryMux sync.Mutex
}

func NewServer(address string, retryBus *submitter.RetryBus, m *metrics.Metrics) *Server {
	s := &Server{retryBus: retryBus, metrics: m}
	router := mux.NewRouter()
	router.HandleFunc("/message_retry", s.handleMessageRetry).Methods(http.MethodPost)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	s.server = &http.Server{Addr: address, Handler: router}
	return s
}

// Start begins listening; ListenAddress is valid once Start returns
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.L(ctx).Errorf("HTTP server failed: %s", err)
		}
	}()
	log.L(ctx).Infof("HTTP server listening on %s", listener.Addr())
	return nil
}

func (s *Server) ListenAddress() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) {
	_ = s.server.Shutdown(ctx)
}

func (s *Server) handleMessageRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var pattern matching.MatchingList
	if err := json.NewDecoder(r.Body).Decode(&pattern); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.retryMux.Lock()
	defer s.retryMux.Unlock()
	requestUUID := uuid.New().String()
	log.L(ctx).Debugf("Broadcasting retry request %s", requestUUID)
	if err := s.retryBus.Publish(ctx, submitter.RetryRequest{UUID: requestUUID, Pattern: &pattern}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// every queue answers; sum the per-queue counts into one response
	expected := s.retryBus.SubscriberCount()
	aggregated := submitter.RetryResponse{UUID: requestUUID}
	timeout := time.After(retryResponseTimeout)
	for received := 0; received < expected; {
		select {
		case resp := <-s.retryBus.Responses():
			if resp.UUID != requestUUID {
				// stale response from an abandoned request
				continue
			}
			aggregated.Processed += resp.Processed
			aggregated.Matched += resp.Matched
			received++
		case <-timeout:
			http.Error(w, i18n.NewError(ctx, msgs.MsgRetryResponseTimeout, requestUUID).Error(), http.StatusInternalServerError)
			return
		case <-ctx.Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&aggregated)
}
