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
	"sync"
	"time"

	"github.com/hyperledger/firefly-common/pkg/log"

	"github.com/kaleido-io/relaymesh/internal/components"
	"github.com/kaleido-io/relaymesh/internal/confutil"
	"github.com/kaleido-io/relaymesh/internal/dbloader"
	"github.com/kaleido-io/relaymesh/internal/evmrpc"
	"github.com/kaleido-io/relaymesh/internal/gaspayment"
	"github.com/kaleido-io/relaymesh/internal/matching"
	"github.com/kaleido-io/relaymesh/internal/metrics"
	"github.com/kaleido-io/relaymesh/internal/store"
	"github.com/kaleido-io/relaymesh/internal/submitter"
	"github.com/kaleido-io/relaymesh/internal/types"
)

// sendChannelDepth bounds memory only in the pathological case; real
// backpressure comes from the loader producing one message per tick
const sendChannelDepth = 10000

// chainAdapters is the capability trio built per chain from its tagged
// connection config
type chainAdapters struct {
	domain   types.Domain
	mailbox  components.Mailbox
	provider components.Provider
	builder  components.MetadataBuilder
}

// Relayer is the composition root: one loader per origin, one serial
// submitter per destination, a shared retry bus, and the HTTP server.
type Relayer struct {
	ctx       context.Context
	ctxCancel context.CancelFunc

	conf       *ResolvedConfig
	db         *store.Store
	metrics    *metrics.Metrics
	retryBus   *submitter.RetryBus
	server     *Server
	submitters map[uint32]*submitter.SerialSubmitter
	loaders    []*dbloader.MessageDbLoader

	loaderDone sync.WaitGroup
}

func NewRelayer(bgCtx context.Context, conf *ResolvedConfig) (_ *Relayer, err error) {
	ctx, cancel := context.WithCancel(log.WithLogField(bgCtx, "role", "relayer"))
	defer func() {
		if err != nil {
			cancel()
		}
	}()

	r := &Relayer{
		ctx:        ctx,
		ctxCancel:  cancel,
		conf:       conf,
		metrics:    metrics.NewMetrics(),
		retryBus:   submitter.NewRetryBus(),
		submitters: map[uint32]*submitter.SerialSubmitter{},
	}

	if r.db, err = store.Open(ctx, conf.DB); err != nil {
		return nil, err
	}

	adapters := map[string]*chainAdapters{}
	var domains []types.Domain
	for _, name := range conf.RelayChains {
		adapter, err := r.buildChain(ctx, name)
		if err != nil {
			return nil, err
		}
		adapters[name] = adapter
		domains = append(domains, adapter.domain)
	}

	// One submitter (and its inbound channel) per destination
	channels := map[uint32]chan *submitter.PendingMessage{}
	for _, name := range conf.RelayChains {
		adapter := adapters[name]
		ch := make(chan *submitter.PendingMessage, sendChannelDepth)
		channels[adapter.domain.ID] = ch
		r.submitters[adapter.domain.ID] = submitter.NewSerialSubmitter(
			ctx,
			adapter.domain,
			ch,
			r.retryBus,
			submitter.NewMetrics(r.metrics, adapter.domain),
			&submitter.Config{MaxBatchSize: conf.MaxBatchSize},
		)
	}

	// One loader per origin, wired to every destination through a message
	// context per (origin, destination) pair
	for _, originName := range conf.RelayChains {
		origin := adapters[originName]
		originStore := r.db.ForOrigin(origin.domain)
		enforcer := gaspayment.NewEnforcer(conf.Policies, originStore)

		registry := dbloader.NewDestinationRegistry()
		for _, destName := range conf.RelayChains {
			dest := adapters[destName]
			var gasLimitCap = conf.TransactionGasLimit
			if chainLimit := confutil.BigIntOrNil(conf.Chains[destName].TransactionGasLimit); chainLimit != nil {
				gasLimitCap = chainLimit
			}
			if conf.SkipGasLimitFor[destName] {
				gasLimitCap = nil
			}
			registry.Register(dest.domain.ID, channels[dest.domain.ID], &submitter.MessageContext{
				DestinationMailbox:  dest.mailbox,
				DestinationProvider: dest.provider,
				MetadataBuilder:     dest.builder,
				GasEnforcer:         enforcer,
				OriginStore:         originStore,
				TransactionGasLimit: gasLimitCap,
			})
		}

		loader, err := dbloader.NewMessageDbLoader(
			ctx,
			originStore,
			conf.Whitelist,
			conf.Blacklist,
			conf.AddressBlacklist,
			matching.NewAppContextClassifier(conf.AppContexts),
			registry,
			dbloader.NewLoaderMetrics(r.metrics, origin.domain, domains),
			conf.MaxMessageRetries,
		)
		if err != nil {
			return nil, err
		}
		r.loaders = append(r.loaders, loader)
	}

	r.server = NewServer(conf.ServerAddress, r.retryBus, r.metrics)
	return r, nil
}

// buildChain constructs the adapter trio for one chain from its tagged
// connection config; Resolve has already rejected unknown types
func (r *Relayer) buildChain(ctx context.Context, name string) (*chainAdapters, error) {
	chain := r.conf.Chains[name]
	domain := r.conf.Domains[name]
	requestTimeout := confutil.DurationMin(chain.Connection.RequestTimeout, time.Second, "30s")
	client := evmrpc.NewClient(confutil.StringNotEmpty(chain.Connection.URL, "http://127.0.0.1:8545"), requestTimeout)
	mailboxAddr, err := types.ParseBytes32(confutil.StringNotEmpty(chain.Mailbox, ""))
	if err != nil {
		return nil, err
	}
	mailbox := evmrpc.NewMailbox(client, domain, mailboxAddr, confutil.StringNotEmpty(chain.Connection.From, ""))
	log.L(ctx).Infof("Built %s adapters for %s (mailbox %s)", ChainConnectionTypeEVM, domain, mailboxAddr)
	return &chainAdapters{
		domain:   domain,
		mailbox:  mailbox,
		provider: evmrpc.NewProvider(client, domain),
		builder:  evmrpc.NewIsmMetadataBuilder(client, mailbox),
	}, nil
}

// Start spawns every long-lived task: 4 pipeline tasks per destination,
// one loader per origin, and the HTTP server.
func (r *Relayer) Start() error {
	for _, s := range r.submitters {
		s.Start()
	}
	for _, loader := range r.loaders {
		r.loaderDone.Add(1)
		go func(l *dbloader.MessageDbLoader) {
			defer r.loaderDone.Done()
			l.Run(r.ctx)
		}(loader)
	}
	if err := r.server.Start(r.ctx); err != nil {
		return err
	}
	log.L(r.ctx).Infof("Relayer started: %d origins, %d destinations", len(r.loaders), len(r.submitters))
	return nil
}

// Stop cancels everything without draining in-flight operations; their
// durable state allows resume on the next start
func (r *Relayer) Stop() {
	r.ctxCancel()
	r.server.Stop(context.Background())
	for _, s := range r.submitters {
		s.Stop()
	}
	r.loaderDone.Wait()
	log.L(r.ctx).Infof("Relayer stopped")
}

// ServerAddress exposes the bound HTTP address, for tests using port 0
func (r *Relayer) ServerAddress() string {
	return r.server.ListenAddress()
}
