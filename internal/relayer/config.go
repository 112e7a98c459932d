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
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"gopkg.in/yaml.v3"

	"github.com/kaleido-io/relaymesh/internal/confutil"
	"github.com/kaleido-io/relaymesh/internal/gaspayment"
	"github.com/kaleido-io/relaymesh/internal/matching"
	"github.com/kaleido-io/relaymesh/internal/msgs"
	"github.com/kaleido-io/relaymesh/internal/types"
)

// Config is the config-file surface of the relayer. Optional fields
// are pointers so absence is distinguishable from the zero value; filter
// lists are decoded structurally and parsed during Resolve so that every
// config error can be reported, not just the first.
type Config struct {
	DB          string                  `yaml:"db"`
	RelayChains string                  `yaml:"relayChains"`
	Chains      map[string]*ChainConfig `yaml:"chains"`

	GasPaymentEnforcement []*GasPaymentEnforcementConfig `yaml:"gasPaymentEnforcement"`

	Whitelist        any    `yaml:"whitelist"`
	Blacklist        any    `yaml:"blacklist"`
	AddressBlacklist string `yaml:"addressBlacklist"`

	TransactionGasLimit        *string `yaml:"transactionGasLimit"`
	SkipTransactionGasLimitFor string  `yaml:"skipTransactionGasLimitFor"`

	MetricAppContexts []*AppContextConfig `yaml:"metricAppContexts"`

	MaxMessageRetries           *int  `yaml:"maxMessageRetries"`
	MaxBatchSize                *int  `yaml:"maxBatchSize"`
	AllowLocalCheckpointSyncers *bool `yaml:"allowLocalCheckpointSyncers"`

	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
}

type LogConfig struct {
	Level *string `yaml:"level"`
}

type ServerConfig struct {
	Address *string `yaml:"address"`
	Port    *int    `yaml:"port"`
}

// ChainConfig describes one chain playing both origin and destination
type ChainConfig struct {
	DomainID            *uint32               `yaml:"domainId"`
	Protocol            *string               `yaml:"protocol"`
	Connection          ChainConnectionConfig `yaml:"connection"`
	Mailbox             *string               `yaml:"mailbox"`
	ValidatorSetISM     *string               `yaml:"validatorSetIsm"`
	InterchainGasPay    *string               `yaml:"interchainGasPaymaster"`
	TransactionGasLimit *string               `yaml:"transactionGasLimit"`
}

// ChainConnectionConfig is the tagged variant selecting the adapter
// family; adding a chain family adds a type here and a builder in the
// composition root.
type ChainConnectionConfig struct {
	Type           *string `yaml:"type"`
	URL            *string `yaml:"url"`
	From           *string `yaml:"from"`
	RequestTimeout *string `yaml:"requestTimeout"`
}

const ChainConnectionTypeEVM = "evm"

type GasPaymentEnforcementConfig struct {
	Type         *string `yaml:"type"`
	Payment      *string `yaml:"payment"`
	GasFraction  *string `yaml:"gasFraction"`
	MatchingList any     `yaml:"matchingList"`
}

type AppContextConfig struct {
	Name         string `yaml:"name"`
	MatchingList any    `yaml:"matchingList"`
}

var DefaultConfig = &Config{
	MaxMessageRetries: confutil.P(750),
	MaxBatchSize:      confutil.P(32),
	Server: ServerConfig{
		Address: confutil.P("127.0.0.1"),
		Port:    confutil.P(9090),
	},
	Log: LogConfig{
		Level: confutil.P("info"),
	},
}

// LoadConfig reads and parses the YAML config file
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgConfigFileMissing, path)
	}
	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgConfigFileParseFailed, path)
	}
	return &conf, nil
}

// ResolvedConfig is the validated, typed view the composition root builds
// the process from
type ResolvedConfig struct {
	DB          string
	RelayChains []string
	Domains     map[string]types.Domain
	Chains      map[string]*ChainConfig

	Policies         []gaspayment.Policy
	Whitelist        *matching.MatchingList
	Blacklist        *matching.MatchingList
	AddressBlacklist *matching.AddressBlacklist
	AppContexts      []matching.AppContext

	TransactionGasLimit *big.Int
	SkipGasLimitFor     map[string]bool

	MaxMessageRetries uint32
	MaxBatchSize      int

	ServerAddress string
	LogLevel      string
}

// Resolve validates the whole config, accumulating every error so an
// operator sees the full list in one pass. The resolved config is only
// usable when the error slice is empty.
func (conf *Config) Resolve(ctx context.Context) (*ResolvedConfig, []error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	resolved := &ResolvedConfig{
		DB:                conf.DB,
		Domains:           map[string]types.Domain{},
		Chains:            conf.Chains,
		SkipGasLimitFor:   map[string]bool{},
		MaxMessageRetries: uint32(confutil.IntMin(conf.MaxMessageRetries, 1, *DefaultConfig.MaxMessageRetries)),
		MaxBatchSize:      confutil.IntMin(conf.MaxBatchSize, 1, *DefaultConfig.MaxBatchSize),
		LogLevel:          confutil.StringNotEmpty(conf.Log.Level, *DefaultConfig.Log.Level),
	}
	resolved.ServerAddress = fmt.Sprintf("%s:%d",
		confutil.StringNotEmpty(conf.Server.Address, *DefaultConfig.Server.Address),
		confutil.IntMin(conf.Server.Port, 0, *DefaultConfig.Server.Port)) // port 0 binds ephemerally

	if conf.DB == "" {
		collect(i18n.NewError(ctx, msgs.MsgConfigDBPathRequired))
	}

	for _, name := range strings.Split(conf.RelayChains, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			resolved.RelayChains = append(resolved.RelayChains, name)
		}
	}
	if len(resolved.RelayChains) == 0 {
		collect(i18n.NewError(ctx, msgs.MsgConfigNoRelayChains))
	}

	for _, name := range resolved.RelayChains {
		chain := conf.Chains[name]
		if chain == nil {
			collect(i18n.NewError(ctx, msgs.MsgConfigUnknownChain, name, "relayChains"))
			continue
		}
		if chain.DomainID == nil {
			collect(i18n.NewError(ctx, msgs.MsgConfigBadDomainID, name))
			continue
		}
		connType := confutil.StringNotEmpty(chain.Connection.Type, ChainConnectionTypeEVM)
		if connType != ChainConnectionTypeEVM {
			collect(i18n.NewError(ctx, msgs.MsgConfigBadConnectionType, name, connType))
			continue
		}
		resolved.Domains[name] = types.Domain{
			ID:       *chain.DomainID,
			Name:     name,
			Protocol: types.Protocol(confutil.StringNotEmpty(chain.Protocol, string(types.ProtocolEthereum))),
		}
	}

	for _, enforcement := range conf.GasPaymentEnforcement {
		policy, err := parsePolicy(ctx, enforcement)
		if err != nil {
			collect(err)
			continue
		}
		resolved.Policies = append(resolved.Policies, *policy)
	}

	var err error
	if resolved.Whitelist, err = matching.Parse(conf.Whitelist); err != nil {
		collect(err)
	}
	if resolved.Blacklist, err = matching.Parse(conf.Blacklist); err != nil {
		collect(err)
	}
	if resolved.AddressBlacklist, err = parseAddressBlacklist(ctx, conf.AddressBlacklist); err != nil {
		collect(err)
	}

	for _, appContext := range conf.MetricAppContexts {
		list, err := matching.Parse(appContext.MatchingList)
		if err != nil {
			collect(err)
			continue
		}
		resolved.AppContexts = append(resolved.AppContexts, matching.AppContext{Name: appContext.Name, List: list})
	}

	resolved.TransactionGasLimit = confutil.BigIntOrNil(conf.TransactionGasLimit)
	for _, name := range strings.Split(conf.SkipTransactionGasLimitFor, ",") {
		if name = strings.TrimSpace(name); name != "" {
			resolved.SkipGasLimitFor[name] = true
		}
	}

	return resolved, errs
}

func parsePolicy(ctx context.Context, conf *GasPaymentEnforcementConfig) (*gaspayment.Policy, error) {
	list, err := matching.Parse(conf.MatchingList)
	if err != nil {
		return nil, err
	}
	policy := &gaspayment.Policy{List: list}
	switch strings.ToLower(confutil.StringNotEmpty(conf.Type, "none")) {
	case "none":
		policy.Type = gaspayment.PolicyTypeNone
	case "minimum":
		policy.Type = gaspayment.PolicyTypeMinimum
		policy.Payment = confutil.BigIntOrNil(conf.Payment)
		if policy.Payment == nil {
			policy.Payment = new(big.Int)
		}
	case "onchainfeequoting":
		policy.Type = gaspayment.PolicyTypeOnChainFeeQuoting
		policy.Num, policy.Denom = 1, 2
		if conf.GasFraction != nil {
			parts := strings.Split(strings.ReplaceAll(*conf.GasFraction, " ", ""), "/")
			num, denom := new(big.Int), new(big.Int)
			var ok1, ok2 bool
			if len(parts) == 2 {
				_, ok1 = num.SetString(parts[0], 10)
				_, ok2 = denom.SetString(parts[1], 10)
			}
			if len(parts) != 2 || !ok1 || !ok2 || denom.Sign() == 0 {
				return nil, i18n.NewError(ctx, msgs.MsgConfigBadGasFraction, *conf.GasFraction)
			}
			policy.Num, policy.Denom = num.Uint64(), denom.Uint64()
		}
	default:
		return nil, i18n.NewError(ctx, msgs.MsgConfigBadEnforcementPolicy, *conf.Type)
	}
	return policy, nil
}

func parseAddressBlacklist(ctx context.Context, raw string) (*matching.AddressBlacklist, error) {
	var addresses [][]byte
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		decoded, err := hex.DecodeString(strings.TrimPrefix(entry, "0x"))
		if err != nil {
			return nil, i18n.NewError(ctx, msgs.MsgConfigBadAddressBlacklist, entry)
		}
		// 20-byte addresses are compared against the 32-byte normalized form
		if len(decoded) == 20 {
			padded := make([]byte, 32)
			copy(padded[12:], decoded)
			decoded = padded
		}
		addresses = append(addresses, decoded)
	}
	return matching.NewAddressBlacklist(addresses), nil
}
