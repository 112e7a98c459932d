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
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/kaleido-io/relaymesh/internal/msgs"
	"github.com/kaleido-io/relaymesh/internal/types"
)

// MatchingList is an ordered set of rules deciding whether a message
// should be relayed. It is used for the whitelist, the blacklist, metric
// app-context tagging, and manual-retry routing.
//
// A nil rules slice ("absent") is distinct from an empty one: callers pass
// a default that applies when no rules are present. Each rule ANDs its
// non-wildcard filters; the list ORs its rules.
type MatchingList struct {
	rules []Rule
}

// Rule is five optional filters; a missing filter is a wildcard
type Rule struct {
	MessageID         DigestFilter
	OriginDomain      DomainFilter
	SenderAddress     DigestFilter
	DestinationDomain DomainFilter
	RecipientAddress  DigestFilter
}

// DomainFilter matches 32-bit domain ids; empty values = wildcard
type DomainFilter struct {
	values []uint32
}

// DigestFilter matches 32-byte ids/addresses; empty values = wildcard
type DigestFilter struct {
	values []types.Bytes32
}

func (f DomainFilter) matches(v uint32) bool {
	if len(f.values) == 0 {
		return true
	}
	for _, candidate := range f.values {
		if candidate == v {
			return true
		}
	}
	return false
}

func (f DigestFilter) matches(v types.Bytes32) bool {
	if len(f.values) == 0 {
		return true
	}
	for _, candidate := range f.values {
		if candidate == v {
			return true
		}
	}
	return false
}

// ForMessageID builds a single-rule list matching exactly one message
func ForMessageID(messageID types.Bytes32) *MatchingList {
	return &MatchingList{rules: []Rule{{MessageID: DigestFilter{values: []types.Bytes32{messageID}}}}}
}

// ForDestination builds a single-rule list matching one destination domain
func ForDestination(destination uint32) *MatchingList {
	return &MatchingList{rules: []Rule{{DestinationDomain: DomainFilter{values: []uint32{destination}}}}}
}

// Matches reports whether any rule accepts the message. The default is
// returned when no rules are present (absent and empty lists behave the
// same way at match time).
func (ml *MatchingList) Matches(msg *types.Message, def bool) bool {
	if ml == nil || len(ml.rules) == 0 {
		return def
	}
	id := msg.ID()
	for _, rule := range ml.rules {
		if rule.MessageID.matches(id) &&
			rule.OriginDomain.matches(msg.Origin) &&
			rule.SenderAddress.matches(msg.Sender) &&
			rule.DestinationDomain.matches(msg.Destination) &&
			rule.RecipientAddress.matches(msg.Recipient) {
			return true
		}
	}
	return false
}

func (ml *MatchingList) IsEmpty() bool {
	return ml == nil || len(ml.rules) == 0
}

// UnmarshalJSON accepts null (absent), [] (absent), or an array of rule
// objects. Field names are case-insensitive; each filter value is "*", a
// scalar, or an array of scalars.
func (ml *MatchingList) UnmarshalJSON(data []byte) error {
	ctx := context.Background()
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		ml.rules = nil
		return nil
	}
	rawList, ok := raw.([]any)
	if !ok {
		return i18n.NewError(ctx, msgs.MsgMatchingListBadRule)
	}
	rules := make([]Rule, 0, len(rawList))
	for _, rawRule := range rawList {
		ruleMap, ok := rawRule.(map[string]any)
		if !ok {
			return i18n.NewError(ctx, msgs.MsgMatchingListBadRule)
		}
		rule, err := parseRule(ctx, ruleMap)
		if err != nil {
			return err
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		// an empty list is stored as if no matching list was set
		ml.rules = nil
		return nil
	}
	ml.rules = rules
	return nil
}

func parseRule(ctx context.Context, ruleMap map[string]any) (rule Rule, err error) {
	for key, value := range ruleMap {
		switch strings.ToLower(key) {
		case "messageid":
			rule.MessageID, err = parseDigestFilter(ctx, key, value)
		case "origindomain":
			rule.OriginDomain, err = parseDomainFilter(ctx, key, value)
		case "senderaddress":
			rule.SenderAddress, err = parseDigestFilter(ctx, key, value)
		case "destinationdomain":
			rule.DestinationDomain, err = parseDomainFilter(ctx, key, value)
		case "recipientaddress":
			rule.RecipientAddress, err = parseDigestFilter(ctx, key, value)
		default:
			// unknown keys are ignored for forwards compatibility
		}
		if err != nil {
			return rule, err
		}
	}
	return rule, nil
}

func parseDomainFilter(ctx context.Context, field string, value any) (DomainFilter, error) {
	scalars, wildcard, err := filterScalars(ctx, field, value)
	if err != nil || wildcard {
		return DomainFilter{}, err
	}
	values := make([]uint32, len(scalars))
	for i, scalar := range scalars {
		domain, err := parseDomainValue(scalar)
		if err != nil {
			return DomainFilter{}, i18n.NewError(ctx, msgs.MsgMatchingListBadDomain, field, scalar)
		}
		values[i] = domain
	}
	return DomainFilter{values: values}, nil
}

func parseDomainValue(scalar any) (uint32, error) {
	switch v := scalar.(type) {
	case float64:
		if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
			return 0, fmt.Errorf("domain id must fit within 32 bits")
		}
		return uint32(v), nil
	case string:
		base := 10
		s := v
		if strings.HasPrefix(strings.ToLower(s), "0x") {
			base = 16
			s = s[2:]
		}
		parsed, err := strconv.ParseUint(s, base, 32)
		if err != nil {
			return 0, err
		}
		return uint32(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported domain value %T", scalar)
	}
}

func parseDigestFilter(ctx context.Context, field string, value any) (DigestFilter, error) {
	scalars, wildcard, err := filterScalars(ctx, field, value)
	if err != nil || wildcard {
		return DigestFilter{}, err
	}
	values := make([]types.Bytes32, len(scalars))
	for i, scalar := range scalars {
		s, ok := scalar.(string)
		if !ok {
			return DigestFilter{}, i18n.NewError(ctx, msgs.MsgMatchingListBadAddr, field, scalar)
		}
		parsed, err := types.ParseBytes32(s)
		if err != nil {
			return DigestFilter{}, i18n.NewError(ctx, msgs.MsgMatchingListBadAddr, field, s)
		}
		values[i] = parsed
	}
	return DigestFilter{values: values}, nil
}

// filterScalars normalizes a filter value to its scalar list, reporting
// the explicit "*" wildcard separately
func filterScalars(ctx context.Context, field string, value any) (scalars []any, wildcard bool, err error) {
	switch v := value.(type) {
	case string:
		if v == "*" {
			return nil, true, nil
		}
		return []any{v}, false, nil
	case float64:
		return []any{v}, false, nil
	case []any:
		return v, false, nil
	default:
		return nil, false, i18n.NewError(ctx, msgs.MsgMatchingListBadValue, field)
	}
}

// MarshalJSON emits a form that parses back to an equivalent list: absent
// serializes as null, each constrained filter as an array (domains as
// numbers, ids and addresses as strings); wildcard filters are omitted.
func (ml *MatchingList) MarshalJSON() ([]byte, error) {
	if ml.IsEmpty() {
		return []byte("null"), nil
	}
	out := make([]map[string]any, len(ml.rules))
	for i, rule := range ml.rules {
		entry := map[string]any{}
		if len(rule.MessageID.values) > 0 {
			entry["messageId"] = digestStrings(rule.MessageID.values)
		}
		if len(rule.OriginDomain.values) > 0 {
			entry["originDomain"] = rule.OriginDomain.values
		}
		if len(rule.SenderAddress.values) > 0 {
			entry["senderAddress"] = digestStrings(rule.SenderAddress.values)
		}
		if len(rule.DestinationDomain.values) > 0 {
			entry["destinationDomain"] = rule.DestinationDomain.values
		}
		if len(rule.RecipientAddress.values) > 0 {
			entry["recipientAddress"] = digestStrings(rule.RecipientAddress.values)
		}
		out[i] = entry
	}
	return json.Marshal(out)
}

func digestStrings(values []types.Bytes32) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}

// Parse converts a decoded YAML/JSON value (as loaded by the config
// layer) into a MatchingList, applying the same rules as UnmarshalJSON
func Parse(v any) (*MatchingList, error) {
	ml := &MatchingList{}
	if v == nil {
		return ml, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, ml); err != nil {
		return nil, err
	}
	return ml, nil
}

func (ml *MatchingList) String() string {
	if ml.IsEmpty() {
		return "null"
	}
	data, err := json.Marshal(ml)
	if err != nil {
		return "null"
	}
	return string(data)
}
