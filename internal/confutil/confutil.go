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

package confutil

import (
	"math/big"
	"time"
)

// P returns a pointer to the supplied value, for struct-literal defaults
func P[T any](v T) *T {
	return &v
}

func Int(iVal *int, def int) int {
	if iVal == nil {
		return def
	}
	return *iVal
}

func IntMin(iVal *int, min int, def int) int {
	if iVal == nil || *iVal < min {
		return def
	}
	return *iVal
}

func UInt32(iVal *uint32, def uint32) uint32 {
	if iVal == nil {
		return def
	}
	return *iVal
}

func Bool(bVal *bool, def bool) bool {
	if bVal == nil {
		return def
	}
	return *bVal
}

func StringNotEmpty(sVal *string, def string) string {
	if sVal == nil || *sVal == "" {
		return def
	}
	return *sVal
}

// DurationMin parses a Go duration string, returning the default for
// missing, unparseable, or below-minimum values
func DurationMin(sVal *string, min time.Duration, def string) time.Duration {
	defDuration, err := time.ParseDuration(def)
	if err != nil {
		panic("invalid default duration: " + def)
	}
	if sVal == nil {
		return defDuration
	}
	d, err := time.ParseDuration(*sVal)
	if err != nil || d < min {
		return defDuration
	}
	return d
}

// BigIntOrNil parses a decimal big integer string, nil for absent/invalid
func BigIntOrNil(sVal *string) *big.Int {
	if sVal == nil {
		return nil
	}
	i, ok := new(big.Int).SetString(*sVal, 10)
	if !ok {
		return nil
	}
	return i
}
