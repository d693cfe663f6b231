/*
 * Copyright 2022 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package opts

import (
	"os"
	"strconv"
)

const (
	_DefaultWaveSize   = 64         // lanes per wave when the program does not say
	_DefaultTraceTopic = "execmask" // tlog topic for the per-block trace
)

var (
	WaveSize   = parseWaveSize("EXECMASK_WAVE_SIZE", _DefaultWaveSize)
	Validate   = parseBoolOrDefault("EXECMASK_VALIDATE", false)
	DumpState  = parseBoolOrDefault("EXECMASK_DUMP_STATE", false)
	TraceTopic = _DefaultTraceTopic
)

func parseWaveSize(key string, def int) int {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseUint(env, 0, 64); err != nil {
		panic("execmask: invalid value for " + key)
	} else if ret := int(val); ret != 32 && ret != 64 {
		panic("execmask: wave size must be 32 or 64 for " + key)
	} else {
		return ret
	}
}

func parseBoolOrDefault(key string, def bool) bool {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseBool(env); err != nil {
		panic("execmask: invalid value for " + key)
	} else {
		return val
	}
}
