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

package execmask

import (
	"fmt"

	"github.com/cloudwego/execmask/internal/opts"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

// WithWaveSize sets the wave size used for programs that do not carry one.
//
// Only 32 and 64 are valid wave sizes.
//
// The default value of this option is "64", and can also be configured with
// the `EXECMASK_WAVE_SIZE` environment variable.
func WithWaveSize(size int) Option {
	if size != 32 && size != 64 {
		panic(fmt.Sprintf("execmask: invalid wave size: %d", size))
	} else {
		return func(o *opts.Options) { o.WaveSize = size }
	}
}

// WithValidation checks the CFG shape before running the pass, and returns a
// *VerifyError for malformed programs instead of failing half way.
//
// The default value of this option is "false", and can also be configured
// with the `EXECMASK_VALIDATE` environment variable.
func WithValidation(v bool) Option {
	return func(o *opts.Options) { o.Validate = v }
}

// WithStateDump logs the exec mask stack of every block after it has been
// processed.
//
// The default value of this option is "false", and can also be configured
// with the `EXECMASK_DUMP_STATE` environment variable.
func WithStateDump(v bool) Option {
	return func(o *opts.Options) { o.DumpState = v }
}

// WithTraceTopic sets the tlog topic enabling the per-block trace. An empty
// topic disables the trace.
//
// The default value of this option is "execmask".
func WithTraceTopic(topic string) Option {
	return func(o *opts.Options) { o.TraceTopic = topic }
}

// SetWaveSize sets the default wave size for all programs from now on.
//
// Returns the old opts.WaveSize value.
func SetWaveSize(size int) int {
	if size != 32 && size != 64 {
		panic(fmt.Sprintf("execmask: invalid wave size: %d", size))
	}
	size, opts.WaveSize = opts.WaveSize, size
	return size
}
