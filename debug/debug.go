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

package debug

import (
	"sync/atomic"

	"github.com/cloudwego/execmask/internal/mask"
)

// A Stats records statistics about the exec mask pass.
type Stats struct {
	Programs int
	Blocks   int
	Code     CodeStats
}

// A CodeStats records statistics about the code inserted by the pass.
type CodeStats struct {
	Transitions int
	Phis        int
	TrivialPhis int
	Lowered     int
}

// GetStats returns statistics of the exec mask pass.
func GetStats() Stats {
	return Stats{
		Programs: int(atomic.LoadUint64(&mask.ProgramCount)),
		Blocks:   int(atomic.LoadUint64(&mask.BlockCount)),
		Code: CodeStats{
			Transitions: int(atomic.LoadUint64(&mask.TransitionCount)),
			Phis:        int(atomic.LoadUint64(&mask.PhiCount)),
			TrivialPhis: int(atomic.LoadUint64(&mask.TrivialPhiCount)),
			Lowered:     int(atomic.LoadUint64(&mask.LoweredCount)),
		},
	}
}
