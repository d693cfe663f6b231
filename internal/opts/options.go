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

type Options struct {
	WaveSize   int
	Validate   bool
	DumpState  bool
	TraceTopic string
}

// LaneCount returns the wave size for a program, which takes precedence
// over the configured default once set.
func (self *Options) LaneCount(programWaveSize int) int {
	if programWaveSize != 0 {
		return programWaveSize
	} else {
		return self.WaveSize
	}
}

func GetDefaultOptions() Options {
	return Options{
		WaveSize:   WaveSize,
		Validate:   Validate,
		DumpState:  DumpState,
		TraceTopic: TraceTopic,
	}
}
