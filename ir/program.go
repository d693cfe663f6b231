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

package ir

import (
    `fmt`
    `strings`
)

const (
    Wave32 = 32
    Wave64 = 64
)

// Program is one compiled shader: its blocks in layout order plus the few
// program-wide facts the exec mask pass depends on.
type Program struct {
    Blocks          []*Block
    WaveSize        int
    NeedsWQM        bool
    NeedsExact      bool
    InitExecAllOnes bool
    temps           uint32
}

func NewProgram(waveSize int) *Program {
    if waveSize != Wave32 && waveSize != Wave64 {
        panic(fmt.Sprintf("ir: invalid wave size: %d", waveSize))
    } else {
        return &Program { WaveSize: waveSize }
    }
}

// LaneMask returns the register class holding one bit per lane.
func (self *Program) LaneMask() RegClass {
    if self.WaveSize == Wave32 {
        return S1
    } else {
        return S2
    }
}

// AllocateTemp returns a fresh temp, temp IDs start from 1.
func (self *Program) AllocateTemp(rc RegClass) Temp {
    self.temps++
    return Temp { ID: self.temps, RC: rc }
}

// TempCount returns the number of IDs handed out so far, plus the reserved ID 0.
func (self *Program) TempCount() int {
    return int(self.temps) + 1
}

// ReserveTemps makes sure no temp with an ID up to n is allocated again, used
// when the program was built outside of AllocateTemp.
func (self *Program) ReserveTemps(n uint32) {
    if n > self.temps {
        self.temps = n
    }
}

func (self *Program) String() string {
    ret := []string {
        fmt.Sprintf("; wave%d, needs_wqm = %v, needs_exact = %v", self.WaveSize, self.NeedsWQM, self.NeedsExact),
    }
    for _, bb := range self.Blocks {
        ret = append(ret, bb.String())
    }
    return strings.Join(ret, "\n")
}
