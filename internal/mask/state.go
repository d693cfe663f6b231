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

package mask

import (
    `fmt`
    `strings`

    `github.com/cloudwego/execmask/ir`
)

// WQMState is the execution mode an instruction or a block requires.
type WQMState uint8

const (
    Unspecified WQMState = 0
    Exact       WQMState = 1 << 0
    WQM         WQMState = 1 << 1
    PreserveWQM WQMState = 1 << 2
    ExactBranch WQMState = 1 << 3
)

func (self WQMState) String() string {
    var ret []string
    if self == Unspecified       { return "unspecified" }
    if self & Exact       != 0   { ret = append(ret, "exact") }
    if self & WQM         != 0   { ret = append(ret, "wqm") }
    if self & PreserveWQM != 0   { ret = append(ret, "preserve_wqm") }
    if self & ExactBranch != 0   { ret = append(ret, "exact_branch") }
    return strings.Join(ret, "|")
}

type maskType uint8

const (
    maskGlobal maskType = 1 << iota
    maskExact
    maskWQM
    maskLoop
)

func (self maskType) String() string {
    var ret []string
    if self & maskGlobal != 0 { ret = append(ret, "global") }
    if self & maskExact  != 0 { ret = append(ret, "exact") }
    if self & maskWQM    != 0 { ret = append(ret, "wqm") }
    if self & maskLoop   != 0 { ret = append(ret, "loop") }
    return strings.Join(ret, "|")
}

// maskEntry is one level of an exec stack. An undefined operand means the
// value only lives in the exec register, which is legal for the top level only.
type maskEntry struct {
    op  ir.Operand
    typ maskType
}

func (self maskEntry) String() string {
    return fmt.Sprintf("(%s, %s)", self.op, self.typ)
}

// execStack holds the exec masks of a block, the top is what exec holds at
// the current point. Levels below floor belong to enclosing loops.
type execStack struct {
    v     []maskEntry
    floor int
}

func (self *execStack) size() int {
    return len(self.v)
}

func (self *execStack) at(i int) *maskEntry {
    return &self.v[i]
}

func (self *execStack) top() *maskEntry {
    return &self.v[len(self.v) - 1]
}

func (self *execStack) push(op ir.Operand, typ maskType) {
    self.v = append(self.v, maskEntry { op, typ })
}

func (self *execStack) pop(bb int) {
    if len(self.v) <= self.floor {
        invariant(bb, "exec stack popped below the depth of the enclosing loop (%d)", self.floor)
    } else {
        self.v = self.v[:len(self.v) - 1]
    }
}

// truncate drops levels while constructing a stack, no floor applies yet.
func (self *execStack) truncate(n int) {
    if n < len(self.v) {
        self.v = self.v[:n]
    }
}

func (self execStack) clone() execStack {
    return execStack {
        v     : append([]maskEntry(nil), self.v...),
        floor : self.floor,
    }
}

func (self execStack) String() string {
    ret := make([]string, 0, len(self.v))
    for _, v := range self.v {
        ret = append(ret, v.String())
    }
    return "[" + strings.Join(ret, ", ") + "]"
}

type blockInfo struct {
    exec          execStack
    instrNeeds    []WQMState
    blockNeeds    WQMState
    everAgain     WQMState
    logicalEndWQM bool
}

// loopInfo summarizes a loop when its preheader is reached, and lives until
// the matching loop exit.
type loopInfo struct {
    header               int
    numExecMasks         int
    needs                WQMState
    hasDivergentBreak    bool
    hasDivergentContinue bool
    hasDiscard           bool
}

// pinned returns the smallest stack depth allowed inside the loop body.
func (self *loopInfo) pinned() int {
    if self.hasDivergentBreak {
        return self.numExecMasks + 1
    } else {
        return self.numExecMasks
    }
}
