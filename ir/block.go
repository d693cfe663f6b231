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

// BlockKind is a set of structural roles a block plays in the CFG.
type BlockKind uint32

const (
    KindUniform BlockKind = 1 << iota
    KindTopLevel
    KindLoopPreheader
    KindLoopHeader
    KindLoopExit
    KindContinue
    KindBreak
    KindContinueOrBreak
    KindDiscard
    KindBranch
    KindMerge
    KindInvert
    KindUsesDiscardIf
    KindNeedsLowering
    KindUsesDemote
)

var kindNames = [...]string {
    "uniform",
    "top_level",
    "loop_preheader",
    "loop_header",
    "loop_exit",
    "continue",
    "break",
    "continue_or_break",
    "discard",
    "branch",
    "merge",
    "invert",
    "uses_discard_if",
    "needs_lowering",
    "uses_demote",
}

func (self BlockKind) Has(k BlockKind) bool {
    return self & k != 0
}

func (self BlockKind) String() string {
    var ret []string
    for i, v := range kindNames {
        if self & (1 << i) != 0 {
            ret = append(ret, v)
        }
    }
    if len(ret) == 0 {
        return "-"
    } else {
        return strings.Join(ret, "|")
    }
}

type Block struct {
    Index         int
    Kind          BlockKind
    LoopNestDepth int
    LogicalPreds  []int
    LinearPreds   []int
    LogicalSuccs  []int
    LinearSuccs   []int
    Instructions  []*Instruction
}

// Terminator returns the last instruction of the block, or nil if it is empty.
func (self *Block) Terminator() *Instruction {
    if n := len(self.Instructions); n == 0 {
        return nil
    } else {
        return self.Instructions[n - 1]
    }
}

func (self *Block) Append(ins *Instruction) *Instruction {
    self.Instructions = append(self.Instructions, ins)
    return ins
}

func (self *Block) String() string {
    ret := []string {
        fmt.Sprintf("bb_%d: ; kind = %s, depth = %d", self.Index, self.Kind, self.LoopNestDepth),
        fmt.Sprintf("    ; logical_preds = %v, linear_preds = %v", self.LogicalPreds, self.LinearPreds),
    }
    for _, ins := range self.Instructions {
        ret = append(ret, "    " + ins.String())
    }
    return strings.Join(ret, "\n")
}
