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

type Instruction struct {
    Op          OpCode
    Operands    []Operand
    Definitions []Definition
    DisableWQM  bool
    Target      [2]int
}

func NewInstruction(op OpCode, defs []Definition, ops ...Operand) *Instruction {
    return &Instruction {
        Op          : op,
        Operands    : ops,
        Definitions : defs,
    }
}

// NewBranch creates an unresolved branch, the targets are filled in from the
// linear successors of the block that ends with it.
func NewBranch(op OpCode, cond ...Operand) *Instruction {
    if !op.IsBranch() {
        panic("ir: not a branch: " + op.String())
    } else {
        return &Instruction { Op: op, Operands: cond, Target: [2]int { -1, -1 } }
    }
}

func (self *Instruction) IsBranch() bool {
    return self.Op.IsBranch()
}

// ReadsExec reports whether any operand reads the exec register.
func (self *Instruction) ReadsExec() bool {
    for _, v := range self.Operands {
        if v.IsExec() {
            return true
        }
    }
    return false
}

// WritesExec reports whether any definition is pinned to exec.
func (self *Instruction) WritesExec() bool {
    for _, v := range self.Definitions {
        if v.IsExec() {
            return true
        }
    }
    return false
}

// Result returns the operand for the first definition.
func (self *Instruction) Result() Operand {
    return self.Definitions[0].Operand()
}

// SCC returns the operand for the scc definition of a scalar ALU instruction.
func (self *Instruction) SCC() Operand {
    for _, v := range self.Definitions {
        if v.Reg == SCC {
            return v.Operand()
        }
    }
    panic("ir: instruction does not define scc: " + self.String())
}

func (self *Instruction) opname() string {
    if !self.Op.IsWide() {
        return self.Op.String()
    }

    /* the width follows the first lane mask sized value */
    w := 64
    if self.Op == S_ff1 && len(self.Operands) != 0 {
        return fmt.Sprintf("%s_b%d", self.Op, self.Operands[0].RC.Size() * 32)
    }
    for _, v := range self.Definitions {
        if v.Reg != SCC {
            w = v.T.RC.Size() * 32
            break
        }
    }
    return fmt.Sprintf("%s_b%d", self.Op, w)
}

func (self *Instruction) String() string {
    var defs []string
    var args []string

    /* definitions and operands */
    for _, v := range self.Definitions { defs = append(defs, v.String()) }
    for _, v := range self.Operands    { args = append(args, v.String()) }

    /* branches print their targets */
    switch self.Op {
        case P_branch     : args = append(args, fmt.Sprintf("bb_%d", self.Target[0]))
        case P_cbranch_z  : fallthrough
        case P_cbranch_nz : args = append(args, fmt.Sprintf("bb_%d", self.Target[0]), fmt.Sprintf("bb_%d", self.Target[1]))
    }

    /* build the result */
    buf := self.opname()
    if len(args) != 0 {
        buf += " " + strings.Join(args, ", ")
    }
    if self.DisableWQM {
        buf += " disable_wqm"
    }
    if len(defs) != 0 {
        buf = strings.Join(defs, ", ") + " = " + buf
    }
    return buf
}
