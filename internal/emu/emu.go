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

// Package emu runs a program after exec mask insertion on a single wave,
// tracking only the scalar mask state. Vector and memory instructions are not
// computed, each of them records the lanes it ran on instead.
package emu

import (
    `math/bits`

    `github.com/cloudwego/execmask/ir`
    `github.com/nikandfor/errors`
)

const (
    _DefaultStepLimit = 1 << 16
)

// Event is one execution of an instruction with side effects or vector
// results, along with the exec mask it ran with.
type Event struct {
    Block int
    Op    ir.OpCode
    Exec  uint64
}

type Emulator struct {
    Exec   uint64
    Vals   map[uint32]uint64
    Events []Event
    Exited bool
    Limit  int
    inputs map[uint32][]uint64
    count  map[uint32]int
    prog   *ir.Program
    bits   uint64
    bb     int
    from   int
    next   int
    steps  int
    seen   []int
    halt   bool
}

// Load prepares p for running. The vector results are taken from inputs by
// temp ID, the n-th execution of an instruction gets the n-th value and the
// last value repeats. Lane mask results only keep the bits of the active lanes.
func Load(p *ir.Program, inputs map[uint32][]uint64) *Emulator {
    nb := ir.AllOnes(p.LaneMask()).Value
    return &Emulator {
        Exec   : nb,
        Vals   : make(map[uint32]uint64),
        Limit  : _DefaultStepLimit,
        inputs : inputs,
        count  : make(map[uint32]int),
        prog   : p,
        bits   : nb,
        from   : -1,
        seen   : make([]int, len(p.Blocks)),
    }
}

var dispatchTab = [...]func(e *Emulator, p *ir.Instruction) {
    ir.P_startpgm      : (*Emulator).emu_nop,
    ir.P_logical_start : (*Emulator).emu_nop,
    ir.P_logical_end   : (*Emulator).emu_nop,
    ir.P_phi           : (*Emulator).emu_P_phi,
    ir.P_linear_phi    : (*Emulator).emu_P_linear_phi,
    ir.P_parallelcopy  : (*Emulator).emu_copy,
    ir.P_wqm           : (*Emulator).emu_copy,
    ir.P_as_uniform    : (*Emulator).emu_copy,
    ir.P_exit_early_if : (*Emulator).emu_P_exit_early_if,
    ir.P_branch        : (*Emulator).emu_P_branch,
    ir.P_cbranch_z     : (*Emulator).emu_P_cbranch_z,
    ir.P_cbranch_nz    : (*Emulator).emu_P_cbranch_nz,
    ir.S_mov           : (*Emulator).emu_copy,
    ir.S_and           : (*Emulator).emu_S_and,
    ir.S_andn2         : (*Emulator).emu_S_andn2,
    ir.S_and_saveexec  : (*Emulator).emu_S_and_saveexec,
    ir.S_wqm           : (*Emulator).emu_S_wqm,
    ir.S_ff1           : (*Emulator).emu_S_ff1,
    ir.S_lshl          : (*Emulator).emu_S_lshl,
    ir.S_endpgm        : (*Emulator).emu_S_endpgm,
}

func isUnlowered(op ir.OpCode) bool {
    switch op {
        case ir.P_discard_if       : return true
        case ir.P_demote_to_helper : return true
        case ir.P_is_helper        : return true
        case ir.P_elect            : return true
        default                    : return false
    }
}

// Run executes the program from the first block until s_endpgm, an early
// exit, or the step limit.
func (self *Emulator) Run() error {
    if len(self.prog.Blocks) == 0 {
        return errors.New("empty program")
    }

    /* enter the first block */
    self.enter(0)
    for !self.halt {
        bb := self.prog.Blocks[self.bb]
        self.next = -1

        /* run the block */
        for _, ins := range bb.Instructions {
            if self.steps++; self.steps > self.Limit {
                return errors.New("step limit exceeded in bb_%d", self.bb)
            }
            if isUnlowered(ins.Op) {
                return errors.New("unlowered instruction in bb_%d: %s", self.bb, ins)
            }
            if fn := self.handler(ins.Op); fn != nil {
                fn(self, ins)
            } else {
                self.emu_opaque(ins)
            }
            if self.halt || self.next >= 0 {
                break
            }
        }

        /* the block must end with a jump */
        if self.halt {
            break
        } else if self.next < 0 {
            return errors.New("bb_%d falls through", self.bb)
        } else if self.next >= len(self.prog.Blocks) {
            return errors.New("bb_%d jumps to invalid block %d", self.bb, self.next)
        } else {
            self.from = self.bb
            self.enter(self.next)
        }
    }
    return nil
}

func (self *Emulator) handler(op ir.OpCode) func(*Emulator, *ir.Instruction) {
    if int(op) >= len(dispatchTab) {
        return nil
    } else {
        return dispatchTab[op]
    }
}

func (self *Emulator) enter(bb int) {
    self.bb = bb
    self.seen[bb] = self.steps + 1
}

// Block returns the index of the block the emulator is in.
func (self *Emulator) Block() int {
    return self.bb
}

// Active returns the lanes any instruction of op ran on.
func (self *Emulator) Active(op ir.OpCode) (ret uint64) {
    for _, ev := range self.Events {
        if ev.Op == op {
            ret |= ev.Exec
        }
    }
    return
}

func (self *Emulator) read(op ir.Operand) uint64 {
    switch {
        case op.IsTemp()     : return self.Vals[op.ID]
        case op.IsConstant() : return op.Value
        case op.IsExec()     : return self.Exec
        default              : return 0
    }
}

func (self *Emulator) write(def ir.Definition, v uint64) {
    if def.Reg == ir.Exec {
        self.Exec = v & self.bits
    } else if def.IsTemp() {
        self.Vals[def.T.ID] = v
    }
}

func (self *Emulator) writeScc(p *ir.Instruction, v uint64) {
    for _, def := range p.Definitions {
        if def.Reg == ir.SCC {
            if v != 0 {
                self.write(def, 1)
            } else {
                self.write(def, 0)
            }
        }
    }
}

func (self *Emulator) emu_nop(_ *ir.Instruction) {
    /* no operation */
}

func (self *Emulator) emu_opaque(p *ir.Instruction) {
    self.Events = append(self.Events, Event {
        Block : self.bb,
        Op    : p.Op,
        Exec  : self.Exec,
    })

    /* vector compares only write the active lanes */
    for _, def := range p.Definitions {
        if v := self.input(def.T.ID); def.T.RC == self.prog.LaneMask() && p.Op.Format() == ir.FmtVALU {
            self.write(def, v & self.Exec)
        } else {
            self.write(def, v)
        }
    }
}

func (self *Emulator) input(id uint32) uint64 {
    vv := self.inputs[id]
    if len(vv) == 0 {
        return 0
    }

    /* the next value in sequence */
    i := self.count[id]
    self.count[id]++
    if i >= len(vv) {
        i = len(vv) - 1
    }
    return vv[i]
}

func (self *Emulator) emu_P_phi(p *ir.Instruction) {
    bb := self.prog.Blocks[self.bb]
    sel, last := -1, 0

    /* the operand of the most recently run logical predecessor */
    for i, v := range bb.LogicalPreds {
        if self.seen[v] > last {
            sel, last = i, self.seen[v]
        }
    }
    if sel >= 0 && sel < len(p.Operands) {
        self.write(p.Definitions[0], self.read(p.Operands[sel]))
    }
}

func (self *Emulator) emu_P_linear_phi(p *ir.Instruction) {
    bb := self.prog.Blocks[self.bb]
    for i, v := range bb.LinearPreds {
        if v == self.from && i < len(p.Operands) {
            self.write(p.Definitions[0], self.read(p.Operands[i]))
            return
        }
    }
}

func (self *Emulator) emu_copy(p *ir.Instruction) {
    self.write(p.Definitions[0], self.read(p.Operands[0]))
}

func (self *Emulator) emu_P_exit_early_if(p *ir.Instruction) {
    if self.read(p.Operands[0]) == 0 {
        self.Exited = true
        self.halt = true
    }
}

func (self *Emulator) emu_P_branch(p *ir.Instruction) {
    self.next = p.Target[0]
}

func (self *Emulator) emu_P_cbranch_z(p *ir.Instruction) {
    if self.read(p.Operands[0]) == 0 {
        self.next = p.Target[0]
    } else {
        self.next = p.Target[1]
    }
}

func (self *Emulator) emu_P_cbranch_nz(p *ir.Instruction) {
    if self.read(p.Operands[0]) != 0 {
        self.next = p.Target[0]
    } else {
        self.next = p.Target[1]
    }
}

func (self *Emulator) emu_S_and(p *ir.Instruction) {
    v := self.read(p.Operands[0]) & self.read(p.Operands[1])
    self.write(p.Definitions[0], v)
    self.writeScc(p, v)
}

func (self *Emulator) emu_S_andn2(p *ir.Instruction) {
    v := self.read(p.Operands[0]) &^ self.read(p.Operands[1])
    self.write(p.Definitions[0], v)
    self.writeScc(p, v)
}

func (self *Emulator) emu_S_and_saveexec(p *ir.Instruction) {
    old := self.Exec
    self.Exec = self.read(p.Operands[0]) & old & self.bits
    self.write(p.Definitions[0], old)
    self.writeScc(p, self.Exec)
}

func (self *Emulator) emu_S_wqm(p *ir.Instruction) {
    v := wqm(self.read(p.Operands[0]))
    self.write(p.Definitions[0], v)
    self.writeScc(p, v)
}

func (self *Emulator) emu_S_ff1(p *ir.Instruction) {
    if v := self.read(p.Operands[0]); v == 0 {
        self.write(p.Definitions[0], 0xffffffff)
    } else {
        self.write(p.Definitions[0], uint64(bits.TrailingZeros64(v)))
    }
}

func (self *Emulator) emu_S_lshl(p *ir.Instruction) {
    v := self.read(p.Operands[0]) << (self.read(p.Operands[1]) & 63)
    self.write(p.Definitions[0], v)
    self.writeScc(p, v)
}

func (self *Emulator) emu_S_endpgm(_ *ir.Instruction) {
    self.halt = true
}

// wqm enables every lane of a quad if any of them is enabled.
func wqm(v uint64) (ret uint64) {
    for i := uint(0); i < 64; i += 4 {
        if v & (0xf << i) != 0 {
            ret |= 0xf << i
        }
    }
    return
}
