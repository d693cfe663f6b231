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

// Emitter appends scalar mask instructions to an instruction list, choosing
// the lane mask class of the program it emits for.
type Emitter struct {
    Out []*Instruction
    p   *Program
    lm  RegClass
}

func NewEmitter(p *Program, out []*Instruction) *Emitter {
    return &Emitter {
        p   : p,
        lm  : p.LaneMask(),
        Out : out,
    }
}

func (self *Emitter) LaneMask() RegClass {
    return self.lm
}

// Def allocates a new lane mask sized definition.
func (self *Emitter) Def() Definition {
    return Def(self.p.AllocateTemp(self.lm))
}

func (self *Emitter) scc() Definition {
    return FixedDef(self.p.AllocateTemp(S1), SCC)
}

func (self *Emitter) Insert(ins *Instruction) *Instruction {
    self.Out = append(self.Out, ins)
    return ins
}

func (self *Emitter) ParallelCopy(dst Definition, src Operand) *Instruction {
    return self.Insert(NewInstruction(P_parallelcopy, []Definition { dst }, src))
}

func (self *Emitter) LinearPhi(dst Definition, srcs ...Operand) *Instruction {
    return self.Insert(NewInstruction(P_linear_phi, []Definition { dst }, srcs...))
}

func (self *Emitter) Mov(dst Definition, src Operand) *Instruction {
    return self.Insert(NewInstruction(S_mov, []Definition { dst }, src))
}

func (self *Emitter) Wqm(dst Definition, src Operand) *Instruction {
    return self.Insert(NewInstruction(S_wqm, []Definition { dst, self.scc() }, src))
}

func (self *Emitter) And(dst Definition, a Operand, b Operand) *Instruction {
    return self.Insert(NewInstruction(S_and, []Definition { dst, self.scc() }, a, b))
}

func (self *Emitter) AndN2(dst Definition, a Operand, b Operand) *Instruction {
    return self.Insert(NewInstruction(S_andn2, []Definition { dst, self.scc() }, a, b))
}

// AndSaveExec saves exec into a new temp and sets exec to src & exec.
func (self *Emitter) AndSaveExec(src Operand) *Instruction {
    return self.Insert(NewInstruction(
        S_and_saveexec,
        []Definition { self.Def(), self.scc(), ExecDef(self.lm) },
        src,
        ExecOperand(self.lm),
    ))
}

func (self *Emitter) Ff1(dst Definition, src Operand) *Instruction {
    return self.Insert(NewInstruction(S_ff1, []Definition { dst }, src))
}

func (self *Emitter) Lshl(dst Definition, a Operand, b Operand) *Instruction {
    return self.Insert(NewInstruction(S_lshl, []Definition { dst, self.scc() }, a, b))
}

// ExitEarlyIf terminates the wave when the scc operand is zero.
func (self *Emitter) ExitEarlyIf(cond Operand) *Instruction {
    return self.Insert(NewInstruction(P_exit_early_if, nil, cond))
}

func (self *Emitter) Branch(op OpCode, cond Operand, t0 int, t1 int) *Instruction {
    ins := NewBranch(op, cond)
    ins.Target = [2]int { t0, t1 }
    return self.Insert(ins)
}

func (self *Emitter) Jump(target int) *Instruction {
    ins := NewBranch(P_branch)
    ins.Target[0] = target
    return self.Insert(ins)
}
