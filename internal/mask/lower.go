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
    `sync/atomic`

    `github.com/cloudwego/execmask/ir`
)

// processInstructions emits the remaining instructions of bb starting at
// idx, switching modes where instructions need it and lowering the pseudo
// instructions that depend on the exec stack.
func (self *Pass) processInstructions(bb *ir.Block, b *ir.Emitter, idx int) {
    info := &self.info[bb.Index]
    state := self.mode(bb.Index)

    /* blocks with a single mode and nothing to lower are copied */
    if !self.needsProcessing(bb, state) {
        b.Out = append(b.Out, bb.Instructions[idx:]...)
        return
    }

    /* process every instruction */
    for ; idx < len(bb.Instructions); idx++ {
        need := Unspecified
        ins := bb.Instructions[idx]

        /* what the analysis found */
        if self.handleWQM && idx < len(info.instrNeeds) {
            need = info.instrNeeds[idx]
        }

        /* mode switches, discards happen in whatever mode is current */
        if ins.Op == ir.P_discard_if {
            self.lowerDiscardIf(bb, b, ins)
            state = self.mode(bb.Index)
        } else if need == WQM && state != WQM {
            self.toWQM(b, bb.Index)
            state = WQM
        } else if need == Exact && state != Exact {
            self.toExact(b, bb.Index)
            state = Exact
        }

        /* pseudo instructions reading the exec stack */
        switch ins.Op {
            case ir.P_is_helper         : ins = self.lowerIsHelper(bb, b, ins, state)
            case ir.P_demote_to_helper  : self.lowerDemote(bb, b, ins); state = Exact
            case ir.P_elect             : ins = self.lowerElect(bb, b, ins)
        }

        /* emit the instruction */
        if ins != nil {
            b.Insert(ins)
        }
    }
}

// mode returns the mode exec of block idx is currently in.
func (self *Pass) mode(idx int) WQMState {
    if self.stack(idx).top().typ & maskWQM != 0 {
        return WQM
    } else {
        return Exact
    }
}

func (self *Pass) needsProcessing(bb *ir.Block, state WQMState) bool {
    needs := self.info[bb.Index].blockNeeds
    return (self.handleWQM && needs & state != needs & (WQM | Exact)) ||
        bb.Kind.Has(ir.KindUsesDiscardIf | ir.KindUsesDemote | ir.KindNeedsLowering)
}

// lowerDiscardIf removes the lanes of the condition from every level of the
// stack, and turns the instruction into an early exit once no lane is left.
func (self *Pass) lowerDiscardIf(bb *ir.Block, b *ir.Emitter, ins *ir.Instruction) {
    idx := bb.Index
    st := self.stack(idx)
    cond := ins.Operands[0]

    /* helper lanes are still needed after the discard */
    if self.info[idx].blockNeeds & PreserveWQM != 0 {
        self.toWQM(b, idx)
        st.top().typ &^= maskGlobal
    }

    /* update statistics */
    atomic.AddUint64(&LoweredCount, 1)
    ins.Op = ir.P_exit_early_if

    /* discarding every lane clears every level */
    if cond.IsAllOnes() {
        b.Mov(ir.ExecDef(self.lm), ir.Zero(self.lm))
        for i := range st.v {
            st.at(i).op = ir.Zero(self.lm)
        }
        ins.Operands[0] = ir.Zero(ir.S1)
        return
    }

    /* the current mask lives in exec */
    n := st.size()
    top := b.AndN2(ir.ExecDef(self.lm), ir.ExecOperand(self.lm), cond)
    st.top().op = ir.Undef(self.lm)
    ins.Operands[0] = top.SCC()

    /* then the saved masks down to the outermost one */
    for i := n - 2; i >= 0; i-- {
        e := st.at(i)
        v := b.AndN2(b.Def(), self.execOp(e.op), cond)
        e.op = v.Result()
        ins.Operands[0] = v.SCC()
    }
}

func (self *Pass) lowerIsHelper(bb *ir.Block, b *ir.Emitter, ins *ir.Instruction, state WQMState) *ir.Instruction {
    dst := ins.Definitions[0]
    atomic.AddUint64(&LoweredCount, 1)

    /* no helper lanes are running in exact mode */
    if state == Exact {
        return ir.NewInstruction(ir.S_mov, []ir.Definition { dst }, ir.Zero(self.lm))
    }

    /* helper lanes are those missing from the exact mask */
    exact := self.stack(bb.Index).at(0)
    b.AndN2(dst, ir.ExecOperand(self.lm), self.execOp(exact.op))
    return nil
}

// lowerDemote removes the demoted lanes from every exact level, which leaves
// exec in exact mode.
func (self *Pass) lowerDemote(bb *ir.Block, b *ir.Emitter, ins *ir.Instruction) {
    var num int
    var cond ir.Operand
    var exit ir.Operand

    /* setup */
    idx := bb.Index
    st := self.stack(idx)
    atomic.AddUint64(&LoweredCount, 1)

    /* the outermost level is always the global exact mask */
    if st.at(0).typ & (maskExact | maskGlobal) != maskExact | maskGlobal {
        invariant(idx, "the outermost exec mask is %s", st.at(0).typ)
    }

    /* demoting every lane empties exec */
    if op := ins.Operands[0]; op.IsConstant() {
        if !op.IsAllOnes() {
            invariant(idx, "demote on a constant condition %s", op)
        }

        /* save the current mask as the condition */
        sv := b.AndSaveExec(ir.Zero(self.lm))
        cond = sv.Result()
        exit = sv.SCC()
        num = st.size() - 2

        /* keep the WQM mask below the empty exact one */
        if st.top().typ & maskExact == 0 {
            st.top().op = cond
            st.push(ir.Undef(self.lm), maskExact)
        }
    } else {
        top := st.top()

        /* the global WQM mask can simply be dropped */
        if bb.Kind.Has(ir.KindTopLevel) && st.size() == 2 && top.typ & maskGlobal != 0 {
            st.pop(idx)
        } else {
            self.toExact(b, idx)
        }

        /* the condition must be a value */
        if !op.IsTemp() {
            invariant(idx, "demote on a non-temp condition %s", op)
        }
        cond = op
        num = st.size() - 1
    }

    /* remove the lanes from every exact level */
    for i := num; i >= 0; i-- {
        e := st.at(i)
        if e.typ & maskExact == 0 {
            continue
        }

        /* the top level is kept in exec */
        def := b.Def()
        if i == st.size() - 1 {
            def = ir.ExecDef(self.lm)
        }

        /* update the level */
        v := b.AndN2(def, self.execOp(e.op), cond)
        e.op = v.Result()
        exit = v.SCC()
    }

    /* exit once no lane is left */
    ins.Op = ir.P_exit_early_if
    ins.Operands = []ir.Operand { exit }
}

func (self *Pass) lowerElect(bb *ir.Block, b *ir.Emitter, ins *ir.Instruction) *ir.Instruction {
    dst := ins.Definitions[0]
    atomic.AddUint64(&LoweredCount, 1)

    /* with all lanes active the first lane is lane 0 */
    if self.stack(bb.Index).top().op.IsAllOnes() {
        b.Mov(dst, ir.Const(1, self.lm))
        return nil
    }

    /* otherwise find the first active lane */
    lane := b.Ff1(ir.Def(self.p.AllocateTemp(ir.S1)), ir.ExecOperand(self.lm))
    b.Lshl(dst, ir.Const(1, self.lm), lane.Result())
    return nil
}
