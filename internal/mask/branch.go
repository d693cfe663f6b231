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
    `github.com/cloudwego/execmask/ir`
)

type _BranchContext struct {
    bb    *ir.Block
    b     *ir.Emitter
    br    *ir.Instruction
    brk   ir.Operand
}

type _BranchHandler struct {
    kind ir.BlockKind
    emit func(*Pass, *_BranchContext) bool
}

// handlers are tried in order, a handler returning true ends the block.
var branchTab = [...]_BranchHandler {
    { ir.KindTopLevel        , (*Pass).branchTopLevel   },
    { ir.KindLoopPreheader   , (*Pass).branchPreheader  },
    { ir.KindDiscard         , (*Pass).branchDiscard    },
    { ir.KindContinueOrBreak , (*Pass).branchLoopTail   },
    { ir.KindUniform         , (*Pass).branchUniform    },
    { ir.KindBranch          , (*Pass).branchDivergent  },
    { ir.KindInvert          , (*Pass).branchInvert     },
    { ir.KindBreak           , (*Pass).branchBreak      },
    { ir.KindContinue        , (*Pass).branchContinue   },
}

// addBranchCode rewrites the terminator of bb so that exec is correct on
// every outgoing linear edge.
func (self *Pass) addBranchCode(bb *ir.Block) {
    n := len(bb.Instructions)
    if bb.Index == len(self.p.Blocks) - 1 {
        return
    }

    /* every other block ends with a branch */
    if n == 0 || !bb.Instructions[n - 1].IsBranch() {
        invariant(bb.Index, "block does not end with a branch")
    }

    /* detach the branch, code is emitted in front of it */
    bc := &_BranchContext {
        bb  : bb,
        br  : bb.Instructions[n - 1],
        b   : ir.NewEmitter(self.p, bb.Instructions[:n - 1]),
        brk : ir.ExecOperand(self.lm),
    }

    /* dispatch on the block kind */
    for _, h := range branchTab {
        if bb.Kind.Has(h.kind) && h.emit(self, bc) {
            break
        }
    }

    /* reattach the branch if it was kept */
    if bc.br != nil {
        bc.b.Insert(bc.br)
    }
    bb.Instructions = bc.b.Out
}

func (self *Pass) succ(idx int, i int) *ir.Block {
    bb := self.p.Blocks[idx]
    if i >= len(bb.LinearSuccs) {
        invariant(idx, "missing linear successor #%d", i)
    }
    return self.p.Blocks[bb.LinearSuccs[i]]
}

func (self *Pass) branchTopLevel(bc *_BranchContext) bool {
    idx := bc.bb.Index
    st := self.stack(idx)
    info := &self.info[idx]

    /* mode switches only happen while both modes are in use */
    if !self.handleWQM {
        return false
    }

    /* drop a nested exact mask, restoring the WQM one */
    if st.size() == 3 {
        self.toWQM(bc.b, idx)
    }
    if st.size() > 2 {
        invariant(idx, "top-level block with %d exec masks", st.size())
    }

    /* leave WQM for good, or stay in WQM for the successors */
    if info.everAgain == Unspecified || info.everAgain == Exact {
        st.top().typ |= maskGlobal
        self.toExact(bc.b, idx)
        self.handleWQM = false
        self.logw("wqm disabled", "block", idx)
    } else if info.blockNeeds & WQM != 0 {
        self.toWQM(bc.b, idx)
        st.top().typ &^= maskGlobal
    }
    return false
}

func (self *Pass) branchPreheader(bc *_BranchContext) bool {
    idx := bc.bb.Index
    lp := self.collectLoop(idx)

    /* enter the loop in the mode it needs */
    if self.handleWQM {
        if lp.needs & WQM != 0 {
            self.toWQM(bc.b, idx)
        } else {
            self.toExact(bc.b, idx)
        }
    }

    /* the levels the loop owns */
    lp.numExecMasks = self.stack(idx).size()
    if bc.bb.Kind.Has(ir.KindTopLevel) && lp.numExecMasks > 2 {
        lp.numExecMasks = 2
    }

    /* the loop starts with the next block */
    self.loops.Push(lp)
    self.logw("loop", "preheader", idx, "header", lp.header, "masks", lp.numExecMasks, "break", lp.hasDivergentBreak, "continue", lp.hasDivergentContinue, "discard", lp.hasDiscard)
    return false
}

func (self *Pass) branchDiscard(bc *_BranchContext) bool {
    num := 0
    idx := bc.bb.Index
    st := self.stack(idx)

    /* inside a loop only the masks outside of it are changed */
    if lp := self.loop(); lp != nil {
        num = lp.numExecMasks
    } else {
        num = st.size() - 1
    }

    /* all the active lanes are gone */
    sv := bc.b.AndSaveExec(ir.Zero(self.lm))
    cond := sv.Result()

    /* remove them from the saved masks */
    for i := num - 1; i >= 0; i-- {
        e := st.at(i)
        def := bc.b.Def()
        if i == st.size() - 1 {
            def = ir.ExecDef(self.lm)
        }

        /* update the level */
        v := bc.b.AndN2(def, self.execOp(e.op), cond)
        e.op = v.Result()

        /* end the wave if nothing is left */
        if i == 0 {
            bc.b.ExitEarlyIf(v.SCC())
        }
    }

    /* a following break removes the discarded lanes */
    bc.brk = cond
    return false
}

func (self *Pass) branchLoopTail(bc *_BranchContext) bool {
    idx := bc.bb.Index
    st := self.stack(idx)
    copied := false

    /* layout produced by the CFG builder */
    if !self.succ(self.succ(idx, 1).Index, 0).Kind.Has(ir.KindLoopHeader) {
        invariant(idx, "continue successor does not lead to the loop header")
    }
    if !self.succ(self.succ(idx, 0).Index, 0).Kind.Has(ir.KindLoopExit) {
        invariant(idx, "break successor does not lead to the loop exit")
    }

    /* drop everything above the loop mask */
    for st.top().typ & maskLoop == 0 {
        st.pop(idx)
        copied = true
    }

    /* restore the loop mask */
    if copied {
        st.top().op = bc.b.ParallelCopy(ir.ExecDef(self.lm), st.top().op).Result()
    }

    /* keep looping while any lane is active */
    bc.b.Branch(ir.P_cbranch_nz, ir.ExecOperand(self.lm), bc.bb.LinearSuccs[1], bc.bb.LinearSuccs[0])
    bc.br = nil
    return true
}

func (self *Pass) branchUniform(bc *_BranchContext) bool {
    if succs := bc.bb.LinearSuccs; bc.br.Op == ir.P_branch {
        bc.br.Target[0] = succs[0]
    } else if len(succs) != 2 {
        invariant(bc.bb.Index, "conditional branch with %d successors", len(succs))
    } else {
        bc.br.Target = [2]int { succs[1], succs[0] }
    }
    return true
}

func (self *Pass) branchDivergent(bc *_BranchContext) bool {
    idx := bc.bb.Index
    st := self.stack(idx)

    /* the branch condition */
    if bc.br.Op != ir.P_cbranch_z || len(bc.br.Operands) != 1 {
        invariant(idx, "divergent branch ends with %s", bc.br)
    }

    /* loops inside need an exact mask */
    cond := bc.br.Operands[0]
    if self.info[idx].blockNeeds & ExactBranch != 0 {
        self.toExact(bc.b, idx)
    }

    /* save exec and enter the then side */
    typ := st.top().typ & (maskWQM | maskExact)
    if st.top().op.IsAllOnes() {
        bc.b.Mov(ir.ExecDef(self.lm), cond)
    } else {
        st.top().op = bc.b.AndSaveExec(cond).Result()
    }

    /* the then side mask */
    st.push(ir.Undef(self.lm), typ)
    bc.b.Branch(ir.P_cbranch_z, ir.ExecOperand(self.lm), bc.bb.LinearSuccs[1], bc.bb.LinearSuccs[0])
    bc.br = nil
    return true
}

func (self *Pass) branchInvert(bc *_BranchContext) bool {
    idx := bc.bb.Index
    st := self.stack(idx)

    /* the mask saved by the branch */
    if st.size() < 2 {
        invariant(idx, "invert block with %d exec masks", st.size())
    }

    /* the else side gets the remaining lanes */
    orig := self.execOp(st.at(st.size() - 2).op)
    bc.b.AndN2(ir.ExecDef(self.lm), orig, ir.ExecOperand(self.lm))
    bc.b.Branch(ir.P_cbranch_z, ir.ExecOperand(self.lm), bc.bb.LinearSuccs[1], bc.bb.LinearSuccs[0])
    bc.br = nil
    return true
}

func (self *Pass) branchBreak(bc *_BranchContext) bool {
    var cond ir.Operand
    idx := bc.bb.Index
    st := self.stack(idx)
    found := false

    /* remove the breaking lanes down to the loop mask */
    for i := st.size() - 2; i >= 0 && !found; i-- {
        e := st.at(i)
        v := bc.b.AndN2(bc.b.Def(), self.execOp(e.op), bc.brk)
        e.op = v.Result()
        cond = v.SCC()
        found = e.typ & maskLoop != 0
    }

    /* the loop mask must be on the stack */
    if !found {
        invariant(idx, "break without a loop mask")
    }

    /* lanes must not run the helper block unless it leads straight to a merge */
    self.clearExecUnlessMerging(bc)
    bc.b.Branch(ir.P_cbranch_nz, cond, bc.bb.LinearSuccs[1], bc.bb.LinearSuccs[0])
    bc.br = nil
    return true
}

func (self *Pass) branchContinue(bc *_BranchContext) bool {
    var cond ir.Operand
    idx := bc.bb.Index
    st := self.stack(idx)
    found := false

    /* remove the continuing lanes from the masks above the loop mask */
    for i := st.size() - 2; i >= 0; i-- {
        e := st.at(i)
        if e.typ & maskLoop != 0 {
            break
        }
        v := bc.b.AndN2(bc.b.Def(), self.execOp(e.op), ir.ExecOperand(self.lm))
        e.op = v.Result()
        cond = v.SCC()
        found = true
    }

    /* a divergent continue is always nested in a divergent branch */
    if !found {
        invariant(idx, "continue without a mask above the loop mask")
    }

    /* same as break */
    self.clearExecUnlessMerging(bc)
    bc.b.Branch(ir.P_cbranch_nz, cond, bc.bb.LinearSuccs[1], bc.bb.LinearSuccs[0])
    bc.br = nil
    return true
}

func (self *Pass) clearExecUnlessMerging(bc *_BranchContext) {
    if len(bc.bb.LinearSuccs) != 2 {
        invariant(bc.bb.Index, "jump block with %d successors", len(bc.bb.LinearSuccs))
    }
    if next := self.succ(bc.bb.LinearSuccs[1], 0); !next.Kind.Has(ir.KindInvert | ir.KindMerge) {
        bc.b.Mov(ir.ExecDef(self.lm), ir.Zero(self.lm))
    }
}
