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

// addCouplingCode builds the exec stack of bb from its predecessors, and
// returns the index of the first instruction of bb not yet emitted.
func (self *Pass) addCouplingCode(bb *ir.Block, b *ir.Emitter) (ret int) {
    switch {
        case bb.Index == 0                      : ret = self.couplingStart(bb, b)
        case bb.Kind.Has(ir.KindLoopHeader)     : ret = self.couplingHeader(bb, b)
        case bb.Kind.Has(ir.KindLoopExit)       : ret = self.couplingExit(bb, b)
        case len(bb.LinearPreds) == 1           : ret = self.couplingSingle(bb, b)
        default                                 : ret = self.couplingMerge(bb, b)
    }

    /* levels of the enclosing loops cannot be popped */
    self.pin(bb.Index)
    self.logw("coupling", "block", bb.Index, "exec", self.stack(bb.Index))
    return
}

func (self *Pass) couplingStart(bb *ir.Block, b *ir.Emitter) int {
    st := self.stack(0)
    start := ir.Undef(self.lm)

    /* the program must start with p_startpgm */
    if len(bb.Instructions) == 0 || bb.Instructions[0].Op != ir.P_startpgm {
        invariant(0, "program does not start with p_startpgm")
    }

    /* the hardware may leave exec uninitialized */
    b.Insert(bb.Instructions[0])
    if self.p.InitExecAllOnes {
        start = ir.AllOnes(self.lm)
        b.Mov(ir.ExecDef(self.lm), start)
    }

    /* both modes are used, the analysis decides */
    if self.handleWQM {
        st.push(start, maskGlobal | maskExact)
        if self.info[0].blockNeeds == WQM {
            self.toWQM(b, 0)
        }
        return 1
    }

    /* single mode program */
    if self.p.NeedsWQM {
        b.Wqm(ir.ExecDef(self.lm), ir.ExecOperand(self.lm))
        st.push(start, maskGlobal | maskWQM)
    } else {
        st.push(start, maskGlobal | maskExact)
    }
    return 1
}

func (self *Pass) couplingHeader(bb *ir.Block, b *ir.Emitter) int {
    idx := bb.Index
    lp := self.loop()
    preds := bb.LinearPreds

    /* the loop must have been entered through its preheader */
    if lp == nil || lp.header != idx {
        invariant(idx, "loop header without a matching preheader")
    }
    if len(preds) == 0 || preds[0] != idx - 1 {
        invariant(idx, "the first predecessor of a loop header is not its preheader")
    }

    /* start from the preheader stack */
    pre := self.stack(idx - 1)
    self.info[idx].exec = pre.clone()
    st := self.stack(idx)
    st.truncate(lp.numExecMasks)

    /* outer masks may be changed by discards inside the loop */
    if lp.hasDiscard {
        for i := 0; i < lp.numExecMasks - 1; i++ {
            st.at(i).op = self.headerPhi(b, b.Def(), len(preds), pre.at(i).op)
        }
    }

    /* the mask restored after the loop */
    if lp.hasDivergentBreak {
        st.top().op = self.headerPhi(b, b.Def(), len(preds), pre.at(lp.numExecMasks - 1).op)
    }

    /* the mask of the lanes still running the loop */
    def := ir.ExecDef(self.lm)
    if lp.hasDivergentContinue {
        def = b.Def()
    }

    /* a new level, or the current one becomes the loop mask */
    active := self.headerPhi(b, def, len(preds), pre.top().op)
    if lp.hasDivergentBreak {
        st.push(active, st.top().typ & (maskWQM | maskExact) | maskLoop)
    } else {
        st.top().op = active
        st.top().typ |= maskLoop
    }

    /* no divergent continue, exec already holds the loop mask */
    if !lp.hasDivergentContinue {
        return 0
    }

    /* copy the phis, then move the loop mask into exec */
    i := self.copyUntilLogicalStart(bb, b, 0)
    typ := st.top().typ & (maskWQM | maskExact)
    st.push(b.ParallelCopy(ir.ExecDef(self.lm), st.top().op).Result(), typ)
    return i
}

// headerPhi creates a linear phi whose back edge operands are filled in once
// the loop exit is reached.
func (self *Pass) headerPhi(b *ir.Emitter, def ir.Definition, n int, entry ir.Operand) ir.Operand {
    ops := make([]ir.Operand, n)
    ops[0] = self.execOp(entry)

    /* back edges are unknown yet */
    for i := 1; i < n; i++ {
        ops[i] = ir.Undef(self.lm)
    }

    /* update statistics */
    atomic.AddUint64(&PhiCount, 1)
    return b.LinearPhi(def, ops...).Result()
}

func (self *Pass) copyUntilLogicalStart(bb *ir.Block, b *ir.Emitter, i int) int {
    for i < len(bb.Instructions) && bb.Instructions[i].Op != ir.P_logical_start {
        b.Insert(bb.Instructions[i])
        i++
    }
    if i == len(bb.Instructions) {
        invariant(bb.Index, "block does not contain p_logical_start")
    }
    return i
}

func (self *Pass) couplingExit(bb *ir.Block, b *ir.Emitter) int {
    idx := bb.Index
    lp := self.loop()
    preds := bb.LinearPreds

    /* the exit closes the innermost loop */
    if lp == nil {
        invariant(idx, "loop exit outside of a loop")
    }

    /* every predecessor carries at least the loop levels */
    num := lp.numExecMasks
    for _, v := range preds {
        if self.stack(v).size() < num {
            invariant(idx, "predecessor bb_%d has %d exec masks, %d required", v, self.stack(v).size(), num)
        }
    }

    /* complete the header phis with the back edges */
    self.fillHeaderPhis(lp)
    if bb.Kind.Has(ir.KindTopLevel) && num > 2 {
        invariant(idx, "top-level loop with %d exec masks", num)
    }

    /* masks leaving the loop */
    hdr := self.p.Blocks[lp.header]
    st := self.stack(idx)
    st.v = st.v[:0]

    /* one phi per level unless all predecessors agree */
    for i := 0; i < num; i++ {
        same := self.stack(preds[0]).at(i).op
        typ := self.stack(hdr.LinearPreds[0]).at(i).typ
        trivial := true

        /* compare the raw operands */
        for _, v := range preds[1:] {
            if self.stack(v).at(i).op != same {
                trivial = false
                break
            }
        }

        /* nothing to merge */
        if trivial {
            atomic.AddUint64(&TrivialPhiCount, 1)
            st.push(same, typ)
            continue
        }

        /* the innermost level goes to exec */
        def := b.Def()
        if i == num - 1 {
            def = ir.ExecDef(self.lm)
        }

        /* build the phi */
        ops := make([]ir.Operand, len(preds))
        for j, v := range preds {
            ops[j] = self.execOp(self.stack(v).at(i).op)
        }

        /* update statistics */
        atomic.AddUint64(&PhiCount, 1)
        st.push(b.LinearPhi(def, ops...).Result(), typ)
    }

    /* the loop is complete */
    self.loops.Pop()
    self.pin(idx)

    /* copy the phis */
    i := self.copyUntilLogicalStart(bb, b, 0)
    if self.handleWQM {
        self.satisfyNeeds(bb, b)
    }

    /* move the live mask into exec */
    if top := st.top(); self.execOp(top.op).IsTemp() {
        top.op = b.ParallelCopy(ir.ExecDef(self.lm), top.op).Result()
    }
    return i
}

// fillHeaderPhis completes the linear phis created on the loop header.
func (self *Pass) fillHeaderPhis(lp *loopInfo) {
    k := 0
    hdr := self.p.Blocks[lp.header]
    num := lp.numExecMasks

    /* outer masks */
    if lp.hasDiscard {
        for ; k < num - 1; k++ {
            self.fillHeaderPhi(hdr, k, k)
        }
    }

    /* the loop mask, then the restore mask */
    self.fillHeaderPhi(hdr, k, num - 1)
    if lp.hasDivergentBreak {
        self.fillHeaderPhi(hdr, k + 1, num)
    }
}

func (self *Pass) fillHeaderPhi(hdr *ir.Block, k int, level int) {
    if k >= len(hdr.Instructions) || hdr.Instructions[k].Op != ir.P_linear_phi {
        invariant(hdr.Index, "missing exec mask phi #%d on the loop header", k)
    }

    /* one operand per back edge */
    phi := hdr.Instructions[k]
    for i := 1; i < len(phi.Operands); i++ {
        st := self.stack(hdr.LinearPreds[i])
        if level >= st.size() {
            invariant(hdr.Index, "back edge from bb_%d has %d exec masks, %d required", hdr.LinearPreds[i], st.size(), level + 1)
        }
        phi.Operands[i] = self.execOp(st.at(level).op)
    }
}

func (self *Pass) couplingSingle(bb *ir.Block, b *ir.Emitter) int {
    self.info[bb.Index].exec = self.stack(bb.LinearPreds[0]).clone()
    return self.couplingFinish(bb, b)
}

func (self *Pass) couplingMerge(bb *ir.Block, b *ir.Emitter) int {
    idx := bb.Index
    preds := bb.LinearPreds

    /* only loop exits merge more than two paths */
    if len(preds) != 2 {
        invariant(idx, "%d linear predecessors on a non-loop block", len(preds))
    }

    /* levels common to both paths */
    s0 := self.stack(preds[0])
    s1 := self.stack(preds[1])
    num := s0.size()
    if s1.size() < num {
        num = s1.size()
    }

    /* the merge level itself is restored, top-level blocks keep at most two */
    if bb.Kind.Has(ir.KindMerge) {
        num--
    }
    if bb.Kind.Has(ir.KindTopLevel) && num > 2 {
        num = 2
    }

    /* create the phis for the diverged masks */
    st := self.stack(idx)
    st.v = st.v[:0]
    for i := 0; i < num; i++ {
        e0 := s0.at(i)
        e1 := s1.at(i)

        /* skip trivial phis */
        if e0.op == e1.op {
            if e0.op.IsTemp() && e0.typ != e1.typ {
                invariant(idx, "exec mask %s reaches the block with different types", e0.op)
            }
            atomic.AddUint64(&TrivialPhiCount, 1)
            st.push(e0.op, e0.typ & e1.typ)
            continue
        }

        /* the innermost level goes to exec unless it is restored below */
        def := b.Def()
        if i == num - 1 && !bb.Kind.Has(ir.KindMerge) {
            def = ir.ExecDef(self.lm)
        }

        /* update statistics */
        atomic.AddUint64(&PhiCount, 1)
        st.push(b.LinearPhi(def, self.execOp(e0.op), self.execOp(e1.op)).Result(), e0.typ & e1.typ)
    }

    /* the floor is not inherited from either path */
    self.pin(idx)
    return self.couplingFinish(bb, b)
}

func (self *Pass) couplingFinish(bb *ir.Block, b *ir.Emitter) int {
    i := 0
    st := self.stack(bb.Index)

    /* phis stay in front */
    for i < len(bb.Instructions) && (bb.Instructions[i].Op == ir.P_phi || bb.Instructions[i].Op == ir.P_linear_phi) {
        b.Insert(bb.Instructions[i])
        i++
    }

    /* switch to what the block needs */
    if self.handleWQM {
        self.satisfyNeeds(bb, b)
    }

    /* restore the mask saved by the branch */
    if top := st.top(); bb.Kind.Has(ir.KindMerge) && !top.op.IsUndefined() {
        b.ParallelCopy(ir.ExecDef(self.lm), top.op)
        if !top.op.IsConstant() {
            top.op = ir.Undef(self.lm)
        }
    }
    return i
}

// satisfyNeeds drops WQM for good once nothing after a top-level block needs
// it, then switches to the single mode the block needs if any.
func (self *Pass) satisfyNeeds(bb *ir.Block, b *ir.Emitter) {
    idx := bb.Index
    st := self.stack(idx)
    info := &self.info[idx]

    /* WQM is never needed again */
    if bb.Kind.Has(ir.KindTopLevel) && st.size() == 2 {
        if rest := info.blockNeeds | info.everAgain; rest == Unspecified || rest == Exact {
            st.top().typ |= maskGlobal
            self.toExact(b, idx)
            self.handleWQM = false
            self.logw("wqm disabled", "block", idx)
        }
    }

    /* blocks needing a single mode */
    switch info.blockNeeds {
        case WQM   : self.toWQM(b, idx)
        case Exact : self.toExact(b, idx)
    }
}
