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
    `github.com/oleiade/lane`
)

// wqmContext is the state of the backward WQM need propagation. Blocks are
// processed highest index first, a block is queued at most once at a time.
type wqmContext struct {
    p         *ir.Program
    worklist  *lane.PQueue
    queued    []bool
    definedIn []int
    needsWQM  []bool
    branchWQM []bool
}

func newWQMContext(p *ir.Program) *wqmContext {
    nt := p.TempCount()
    nb := len(p.Blocks)

    /* create the context */
    ret := &wqmContext {
        p         : p,
        worklist  : lane.NewPQueue(lane.MAXPQ),
        queued    : make([]bool, nb),
        definedIn : make([]int, nt),
        needsWQM  : make([]bool, nt),
        branchWQM : make([]bool, nb),
    }

    /* nothing is defined yet */
    for i := range ret.definedIn {
        ret.definedIn[i] = -1
    }

    /* every block is visited at least once */
    for i := 0; i < nb; i++ {
        ret.enqueue(i)
    }
    return ret
}

func (self *wqmContext) enqueue(idx int) {
    if !self.queued[idx] {
        self.queued[idx] = true
        self.worklist.Push(idx, idx)
    }
}

func (self *wqmContext) dequeue() int {
    v, _ := self.worklist.Pop()
    idx := v.(int)
    self.queued[idx] = false
    return idx
}

func (self *wqmContext) setNeedsWQM(t ir.Temp) {
    if !self.needsWQM[t.ID] {
        self.needsWQM[t.ID] = true
        if bb := self.definedIn[t.ID]; bb >= 0 {
            self.enqueue(bb)
        }
    }
}

// markBlockWQM requires the branch at the end of a block and every logical
// predecessor up to the nearest top-level block to run in WQM. Stopping at
// top-level blocks over-approximates, all branches in between become WQM.
func (self *wqmContext) markBlockWQM(idx int) {
    st := lane.NewStack()
    st.Push(idx)

    /* walk the logical predecessors */
    for !st.Empty() {
        i := st.Pop().(int)
        if self.branchWQM[i] {
            continue
        }

        /* mark the block and revisit it */
        bb := self.p.Blocks[i]
        self.branchWQM[i] = true
        self.enqueue(i)

        /* stop at top-level blocks */
        if !bb.Kind.Has(ir.KindTopLevel) {
            for _, v := range bb.LogicalPreds {
                st.Push(v)
            }
        }
    }
}

// needsExact reports whether an instruction must never run on helper lanes.
func needsExact(ins *ir.Instruction) bool {
    switch ins.Op.Format() {
        case ir.FmtMIMG  : fallthrough
        case ir.FmtMUBUF : fallthrough
        case ir.FmtFLAT  : return ins.DisableWQM
        case ir.FmtEXP   : return true
        default          : return false
    }
}

// needsExecMask reports whether the result of an instruction depends on the
// set of active lanes.
func needsExecMask(ins *ir.Instruction) bool {
    switch ins.Op.Format() {
        case ir.FmtVALU   : return ins.Op != ir.V_readlane && ins.Op != ir.V_writelane
        case ir.FmtMIMG   : return true
        case ir.FmtMUBUF  : return true
        case ir.FmtFLAT   : return true
        case ir.FmtSALU   : return ins.ReadsExec()
        case ir.FmtSMEM   : return ins.ReadsExec()
        case ir.FmtBranch : return ins.ReadsExec()
        case ir.FmtPseudo : break
        default           : return true
    }

    /* pseudo instructions */
    switch ins.Op {
        case ir.P_create_vector  : fallthrough
        case ir.P_extract_vector : fallthrough
        case ir.P_split_vector   : fallthrough
        case ir.P_phi            : fallthrough
        case ir.P_parallelcopy   : return definesVGPR(ins) || ins.ReadsExec()
        case ir.P_spill          : fallthrough
        case ir.P_reload         : fallthrough
        case ir.P_logical_start  : fallthrough
        case ir.P_logical_end    : fallthrough
        case ir.P_startpgm       : return ins.ReadsExec()
        default                  : return true
    }
}

func definesVGPR(ins *ir.Instruction) bool {
    for _, v := range ins.Definitions {
        if v.IsTemp() && v.T.RC.Type() == ir.VGPR {
            return true
        }
    }
    return false
}

func (self *Pass) getBlockNeeds(ctx *wqmContext, bb *ir.Block) {
    info := &self.info[bb.Index]
    needs := make([]WQMState, len(bb.Instructions))

    /* scan backwards, uses are seen before definitions */
    for i := len(bb.Instructions) - 1; i >= 0; i-- {
        ins := bb.Instructions[i]
        need := Unspecified
        predicated := needsExecMask(ins)
        preserve := ins.Op == ir.P_discard_if
        propagate := ins.Op == ir.P_wqm || ins.Op == ir.P_as_uniform

        /* memory accesses that must not see helper lanes */
        if needsExact(ins) {
            need = Exact
        }

        /* values consumed in WQM must be computed in WQM */
        for _, def := range ins.Definitions {
            if def.IsTemp() {
                ctx.definedIn[def.T.ID] = bb.Index
                if need == Unspecified && ctx.needsWQM[def.T.ID] {
                    propagate = true
                    if predicated {
                        need = WQM
                    }
                }
            }
        }

        /* branches whose condition must be computed in WQM */
        if ins.IsBranch() && ctx.branchWQM[bb.Index] {
            need = WQM
            propagate = true
        }

        /* propagate to the operands, or keep the helper lanes alive */
        if propagate {
            for _, op := range ins.Operands {
                if op.IsTemp() {
                    ctx.setNeedsWQM(op.Temp())
                }
            }
        } else if preserve && info.blockNeeds & WQM != 0 {
            need = PreserveWQM
        }

        /* the control flow selecting a WQM phi operand must be in WQM too */
        if need == WQM && ins.Op == ir.P_phi {
            for _, v := range bb.LogicalPreds {
                ctx.markBlockWQM(v)
                self.info[v].logicalEndWQM = true
                ctx.enqueue(v)
            }
        }

        /* explicit WQM requests */
        if (ins.Op == ir.P_logical_end && info.logicalEndWQM) || ins.Op == ir.P_wqm {
            if need == Exact {
                invariant(bb.Index, "%s needs both exact and wqm", ins)
            }
            need = WQM
        }

        /* record the result */
        needs[i] = need
        info.blockNeeds |= need
    }

    /* the condition of the enclosing branch must be in WQM as well */
    info.instrNeeds = needs
    if info.blockNeeds & WQM != 0 && !bb.Kind.Has(ir.KindTopLevel) {
        for _, v := range bb.LogicalPreds {
            ctx.markBlockWQM(v)
        }
    }
}

func (self *Pass) calculateWQMNeeds() {
    ctx := newWQMContext(self.p)
    last := len(self.p.Blocks) - 1

    /* propagate until the fixed point, loops are classified on the final needs */
    for {
        for !ctx.worklist.Empty() {
            self.getBlockNeeds(ctx, self.p.Blocks[ctx.dequeue()])
        }
        if self.classifyLoops(ctx); ctx.worklist.Empty() {
            break
        }
    }

    /* accumulate what is needed after each block */
    var again WQMState
    for i := last; i >= 0; i-- {
        bb := self.p.Blocks[i]
        info := &self.info[i]
        info.everAgain = again

        /* lowering uses the exact mask */
        if bb.Kind.Has(ir.KindNeedsLowering) {
            info.blockNeeds |= Exact
        }

        /* discards in nested control flow keep the WQM mask alive */
        if bb.Kind.Has(ir.KindDiscard | ir.KindUsesDiscardIf) && again & WQM != 0 {
            info.blockNeeds |= PreserveWQM
        }

        /* update the accumulated needs */
        again |= info.blockNeeds &^ ExactBranch
        if bb.Kind.Has(ir.KindDiscard | ir.KindUsesDiscardIf | ir.KindUsesDemote) {
            again |= Exact
        }

        /* preservation stops at the next top-level block */
        if bb.Kind.Has(ir.KindTopLevel) {
            again &^= PreserveWQM
        } else {
            info.blockNeeds &^= PreserveWQM
        }
    }

    /* mode switches are now driven by the analysis */
    self.handleWQM = true
    self.logw("wqm needs", "blocks", len(self.p.Blocks))
}

// classifyLoops decides the mode of every outermost loop, last loop first. A
// WQM loop can turn an enclosing branch WQM, which moves the earlier loops of
// that branch to WQM as well.
func (self *Pass) classifyLoops(ctx *wqmContext) {
    for i := range self.info {
        self.info[i].blockNeeds &^= ExactBranch
    }

    /* exact branches are recomputed on every round */
    for i := len(self.p.Blocks) - 1; i >= 0; i-- {
        if pre := self.p.Blocks[i]; !pre.Kind.Has(ir.KindLoopPreheader) || pre.LoopNestDepth != 0 {
            continue
        } else if ctx.branchWQM[i] {
            self.handleWQMLoops(ctx, i)
        } else {
            self.handleExactLoops(ctx, i)
        }
    }
}
