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

// handleWQMLoops makes every break of the outermost loop starting after
// preheader branch in WQM.
func (self *Pass) handleWQMLoops(ctx *wqmContext, preheader int) {
    for i := preheader + 1; i < len(self.p.Blocks); i++ {
        bb := self.p.Blocks[i]
        if bb.Kind.Has(ir.KindBreak) {
            ctx.markBlockWQM(i)
        }
        if bb.Kind.Has(ir.KindLoopExit) && bb.LoopNestDepth == 0 {
            break
        }
    }
}

// handleExactLoops finds the divergent branch enclosing a loop that runs in
// exact mode, and asks for that branch to be taken in exact mode too. Exec can
// never become empty in a top-level loop, so those are left alone.
func (self *Pass) handleExactLoops(ctx *wqmContext, preheader int) {
    i := preheader
    depth := 0

    /* the loop header follows the preheader */
    if !self.p.Blocks[preheader + 1].Kind.Has(ir.KindLoopHeader) {
        invariant(preheader, "loop preheader is not followed by a loop header")
    }

    /* find the innermost enclosing divergent branch */
    for ; i >= 0; i-- {
        bb := self.p.Blocks[i]
        if bb.Kind.Has(ir.KindBranch) {
            if depth == 0 {
                break
            } else {
                depth--
            }
        }
        if bb.Kind.Has(ir.KindTopLevel) {
            return
        }
        if bb.Kind.Has(ir.KindMerge) {
            depth++
        }
    }

    /* a non-top-level loop always has an enclosing branch */
    if i < 0 {
        invariant(preheader, "no enclosing branch for a nested loop")
    }

    /* the branch is shared with WQM code, so keep the loop in WQM instead */
    if ctx.branchWQM[i] {
        self.handleWQMLoops(ctx, preheader)
    } else {
        self.info[i].blockNeeds |= ExactBranch
    }
}

// collectLoop summarizes the loop following a preheader block.
func (self *Pass) collectLoop(idx int) *loopInfo {
    bb := self.p.Blocks[idx]
    depth := self.p.Blocks[idx + 1].LoopNestDepth
    ret := &loopInfo { header: bb.LinearSuccs[0] }

    /* scan the loop body */
    for i := idx + 1; self.p.Blocks[i].LoopNestDepth >= depth; i++ {
        lb := self.p.Blocks[i]
        ret.needs |= self.info[i].blockNeeds

        /* discards anywhere inside, including nested loops */
        if lb.Kind.Has(ir.KindUsesDiscardIf | ir.KindDiscard | ir.KindUsesDemote) {
            ret.hasDiscard = true
        }

        /* divergent jumps of this loop only */
        if lb.LoopNestDepth != depth || lb.Kind.Has(ir.KindUniform) {
            continue
        }
        if lb.Kind.Has(ir.KindBreak) {
            ret.hasDivergentBreak = true
        } else if lb.Kind.Has(ir.KindContinue) {
            ret.hasDivergentContinue = true
        }
    }
    return ret
}
