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

// toWQM switches exec of block idx to whole quad mode.
func (self *Pass) toWQM(b *ir.Emitter, idx int) {
    st := self.stack(idx)
    top := st.top()

    /* already in WQM */
    if top.typ & maskWQM != 0 {
        return
    }

    /* update statistics */
    atomic.AddUint64(&TransitionCount, 1)
    self.logw("transition", "block", idx, "to", WQM)

    /* the global exact mask is saved, then expanded to whole quads */
    if top.typ & maskGlobal != 0 {
        if top.op.IsUndefined() {
            top.op = b.ParallelCopy(b.Def(), ir.ExecOperand(self.lm)).Result()
        }
        b.Wqm(ir.ExecDef(self.lm), self.execOp(top.op))
        st.push(ir.Undef(self.lm), maskGlobal | maskWQM)
        return
    }

    /* otherwise the WQM mask is right below the current one */
    st.pop(idx)
    top = st.top()
    assert(top.typ & maskWQM != 0, idx, "the level below an exact mask is not in wqm")
    assert(!top.op.IsUndefined(), idx, "the saved wqm mask is undefined")

    /* restore it */
    b.ParallelCopy(ir.ExecDef(self.lm), top.op)
    top.op = ir.Undef(self.lm)
}

// toExact switches exec of block idx to exact mode.
func (self *Pass) toExact(b *ir.Emitter, idx int) {
    st := self.stack(idx)
    top := st.top()

    /* already exact */
    if top.typ & maskExact != 0 {
        return
    }

    /* update statistics */
    atomic.AddUint64(&TransitionCount, 1)
    self.logw("transition", "block", idx, "to", Exact)

    /* loop masks must stay, the stack cannot shrink below the loop depth */
    if top.typ & maskGlobal != 0 && top.typ & maskLoop == 0 {
        st.pop(idx)
        top = st.top()
        assert(top.typ & maskExact != 0, idx, "the level below a global wqm mask is not exact")
        assert(!top.op.IsUndefined(), idx, "the saved exact mask is undefined")
        b.ParallelCopy(ir.ExecDef(self.lm), top.op)
        top.op = ir.Undef(self.lm)
        return
    }

    /* intersect the current mask with the global exact mask */
    wqm := top.op
    exact := st.at(0).op
    assert(!exact.IsUndefined(), idx, "the global exact mask is undefined")

    /* keep the WQM mask for the way back */
    if wqm.IsUndefined() {
        top.op = b.AndSaveExec(exact).Result()
    } else {
        b.And(ir.ExecDef(self.lm), exact, wqm)
    }

    /* the new exact level */
    st.push(ir.Undef(self.lm), maskExact)
}
