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
    `context`
    `sync/atomic`

    `github.com/cloudwego/execmask/internal/opts`
    `github.com/cloudwego/execmask/ir`
    `github.com/nikandfor/tlog`
    `github.com/oleiade/lane`
)

var (
    ProgramCount    uint64
    BlockCount      uint64
    TransitionCount uint64
    PhiCount        uint64
    TrivialPhiCount uint64
    LoweredCount    uint64
)

// Pass holds the state of one exec mask insertion over one program.
type Pass struct {
    p         *ir.Program
    lm        ir.RegClass
    info      []blockInfo
    loops     *lane.Stack
    handleWQM bool
    opts      opts.Options
    tr        tlog.Span
    trace     bool
}

func newPass(ctx context.Context, p *ir.Program, o opts.Options) *Pass {
    tr := tlog.SpanFromContext(ctx)
    return &Pass {
        p     : p,
        lm    : p.LaneMask(),
        info  : make([]blockInfo, len(p.Blocks)),
        loops : lane.NewStack(),
        opts  : o,
        tr    : tr,
        trace : o.TraceTopic != "" && tr.If(o.TraceTopic),
    }
}

// Run makes every block of p maintain the exec mask explicitly. It panics with
// an *InvariantError when the program cannot be lowered.
func Run(ctx context.Context, p *ir.Program, o opts.Options) {
    self := newPass(ctx, p, o)
    self.run()
}

func (self *Pass) run() {
    if len(self.p.Blocks) == 0 {
        return
    }

    /* the analysis is only needed when both modes are used */
    if self.p.NeedsWQM && self.p.NeedsExact {
        self.calculateWQMNeeds()
    }

    /* lower every block in layout order */
    for _, bb := range self.p.Blocks {
        self.processBlock(bb)
    }

    /* all loops must have been closed */
    if !self.loops.Empty() {
        invariant(len(self.p.Blocks) - 1, "%d loops without an exit", self.loops.Size())
    }

    /* update statistics */
    atomic.AddUint64(&ProgramCount, 1)
    atomic.AddUint64(&BlockCount, uint64(len(self.p.Blocks)))
}

func (self *Pass) processBlock(bb *ir.Block) {
    out := make([]*ir.Instruction, 0, len(bb.Instructions))
    b := ir.NewEmitter(self.p, out)

    /* reconcile the exec stack with the predecessors */
    idx := self.addCouplingCode(bb, b)
    if bb.Index == len(self.p.Blocks) - 1 && self.info[bb.Index].exec.size() > 2 {
        invariant(bb.Index, "the last block ends with %d exec masks", self.info[bb.Index].exec.size())
    }

    /* lower the instructions, then the terminator */
    self.processInstructions(bb, b, idx)
    bb.Instructions = b.Out
    self.addBranchCode(bb)

    /* dump the stack if requested */
    if self.opts.DumpState {
        self.dumpBlock(bb)
    }
}

func (self *Pass) stack(idx int) *execStack {
    return &self.info[idx].exec
}

func (self *Pass) loop() *loopInfo {
    if self.loops.Empty() {
        return nil
    } else {
        return self.loops.Head().(*loopInfo)
    }
}

// pin forbids popping levels that belong to the innermost enclosing loop.
func (self *Pass) pin(idx int) {
    if lp := self.loop(); lp == nil {
        self.stack(idx).floor = 0
    } else {
        self.stack(idx).floor = lp.pinned()
    }
}

// execOp returns the operand that reads a mask level, undefined levels live in exec.
func (self *Pass) execOp(op ir.Operand) ir.Operand {
    if op.IsUndefined() {
        return ir.ExecOperand(self.lm)
    } else {
        return op
    }
}

func (self *Pass) logw(msg string, kvs ...interface{}) {
    if self.trace {
        self.tr.Printw(msg, kvs...)
    }
}
