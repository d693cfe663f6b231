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
    `bytes`
    `context`
    `sync/atomic`
    `testing`

    `github.com/cloudwego/execmask/internal/emu`
    `github.com/cloudwego/execmask/internal/opts`
    `github.com/cloudwego/execmask/ir`
    `github.com/nikandfor/tlog`
    `github.com/stretchr/testify/require`
)

func quads(v uint64) (ret uint64) {
    for i := uint(0); i < 64; i += 4 {
        if v & (0xf << i) != 0 {
            ret |= 0xf << i
        }
    }
    return
}

func runPass(t *testing.T, p *ir.Program) *Pass {
    require.NoError(t, ir.Verify(p))
    self := newPass(context.Background(), p, opts.GetDefaultOptions())
    self.run()
    t.Log(p.String())
    require.NoError(t, ir.Verify(p))
    return self
}

func emulate(t *testing.T, p *ir.Program, exec uint64, inputs map[uint32][]uint64) *emu.Emulator {
    e := emu.Load(p, inputs)
    e.Exec = exec
    require.NoError(t, e.Run())
    return e
}

func TestPass_SingleBlock(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    s := b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x))
    b.Export(s)
    p := b.Build()
    self := runPass(t, p)
    require.Equal(t, 1, self.stack(0).size())
    e := emulate(t, p, 0x61, nil)
    require.Equal(t, uint64(0xff), e.Active(ir.V_interp))
    require.Equal(t, uint64(0xff), e.Active(ir.IMAGE_sample))
    require.Equal(t, uint64(0x61), e.Active(ir.EXP))
    require.False(t, e.Exited)
}

func TestPass_ExactOnly(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave32)
    x := b.Emit(ir.V_interp, ir.V1)
    b.Export(x)
    p := b.Build()
    runPass(t, p)
    for _, ins := range p.Blocks[0].Instructions {
        require.False(t, ins.WritesExec(), "unexpected exec write: %s", ins)
    }
    e := emulate(t, p, 0x5, nil)
    require.Equal(t, uint64(0x5), e.Active(ir.EXP))
}

func TestPass_WQMOnly(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x))
    p := b.Build()
    runPass(t, p)
    require.Equal(t, ir.P_startpgm, p.Blocks[0].Instructions[0].Op)
    require.Equal(t, ir.S_wqm, p.Blocks[0].Instructions[1].Op)
    e := emulate(t, p, 0x10, nil)
    require.Equal(t, uint64(0xf0), e.Active(ir.IMAGE_sample))
}

func TestPass_DivergentIf(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    c := b.Cond(x)
    b.If(c)
    b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x))
    b.EndIf()
    b.Export(x)
    p := b.Build()
    self := runPass(t, p)
    last := len(p.Blocks) - 1
    require.True(t, p.Blocks[last].Kind.Has(ir.KindMerge | ir.KindTopLevel))
    require.False(t, self.handleWQM)
    e := emulate(t, p, 0x0101, map[uint32][]uint64 { c.ID: { 0x00ff } })
    require.Equal(t, uint64(0x0f0f), e.Active(ir.V_interp))
    require.Equal(t, uint64(0x000f), e.Active(ir.IMAGE_sample))
    require.Equal(t, uint64(0x0101), e.Active(ir.EXP))
}

func TestPass_DivergentIfElse(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    c := b.Cond(x)
    b.If(c)
    b.Emit(ir.V_add, ir.V1, x)
    b.Else()
    b.Emit(ir.V_mul, ir.V1, x)
    b.EndIf()
    b.Export(x)
    p := b.Build()
    runPass(t, p)
    e := emulate(t, p, 0xf0, map[uint32][]uint64 { c.ID: { 0x30 } })
    require.Equal(t, uint64(0x30), e.Active(ir.V_add))
    require.Equal(t, uint64(0xc0), e.Active(ir.V_mul))
    require.Equal(t, uint64(0xf0), e.Active(ir.EXP))
}

func TestPass_LoopWithBreak(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    b.Loop()
    c := b.Cond()
    b.If(c)
    b.Break()
    b.EndIf()
    b.Emit(ir.V_add, ir.V1)
    b.EndLoop()
    b.Export()
    p := b.Build()
    self := runPass(t, p)

    /* the header keeps the restore mask below the loop mask, the branch code pushes above it */
    hdr := self.stack(1)
    require.True(t, p.Blocks[1].Kind.Has(ir.KindLoopHeader))
    require.True(t, p.Blocks[1].Kind.Has(ir.KindBranch))
    require.Equal(t, 3, hdr.size())
    require.Zero(t, hdr.at(0).typ & maskLoop)
    require.NotZero(t, hdr.at(1).typ & maskLoop)

    /* the exit is back to the preheader depth */
    last := len(p.Blocks) - 1
    require.True(t, p.Blocks[last].Kind.Has(ir.KindLoopExit))
    require.Equal(t, self.stack(0).size(), self.stack(last).size())
    require.True(t, self.loops.Empty())

    /* run two iterations */
    e := emulate(t, p, 0xf, map[uint32][]uint64 { c.ID: { 0x3, 0xc } })
    require.Equal(t, uint64(0xc), e.Active(ir.V_add))
    require.Equal(t, uint64(0xf), e.Active(ir.EXP))
}

func TestPass_LoopWithContinue(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    b.Loop()
    c := b.Cond()
    b.If(c)
    b.Break()
    b.EndIf()
    d := b.Cond()
    b.If(d)
    b.Continue()
    b.EndIf()
    b.Emit(ir.V_add, ir.V1)
    b.EndLoop()
    b.Export()
    p := b.Build()
    runPass(t, p)
    e := emulate(t, p, 0xf, map[uint32][]uint64 {
        c.ID: { 0x0, 0xf },
        d.ID: { 0x3 },
    })
    require.Equal(t, uint64(0xc), e.Active(ir.V_add))
    require.Equal(t, uint64(0xf), e.Active(ir.EXP))
}

func TestPass_WQMLoop(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    b.Loop()
    c := b.Cond()
    b.If(c)
    b.Break()
    b.EndIf()
    b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x))
    b.EndLoop()
    b.Export(x)
    p := b.Build()
    runPass(t, p)
    e := emulate(t, p, 0x0101, map[uint32][]uint64 { c.ID: { 0x000f, 0x0f00 } })
    require.Equal(t, uint64(0x0f0f), e.Active(ir.V_interp))
    require.Equal(t, uint64(0x0f00), e.Active(ir.IMAGE_sample))
    require.Equal(t, uint64(0x0101), e.Active(ir.EXP))
}

func TestPass_ExactLoopInWQM(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    c := b.Cond(x)
    b.If(c)
    b.Loop()
    d := b.Cond()
    b.If(d)
    b.Break()
    b.EndIf()
    b.Export(x)
    b.EndLoop()
    b.EndIf()
    b.Export(b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x)))
    p := b.Build()
    self := runPass(t, p)
    require.NotZero(t, self.info[0].blockNeeds & ExactBranch)

    /* the loop only ever sees exact lanes */
    e := emulate(t, p, 0x0101, map[uint32][]uint64 {
        c.ID: { 0x0003 },
        d.ID: { 0, ^uint64(0) },
    })
    for _, ev := range e.Events {
        if ev.Op == ir.EXP {
            require.Zero(t, ev.Exec &^ 0x0101, "export in bb_%d ran on helper lanes: %#x", ev.Block, ev.Exec)
        }
    }
    require.Equal(t, uint64(0x0f0f), e.Active(ir.IMAGE_sample))
    require.Equal(t, uint64(0x0101), e.Active(ir.EXP))
}

func TestPass_DiscardIf(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    c := b.Cond(x)
    b.DiscardIf(c)
    b.Export(x)
    p := b.Build()
    runPass(t, p)
    e := emulate(t, p, 0xf, map[uint32][]uint64 { c.ID: { 0x5 } })
    require.False(t, e.Exited)
    require.Equal(t, uint64(0xa), e.Active(ir.EXP))
    e = emulate(t, p, 0xf, map[uint32][]uint64 { c.ID: { 0xf } })
    require.True(t, e.Exited)
    require.Zero(t, e.Active(ir.EXP))
}

func TestPass_DiscardIfPreservesWQM(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    c := b.Cond(x)
    b.DiscardIf(c)
    b.Export(b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x)))
    p := b.Build()
    self := runPass(t, p)
    require.NotZero(t, self.info[0].blockNeeds & PreserveWQM)
    e := emulate(t, p, 0x7, map[uint32][]uint64 { c.ID: { 0x2 } })
    require.Equal(t, uint64(0xd), e.Active(ir.IMAGE_sample))
    require.Equal(t, uint64(0x5), e.Active(ir.EXP))
}

func TestPass_DiscardAll(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    b.Discard()
    b.Export(x)
    p := b.Build()
    self := runPass(t, p)
    for _, v := range self.stack(0).v {
        require.True(t, v.op.ConstantEquals(0), "level %s survived the discard", v)
    }
    e := emulate(t, p, 0xff, nil)
    require.True(t, e.Exited)
    require.Equal(t, uint64(0xff), e.Active(ir.V_interp))
    require.Zero(t, e.Active(ir.EXP))
}

func TestPass_DivergentDiscard(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    c := b.Cond(x)
    b.If(c)
    b.Discard()
    b.EndIf()
    b.Export(x)
    p := b.Build()
    runPass(t, p)
    e := emulate(t, p, 0xf, map[uint32][]uint64 { c.ID: { 0x5 } })
    require.False(t, e.Exited)
    require.Equal(t, uint64(0xa), e.Active(ir.EXP))
    e = emulate(t, p, 0xf, map[uint32][]uint64 { c.ID: { 0xf } })
    require.True(t, e.Exited)
}

func TestPass_Demote(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    c := b.Cond(x)
    b.DemoteIf(c)
    b.Export(b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x)))
    p := b.Build()
    runPass(t, p)
    e := emulate(t, p, 0x7, map[uint32][]uint64 { c.ID: { 0x2 } })
    require.False(t, e.Exited)
    require.Equal(t, uint64(0xf), e.Active(ir.IMAGE_sample))
    require.Equal(t, uint64(0x5), e.Active(ir.EXP))
}

func TestPass_DemoteAll(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    b.Demote()
    b.Export(x)
    p := b.Build()
    runPass(t, p)
    e := emulate(t, p, 0x7, nil)
    require.True(t, e.Exited)
    require.Zero(t, e.Active(ir.EXP))
}

func TestPass_IsHelper(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    h := b.IsHelper()
    b.Export(b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x, h)))
    p := b.Build()
    runPass(t, p)
    e := emulate(t, p, 0x0107, nil)
    require.Equal(t, uint64(0x0e08), e.Vals[h.ID])
    require.Equal(t, uint64(0x0107), e.Active(ir.EXP))
}

func TestPass_IsHelperExact(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    h := b.IsHelper()
    b.Export(h)
    p := b.Build()
    runPass(t, p)
    e := emu.Load(p, nil)
    e.Vals[h.ID] = 0xdead
    e.Exec = 0x3
    require.NoError(t, e.Run())
    require.Zero(t, e.Vals[h.ID])
}

func TestPass_Elect(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    v := b.Elect()
    b.Export(v)
    p := b.Build()
    runPass(t, p)
    e := emulate(t, p, 0xc, nil)
    require.Equal(t, uint64(0x4), e.Vals[v.ID])
}

func TestPass_ElectAllOnes(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    v := b.Elect()
    b.Export(v)
    p := b.Build()
    p.InitExecAllOnes = true
    runPass(t, p)
    require.Equal(t, ir.S_mov, p.Blocks[0].Instructions[1].Op)
    e := emulate(t, p, 0, nil)
    require.Equal(t, uint64(1), e.Vals[v.ID])
    require.Equal(t, ^uint64(0), e.Active(ir.EXP))
}

func indexOf(bb *ir.Block, op ir.OpCode) int {
    for i, ins := range bb.Instructions {
        if ins.Op == op {
            return i
        }
    }
    return -1
}

func countOp(bb *ir.Block, op ir.OpCode) (ret int) {
    for _, ins := range bb.Instructions {
        if ins.Op == op {
            ret++
        }
    }
    return
}

func requireNoExactBranch(t *testing.T, self *Pass) {
    for i, v := range self.info {
        require.Zero(t, v.blockNeeds & ExactBranch, "bb_%d is an exact branch: %s", i, v.blockNeeds)
    }
}

func TestPass_TransitionsInBlock(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    b.EmitExact(ir.BUFFER_store, 0)
    b.WQM(b.Emit(ir.IMAGE_sample, ir.V4))
    b.Export()
    p := b.Build()
    n := atomic.LoadUint64(&TransitionCount)
    runPass(t, p)
    require.Equal(t, uint64(2), atomic.LoadUint64(&TransitionCount) - n)

    /* one switch to WQM and back, the order is kept */
    bb := p.Blocks[0]
    require.Equal(t, 1, countOp(bb, ir.S_wqm))
    require.Less(t, indexOf(bb, ir.BUFFER_store), indexOf(bb, ir.IMAGE_sample))
    require.Less(t, indexOf(bb, ir.IMAGE_sample), indexOf(bb, ir.EXP))
    e := emulate(t, p, 0x0101, nil)
    require.Equal(t, uint64(0x0101), e.Active(ir.BUFFER_store))
    require.Equal(t, uint64(0x0f0f), e.Active(ir.IMAGE_sample))
    require.Equal(t, uint64(0x0101), e.Active(ir.EXP))
}

func buildWQMLoop(discard bool) *ir.Program {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    b.Loop()
    b.If(b.Cond(x))
    b.Break()
    b.EndIf()
    if discard {
        b.DiscardIf(b.Cond(x))
    }
    b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x))
    b.EndLoop()
    b.Export(x)
    return b.Build()
}

func TestPass_HeaderPhis(t *testing.T) {
    p := buildWQMLoop(false)
    runPass(t, p)
    require.True(t, p.Blocks[1].Kind.Has(ir.KindLoopHeader))
    require.Equal(t, 2, countOp(p.Blocks[1], ir.P_linear_phi))
}

func TestPass_HeaderPhisWithDiscard(t *testing.T) {
    p := buildWQMLoop(true)
    runPass(t, p)
    require.True(t, p.Blocks[1].Kind.Has(ir.KindLoopHeader))
    require.Equal(t, 3, countOp(p.Blocks[1], ir.P_linear_phi))
}

func TestPass_WQMLoopInExactLoop(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    c := b.Cond(x)
    b.If(c)
    pre := b.Block().Index
    b.Loop()
    d := b.Cond()
    b.If(d)
    b.Break()
    b.EndIf()
    b.Export(x)
    b.Loop()
    e := b.Cond()
    b.If(e)
    b.Break()
    b.EndIf()
    b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x))
    b.EndLoop()
    b.EndLoop()
    exit := b.Block().Index
    b.EndIf()
    b.Export(x)
    p := b.Build()
    self := runPass(t, p)
    requireNoExactBranch(t, self)

    /* every break of the outer loop branches in WQM */
    for i := pre + 1; i < exit; i++ {
        if p.Blocks[i].Kind.Has(ir.KindBreak) {
            needs := self.info[i].instrNeeds
            require.Equal(t, WQM, needs[len(needs) - 1], "bb_%d", i)
        }
    }

    /* run the outer loop twice */
    r := emulate(t, p, 0x0101, map[uint32][]uint64 {
        c.ID: { 0x0f0f },
        d.ID: { 0, ^uint64(0) },
        e.ID: { 0, ^uint64(0) },
    })
    require.Equal(t, uint64(0x0101), r.Active(ir.EXP))
    require.Zero(t, r.Active(ir.IMAGE_sample) &^ 0x0f0f)
}

func TestPass_ExactLoopBeforeWQMLoop(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    c := b.Cond(x)
    b.If(c)
    b.Loop()
    d := b.Cond()
    b.If(d)
    b.Break()
    b.EndIf()
    b.Export(x)
    b.EndLoop()
    b.Loop()
    e := b.Cond()
    b.If(e)
    b.Break()
    b.EndIf()
    b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x))
    b.EndLoop()
    b.EndIf()
    b.Export(x)
    p := b.Build()
    self := runPass(t, p)
    requireNoExactBranch(t, self)
    r := emulate(t, p, 0x0101, map[uint32][]uint64 {
        c.ID: { 0x0f0f },
        d.ID: { 0, ^uint64(0) },
        e.ID: { 0, ^uint64(0) },
    })
    require.Equal(t, uint64(0x0101), r.Active(ir.EXP))
    require.Zero(t, r.Active(ir.IMAGE_sample) &^ 0x0f0f)
}

func TestPass_ExactBranchTurnsWQM(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    b.If(b.Cond(x))
    pre := b.Block().Index
    b.Loop()
    b.If(b.Cond())
    b.Break()
    b.EndIf()
    b.Export(x)
    b.EndLoop()
    b.EndIf()
    b.Export(b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x)))
    p := b.Build()
    self := newPass(context.Background(), p, opts.GetDefaultOptions())
    ctx := newWQMContext(p)

    /* drains the worklist */
    drain := func() {
        for !ctx.worklist.Empty() {
            self.getBlockNeeds(ctx, p.Blocks[ctx.dequeue()])
        }
    }

    /* the loop alone makes the branch exact */
    drain()
    self.classifyLoops(ctx)
    require.True(t, ctx.worklist.Empty())
    require.NotZero(t, self.info[0].blockNeeds & ExactBranch)
    require.False(t, ctx.branchWQM[pre])

    /* once the branch needs WQM the loop follows it */
    ctx.markBlockWQM(0)
    drain()
    self.classifyLoops(ctx)
    require.Zero(t, self.info[0].blockNeeds & ExactBranch)
    require.True(t, ctx.branchWQM[pre])
    for i, bb := range p.Blocks {
        if bb.Kind.Has(ir.KindBreak) {
            require.True(t, ctx.branchWQM[i], "bb_%d", i)
        }
    }
}

func TestPass_StateDumpInSpan(t *testing.T) {
    var buf bytes.Buffer
    b := ir.CreateBuilder(ir.Wave64)
    x := b.Emit(ir.V_interp, ir.V1)
    b.Export(b.WQM(b.Emit(ir.IMAGE_sample, ir.V4, x)))
    p := b.Build()
    o := opts.GetDefaultOptions()
    o.DumpState = true
    ctx := tlog.ContextWithSpan(context.Background(), tlog.Span { Logger: tlog.New(&buf) })
    Run(ctx, p, o)
    require.NotZero(t, buf.Len())
    require.Contains(t, buf.String(), "exec state")
}

func TestPass_Invariants(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    b.Export()
    p := b.Build()
    p.Blocks[0].Instructions = p.Blocks[0].Instructions[1:]
    require.PanicsWithError(t, "InvariantError(bb_0): program does not start with p_startpgm", func() {
        Run(context.Background(), p, opts.GetDefaultOptions())
    })
}

func TestPass_InvariantMissingBranch(t *testing.T) {
    b := ir.CreateBuilder(ir.Wave64)
    c := b.Cond()
    b.If(c)
    b.Export()
    b.EndIf()
    p := b.Build()
    bb := p.Blocks[0]
    bb.Instructions = bb.Instructions[:len(bb.Instructions) - 1]
    require.PanicsWithError(t, "InvariantError(bb_0): block does not end with a branch", func() {
        Run(context.Background(), p, opts.GetDefaultOptions())
    })
}
