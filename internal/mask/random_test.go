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
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/cloudwego/execmask/ir`
    `github.com/stretchr/testify/require`
)

const (
    _MaxDepth = 3
    _MaxStmts = 3
)

type _ProgramGen struct {
    b      *ir.Builder
    x      ir.Operand
    depth  int
    inputs map[uint32][]uint64
}

func newProgramGen(waveSize int) *_ProgramGen {
    b := ir.CreateBuilder(waveSize)
    return &_ProgramGen {
        b      : b,
        x      : b.Emit(ir.V_interp, ir.V1),
        inputs : make(map[uint32][]uint64),
    }
}

func (self *_ProgramGen) cond(v ...uint64) ir.Operand {
    ret := self.b.Cond(self.x)
    self.inputs[ret.ID] = v
    return ret
}

func (self *_ProgramGen) body() {
    for n := gofakeit.Number(1, _MaxStmts); n > 0; n-- {
        self.stmt()
    }
}

func (self *_ProgramGen) stmt() {
    k := gofakeit.Number(0, 9)
    if self.depth >= _MaxDepth {
        k %= 5
    }

    /* generate the statement */
    switch k {
        case 0: self.b.Emit(ir.V_add, ir.V1, self.x)
        case 1: self.b.WQM(self.b.Emit(ir.IMAGE_sample, ir.V4, self.x))
        case 2: self.b.Export(self.x)
        case 3: self.b.EmitExact(ir.BUFFER_store, 0, self.x)
        case 4: self.b.DemoteIf(self.cond(gofakeit.Uint64() & gofakeit.Uint64()))
        case 5: self.b.DiscardIf(self.cond(gofakeit.Uint64() & gofakeit.Uint64()))
        case 6: self.divergentIf()
        case 7: self.uniformIf()
        case 8: self.loop()
        case 9: self.loop()
    }
}

func (self *_ProgramGen) divergentIf() {
    self.depth++
    self.b.If(self.cond(gofakeit.Uint64()))
    self.body()

    /* the then side may kill all of its lanes */
    if gofakeit.Number(0, 3) == 0 {
        self.b.Discard()
    }

    /* optional else side */
    if gofakeit.Bool() {
        self.b.Else()
        self.body()
    }

    /* close the if */
    self.b.EndIf()
    self.depth--
}

func (self *_ProgramGen) uniformIf() {
    s := self.b.Emit(ir.S_load, ir.S1)
    self.inputs[s.ID] = []uint64 { uint64(gofakeit.Number(0, 1)) }

    /* generate both sides */
    self.depth++
    self.b.UniformIf(s)
    self.body()
    if gofakeit.Bool() {
        self.b.UniformElse()
        self.body()
    }

    /* close the if */
    self.b.EndUniformIf()
    self.depth--
}

func (self *_ProgramGen) loop() {
    self.depth++
    self.b.Loop()

    /* every lane leaves on the second iteration */
    self.b.If(self.cond(gofakeit.Uint64(), ^uint64(0)))
    self.b.Break()
    self.b.EndIf()
    self.body()

    /* lanes may also leave through a discard */
    if gofakeit.Bool() {
        self.b.DiscardIf(self.cond(gofakeit.Uint64() & gofakeit.Uint64()))
    }

    /* optional continue */
    if gofakeit.Bool() {
        self.b.If(self.cond(gofakeit.Uint64()))
        self.b.Continue()
        self.b.EndIf()
        self.body()
    }

    /* close the loop */
    self.b.EndLoop()
    self.depth--
}

func TestPass_RandomPrograms(t *testing.T) {
    for seed := int64(1); seed <= 200; seed++ {
        gofakeit.Seed(seed)
        live := gofakeit.Uint64()
        wave := ir.Wave64

        /* a random structured program */
        if gofakeit.Bool() {
            wave = ir.Wave32
            live &= 0xffffffff
        }
        g := newProgramGen(wave)
        g.body()
        g.b.Export(g.x)
        p := g.b.Build()

        /* lower it */
        self := runPass(t, p)
        require.True(t, self.loops.Empty(), "seed %d", seed)

        /* run it */
        e := emulate(t, p, live, g.inputs)
        for _, ev := range e.Events {
            switch ev.Op {
                case ir.EXP          : fallthrough
                case ir.BUFFER_store : require.Zero(t, ev.Exec &^ live, "seed %d: %s in bb_%d ran on helper lanes", seed, ev.Op, ev.Block)
                default              : require.Zero(t, ev.Exec &^ quads(live), "seed %d: %s in bb_%d ran outside of the quads", seed, ev.Op, ev.Block)
            }
        }
    }
}
