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

import (
    `os`
    `strings`
    `testing`

    `github.com/stretchr/testify/require`
)

func TestPrinter_Instruction(t *testing.T) {
    p := NewProgram(Wave64)
    b := NewEmitter(p, nil)
    require.Equal(t, "exec, %1:scc = s_andn2_b64 exec, 0x5", b.AndN2(ExecDef(S2), ExecOperand(S2), Const(5, S2)).String())
    require.Equal(t, "%2, %3:scc, exec = s_and_saveexec_b64 -1, exec", b.AndSaveExec(AllOnes(S2)).String())
    require.Equal(t, "p_cbranch_z exec, bb_3, bb_1", b.Branch(P_cbranch_z, ExecOperand(S2), 3, 1).String())
    require.Equal(t, "p_branch bb_7", b.Jump(7).String())
    require.Equal(t, "%4 = p_linear_phi exec, undef", b.LinearPhi(b.Def(), ExecOperand(S2), Undef(S2)).String())

    /* wave32 widths */
    p = NewProgram(Wave32)
    b = NewEmitter(p, nil)
    require.Equal(t, "%1 = s_ff1_i32_b32 exec", b.Ff1(Def(p.AllocateTemp(S1)), ExecOperand(S1)).String())
    require.Equal(t, "exec, %2:scc = s_wqm_b32 exec", b.Wqm(ExecDef(S1), ExecOperand(S1)).String())

    /* memory flags */
    ins := NewInstruction(BUFFER_store, nil, Use(Temp { ID: 9, RC: V1 }))
    ins.DisableWQM = true
    require.Equal(t, "buffer_store_dword %9 disable_wqm", ins.String())
}

func TestPrinter_Operand(t *testing.T) {
    require.Equal(t, uint64(0xffffffff), AllOnes(S1).Value)
    require.True(t, Const(0xffffffff, S1).IsAllOnes())
    require.False(t, Const(0xffffffff, S2).IsAllOnes())
    require.True(t, Use(Temp { RC: S2 }).IsUndefined())
    require.True(t, ExecDef(S2).Operand().IsUndefined())
    require.True(t, ExecOperand(S1).IsExec())
    require.Equal(t, "undef", Undef(V1).String())
    require.Equal(t, "-1", AllOnes(S2).String())
    require.Equal(t, "v4", V4.String())
    require.Equal(t, VGPR, V2.Type())
    require.Equal(t, uint64(1) << 32 - 1, S1.Bits())
    require.Panics(t, func() { Const(1, S1).Temp() })
}

func TestPrinter_BlockKind(t *testing.T) {
    require.Equal(t, "-", BlockKind(0).String())
    require.Equal(t, "top_level|branch", (KindTopLevel | KindBranch).String())
    require.Equal(t, "loop_exit|uses_demote", (KindUsesDemote | KindLoopExit).String())
}

func TestPrinter_Program(t *testing.T) {
    b := CreateBuilder(Wave64)
    b.If(b.Cond())
    b.Export()
    b.EndIf()
    p := b.Build()
    ss := p.String()
    require.True(t, strings.HasPrefix(ss, "; wave64, needs_wqm = false, needs_exact = true\n"))
    require.Contains(t, ss, "bb_6: ; kind = top_level|merge, depth = 0")
    require.Contains(t, ss, "    ; logical_preds = [1 4], linear_preds = [4 5]")
    require.Contains(t, ss, "    exp")
}

func TestPrinter_Dot(t *testing.T) {
    b := CreateBuilder(Wave64)
    b.If(b.Cond())
    b.Export()
    b.EndIf()
    p := b.Build()
    dot := p.Dot()
    require.True(t, strings.HasPrefix(dot, "digraph CFG {\n"))
    require.True(t, strings.HasSuffix(dot, "\n}"))
    require.Contains(t, dot, "    bb_0 -> bb_1\n")
    require.Contains(t, dot, "    bb_0 -> bb_4 [ style = \"dashed\" ]\n")
    require.Contains(t, dot, "    bb_3 -> bb_5\n")
    for i := range p.Blocks {
        require.Equal(t, 1, strings.Count(dot, "    bb_" + string(rune('0' + i)) + " [ label"))
    }
    if fn := os.Getenv("EXECMASK_CFG_OUT"); fn != "" {
        require.NoError(t, os.WriteFile(fn, []byte(dot), 0644))
    }
}
