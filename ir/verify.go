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
    `fmt`

    `gonum.org/v1/gonum/graph/simple`
    `gonum.org/v1/gonum/graph/topo`
)

// VerifyError occures when a program does not have the shape the exec mask
// pass relies on.
type VerifyError struct {
    Block  int
    Reason string
}

func (self *VerifyError) Error() string {
    return fmt.Sprintf("VerifyError(bb_%d): %s", self.Block, self.Reason)
}

func verifyError(bb int, format string, args ...interface{}) error {
    return &VerifyError {
        Block  : bb,
        Reason : fmt.Sprintf(format, args...),
    }
}

func contains(v []int, x int) bool {
    for _, i := range v {
        if i == x {
            return true
        }
    }
    return false
}

// Verify checks the structural contract between the CFG builder and the exec
// mask pass.
func Verify(p *Program) error {
    if len(p.Blocks) == 0 {
        return verifyError(0, "empty program")
    }

    /* the first block starts the program */
    if ins := p.Blocks[0].Instructions; len(ins) == 0 || ins[0].Op != P_startpgm {
        return verifyError(0, "program does not start with p_startpgm")
    }

    /* the last block must be top-level */
    if last := p.Blocks[len(p.Blocks) - 1]; !last.Kind.Has(KindTopLevel) {
        return verifyError(last.Index, "the last block is not top-level")
    }

    /* check every block */
    for i, bb := range p.Blocks {
        if err := verifyBlock(p, i, bb); err != nil {
            return err
        }
    }

    /* cycles must only be entered through loop headers */
    return verifyLoops(p)
}

func verifyBlock(p *Program, i int, bb *Block) error {
    if bb.Index != i {
        return verifyError(i, "block index mismatch: %d", bb.Index)
    }

    /* edges must be symmetric */
    for _, v := range bb.LinearPreds {
        if v < 0 || v >= len(p.Blocks) || !contains(p.Blocks[v].LinearSuccs, i) {
            return verifyError(i, "linear predecessor bb_%d has no matching successor", v)
        }
    }
    for _, v := range bb.LogicalPreds {
        if v < 0 || v >= len(p.Blocks) || !contains(p.Blocks[v].LogicalSuccs, i) {
            return verifyError(i, "logical predecessor bb_%d has no matching successor", v)
        }
    }

    /* every block but the entry is reachable */
    if i != 0 && len(bb.LinearPreds) == 0 {
        return verifyError(i, "unreachable block")
    }

    /* merges have exactly two linear predecessors */
    if len(bb.LinearPreds) > 2 && !bb.Kind.Has(KindLoopHeader | KindLoopExit) {
        return verifyError(i, "%d linear predecessors on a non-loop block", len(bb.LinearPreds))
    }

    /* loop headers follow their preheader */
    if bb.Kind.Has(KindLoopHeader) {
        if len(bb.LinearPreds) == 0 || bb.LinearPreds[0] != i - 1 || !p.Blocks[i - 1].Kind.Has(KindLoopPreheader) {
            return verifyError(i, "loop header is not preceded by its preheader")
        }
    }

    /* check the terminator */
    term := bb.Terminator()
    if term == nil {
        return verifyError(i, "empty block")
    }
    if i == len(p.Blocks) - 1 {
        if term.Op != S_endpgm {
            return verifyError(i, "the last block does not end with s_endpgm")
        }
    } else if !term.IsBranch() {
        return verifyError(i, "block does not end with a branch")
    } else if term.Op != P_branch && len(bb.LinearSuccs) != 2 {
        return verifyError(i, "conditional branch with %d successors", len(bb.LinearSuccs))
    }

    /* divergent branches end with p_cbranch_z */
    if bb.Kind.Has(KindBranch) && term.Op != P_cbranch_z {
        return verifyError(i, "divergent branch ends with %s", term.Op)
    }

    /* phi operands match the predecessor count */
    for _, ins := range bb.Instructions {
        switch ins.Op {
            case P_phi: {
                if len(ins.Operands) != len(bb.LogicalPreds) {
                    return verifyError(i, "phi with %d operands for %d logical predecessors", len(ins.Operands), len(bb.LogicalPreds))
                }
            }
            case P_linear_phi: {
                if len(ins.Operands) != len(bb.LinearPreds) {
                    return verifyError(i, "linear phi with %d operands for %d linear predecessors", len(ins.Operands), len(bb.LinearPreds))
                }
            }
        }
    }
    return nil
}

func verifyLoops(p *Program) error {
    g := simple.NewDirectedGraph()
    for _, bb := range p.Blocks {
        g.AddNode(simple.Node(bb.Index))
    }

    /* self-edges are not allowed in simple graphs, and never form a multi-block cycle */
    for _, bb := range p.Blocks {
        for _, v := range bb.LinearSuccs {
            if v != bb.Index {
                g.SetEdge(simple.Edge { F: simple.Node(bb.Index), T: simple.Node(v) })
            }
        }
    }

    /* every strongly connected component must be entered through a loop header */
    for _, scc := range topo.TarjanSCC(g) {
        if len(scc) < 2 {
            continue
        }

        /* mark the component */
        nb := 0
        in := make(map[int]bool, len(scc))
        for _, n := range scc {
            in[int(n.ID())] = true
        }

        /* find all the entries */
        for _, n := range scc {
            bb := p.Blocks[n.ID()]
            for _, v := range bb.LinearPreds {
                if !in[v] {
                    if !bb.Kind.Has(KindLoopHeader) {
                        return verifyError(bb.Index, "cycle entered from bb_%d through a non-header block", v)
                    }
                    nb++
                }
            }
        }

        /* a loop has exactly one entry edge */
        if nb != 1 {
            return verifyError(int(scc[0].ID()), "cycle with %d entry edges", nb)
        }
    }
    return nil
}
