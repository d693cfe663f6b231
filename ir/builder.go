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

type _CFInfo struct {
    divergentIf          bool
    hasBranch            bool
    hasDivergentBranch   bool
    hasDivergentContinue bool
    emptyBreak           bool
    emptyDiscard         bool
    header               int
    exit                 *Block
}

type _IfContext struct {
    divergent            bool
    inElse               bool
    branch               int
    invert               int
    invertBlock          *Block
    endifBlock           *Block
    divergentOld         bool
    thenBranchDivergent  bool
    uniformHasThenBranch bool
}

type _LoopContext struct {
    cf _CFInfo
}

// Builder lays out structured control flow the way instruction selection
// does: every divergent if gets a linear then/else path plus an invert block,
// loops get a preheader and an exit, and jumps out of divergent code get
// helper blocks so no linear edge is critical.
type Builder struct {
    p     *Program
    bb    *Block
    cf    _CFInfo
    ifs   []*_IfContext
    loops []*_LoopContext
    depth int
}

func CreateBuilder(waveSize int) *Builder {
    ret := &Builder {
        p  : NewProgram(waveSize),
        cf : _CFInfo { header: -1 },
    }

    /* the entry block is always top-level */
    ret.bb = ret.insert(&Block { Kind: KindTopLevel })
    ret.bb.Append(NewInstruction(P_startpgm, nil))
    ret.bb.Append(NewInstruction(P_logical_start, nil))
    return ret
}

func (self *Builder) insert(bb *Block) *Block {
    bb.Index = len(self.p.Blocks)
    bb.LoopNestDepth = self.depth
    self.p.Blocks = append(self.p.Blocks, bb)
    return bb
}

func (self *Builder) create() *Block {
    return self.insert(new(Block))
}

func addLogicalEdge(pred int, succ *Block) {
    succ.LogicalPreds = append(succ.LogicalPreds, pred)
}

func addLinearEdge(pred int, succ *Block) {
    succ.LinearPreds = append(succ.LinearPreds, pred)
}

func addEdge(pred int, succ *Block) {
    addLogicalEdge(pred, succ)
    addLinearEdge(pred, succ)
}

func logicalStart(bb *Block) {
    bb.Append(NewInstruction(P_logical_start, nil))
}

func logicalEnd(bb *Block) {
    bb.Append(NewInstruction(P_logical_end, nil))
}

func jump(bb *Block) {
    bb.Append(NewBranch(P_branch))
}

// Program returns the program under construction.
func (self *Builder) Program() *Program {
    return self.p
}

// Block returns the block instructions are currently appended to.
func (self *Builder) Block() *Block {
    return self.bb
}

func (self *Builder) LaneMask() RegClass {
    return self.p.LaneMask()
}

// Append adds a raw instruction to the current block.
func (self *Builder) Append(ins *Instruction) *Instruction {
    if self.cf.hasBranch {
        panic("builder: instruction after an unconditional jump")
    }
    if ins.Op == EXP || ins.DisableWQM {
        self.p.NeedsExact = true
    }
    return self.bb.Append(ins)
}

// Emit appends an instruction defining a new value of class rc, and returns
// the operand referring to it. A zero rc emits an instruction without results.
func (self *Builder) Emit(op OpCode, rc RegClass, ops ...Operand) Operand {
    ins := NewInstruction(op, nil, ops...)
    if rc != 0 {
        ins.Definitions = []Definition { Def(self.p.AllocateTemp(rc)) }
    }
    if self.Append(ins); rc == 0 {
        return Undef(0)
    } else {
        return ins.Result()
    }
}

// EmitExact is like Emit but marks the memory access as never allowed to run
// on helper lanes.
func (self *Builder) EmitExact(op OpCode, rc RegClass, ops ...Operand) Operand {
    if !op.IsMemory() {
        panic("builder: disable_wqm on a non-memory instruction: " + op.String())
    }
    ins := NewInstruction(op, nil, ops...)
    ins.DisableWQM = true
    if rc != 0 {
        ins.Definitions = []Definition { Def(self.p.AllocateTemp(rc)) }
    }
    if self.Append(ins); rc == 0 {
        return Undef(0)
    } else {
        return ins.Result()
    }
}

// Cond emits a vector compare producing a lane mask.
func (self *Builder) Cond(ops ...Operand) Operand {
    return self.Emit(V_cmp, self.p.LaneMask(), ops...)
}

// WQM requires src and everything it depends on to be computed in whole quad mode.
func (self *Builder) WQM(src Operand) Operand {
    self.p.NeedsWQM = true
    return self.Emit(P_wqm, src.RC, src)
}

func (self *Builder) Export(ops ...Operand) {
    self.Emit(EXP, 0, ops...)
}

// Phi inserts a logical phi in front of the current block.
func (self *Builder) Phi(rc RegClass, ops ...Operand) Operand {
    i := 0
    bb := self.bb
    ins := NewInstruction(P_phi, []Definition { Def(self.p.AllocateTemp(rc)) }, ops...)

    /* phis go after the existing ones */
    for i < len(bb.Instructions) && (bb.Instructions[i].Op == P_phi || bb.Instructions[i].Op == P_linear_phi) {
        i++
    }

    /* insert into the instruction list */
    bb.Instructions = append(bb.Instructions, nil)
    copy(bb.Instructions[i + 1:], bb.Instructions[i:])
    bb.Instructions[i] = ins
    return ins.Result()
}

// If opens a divergent if on a lane mask condition.
func (self *Builder) If(cond Operand) {
    bb := self.bb
    logicalEnd(bb)
    bb.Kind |= KindBranch
    bb.Append(NewBranch(P_cbranch_z, cond))

    /* invert blocks are not part of the logical CFG, thus never top-level */
    ic := &_IfContext {
        divergent    : true,
        branch       : bb.Index,
        invertBlock  : &Block { Kind: KindInvert },
        endifBlock   : &Block { Kind: KindMerge | bb.Kind & KindTopLevel },
        divergentOld : self.cf.divergentIf,
    }

    /* logical then block */
    self.cf.divergentIf = true
    self.ifs = append(self.ifs, ic)
    self.bb = self.create()
    addEdge(ic.branch, self.bb)
    logicalStart(self.bb)
}

func (self *Builder) topIf(divergent bool) *_IfContext {
    if n := len(self.ifs); n == 0 {
        panic("builder: no open if")
    } else if ic := self.ifs[n - 1]; ic.divergent != divergent {
        panic("builder: mismatched if kind")
    } else {
        return ic
    }
}

func (self *Builder) popIf() {
    self.ifs = self.ifs[:len(self.ifs) - 1]
}

func (self *Builder) Else() {
    ic := self.topIf(true)
    then := self.bb

    /* only one else per if */
    if ic.inElse {
        panic("builder: duplicated else")
    }

    /* jumps inside divergent code are never uniform */
    if self.cf.hasBranch {
        panic("builder: uniform jump in divergent code")
    }

    /* logical then block branches to the invert block */
    logicalEnd(then)
    jump(then)
    addLinearEdge(then.Index, ic.invertBlock)
    if !self.cf.hasDivergentBranch {
        addLogicalEdge(then.Index, ic.endifBlock)
    }

    /* reset the divergent branch state for the else side */
    then.Kind |= KindUniform
    ic.thenBranchDivergent = self.cf.hasDivergentBranch
    self.cf.hasDivergentBranch = false

    /* linear then block */
    lin := self.create()
    lin.Kind |= KindUniform
    addLinearEdge(ic.branch, lin)
    jump(lin)
    addLinearEdge(lin.Index, ic.invertBlock)

    /* the invert block */
    inv := self.insert(ic.invertBlock)
    ic.invert = inv.Index
    jump(inv)

    /* logical else block */
    ic.inElse = true
    self.bb = self.create()
    addLogicalEdge(ic.branch, self.bb)
    addLinearEdge(ic.invert, self.bb)
    logicalStart(self.bb)
}

func (self *Builder) EndIf() {
    ic := self.topIf(true)

    /* an empty else side still needs its blocks */
    if !ic.inElse {
        self.Else()
    }

    /* jumps inside divergent code are never uniform */
    if self.cf.hasBranch {
        panic("builder: uniform jump in divergent code")
    }

    /* logical else block branches to the merge block */
    els := self.bb
    logicalEnd(els)
    jump(els)
    addLinearEdge(els.Index, ic.endifBlock)
    if !self.cf.hasDivergentBranch {
        addLogicalEdge(els.Index, ic.endifBlock)
    }

    /* restore the control flow state */
    els.Kind |= KindUniform
    self.cf.hasDivergentBranch = self.cf.hasDivergentBranch && ic.thenBranchDivergent
    self.cf.divergentIf = ic.divergentOld

    /* linear else block */
    lin := self.create()
    lin.Kind |= KindUniform
    addLinearEdge(ic.invert, lin)
    jump(lin)
    addLinearEdge(lin.Index, ic.endifBlock)

    /* the merge block */
    self.popIf()
    self.bb = self.insert(ic.endifBlock)
    logicalStart(self.bb)
}

// UniformIf opens an if on a scalar condition that is the same for all lanes.
func (self *Builder) UniformIf(cond Operand) {
    bb := self.bb
    logicalEnd(bb)
    bb.Kind |= KindUniform
    bb.Append(NewBranch(P_cbranch_z, cond))

    /* the merge block inherits the top-level flag */
    ic := &_IfContext {
        branch     : bb.Index,
        endifBlock : &Block { Kind: bb.Kind & KindTopLevel },
    }

    /* then block */
    self.cf.hasBranch = false
    self.cf.hasDivergentBranch = false
    self.ifs = append(self.ifs, ic)
    self.bb = self.create()
    addEdge(ic.branch, self.bb)
    logicalStart(self.bb)
}

func (self *Builder) UniformElse() {
    ic := self.topIf(false)
    then := self.bb

    /* only one else per if */
    if ic.inElse {
        panic("builder: duplicated else")
    }

    /* then block branches to the merge block unless it jumped already */
    ic.inElse = true
    ic.uniformHasThenBranch = self.cf.hasBranch
    ic.thenBranchDivergent = self.cf.hasDivergentBranch

    /* add the edges */
    if !ic.uniformHasThenBranch {
        logicalEnd(then)
        jump(then)
        addLinearEdge(then.Index, ic.endifBlock)
        if !ic.thenBranchDivergent {
            addLogicalEdge(then.Index, ic.endifBlock)
        }
        then.Kind |= KindUniform
    }

    /* else block */
    self.cf.hasBranch = false
    self.cf.hasDivergentBranch = false
    self.bb = self.create()
    addEdge(ic.branch, self.bb)
    logicalStart(self.bb)
}

func (self *Builder) EndUniformIf() {
    ic := self.topIf(false)
    if !ic.inElse {
        self.UniformElse()
    }

    /* else block branches to the merge block unless it jumped already */
    els := self.bb
    if !self.cf.hasBranch {
        logicalEnd(els)
        jump(els)
        addLinearEdge(els.Index, ic.endifBlock)
        if !self.cf.hasDivergentBranch {
            addLogicalEdge(els.Index, ic.endifBlock)
        }
        els.Kind |= KindUniform
    }

    /* both sides jumped away, there is nothing to merge */
    self.popIf()
    self.cf.hasBranch = self.cf.hasBranch && ic.uniformHasThenBranch
    self.cf.hasDivergentBranch = self.cf.hasDivergentBranch && ic.thenBranchDivergent

    /* the merge block */
    if !self.cf.hasBranch {
        self.bb = self.insert(ic.endifBlock)
        logicalStart(self.bb)
    }
}

func (self *Builder) Loop() {
    pre := self.bb
    logicalEnd(pre)
    pre.Kind |= KindLoopPreheader | KindUniform
    jump(pre)

    /* save the outer state */
    lc := &_LoopContext { cf: self.cf }
    exit := &Block { Kind: KindLoopExit | pre.Kind & KindTopLevel }

    /* the loop header */
    self.depth++
    self.bb = self.create()
    self.bb.Kind |= KindLoopHeader
    addEdge(pre.Index, self.bb)
    logicalStart(self.bb)

    /* divergence is relative to the innermost loop */
    self.loops = append(self.loops, lc)
    self.cf = _CFInfo { header: self.bb.Index, exit: exit }
}

func (self *Builder) EndLoop() {
    var lc *_LoopContext
    if n := len(self.loops); n == 0 {
        panic("builder: no open loop")
    } else {
        lc = self.loops[n - 1]
        self.loops = self.loops[:n - 1]
    }

    /* the loop body falls back to the header */
    if !self.cf.hasBranch {
        bb := self.bb
        hdr := self.p.Blocks[self.cf.header]
        logicalEnd(bb)

        /* lanes may have been dropped without a break, leave once exec is empty */
        if self.cf.emptyDiscard || self.cf.emptyBreak {
            bb.Kind |= KindContinueOrBreak | KindUniform

            /* helper blocks avoid critical edges */
            brk := self.create()
            brk.Kind = KindUniform
            jump(brk)
            addLinearEdge(bb.Index, brk)
            addLinearEdge(brk.Index, self.cf.exit)
            cont := self.create()
            cont.Kind = KindUniform
            jump(cont)
            addLinearEdge(bb.Index, cont)
            addLinearEdge(cont.Index, hdr)

            /* logical edge to the header */
            if !self.cf.hasDivergentBranch {
                addLogicalEdge(bb.Index, hdr)
            }
        } else {
            bb.Kind |= KindContinue | KindUniform
            if !self.cf.hasDivergentBranch {
                addEdge(bb.Index, hdr)
            } else {
                addLinearEdge(bb.Index, hdr)
            }
        }

        /* the final jump */
        jump(bb)
    }

    /* discards inside may also empty the enclosing loop */
    inner := self.cf
    self.cf = lc.cf
    self.cf.emptyDiscard = self.cf.emptyDiscard || (inner.emptyDiscard && len(self.loops) != 0)

    /* the loop exit */
    self.depth--
    self.bb = self.insert(inner.exit)
    logicalStart(self.bb)
}

func (self *Builder) loopJump(isBreak bool) {
    bb := self.bb
    if len(self.loops) == 0 {
        panic("builder: jump outside of a loop")
    }

    /* logical edges follow the source construct */
    hdr := self.p.Blocks[self.cf.header]
    logicalEnd(bb)

    /* uniform jumps leave the current block terminated */
    if isBreak {
        addLogicalEdge(bb.Index, self.cf.exit)
        bb.Kind |= KindBreak
        if !self.cf.divergentIf && !self.cf.hasDivergentContinue {
            bb.Kind |= KindUniform
            self.cf.hasBranch = true
            jump(bb)
            addLinearEdge(bb.Index, self.cf.exit)
            return
        }
        self.cf.hasDivergentBranch = true
    } else {
        addLogicalEdge(bb.Index, hdr)
        bb.Kind |= KindContinue
        if !self.cf.divergentIf {
            bb.Kind |= KindUniform
            self.cf.hasBranch = true
            jump(bb)
            addLinearEdge(bb.Index, hdr)
            return
        }
        self.cf.hasDivergentContinue = true
        self.cf.hasDivergentBranch = true
    }

    /* lanes leaving inside a divergent if may empty the loop mask */
    if self.cf.divergentIf {
        self.cf.emptyBreak = true
    }

    /* helper block carrying the jumping lanes */
    jump(bb)
    helper := self.create()
    helper.Kind |= KindUniform
    addLinearEdge(bb.Index, helper)

    /* link to the target */
    if jump(helper); isBreak {
        addLinearEdge(helper.Index, self.cf.exit)
    } else {
        addLinearEdge(helper.Index, hdr)
    }

    /* the remaining lanes continue here */
    self.bb = self.create()
    addLinearEdge(bb.Index, self.bb)
    logicalStart(self.bb)
}

func (self *Builder) Break() {
    self.loopJump(true)
}

func (self *Builder) Continue() {
    self.loopJump(false)
}

func (self *Builder) markDiscard() {
    self.p.NeedsExact = true
    if len(self.loops) != 0 || self.cf.divergentIf {
        self.cf.emptyDiscard = true
    }
}

// Discard kills every lane reaching this point. Inside a uniform loop body it
// also leaves the loop, so nothing may be emitted after it.
func (self *Builder) Discard() {
    bb := self.bb
    self.markDiscard()

    /* uniform discard inside a loop behaves like a break */
    if len(self.loops) != 0 && !self.cf.divergentIf && !self.cf.hasDivergentContinue {
        logicalEnd(bb)
        bb.Kind |= KindDiscard | KindUniform
        self.cf.hasBranch = true
        jump(bb)
        addLinearEdge(bb.Index, self.cf.exit)
        return
    }

    /* every live lane is active outside of loops */
    if !self.cf.divergentIf && len(self.loops) == 0 {
        bb.Kind |= KindUsesDiscardIf
        bb.Append(NewInstruction(P_discard_if, nil, AllOnes(self.p.LaneMask())))
        return
    }

    /* lanes parked by a divergent continue survive, discard the active ones only */
    if !self.cf.divergentIf {
        lm := self.p.LaneMask()
        bb.Kind |= KindUsesDiscardIf
        bb.Append(NewInstruction(P_discard_if, nil, self.Emit(S_and, lm, AllOnes(lm), ExecOperand(lm))))
        return
    }

    /* the branch is added when the if is closed */
    bb.Kind |= KindDiscard
}

// DiscardIf kills the lanes where cond is set.
func (self *Builder) DiscardIf(cond Operand) {
    self.markDiscard()
    self.bb.Kind |= KindUsesDiscardIf
    self.Append(NewInstruction(P_discard_if, nil, cond))
}

// Demote turns every active lane into a helper lane.
func (self *Builder) Demote() {
    self.DemoteIf(AllOnes(self.p.LaneMask()))
}

// DemoteIf turns the lanes where cond is set into helper lanes.
func (self *Builder) DemoteIf(cond Operand) {
    self.markDiscard()
    self.bb.Kind |= KindUsesDemote
    self.Append(NewInstruction(P_demote_to_helper, nil, cond))
}

// IsHelper returns a lane mask of the helper lanes.
func (self *Builder) IsHelper() Operand {
    self.p.NeedsExact = true
    self.bb.Kind |= KindNeedsLowering
    return self.Emit(P_is_helper, self.p.LaneMask())
}

// Elect returns a lane mask with only the first active lane set.
func (self *Builder) Elect() Operand {
    self.bb.Kind |= KindNeedsLowering
    return self.Emit(P_elect, self.p.LaneMask())
}

// Build closes the program and fills in the successor lists.
func (self *Builder) Build() *Program {
    if len(self.ifs) != 0 || len(self.loops) != 0 {
        panic("builder: unterminated control flow")
    }

    /* the program ends in the current block */
    logicalEnd(self.bb)
    self.bb.Append(NewInstruction(S_endpgm, nil))

    /* successors are ordered by block index */
    for _, bb := range self.p.Blocks {
        for _, v := range bb.LinearPreds  { self.p.Blocks[v].LinearSuccs = append(self.p.Blocks[v].LinearSuccs, bb.Index) }
        for _, v := range bb.LogicalPreds { self.p.Blocks[v].LogicalSuccs = append(self.p.Blocks[v].LogicalSuccs, bb.Index) }
    }
    return self.p
}
