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
)

type RegType uint8

const (
    SGPR RegType = iota
    VGPR
)

func (self RegType) String() string {
    switch self {
        case SGPR : return "s"
        case VGPR : return "v"
        default   : return "?"
    }
}

// RegClass packs the register type into the highest bit and the size in
// dwords into the lower bits.
type RegClass uint8

const (
    _VGPRBit = 0x80
    _SizeMask = 0x1f
)

const (
    S1 RegClass = 1
    S2 RegClass = 2
    S4 RegClass = 4
    V1 RegClass = _VGPRBit | 1
    V2 RegClass = _VGPRBit | 2
    V4 RegClass = _VGPRBit | 4
)

func (self RegClass) Type() RegType {
    if self & _VGPRBit != 0 {
        return VGPR
    } else {
        return SGPR
    }
}

func (self RegClass) Size() int {
    return int(self & _SizeMask)
}

// Bits returns the bit mask covering a value of this class, saturated at 64 bits.
func (self RegClass) Bits() uint64 {
    if n := self.Size(); n >= 2 {
        return ^uint64(0)
    } else {
        return uint64(1) << (uint(n) * 32) - 1
    }
}

func (self RegClass) String() string {
    return fmt.Sprintf("%s%d", self.Type(), self.Size())
}

// PhysReg names the few physical registers this IR refers to directly.
type PhysReg uint8

const (
    NoReg PhysReg = iota
    Exec
    SCC
    VCC
)

func (self PhysReg) String() string {
    switch self {
        case Exec : return "exec"
        case SCC  : return "scc"
        case VCC  : return "vcc"
        default   : return "-"
    }
}

// Temp is an SSA value. The zero ID is reserved and never allocated.
type Temp struct {
    ID uint32
    RC RegClass
}

func (self Temp) String() string {
    return fmt.Sprintf("%%%d", self.ID)
}

type OperandKind uint8

const (
    Undefined OperandKind = iota
    TempOperand
    ConstOperand
    FixedOperand
)

// Operand is comparable, two operands referring to the same value compare equal.
type Operand struct {
    Kind  OperandKind
    RC    RegClass
    ID    uint32
    Value uint64
    Reg   PhysReg
}

func Undef(rc RegClass) Operand {
    return Operand { Kind: Undefined, RC: rc }
}

func Use(t Temp) Operand {
    if t.ID == 0 {
        return Undef(t.RC)
    } else {
        return Operand { Kind: TempOperand, RC: t.RC, ID: t.ID }
    }
}

func Const(v uint64, rc RegClass) Operand {
    return Operand { Kind: ConstOperand, RC: rc, Value: v & rc.Bits() }
}

func Zero(rc RegClass) Operand {
    return Const(0, rc)
}

func AllOnes(rc RegClass) Operand {
    return Const(^uint64(0), rc)
}

func Fixed(reg PhysReg, rc RegClass) Operand {
    return Operand { Kind: FixedOperand, RC: rc, Reg: reg }
}

func ExecOperand(lm RegClass) Operand {
    return Fixed(Exec, lm)
}

func (self Operand) IsUndefined() bool { return self.Kind == Undefined }
func (self Operand) IsTemp()      bool { return self.Kind == TempOperand }
func (self Operand) IsConstant()  bool { return self.Kind == ConstOperand }
func (self Operand) IsExec()      bool { return self.Kind == FixedOperand && self.Reg == Exec }

func (self Operand) Temp() Temp {
    if self.Kind != TempOperand {
        panic("ir: operand is not a temp: " + self.String())
    } else {
        return Temp { ID: self.ID, RC: self.RC }
    }
}

func (self Operand) ConstantEquals(v uint64) bool {
    return self.Kind == ConstOperand && self.Value == v & self.RC.Bits()
}

func (self Operand) IsAllOnes() bool {
    return self.ConstantEquals(^uint64(0))
}

func (self Operand) String() string {
    switch self.Kind {
        case Undefined    : return "undef"
        case TempOperand  : return fmt.Sprintf("%%%d", self.ID)
        case FixedOperand : return self.Reg.String()
        default           : break
    }
    if self.IsAllOnes() {
        return "-1"
    } else {
        return fmt.Sprintf("%#x", self.Value)
    }
}

// Definition is a temp optionally pinned to a physical register. A definition
// pinned to exec carries no temp, its value only lives in the register.
type Definition struct {
    T   Temp
    Reg PhysReg
}

func Def(t Temp) Definition {
    return Definition { T: t }
}

func FixedDef(t Temp, reg PhysReg) Definition {
    return Definition { T: t, Reg: reg }
}

func ExecDef(lm RegClass) Definition {
    return Definition { T: Temp { RC: lm }, Reg: Exec }
}

func (self Definition) IsTemp() bool {
    return self.T.ID != 0
}

func (self Definition) IsExec() bool {
    return self.Reg == Exec
}

// Operand returns the operand reading this definition. For a definition of
// exec this is an undefined operand.
func (self Definition) Operand() Operand {
    return Use(self.T)
}

func (self Definition) String() string {
    if !self.IsTemp() {
        return self.Reg.String()
    } else if self.Reg != NoReg {
        return fmt.Sprintf("%s:%s", self.T, self.Reg)
    } else {
        return self.T.String()
    }
}
