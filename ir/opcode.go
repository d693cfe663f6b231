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

type OpCode uint8

const (
    P_startpgm OpCode = iota
    P_phi
    P_linear_phi
    P_parallelcopy
    P_logical_start
    P_logical_end
    P_create_vector
    P_split_vector
    P_extract_vector
    P_spill
    P_reload
    P_wqm
    P_as_uniform
    P_discard_if
    P_demote_to_helper
    P_is_helper
    P_elect
    P_exit_early_if
    P_branch
    P_cbranch_z
    P_cbranch_nz
    S_mov
    S_and
    S_andn2
    S_and_saveexec
    S_wqm
    S_ff1
    S_lshl
    S_add
    S_load
    S_endpgm
    V_mov
    V_add
    V_mul
    V_cmp
    V_interp
    V_readlane
    V_writelane
    IMAGE_sample
    IMAGE_load
    IMAGE_store
    BUFFER_load
    BUFFER_store
    GLOBAL_load
    GLOBAL_store
    EXP
    _OP_count
)

type Format uint8

const (
    FmtPseudo Format = iota
    FmtBranch
    FmtSALU
    FmtSMEM
    FmtVALU
    FmtMIMG
    FmtMUBUF
    FmtFLAT
    FmtEXP
)

type opInfo struct {
    name  string
    fmt   Format
    wide  bool
}

var opTab = [_OP_count]opInfo {
    P_startpgm         : { name: "p_startpgm"         , fmt: FmtPseudo },
    P_phi              : { name: "p_phi"              , fmt: FmtPseudo },
    P_linear_phi       : { name: "p_linear_phi"       , fmt: FmtPseudo },
    P_parallelcopy     : { name: "p_parallelcopy"     , fmt: FmtPseudo },
    P_logical_start    : { name: "p_logical_start"    , fmt: FmtPseudo },
    P_logical_end      : { name: "p_logical_end"      , fmt: FmtPseudo },
    P_create_vector    : { name: "p_create_vector"    , fmt: FmtPseudo },
    P_split_vector     : { name: "p_split_vector"     , fmt: FmtPseudo },
    P_extract_vector   : { name: "p_extract_vector"   , fmt: FmtPseudo },
    P_spill            : { name: "p_spill"            , fmt: FmtPseudo },
    P_reload           : { name: "p_reload"           , fmt: FmtPseudo },
    P_wqm              : { name: "p_wqm"              , fmt: FmtPseudo },
    P_as_uniform       : { name: "p_as_uniform"       , fmt: FmtPseudo },
    P_discard_if       : { name: "p_discard_if"       , fmt: FmtPseudo },
    P_demote_to_helper : { name: "p_demote_to_helper" , fmt: FmtPseudo },
    P_is_helper        : { name: "p_is_helper"        , fmt: FmtPseudo },
    P_elect            : { name: "p_elect"            , fmt: FmtPseudo },
    P_exit_early_if    : { name: "p_exit_early_if"    , fmt: FmtPseudo },
    P_branch           : { name: "p_branch"           , fmt: FmtBranch },
    P_cbranch_z        : { name: "p_cbranch_z"        , fmt: FmtBranch },
    P_cbranch_nz       : { name: "p_cbranch_nz"       , fmt: FmtBranch },
    S_mov              : { name: "s_mov"              , fmt: FmtSALU, wide: true },
    S_and              : { name: "s_and"              , fmt: FmtSALU, wide: true },
    S_andn2            : { name: "s_andn2"            , fmt: FmtSALU, wide: true },
    S_and_saveexec     : { name: "s_and_saveexec"     , fmt: FmtSALU, wide: true },
    S_wqm              : { name: "s_wqm"              , fmt: FmtSALU, wide: true },
    S_ff1              : { name: "s_ff1_i32"          , fmt: FmtSALU, wide: true },
    S_lshl             : { name: "s_lshl"             , fmt: FmtSALU, wide: true },
    S_add              : { name: "s_add_u32"          , fmt: FmtSALU },
    S_load             : { name: "s_load_dword"       , fmt: FmtSMEM },
    S_endpgm           : { name: "s_endpgm"           , fmt: FmtBranch },
    V_mov              : { name: "v_mov_b32"          , fmt: FmtVALU },
    V_add              : { name: "v_add_f32"          , fmt: FmtVALU },
    V_mul              : { name: "v_mul_f32"          , fmt: FmtVALU },
    V_cmp              : { name: "v_cmp_lt_f32"       , fmt: FmtVALU },
    V_interp           : { name: "v_interp_p1_f32"    , fmt: FmtVALU },
    V_readlane         : { name: "v_readlane_b32"     , fmt: FmtVALU },
    V_writelane        : { name: "v_writelane_b32"    , fmt: FmtVALU },
    IMAGE_sample       : { name: "image_sample"       , fmt: FmtMIMG },
    IMAGE_load         : { name: "image_load"         , fmt: FmtMIMG },
    IMAGE_store        : { name: "image_store"        , fmt: FmtMIMG },
    BUFFER_load        : { name: "buffer_load_dword"  , fmt: FmtMUBUF },
    BUFFER_store       : { name: "buffer_store_dword" , fmt: FmtMUBUF },
    GLOBAL_load        : { name: "global_load_dword"  , fmt: FmtFLAT },
    GLOBAL_store       : { name: "global_store_dword" , fmt: FmtFLAT },
    EXP                : { name: "exp"                , fmt: FmtEXP },
}

func (self OpCode) Format() Format {
    if self >= _OP_count {
        panic(fmt.Sprintf("ir: invalid OpCode: %d", self))
    } else {
        return opTab[self].fmt
    }
}

// IsWide reports whether the instruction has _b32 and _b64 forms selected by
// the lane mask width.
func (self OpCode) IsWide() bool {
    return self < _OP_count && opTab[self].wide
}

func (self OpCode) IsBranch() bool {
    return self == P_branch || self == P_cbranch_z || self == P_cbranch_nz
}

func (self OpCode) IsMemory() bool {
    switch self.Format() {
        case FmtMIMG, FmtMUBUF, FmtFLAT : return true
        default                         : return false
    }
}

func (self OpCode) String() string {
    if self >= _OP_count {
        return fmt.Sprintf("op%d", self)
    } else {
        return opTab[self].name
    }
}
