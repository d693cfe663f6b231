/*
 * Copyright 2021 ByteDance Inc.
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

package execmask

import (
    `github.com/cloudwego/execmask/internal/mask`
    `github.com/cloudwego/execmask/ir`
)

// InvariantError occures when the program or the state of the pass violates
// an invariant the lowering relies on. It is wrapped in the returned error.
type InvariantError = mask.InvariantError

// VerifyError occures when validation is enabled and the CFG does not have the
// shape produced by the structured builder.
type VerifyError = ir.VerifyError
