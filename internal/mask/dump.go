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
    `github.com/cloudwego/execmask/ir`
    `github.com/davecgh/go-spew/spew`
    `github.com/nikandfor/tlog`
)

var dumpConfig = spew.ConfigState {
    Indent                  : "    ",
    DisablePointerAddresses : true,
    DisableCapacities       : true,
    SortKeys                : true,
}

// dumpBlock logs the exec state of bb to the pass span, or to the default
// logger when the pass is not traced.
func (self *Pass) dumpBlock(bb *ir.Block) {
    info := &self.info[bb.Index]
    kvs := []interface{} {
        "block"      , bb.Index,
        "kind"       , bb.Kind.String(),
        "needs"      , info.blockNeeds.String(),
        "ever_again" , info.everAgain.String(),
        "handle_wqm" , self.handleWQM,
        "exec"       , dumpConfig.Sdump(info.exec.v),
    }

    /* keep the dump within the trace */
    if self.tr.Logger != nil {
        self.tr.Printw("exec state", kvs...)
    } else {
        tlog.Printw("exec state", kvs...)
    }
}
