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
    `fmt`
)

// InvariantError occures when the pass finds its input or its own state in a
// shape it cannot lower correctly. The program must not be used afterwards.
type InvariantError struct {
    Block  int
    Reason string
}

func (self *InvariantError) Error() string {
    return fmt.Sprintf("InvariantError(bb_%d): %s", self.Block, self.Reason)
}

func invariant(bb int, format string, args ...interface{}) {
    panic(&InvariantError {
        Block  : bb,
        Reason : fmt.Sprintf(format, args...),
    })
}

func assert(ok bool, bb int, reason string) {
    if !ok {
        invariant(bb, "%s", reason)
    }
}
