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

// Package execmask makes the active lane mask of a GPU program explicit.
//
// Shader programs run in waves of 32 or 64 lanes sharing one instruction
// stream. Which lanes execute is decided by the exec register, and keeping it
// correct through divergent branches, loops, discards and demotes is the job
// of Insert. Derivative computations also need whole quad mode (WQM), where
// helper lanes run next to the real ones. Insert switches between WQM and
// exact mode wherever the instructions need it.
package execmask

import (
    `context`

    `github.com/cloudwego/execmask/internal/mask`
    `github.com/cloudwego/execmask/internal/opts`
    `github.com/cloudwego/execmask/ir`
    `github.com/nikandfor/errors`
    `github.com/nikandfor/tlog`
)

// Insert rewrites every block of p so that the exec register is maintained
// explicitly. The program is modified in place, and must not be used if an
// error is returned.
func Insert(p *ir.Program, options ...Option) error {
    return InsertContext(context.Background(), p, options...)
}

// InsertContext is like Insert, tracing to the tlog span carried by ctx.
func InsertContext(ctx context.Context, p *ir.Program, options ...Option) (err error) {
    o := opts.GetDefaultOptions()
    for _, fn := range options {
        fn(&o)
    }

    /* trace the whole pass */
    tr := tlog.SpawnFromContext(ctx, "insert exec mask", "blocks", len(p.Blocks), "wave", p.WaveSize)
    ctx = tlog.ContextWithSpan(ctx, tr)
    defer tr.Finish("err", &err)

    /* programs built by hand may leave the wave size out */
    p.WaveSize = o.LaneCount(p.WaveSize)
    if p.WaveSize != ir.Wave32 && p.WaveSize != ir.Wave64 {
        return errors.New("invalid wave size: %d", p.WaveSize)
    }

    /* check the CFG shape first if requested */
    if o.Validate {
        if err = ir.Verify(p); err != nil {
            return errors.Wrap(err, "verify")
        }
    }

    /* invariant violations are reported as errors */
    defer func() {
        if v := recover(); v != nil {
            if e, ok := v.(*mask.InvariantError); ok {
                err = errors.Wrap(e, "insert exec mask")
            } else {
                panic(v)
            }
        }
    }()

    /* run the pass */
    mask.Run(ctx, p, o)
    return nil
}
