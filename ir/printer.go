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
    `html`
    `strings`

    `github.com/oleiade/lane`
)

func dumpbb(bb *Block) string {
    var w int
    var ins []string

    /* the header line */
    meta := []string {
        fmt.Sprintf("bb_%d", bb.Index),
        fmt.Sprintf("# kind = %s", bb.Kind),
        fmt.Sprintf("# depth = %d", bb.LoopNestDepth),
    }

    /* instructions */
    for _, v := range bb.Instructions {
        ins = append(ins, v.String())
    }

    /* measure the table */
    for _, ss := range append(meta, ins...) {
        if len(ss) > w {
            w = len(ss)
        }
    }

    /* build the table */
    buf := []string {
        "<table border=\"1\" cellborder=\"0\" cellspacing=\"0\">\n",
        fmt.Sprintf("<tr><td width=\"%d\">%s</td></tr>\n", w * 10 + 5, meta[0]),
        "<hr/>\n",
    }
    for _, ss := range meta[1:] {
        buf = append(buf, fmt.Sprintf("<tr><td align=\"left\">%s</td></tr>\n", ss))
    }
    if len(ins) != 0 {
        buf = append(buf, "<hr/>\n")
    }
    for _, ss := range ins {
        vv := strings.ReplaceAll(html.EscapeString(ss), " ", "&nbsp;")
        buf = append(buf, fmt.Sprintf("<tr><td align=\"left\">%s</td></tr>\n", vv))
    }
    buf = append(buf, "</table>")
    return strings.Join(buf, "")
}

// Dot renders the linear CFG in Graphviz format, logical-only edges are dashed.
func (self *Program) Dot() string {
    q := lane.NewQueue()
    n := make(map[int]bool)
    buf := []string {
        "digraph CFG {",
        `    xdotversion = "15"`,
        `    graph [ fontname = "Fira Code" ]`,
        `    node [ fontname = "Fira Code" fontsize="16" shape = "plaintext" ]`,
        `    edge [ fontname = "Fira Code" ]`,
    }

    /* nothing to render */
    if len(self.Blocks) == 0 {
        return strings.Join(append(buf, "}"), "\n")
    }

    /* breadth-first from the entry block */
    n[0] = true
    for q.Enqueue(self.Blocks[0]); !q.Empty(); {
        p := q.Dequeue().(*Block)
        buf = append(buf, fmt.Sprintf(`    bb_%d [ label = < %s > ]`, p.Index, dumpbb(p)))

        /* linear edges */
        for _, v := range p.LinearSuccs {
            buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d`, p.Index, v))
            if !n[v] {
                n[v] = true
                q.Enqueue(self.Blocks[v])
            }
        }

        /* logical edges without a linear counterpart */
        for _, v := range p.LogicalSuccs {
            if !contains(p.LinearSuccs, v) {
                buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d [ style = "dashed" ]`, p.Index, v))
            }
        }
    }

    /* end of graph */
    buf = append(buf, "}")
    return strings.Join(buf, "\n")
}
