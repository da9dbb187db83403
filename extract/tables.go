package extract

import (
	"context"
	"sort"
	"strings"

	"github.com/docpipe/docscan/pdf"
)

// Table is a detected grid of aligned text.
type Table struct {
	PageNo int
	Rows   [][]string
	Cols   int
	BBox   [4]float64 // the page box
}

// columnTolerance is how far apart two word start positions may sit, in
// points, and still count as the same column.
const columnTolerance = 3.0

// Tables runs the aligned-column heuristic over page i (0-based): two or
// more consecutive lines sharing at least two column start positions form a
// table block.
func Tables(ctx context.Context, doc *pdf.Document, i int) ([]Table, error) {
	page := doc.Page(i)
	if page == nil {
		return nil, nil
	}
	words, err := PageWords(ctx, doc, i)
	if err != nil {
		return nil, err
	}
	lines := groupLines(words)

	bbox := [4]float64{page.MediaBox.X0, page.MediaBox.Y0, page.MediaBox.X1, page.MediaBox.Y1}

	var tables []Table
	blockStart := -1
	flush := func(end int) {
		if blockStart >= 0 && end-blockStart >= 2 {
			if tb, ok := buildTable(lines[blockStart:end], i+1, bbox); ok {
				tables = append(tables, tb)
			}
		}
		blockStart = -1
	}
	for li := 0; li < len(lines); li++ {
		if li == 0 || !sharesColumns(lines[li-1], lines[li]) {
			flush(li)
			blockStart = li
			continue
		}
	}
	flush(len(lines))
	return tables, nil
}

// sharesColumns reports whether two lines have at least two aligned word
// starts and each carries more than one word.
func sharesColumns(a, b line) bool {
	if len(a.words) < 2 || len(b.words) < 2 {
		return false
	}
	shared := 0
	for _, wa := range a.words {
		for _, wb := range b.words {
			d := wa.X - wb.X
			if d < 0 {
				d = -d
			}
			if d <= columnTolerance {
				shared++
				break
			}
		}
	}
	return shared >= 2
}

// buildTable clusters the block's word starts into columns and assigns each
// word to its nearest column.
func buildTable(block []line, pageNo int, bbox [4]float64) (Table, bool) {
	var starts []float64
	for _, ln := range block {
		for _, w := range ln.words {
			starts = append(starts, w.X)
		}
	}
	cols := clusterStarts(starts)
	if len(cols) < 2 {
		return Table{}, false
	}

	var rows [][]string
	for _, ln := range block {
		cells := make([]string, len(cols))
		for _, w := range ln.words {
			ci := nearestColumn(cols, w.X)
			if cells[ci] != "" {
				cells[ci] += " "
			}
			cells[ci] += w.Text
		}
		empty := true
		for ci := range cells {
			cells[ci] = strings.TrimSpace(cells[ci])
			if cells[ci] != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, cells)
		}
	}
	if len(rows) < 2 {
		return Table{}, false
	}
	return Table{PageNo: pageNo, Rows: rows, Cols: len(rows[0]), BBox: bbox}, true
}

// clusterStarts merges sorted start positions that sit within tolerance of a
// running cluster into single column positions.
func clusterStarts(starts []float64) []float64 {
	if len(starts) == 0 {
		return nil
	}
	sort.Float64s(starts)
	var cols []float64
	clusterStart := starts[0]
	sum, n := starts[0], 1
	for _, x := range starts[1:] {
		if x-clusterStart <= columnTolerance {
			sum += x
			n++
			continue
		}
		cols = append(cols, sum/float64(n))
		clusterStart = x
		sum, n = x, 1
	}
	cols = append(cols, sum/float64(n))
	return cols
}

func nearestColumn(cols []float64, x float64) int {
	best, bestD := 0, -1.0
	for i, c := range cols {
		d := x - c
		if d < 0 {
			d = -d
		}
		if bestD < 0 || d < bestD {
			best, bestD = i, d
		}
	}
	return best
}
