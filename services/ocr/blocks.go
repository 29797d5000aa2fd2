package ocr

import (
	"sort"
	"strings"
)

// ColumnSeparator joins cell texts within a table row
const ColumnSeparator = " | "

// ChunkText flattens the two jobs of one chunk into a single string: line
// text in document order followed by every reconstructed table, joined by
// spaces. tablesJob may be nil, in which case tables are read from linesJob.
func ChunkText(linesJob, tablesJob *Job) string {
	var parts []string

	if linesJob != nil {
		if lines := LineText(linesJob.Blocks); lines != "" {
			parts = append(parts, lines)
		}
	}

	tableSource := tablesJob
	if tableSource == nil {
		tableSource = linesJob
	}
	if tableSource != nil {
		parts = append(parts, TableTexts(tableSource.Blocks)...)
	}

	return strings.Join(parts, " ")
}

// LineText joins the trimmed, non-empty LINE blocks with spaces
func LineText(blocks []Block) string {
	var lines []string
	for _, b := range blocks {
		if b.Type != BlockLine {
			continue
		}
		if t := strings.TrimSpace(b.Text); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, " ")
}

// TableTexts rebuilds every TABLE block: cells grouped by row index, sorted
// by column index, joined with ColumnSeparator, rows joined by newlines.
func TableTexts(blocks []Block) []string {
	byID := make(map[string]*Block, len(blocks))
	for i := range blocks {
		byID[blocks[i].ID] = &blocks[i]
	}

	var tables []string
	for i := range blocks {
		if blocks[i].Type != BlockTable {
			continue
		}
		cells := blocks[i].Cells
		if len(cells) == 0 {
			cells = resolveCells(&blocks[i], byID)
		}
		if text := renderTable(cells); text != "" {
			tables = append(tables, text)
		}
	}
	return tables
}

func resolveCells(table *Block, byID map[string]*Block) []Cell {
	var cells []Cell
	for _, id := range childIDs(table) {
		cb, ok := byID[id]
		if !ok || cb.Type != BlockCell {
			continue
		}
		text := strings.TrimSpace(cb.Text)
		if text == "" {
			var words []string
			for _, wid := range childIDs(cb) {
				if wb, ok := byID[wid]; ok && wb.Type == BlockWord && wb.Text != "" {
					words = append(words, wb.Text)
				}
			}
			text = strings.Join(words, " ")
		}
		cells = append(cells, Cell{RowIndex: cb.RowIndex, ColumnIndex: cb.ColumnIndex, Text: text})
	}
	return cells
}

func childIDs(b *Block) []string {
	var ids []string
	for _, rel := range b.Relationships {
		if rel.Type == "CHILD" {
			ids = append(ids, rel.IDs...)
		}
	}
	return ids
}

func renderTable(cells []Cell) string {
	rows := make(map[int][]Cell)
	for _, c := range cells {
		rows[c.RowIndex] = append(rows[c.RowIndex], c)
	}

	indexes := make([]int, 0, len(rows))
	for idx := range rows {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var lines []string
	for _, idx := range indexes {
		row := rows[idx]
		sort.SliceStable(row, func(a, b int) bool { return row[a].ColumnIndex < row[b].ColumnIndex })

		var texts []string
		for _, c := range row {
			if t := strings.TrimSpace(c.Text); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) > 0 {
			lines = append(lines, strings.Join(texts, ColumnSeparator))
		}
	}
	return strings.Join(lines, "\n")
}
