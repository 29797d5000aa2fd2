package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkText_LinesThenTables(t *testing.T) {
	lines := &Job{Blocks: []Block{
		{ID: "p", Type: BlockPage},
		{ID: "l1", Type: BlockLine, Text: "Review Report"},
		{ID: "w1", Type: BlockWord, Text: "Review"},
		{ID: "l2", Type: BlockLine, Text: "  Al Noor School  "},
		{ID: "l3", Type: BlockLine, Text: "   "},
	}}
	tables := &Job{Blocks: []Block{
		{ID: "t1", Type: BlockTable, Cells: []Cell{
			{RowIndex: 2, ColumnIndex: 2, Text: "Good"},
			{RowIndex: 1, ColumnIndex: 2, Text: "Judgement"},
			{RowIndex: 1, ColumnIndex: 1, Text: "Aspect"},
			{RowIndex: 2, ColumnIndex: 1, Text: "Teaching"},
		}},
	}}

	got := ChunkText(lines, tables)
	assert.Equal(t, "Review Report Al Noor School Aspect | Judgement\nTeaching | Good", got)
}

func TestChunkText_TablesFromLinesJobWhenNoAnalysis(t *testing.T) {
	lines := &Job{Blocks: []Block{
		{ID: "l1", Type: BlockLine, Text: "Header"},
		{ID: "t1", Type: BlockTable, Cells: []Cell{{RowIndex: 1, ColumnIndex: 1, Text: "only"}}},
	}}
	assert.Equal(t, "Header only", ChunkText(lines, nil))
}

func TestChunkText_Empty(t *testing.T) {
	assert.Equal(t, "", ChunkText(nil, nil))
	assert.Equal(t, "", ChunkText(&Job{}, &Job{}))
}

func TestTableTexts_ResolvesCellRelationships(t *testing.T) {
	blocks := []Block{
		{ID: "t1", Type: BlockTable, Relationships: []Relationship{{Type: "CHILD", IDs: []string{"c2", "c1", "c3", "missing"}}}},
		{ID: "c1", Type: BlockCell, RowIndex: 1, ColumnIndex: 1, Relationships: []Relationship{{Type: "CHILD", IDs: []string{"w1", "w2"}}}},
		{ID: "c2", Type: BlockCell, RowIndex: 1, ColumnIndex: 2, Text: "Outstanding"},
		{ID: "c3", Type: BlockCell, RowIndex: 2, ColumnIndex: 1},
		{ID: "w1", Type: BlockWord, Text: "Overall"},
		{ID: "w2", Type: BlockWord, Text: "effectiveness"},
	}

	got := TableTexts(blocks)
	assert.Equal(t, []string{"Overall effectiveness | Outstanding"}, got)
}

func TestTableTexts_MultipleTablesKeepOrder(t *testing.T) {
	blocks := []Block{
		{ID: "a", Type: BlockTable, Cells: []Cell{{RowIndex: 1, ColumnIndex: 1, Text: "first"}}},
		{ID: "b", Type: BlockTable},
		{ID: "c", Type: BlockTable, Cells: []Cell{{RowIndex: 1, ColumnIndex: 1, Text: "second"}}},
	}
	assert.Equal(t, []string{"first", "second"}, TableTexts(blocks))
}
