package model

import "fmt"

// MatrixOption 矩阵行/列候选项
type MatrixOption struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Summary string `json:"summary,omitempty"` // 简要说明，用于表头提示
}

// Dimension 单元格维度评分
type Dimension struct {
	Name  string `json:"name"`
	Score int    `json:"score"` // 0-100
}

// MatrixCell 矩阵单元格，稀疏存储
type MatrixCell struct {
	ImpactScore int         `json:"impact_score"` // 0-100
	Confidence  float64     `json:"confidence"`   // 0-1
	Dimensions  []Dimension `json:"dimensions,omitempty"`
}

// MatrixData 文档矩阵数据
// 底层矩阵最大 10×10，展示选择最多 5 行 × 5 列
type MatrixData struct {
	RowOptions      []MatrixOption        `json:"row_options"`
	ColumnOptions   []MatrixOption        `json:"column_options"`
	SelectedRows    []int                 `json:"selected_rows"`
	SelectedColumns []int                 `json:"selected_columns"`
	Cells           map[string]MatrixCell `json:"cells"` // key 为 "行-列"
}

// Document 生成文档，矩阵构件的单个页签
type Document struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	MatrixData  MatrixData `json:"matrix_data"`
}

// CellKey 构造稀疏单元格表的键
func CellKey(row, col int) string {
	return fmt.Sprintf("%d-%d", row, col)
}
