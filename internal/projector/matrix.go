package projector

import (
	"math"

	"loom/internal/model"
)

// 单元格风险分级阈值
const (
	highRiskThreshold   = 80
	mediumRiskThreshold = 50
	leverageThreshold   = 75
)

// 展示投影上限：底层矩阵最大 10×10，展示永远不超过 5×5
const maxAxis = 5

// 缺失单元格的占位值
const (
	placeholderScore      = 50
	placeholderConfidence = 0.5
)

// Risk 单元格风险分级
type Risk string

const (
	RiskHigh   Risk = "high"
	RiskMedium Risk = "medium"
	RiskLow    Risk = "low"
)

// Header 投影表头，来自行/列候选项
type Header struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Summary string `json:"summary,omitempty"`
}

// Cell 投影后的展示单元格
type Cell struct {
	Row         int               `json:"row"`
	Col         int               `json:"col"`
	Score       int               `json:"score"`
	Confidence  float64           `json:"confidence"`
	Dimensions  []model.Dimension `json:"dimensions,omitempty"`
	Risk        Risk              `json:"risk"`
	Leverage    bool              `json:"leverage"`
	Placeholder bool              `json:"placeholder"` // 底层矩阵无此单元格
}

// Metrics 展示投影上的聚合指标（不含未展示的底层单元格）
type Metrics struct {
	Coherence      int `json:"coherence"`       // round(mean(confidence)×100)
	Population     int `json:"population"`      // 非占位且得分非零单元格的百分比
	AverageScore   int `json:"average_score"`   // round(mean(score))
	LeveragePoints int `json:"leverage_points"` // 杠杆点数量
}

// Projection 文档的 5×5 展示投影
type Projection struct {
	DocumentID   string   `json:"document_id"`
	Rows         []Header `json:"rows"`
	Columns      []Header `json:"columns"`
	RowLabels    []string `json:"row_labels"`
	ColumnLabels []string `json:"column_labels"`
	Cells        [][]Cell `json:"cells"` // 行 × 列
	Metrics      Metrics  `json:"metrics"`
}

// Project 计算文档的展示投影与聚合指标
// 选择超过 5 行/列时截断，越界索引跳过
func Project(doc model.Document) Projection {
	md := doc.MatrixData

	rows := clampSelection(md.SelectedRows, len(md.RowOptions))
	cols := clampSelection(md.SelectedColumns, len(md.ColumnOptions))

	p := Projection{
		DocumentID:   doc.ID,
		Rows:         make([]Header, 0, len(rows)),
		Columns:      make([]Header, 0, len(cols)),
		RowLabels:    make([]string, 0, len(rows)),
		ColumnLabels: make([]string, 0, len(cols)),
		Cells:        make([][]Cell, 0, len(rows)),
	}

	for _, r := range rows {
		opt := md.RowOptions[r]
		p.Rows = append(p.Rows, Header{ID: opt.ID, Label: opt.Label, Summary: opt.Summary})
		p.RowLabels = append(p.RowLabels, opt.Label)
	}
	for _, c := range cols {
		opt := md.ColumnOptions[c]
		p.Columns = append(p.Columns, Header{ID: opt.ID, Label: opt.Label, Summary: opt.Summary})
		p.ColumnLabels = append(p.ColumnLabels, opt.Label)
	}

	var (
		confidenceSum float64
		scoreSum      int
		populated     int
		leverage      int
		total         int
	)

	for _, r := range rows {
		line := make([]Cell, 0, len(cols))
		for _, c := range cols {
			cell := projectCell(md, r, c)
			line = append(line, cell)

			total++
			confidenceSum += cell.Confidence
			scoreSum += cell.Score
			if !cell.Placeholder && cell.Score > 0 {
				populated++
			}
			if cell.Leverage {
				leverage++
			}
		}
		p.Cells = append(p.Cells, line)
	}

	if total > 0 {
		p.Metrics = Metrics{
			Coherence:      int(math.Round(confidenceSum / float64(total) * 100)),
			Population:     int(math.Round(float64(populated) / float64(total) * 100)),
			AverageScore:   int(math.Round(float64(scoreSum) / float64(total))),
			LeveragePoints: leverage,
		}
	}

	return p
}

// projectCell 解析单个展示单元格，底层缺失时合成中性占位
func projectCell(md model.MatrixData, row, col int) Cell {
	raw, ok := md.Cells[model.CellKey(row, col)]
	if !ok {
		// 占位单元格不参与风险分级与杠杆判定
		return Cell{
			Row:         row,
			Col:         col,
			Score:       placeholderScore,
			Confidence:  placeholderConfidence,
			Risk:        RiskLow,
			Placeholder: true,
		}
	}

	return Cell{
		Row:        row,
		Col:        col,
		Score:      raw.ImpactScore,
		Confidence: raw.Confidence,
		Dimensions: raw.Dimensions,
		Risk:       classifyRisk(raw.ImpactScore),
		Leverage:   isLeverage(raw),
	}
}

// classifyRisk 按影响分划分风险等级
func classifyRisk(score int) Risk {
	switch {
	case score >= highRiskThreshold:
		return RiskHigh
	case score >= mediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// isLeverage 杠杆点：影响分 ≥75 且至少一个维度 ≥75
func isLeverage(cell model.MatrixCell) bool {
	if cell.ImpactScore < leverageThreshold {
		return false
	}
	for _, d := range cell.Dimensions {
		if d.Score >= leverageThreshold {
			return true
		}
	}
	return false
}

// clampSelection 截断到展示上限并丢弃越界索引
func clampSelection(selected []int, optionCount int) []int {
	out := make([]int, 0, maxAxis)
	for _, idx := range selected {
		if len(out) == maxAxis {
			break
		}
		if idx < 0 || idx >= optionCount {
			continue
		}
		out = append(out, idx)
	}
	return out
}
