package service

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const exportSheetName = "Báo cáo Hoa hồng"

// ExportContentType xlsx 响应类型
const ExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// excelize 内置数字格式 #,##0
const numFmtThousands = 3

type exportColumn struct {
	title string
	width float64
}

var exportColumns = []exportColumn{
	{"Tên Nick", 20},
	{"Nhóm", 15},
	{"MCN", 15},
	{"Tỷ lệ MCN", 15},
	{"Hoa Hồng", 15},
	{"Doanh Thu", 15},
	{"Số Đơn", 10},
}

// ExportReports 导出报表为 xlsx 工作簿，行与 GetReports 的汇总一致（不做阈值过滤与排序）
func (s *ReportService) ExportReports(ctx context.Context, query ReportQuery, viewer Viewer) ([]byte, string, error) {
	rows, err := s.buildRows(ctx, query, viewer)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), exportSheetName); err != nil {
		return nil, "", err
	}

	for i, col := range exportColumns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, "", err
		}
		if err := f.SetCellValue(exportSheetName, name+"1", col.title); err != nil {
			return nil, "", err
		}
		if err := f.SetColWidth(exportSheetName, name, name, col.width); err != nil {
			return nil, "", err
		}
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, "", err
	}
	if err := f.SetRowStyle(exportSheetName, 1, 1, headerStyle); err != nil {
		return nil, "", err
	}

	for i, row := range rows {
		groupName := ungroupedLabel
		if row.Group != nil && row.Group.Name != "" {
			groupName = row.Group.Name
		}
		values := []interface{}{
			row.UserName,
			groupName,
			dashIfEmpty(row.LinkedMcnName),
			dashIfEmpty(formatMcnRate(row.LinkedMcnCommissionRate)),
			row.Commission,
			row.Revenue,
			row.Orders,
		}
		if err := f.SetSheetRow(exportSheetName, fmt.Sprintf("A%d", i+2), &values); err != nil {
			return nil, "", err
		}
	}
	if len(rows) > 0 {
		amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: numFmtThousands})
		if err != nil {
			return nil, "", err
		}
		if err := f.SetCellStyle(exportSheetName, "E2", fmt.Sprintf("F%d", len(rows)+1), amountStyle); err != nil {
			return nil, "", err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("bao_cao_%s_%s.xlsx", query.StartDate, query.EndDate)
	return buf.Bytes(), filename, nil
}
