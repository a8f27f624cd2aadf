package service

import (
	"context"
	"sort"
	"strings"

	"github.com/affdash/internal/models"
	"github.com/affdash/internal/reportcache"

	"github.com/shopspring/decimal"
)

const ungroupedLabel = "Chưa phân nhóm"

// ReportQuery 报表查询条件
type ReportQuery struct {
	StartDate string
	EndDate   string
	GroupID   uint
	ChannelID int64
	// Sort 形如 commission:desc，字段可选 commission|revenue|orders
	Sort      string
	Threshold *float64
}

// GroupBrief 分组摘要
type GroupBrief struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// ReportRow 单账号汇总行
type ReportRow struct {
	AccountID               uint        `json:"account_id"`
	ExternalUserID          int64       `json:"external_user_id"`
	UserName                string      `json:"user_name"`
	Group                   *GroupBrief `json:"group"`
	CookieExpired           bool        `json:"cookie_expired"`
	Commission              int64       `json:"commission"`
	Revenue                 int64       `json:"revenue"`
	Orders                  int         `json:"orders"`
	Channel                 int64       `json:"channel"`
	LinkedMcnName           string      `json:"linked_mcn_name"`
	LinkedMcnCommissionRate string      `json:"linked_mcn_commission_rate"`
}

// ReportQueryParams 回显的查询参数
type ReportQueryParams struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	GroupID   *uint  `json:"group_id"`
	ChannelID int64  `json:"channel_id"`
}

// ReportList 报表查询结果
type ReportList struct {
	Count  int               `json:"count"`
	Rows   []ReportRow       `json:"rows"`
	Params ReportQueryParams `json:"params"`
}

// GetReports 从缓存汇总报表；没有缓存的账号不出现在结果中
func (s *ReportService) GetReports(ctx context.Context, query ReportQuery, viewer Viewer) (*ReportList, error) {
	rows, err := s.buildRows(ctx, query, viewer)
	if err != nil {
		return nil, err
	}
	if query.Threshold != nil {
		rows = applyThreshold(rows, *query.Threshold)
	}
	sortRows(rows, query.Sort)

	params := ReportQueryParams{StartDate: query.StartDate, EndDate: query.EndDate, ChannelID: query.ChannelID}
	if query.GroupID != 0 {
		groupID := query.GroupID
		params.GroupID = &groupID
	}
	return &ReportList{Count: len(rows), Rows: rows, Params: params}, nil
}

func (s *ReportService) buildRows(ctx context.Context, query ReportQuery, viewer Viewer) ([]ReportRow, error) {
	if _, _, err := dayRangeMillis(query.StartDate, query.EndDate, s.location); err != nil {
		return nil, err
	}
	accounts, err := s.scopedAccounts(query.GroupID, viewer)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	rows := make([]ReportRow, 0, len(accounts))
	for i := range accounts {
		record, err := s.cache.Read(ctx, accounts[i].ExternalUserID, query.StartDate, query.EndDate)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		rows = append(rows, summarize(&accounts[i], record, query.ChannelID))
	}
	return rows, nil
}

// summarize 按渠道过滤并汇总单账号缓存，渠道 0 表示全部
func summarize(account *models.Account, record *reportcache.Record, channelID int64) ReportRow {
	row := ReportRow{
		AccountID:      account.ID,
		ExternalUserID: account.ExternalUserID,
		UserName:       account.UserName,
		CookieExpired:  account.CookieExpired,
		Channel:        channelID,
	}
	if account.Group != nil {
		row.Group = &GroupBrief{ID: account.Group.ID, Name: account.Group.Name}
	}
	first := true
	for _, item := range record.Data {
		if channelID != 0 && item.AffChannelID != channelID {
			continue
		}
		if first {
			row.LinkedMcnName = item.LinkedMcnName
			row.LinkedMcnCommissionRate = item.LinkedMcnCommissionRate
			first = false
		}
		row.Commission += item.AffiliateNetCommission
		row.Revenue += item.ActualAmount
		row.Orders++
	}
	return row
}

// applyThreshold 去掉佣金低于阈值的行
func applyThreshold(rows []ReportRow, threshold float64) []ReportRow {
	kept := rows[:0]
	for _, row := range rows {
		if float64(row.Commission) < threshold {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

// sortRows 未知字段保持原有（按昵称）顺序
func sortRows(rows []ReportRow, sortSpec string) {
	field, order, _ := strings.Cut(strings.TrimSpace(sortSpec), ":")
	var key func(ReportRow) int64
	switch field {
	case "commission":
		key = func(r ReportRow) int64 { return r.Commission }
	case "revenue":
		key = func(r ReportRow) int64 { return r.Revenue }
	case "orders":
		key = func(r ReportRow) int64 { return int64(r.Orders) }
	default:
		return
	}
	desc := order == "desc"
	sort.SliceStable(rows, func(i, j int) bool {
		if desc {
			return key(rows[i]) > key(rows[j])
		}
		return key(rows[i]) < key(rows[j])
	})
}

// formatMcnRate 费率以万分比存储，导出为两位小数百分比
func formatMcnRate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	return rate.Div(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func dashIfEmpty(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
