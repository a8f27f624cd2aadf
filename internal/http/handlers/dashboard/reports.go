package dashboard

import (
	"strconv"
	"strings"

	"github.com/affdash/internal/http/response"
	"github.com/affdash/internal/service"

	"github.com/gin-gonic/gin"
)

// FetchReportsRequest 批量抓取请求
type FetchReportsRequest struct {
	StartDate  string `json:"start_date" binding:"required"`
	EndDate    string `json:"end_date" binding:"required"`
	AccountIDs []uint `json:"account_ids"`
	GroupID    uint   `json:"group_id"`
	ChannelID  int64  `json:"channel_id"`
}

// ConversionRequest 实时转化数据请求
type ConversionRequest struct {
	AccountID uint   `json:"account_id" binding:"required"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
	ChannelID int64  `json:"channel_id"`
}

// SettlementRequest 结算账单请求
type SettlementRequest struct {
	AccountID uint   `json:"account_id" binding:"required"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// SettlementPeriodsRequest 多周期结算请求
type SettlementPeriodsRequest struct {
	AccountID uint                       `json:"account_id" binding:"required"`
	Periods   []service.SettlementPeriod `json:"periods"`
}

// GetReports 汇总报表
func (h *Handler) GetReports(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	query, ok := parseReportQuery(c)
	if !ok {
		return
	}
	list, err := h.ReportService.GetReports(c.Request.Context(), query, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, list)
}

// ExportReports 导出 xlsx
func (h *Handler) ExportReports(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	query, ok := parseReportQuery(c)
	if !ok {
		return
	}
	body, filename, err := h.ReportService.ExportReports(c.Request.Context(), query, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Attachment(c, filename, service.ExportContentType, body)
}

// FetchReports 为账号推送抓取任务
func (h *Handler) FetchReports(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	var req FetchReportsRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.ReportService.EnqueueFetch(c.Request.Context(), service.FetchRequest{
		StartDate:  strings.TrimSpace(req.StartDate),
		EndDate:    strings.TrimSpace(req.EndDate),
		AccountIDs: req.AccountIDs,
		GroupID:    req.GroupID,
		ChannelID:  req.ChannelID,
	}, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithMsg(c, result.Message, result)
}

// GetFetchResults 查询任务状态，job_ids 支持逗号分隔或重复参数
func (h *Handler) GetFetchResults(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	var ids []string
	for _, raw := range c.QueryArray("job_ids") {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	states, err := h.ReportService.GetJobStates(c.Request.Context(), ids, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, states)
}

// GetFetchStatus 根据缓存统计抓取完成度
func (h *Handler) GetFetchStatus(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	groupID, ok := parseOptionalUint(c, "group_id")
	if !ok {
		return
	}
	status, err := h.ReportService.GetFetchStatus(c.Request.Context(), c.Query("start_date"), c.Query("end_date"), groupID, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, status)
}

// GetChannels 渠道列表
func (h *Handler) GetChannels(c *gin.Context) {
	response.Success(c, h.ReportService.Channels())
}

// FetchConversion 单账号实时转化数据
func (h *Handler) FetchConversion(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	var req ConversionRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.ReportService.FetchConversion(c.Request.Context(), service.ConversionRequest{
		AccountID: req.AccountID,
		StartDate: strings.TrimSpace(req.StartDate),
		EndDate:   strings.TrimSpace(req.EndDate),
		ChannelID: req.ChannelID,
	}, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, result)
}

// FetchSettlement 结算账单
func (h *Handler) FetchSettlement(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	var req SettlementRequest
	if !bindJSON(c, &req) {
		return
	}
	raw, err := h.ReportService.FetchSettlement(c.Request.Context(), service.SettlementRequest{
		AccountID: req.AccountID,
		StartDate: strings.TrimSpace(req.StartDate),
		EndDate:   strings.TrimSpace(req.EndDate),
	}, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, raw)
}

// FetchSettlementPeriods 多周期结算账单
func (h *Handler) FetchSettlementPeriods(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	var req SettlementPeriodsRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.ReportService.FetchSettlementPeriods(c.Request.Context(), req.AccountID, req.Periods, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, result)
}

func parseReportQuery(c *gin.Context) (service.ReportQuery, bool) {
	query := service.ReportQuery{
		StartDate: strings.TrimSpace(c.Query("start_date")),
		EndDate:   strings.TrimSpace(c.Query("end_date")),
		Sort:      strings.TrimSpace(c.Query("sort")),
	}
	groupID, ok := parseOptionalUint(c, "group_id")
	if !ok {
		return query, false
	}
	query.GroupID = groupID
	if raw := strings.TrimSpace(c.Query("channel_id")); raw != "" {
		channelID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || channelID < 0 {
			respondError(c, response.CodeBadRequest, "invalid channel_id", nil)
			return query, false
		}
		query.ChannelID = channelID
	}
	if raw := strings.TrimSpace(c.Query("threshold")); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(c, response.CodeBadRequest, "invalid threshold", nil)
			return query, false
		}
		query.Threshold = &threshold
	}
	return query, true
}
