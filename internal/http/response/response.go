package response

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RequestIDKey 请求 ID 在 gin 上下文中的键，由路由中间件写入
const RequestIDKey = "request_id"

// Response 统一响应结构，业务错误同样返回 HTTP 200
type Response struct {
	StatusCode int         `json:"status_code"`
	Msg        string      `json:"msg"`
	Data       interface{} `json:"data"`
}

// PageResponse 列表接口（账号、分组、用户、日志）的分页响应
type PageResponse struct {
	StatusCode int         `json:"status_code"`
	Msg        string      `json:"msg"`
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"total_page"`
}

// NewPagination 按总数计算页数
func NewPagination(page, pageSize int, total int64) Pagination {
	var totalPage int64
	if pageSize > 0 {
		totalPage = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPage: totalPage}
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	SuccessWithMsg(c, "success", data)
}

// SuccessWithMsg 成功响应，抓取入队等接口需要自定义提示
func SuccessWithMsg(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Response{StatusCode: CodeOK, Msg: msg, Data: data})
}

// Page 分页成功响应
func Page(c *gin.Context, items interface{}, page, pageSize int, total int64) {
	c.JSON(http.StatusOK, PageResponse{
		StatusCode: CodeOK,
		Msg:        "success",
		Data:       items,
		Pagination: NewPagination(page, pageSize, total),
	})
}

// Attachment 文件下载，文件名按 RFC 5987 编码
func Attachment(c *gin.Context, filename, contentType string, body []byte) {
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	c.Header("Content-Length", strconv.Itoa(len(body)))
	c.Data(http.StatusOK, contentType, body)
}

// Error 错误响应，data 只携带 request_id
func Error(c *gin.Context, code int, msg string) {
	ErrorWithData(c, code, msg, nil)
}

// ErrorWithData 错误响应，附带 cookie_expired、retry_after 等提示字段
func ErrorWithData(c *gin.Context, code int, msg string, data gin.H) {
	c.JSON(http.StatusOK, Response{StatusCode: code, Msg: msg, Data: withRequestID(c, data)})
}

// NotFound 404响应
func NotFound(c *gin.Context, msg string) {
	Error(c, CodeNotFound, msg)
}

// Unauthorized 401响应
func Unauthorized(c *gin.Context, msg string) {
	Error(c, CodeUnauthorized, msg)
}

// Forbidden 403响应
func Forbidden(c *gin.Context, msg string) {
	Error(c, CodeForbidden, msg)
}

// RequestID 当前请求 ID，未经过中间件时为空
func RequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	id, _ := c.Get(RequestIDKey)
	text, _ := id.(string)
	return text
}

func withRequestID(c *gin.Context, data gin.H) interface{} {
	requestID := RequestID(c)
	if requestID == "" {
		if data == nil {
			return nil
		}
		return data
	}
	if data == nil {
		data = gin.H{}
	}
	if _, ok := data[RequestIDKey]; !ok {
		data[RequestIDKey] = requestID
	}
	return data
}
