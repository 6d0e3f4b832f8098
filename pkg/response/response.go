package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeParamError    = 400
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeInsufficientCredits = 1003
	CodeAccountNotFound     = 1005
	CodeProviderFailed      = 1006
	CodeRateLimited         = 1008
	CodePayloadTooLarge     = 1009
)

// ErrorBody 错误响应体；成功时直接返回数据本身，与前端约定一致
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func Error(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func NotFound(c *gin.Context, code int, message string) {
	Error(c, http.StatusNotFound, code, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, http.StatusBadRequest, code, message)
}

func ServerError(c *gin.Context, code int, message string) {
	Error(c, http.StatusInternalServerError, code, message)
}

func TooManyRequests(c *gin.Context, message string) {
	Error(c, http.StatusTooManyRequests, CodeRateLimited, message)
}

func PayloadTooLarge(c *gin.Context, message string) {
	Error(c, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}
