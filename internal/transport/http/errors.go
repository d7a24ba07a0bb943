package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
)

// 通用提示信息
const (
	MsgSuccess        = "成功"
	MsgDeleted        = "删除成功"
	MsgCleared        = "已清空全部邮件"
	MsgInvalidID      = "邮件ID格式无效"
	MsgInvalidPaging  = "limit 和 offset 必须是非负整数"
	MsgMailNotFound   = "邮件不存在"
	MsgRouteNotFound  = "接口不存在"
	MsgStorageFailure = "存储访问失败"
	MsgInfoFailure    = "获取系统信息失败"
)

// errorMessages 错误到提示信息的映射
var errorMessages = map[error]string{
	storage.ErrMailNotFound: MsgMailNotFound,
	storage.ErrStoreClosed:  MsgStorageFailure,
	snowflake.ErrInvalidID:  MsgInvalidID,
}

// GetErrorMessage 获取错误对应的提示信息
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return MsgStorageFailure
}

// abortWithError 按错误类型写出 400/404/500
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrMailNotFound):
		NotFound(c, GetErrorMessage(err))
	case errors.Is(err, snowflake.ErrInvalidID):
		BadRequest(c, GetErrorMessage(err))
	default:
		_ = c.Error(err)
		InternalError(c, GetErrorMessage(err))
	}
}
