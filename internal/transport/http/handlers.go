package httptransport

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/monitoring"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
)

const (
	defaultLimit  = 10
	defaultOffset = 0
)

// mailResponse 邮件响应，附带解析后的正文与时间戳
type mailResponse struct {
	ID        snowflake.ID `json:"id"`
	From      []string     `json:"from"`
	To        []string     `json:"to"`
	Subject   string       `json:"subject"`
	Data      string       `json:"data"`
	Body      string       `json:"body"`
	Timestamp uint64       `json:"timestamp"`
}

// toMailResponse 解析后的正文按 ID 缓存，邮件写入后不再变化
func (h *Handler) toMailResponse(m *domain.Mail) mailResponse {
	return mailResponse{
		ID:        m.ID,
		From:      m.SortedFrom(),
		To:        m.SortedTo(),
		Subject:   m.Subject,
		Data:      m.Data,
		Body:      h.bodies.GetOrSet(m.ID, m.Body),
		Timestamp: m.Timestamp(),
	}
}

type deleteResult struct {
	Deleted int `json:"deleted"`
}

// page 分页参数
type page struct {
	limit  int
	offset int
}

func parsePage(c *gin.Context) (page, bool) {
	limit, ok := queryInt(c, "limit", defaultLimit)
	if !ok {
		return page{}, false
	}
	offset, ok := queryInt(c, "offset", defaultOffset)
	if !ok {
		return page{}, false
	}
	return page{limit: limit, offset: offset}, true
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw, present := c.GetQuery(name)
	if !present {
		return def, true
	}
	v, err := strconv.ParseUint(raw, 10, 31)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

// directionOf 根据路由判断按收件人还是发件人过滤
func directionOf(c *gin.Context) domain.Direction {
	if c.FullPath() == "/mails/from/:address" {
		return domain.DirectionFrom
	}
	return domain.DirectionTo
}

// collect 从新到旧遍历，对匹配 keep 的邮件应用 offset/limit
//
// 回调在存储锁内执行，只收集邮件；正文解析放到遍历结束之后。
func (h *Handler) collect(p page, keep func(*domain.Mail) bool) ([]mailResponse, error) {
	out := make([]mailResponse, 0, min(p.limit, 100))
	if p.limit == 0 {
		return out, nil
	}

	var mails []*domain.Mail
	skipped := 0
	err := h.store.ScanReverse(func(m *domain.Mail) bool {
		if keep != nil && !keep(m) {
			return true
		}
		if skipped < p.offset {
			skipped++
			return true
		}
		mails = append(mails, m)
		return len(mails) < p.limit
	})
	if err != nil {
		return nil, err
	}

	for _, m := range mails {
		out = append(out, h.toMailResponse(m))
	}
	return out, nil
}

// listMails 最新邮件列表
func (h *Handler) listMails(c *gin.Context) {
	p, ok := parsePage(c)
	if !ok {
		BadRequest(c, MsgInvalidPaging)
		return
	}

	mails, err := h.collect(p, nil)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mails)
}

// listByAddress 按收件人或发件人过滤，地址比较忽略大小写
func (h *Handler) listByAddress(c *gin.Context) {
	p, ok := parsePage(c)
	if !ok {
		BadRequest(c, MsgInvalidPaging)
		return
	}

	dir, addr := directionOf(c), c.Param("address")
	mails, err := h.collect(p, func(m *domain.Mail) bool {
		return m.HasAddress(dir, addr)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mails)
}

func (h *Handler) getMail(c *gin.Context) {
	id, err := snowflake.ParseID(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	mail, err := h.store.Get(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toMailResponse(mail))
}

func (h *Handler) deleteMail(c *gin.Context) {
	id, err := snowflake.ParseID(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	if err := h.store.Remove(id); err != nil {
		abortWithError(c, err)
		return
	}
	h.bodies.Delete(id)
	h.metrics.RecordMailsDeleted(monitoring.DeleteSourceAPI, 1)
	SuccessWithMsg(c, MsgDeleted, nil)
}

func (h *Handler) clearMails(c *gin.Context) {
	n, err := h.store.Len()
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := h.store.Clear(); err != nil {
		abortWithError(c, err)
		return
	}

	h.bodies.Clear()
	h.metrics.RecordMailsDeleted(monitoring.DeleteSourceAPI, n)
	h.logger.Info("all mails cleared", zap.Int("count", n))
	SuccessWithMsg(c, MsgCleared, nil)
}

// deleteByAddress 删除与地址匹配的全部邮件
func (h *Handler) deleteByAddress(c *gin.Context) {
	dir, addr := directionOf(c), c.Param("address")

	// 回调在存储锁内执行，先收集 ID 再逐个删除
	var ids []snowflake.ID
	err := h.store.ScanReverse(func(m *domain.Mail) bool {
		if m.HasAddress(dir, addr) {
			ids = append(ids, m.ID)
		}
		return true
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	deleted := 0
	for _, id := range ids {
		err := h.store.Remove(id)
		if errors.Is(err, storage.ErrMailNotFound) {
			continue
		}
		if err != nil {
			abortWithError(c, err)
			return
		}
		h.bodies.Delete(id)
		deleted++
	}

	h.metrics.RecordMailsDeleted(monitoring.DeleteSourceAPI, deleted)
	h.logger.Info("mails deleted by address",
		zap.String("direction", dir.String()),
		zap.String("address", cases.Fold().String(addr)),
		zap.Int("count", deleted),
	)
	SuccessWithMsg(c, MsgDeleted, deleteResult{Deleted: deleted})
}

func (h *Handler) getInfo(c *gin.Context) {
	info, err := h.info.Collect()
	if err != nil {
		h.logger.Error("failed to collect info", zap.Error(err))
		InternalError(c, MsgInfoFailure)
		return
	}
	c.JSON(http.StatusOK, info)
}

// preview 邮件存在时返回预览页，页面自行拉取邮件内容
func (h *Handler) preview(c *gin.Context) {
	id, err := snowflake.ParseID(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if _, err := h.store.Get(id); err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, htmlContentType, previewPage)
}

func (h *Handler) panel(c *gin.Context) {
	c.Data(http.StatusOK, htmlContentType, panelPage)
}
