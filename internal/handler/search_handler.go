package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"line-gemini-relay/internal/service"
	"line-gemini-relay/pkg/log"
)

// SearchHandler 结构体定义了历史对话搜索的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Search 处理 GET /history/search?q=&user_id=&size= 请求。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	userID := c.Query("user_id")
	size, err := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(service.DefaultSearchSize)))
	if err != nil || size <= 0 {
		size = service.DefaultSearchSize
	}
	log.Infof("[SearchHandler] 收到搜索请求, q: %s, user_id: %s, size: %d", query, userID, size)

	results, err := h.searchService.Search(c.Request.Context(), query, userID, size)
	switch {
	case errors.Is(err, service.ErrSearchDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "搜索功能未启用"})
		return
	case errors.Is(err, service.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
		return
	case err != nil:
		log.Errorf("[SearchHandler] 搜索服务返回错误, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "搜索失败"})
		return
	}

	log.Infof("[SearchHandler] 搜索成功, q: '%s', 返回 %d 条结果", query, len(results))
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": results, "message": "success"})
}
