package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"line-gemini-relay/internal/service"
	"line-gemini-relay/pkg/log"
)

// AdminHandler 负责管理员登录。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// LoginRequest 定义了管理员登录 API 的请求体结构。
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login 校验密码并签发 token。
func (h *AdminHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	tokenString, err := h.adminService.Login(req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPassword) {
			log.Warnf("Login: 管理员密码错误, clientIP: %s", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "密码错误", "data": nil})
			return
		}
		log.Error("Login: 签发 token 失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "登录失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"token": tokenString}})
}
