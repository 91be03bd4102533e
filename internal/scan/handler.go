package scan

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/ingather/ingather-backend/internal/program"
	"github.com/ingather/ingather-backend/internal/realtime"
)

const (
	heartbeatInterval = 15 * time.Second
	// 客户端在响应前断开连接，沿用nginx的499
	statusClientClosedRequest = 499
)

// ProgramReader 读取活动的最新状态
type ProgramReader interface {
	Get(ctx context.Context, id string) (*program.Program, error)
}

// Handler 提供扫码页面使用的公开接口
type Handler struct {
	coord      *Coordinator
	programs   ProgramReader
	subscriber realtime.Subscriber
	limiter    *RateLimiter
}

func NewHandler(coord *Coordinator, programs ProgramReader, subscriber realtime.Subscriber, limiter *RateLimiter) *Handler {
	return &Handler{coord: coord, programs: programs, subscriber: subscriber, limiter: limiter}
}

// RegisterRoutes 在 /api/scan 下注册路由
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/program/:programId")
	g.GET("", h.GetProgramInfo)
	g.POST("", h.limiter.Middleware(), h.Scan)
	g.POST("/form", h.limiter.Middleware(), h.SubmitForm)
	g.PUT("/update-scan", h.UpdateScan)
	g.GET("/events", h.Events)
}

type scanRequest struct {
	DeviceFingerprint string  `json:"deviceFingerprint" binding:"required"`
	Gender            *string `json:"gender"`
	FirstTimer        *bool   `json:"firstTimer"`
}

func (r scanRequest) metadata() Metadata {
	meta := Metadata{FirstTimer: r.FirstTimer}
	if r.Gender != nil && strings.TrimSpace(*r.Gender) != "" {
		g := strings.TrimSpace(*r.Gender)
		meta.Gender = &g
	}
	return meta
}

type formRequest struct {
	DeviceFingerprint string         `json:"deviceFingerprint" binding:"required"`
	FormData          map[string]any `json:"formData"`
}

type programInfoResponse struct {
	ID              string               `json:"id"`
	OrganizerName   string               `json:"organizerName"`
	OrganizerLogo   string               `json:"organizerLogo"`
	Title           string               `json:"title"`
	Date            string               `json:"date"`
	StartTime       string               `json:"startTime"`
	EndTime         string               `json:"endTime"`
	TrackingMode    program.TrackingMode `json:"trackingMode"`
	DataFields      []string             `json:"dataFields"`
	GiftingEnabled  bool                 `json:"giftingEnabled"`
	TotalWinners    int64                `json:"totalWinners"`
	WinnersSelected int64                `json:"winnersSelected"`
	IsActive        bool                 `json:"isActive"`
	TotalScans      int64                `json:"totalScans"`
}

// GetProgramInfo 返回扫码页面展示所需的活动信息
func (h *Handler) GetProgramInfo(c *gin.Context) {
	p, err := h.programs.Get(c.Request.Context(), c.Param("programId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, programInfoResponse{
		ID:              p.ID,
		OrganizerName:   p.OrganizerName,
		OrganizerLogo:   p.OrganizerLogo,
		Title:           p.Title,
		Date:            p.Date,
		StartTime:       p.StartTime,
		EndTime:         p.EndTime,
		TrackingMode:    p.TrackingMode,
		DataFields:      p.DataFields,
		GiftingEnabled:  p.GiftingEnabled,
		TotalWinners:    p.TotalWinners,
		WinnersSelected: p.WinnersSelected,
		IsActive:        p.IsActive,
		TotalScans:      p.TotalScans,
	})
}

// Scan 处理一次扫码
func (h *Handler) Scan(c *gin.Context) {
	var body scanRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	res, err := h.coord.RecordScan(c.Request.Context(), c.Param("programId"), body.DeviceFingerprint, body.metadata())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"trackingMode": res.TrackingMode,
		"totalScans":   res.TotalScans,
		"firstScan":    true,
		"isFirstTimer": res.FirstTimer,
	})
}

// SubmitForm 处理扫码之后的表单提交
func (h *Handler) SubmitForm(c *gin.Context) {
	var body formRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	res, err := h.coord.RecordSubmission(c.Request.Context(), c.Param("programId"), body.DeviceFingerprint, body.FormData)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"isWinner":       res.IsWinner,
		"giftingEnabled": res.GiftingEnabled,
	})
}

// UpdateScan 补充已有扫码记录的性别和首次到访信息
func (h *Handler) UpdateScan(c *gin.Context) {
	var body scanRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	if err := h.coord.UpdateScanMetadata(c.Request.Context(), c.Param("programId"), body.DeviceFingerprint, body.metadata()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "扫码信息已更新"})
}

// Events 以SSE推送活动的计数变化。
// 先订阅再读取快照，保证快照之后的变化不会丢失。
func (h *Handler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	programID := c.Param("programId")

	sub, err := h.subscriber.Subscribe(ctx, programID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "实时推送暂不可用"})
		return
	}
	defer sub.Close()

	p, err := h.programs.Get(ctx, programID)
	if err != nil {
		writeError(c, err)
		return
	}

	// 快照之后只推送更大的总数，订阅到快照之间已入队的旧事件在下面的循环中丢弃
	sub.Advance(p.TotalScans)
	lastSent := p.TotalScans

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", realtime.Event{ProgramID: p.ID, TotalScans: p.TotalScans, Timestamp: time.Now()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			if ev.TotalScans <= lastSent {
				return true
			}
			lastSent = ev.TotalScans
			c.SSEvent("update", ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrProgramNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "活动不存在"})
	case errors.Is(err, ErrScanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrProgramInactive):
		c.JSON(http.StatusBadRequest, gin.H{"error": "该活动已结束"})
	case errors.Is(err, ErrDuplicateScan):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "alreadyRecorded": true, "alreadyScanned": true})
	case errors.Is(err, ErrDuplicateSubmission):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "alreadyRecorded": true})
	case errors.Is(err, ErrScanRequired), errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(statusClientClosedRequest)
	case IsTransient(err):
		logger.Warningf("存储暂时不可用: %v", err)
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务繁忙，请稍后重试", "retryable": true})
	default:
		logger.Errorf("处理扫码请求失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
	}
}
