package organizer

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/ingather/ingather-backend/internal/program"
	"github.com/ingather/ingather-backend/internal/report"
	"github.com/ingather/ingather-backend/pkg/token"
)

// Handler 提供主办方使用的活动管理接口
type Handler struct {
	programs  *program.Service
	reports   *report.Reporter
	signer    *token.Signer
	directory *Directory
}

func NewHandler(programs *program.Service, reports *report.Reporter, signer *token.Signer, directory *Directory) *Handler {
	return &Handler{programs: programs, reports: reports, signer: signer, directory: directory}
}

// RegisterRoutes 在 /api/programs 下注册路由
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.RequireOrganizer(), h.CreateProgram)
	rg.GET("", h.RequireOrganizer(), h.ListPrograms)

	g := rg.Group("/:id", h.RequireProgramAdmin())
	g.GET("", h.GetProgram)
	g.PUT("/stop", h.StopProgram)
	g.GET("/attendees", h.GetAttendees)
	g.GET("/attendance-data", h.GetAttendanceOverTime)
	g.GET("/count-stats", h.GetCountStats)
	g.GET("/scans", h.GetScans)
	g.GET("/qrcode.png", h.GetQRCode)
}

type createProgramRequest struct {
	ProgramTitle    string   `json:"programTitle" binding:"required"`
	Date            string   `json:"date" binding:"required"`
	StartTime       string   `json:"startTime" binding:"required"`
	EndTime         string   `json:"endTime" binding:"required"`
	TrackingMode    string   `json:"trackingMode" binding:"required"`
	DataFields      []string `json:"dataFields"`
	EnableGifting   bool     `json:"enableGifting"`
	NumberOfWinners int64    `json:"numberOfWinners"`
}

type createdProgram struct {
	program.Program
	QRCodeImage string `json:"qrCodeImage"`
	AdminKey    string `json:"adminKey"`
}

// CreateProgram 创建活动并返回二维码和管理密钥。管理密钥只在此处返回一次。
func (h *Handler) CreateProgram(c *gin.Context) {
	var body createProgramRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	org := currentOrganizer(c)
	p, err := h.programs.Create(c.Request.Context(), program.CreateInput{
		OrganizerID:    org.ID,
		OrganizerName:  org.Name,
		OrganizerLogo:  org.LogoURL,
		Title:          body.ProgramTitle,
		Date:           body.Date,
		StartTime:      body.StartTime,
		EndTime:        body.EndTime,
		TrackingMode:   program.TrackingMode(body.TrackingMode),
		DataFields:     body.DataFields,
		GiftingEnabled: body.EnableGifting,
		TotalWinners:   body.NumberOfWinners,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	image, err := program.QRCodeDataURL(p.QRCodeURL)
	if err != nil {
		writeError(c, err)
		return
	}
	adminKey, err := h.signer.AdminKey(p.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "活动创建成功",
		"program": createdProgram{Program: *p, QRCodeImage: image, AdminKey: adminKey},
	})
}

func (h *Handler) ListPrograms(c *gin.Context) {
	programs, err := h.programs.List(c.Request.Context(), currentOrganizer(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"programs": programs})
}

func (h *Handler) GetProgram(c *gin.Context) {
	detail, err := h.reports.ProgramDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// StopProgram 停止活动，二维码随即失效
func (h *Handler) StopProgram(c *gin.Context) {
	if err := h.programs.Stop(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "活动已停止"})
}

func (h *Handler) GetAttendees(c *gin.Context) {
	attendees, err := h.reports.Attendees(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendees": attendees})
}

func (h *Handler) GetAttendanceOverTime(c *gin.Context) {
	buckets, err := h.reports.AttendanceOverTime(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendanceData": buckets})
}

func (h *Handler) GetCountStats(c *gin.Context) {
	stats, err := h.reports.CountStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetScans(c *gin.Context) {
	scans, err := h.reports.Scans(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans})
}

// GetQRCode 返回扫码地址的PNG图片，便于打印
func (h *Handler) GetQRCode(c *gin.Context) {
	p, err := h.programs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	png, err := program.QRCodePNG(p.QRCodeURL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, program.ErrProgramNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "活动不存在"})
	case errors.Is(err, program.ErrInvalidProgram):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(499)
	default:
		logger.Errorf("处理主办方请求失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
	}
}
