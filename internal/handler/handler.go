package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartvision/internal/attendance"
	"smartvision/internal/auth"
	"smartvision/internal/model"
	"smartvision/internal/store"
)

// SessionConfig carries the token-signing parameters handlers need at login.
type SessionConfig struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

// Handler exposes the HTTP/JSON boundary of the service.
type Handler struct {
	store   *store.Store
	att     *attendance.Service
	session SessionConfig
	logger  *zap.Logger
}

// New creates a handler.
func New(s *store.Store, att *attendance.Service, session SessionConfig, logger *zap.Logger) *Handler {
	return &Handler{store: s, att: att, session: session, logger: logger.Named("handler")}
}

// RegisterRoutes wires the HTTP handlers to the gin router.
func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.POST("/signup", h.Signup)
	r.POST("/login", h.Login)

	gated := r.Group("/", auth.FacultyAuth(h.session.SigningKey, h.session.Issuer))
	gated.GET("/faculty-info", h.FacultyInfo)
	gated.POST("/update-faculty", h.UpdateFaculty)

	r.POST("/capture_face", h.CaptureFace)
	r.POST("/recognize", h.Recognize)
	r.GET("/api/attendance", h.Attendance)
	r.GET("/status", h.Status)
}

// ---------- Faculty accounts ----------

type signupRequest struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required"`
	Department string `json:"department"`
	ClassName  string `json:"class_name"`
}

// Signup creates a faculty account. The password is stored only as a bcrypt hash.
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "signup failed"})
		return
	}

	f := &model.Faculty{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Department:   req.Department,
		ClassName:    req.ClassName,
	}
	if err := h.store.CreateFaculty(c.Request.Context(), f); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			c.JSON(http.StatusOK, gin.H{"success": false, "message": "Email already exists"})
			return
		}
		h.logger.Error("signup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "signup failed"})
		return
	}

	h.logger.Info("faculty account created", zap.String("email", req.Email))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login validates credentials and establishes a session: a signed token is
// set as a cookie and also returned for bearer-style clients.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}

	f, err := h.store.GetFacultyByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("login lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "login failed"})
		return
	}
	if f == nil || !auth.CheckPassword(f.PasswordHash, req.Password) {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}

	token, _, err := auth.Issue(f.Email, h.session.Issuer, h.session.SigningKey, h.session.TTL)
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "login failed"})
		return
	}

	c.SetCookie(auth.SessionCookie, token, int(h.session.TTL.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// FacultyInfo returns the authenticated account's profile. Fields come from
// the store on every call, never from a session snapshot.
func (h *Handler) FacultyInfo(c *gin.Context) {
	email, _ := auth.FacultyEmail(c)
	f, err := h.store.GetFacultyByEmail(c.Request.Context(), email)
	if err != nil {
		h.logger.Error("faculty lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}
	if f == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "not logged in"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"name":       f.Name,
		"email":      f.Email,
		"department": f.Department,
		"class_name": f.ClassName,
	})
}

type updateFacultyRequest struct {
	Name       string `json:"name"`
	Department string `json:"department"`
	ClassName  string `json:"class_name"`
	Password   string `json:"password"`
}

// UpdateFaculty persists profile changes for the authenticated account. An
// empty password keeps the current credential.
func (h *Handler) UpdateFaculty(c *gin.Context) {
	email, _ := auth.FacultyEmail(c)
	var req updateFacultyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}

	current, err := h.store.GetFacultyByEmail(c.Request.Context(), email)
	if err != nil || current == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}

	updated := *current
	if req.Name != "" {
		updated.Name = req.Name
	}
	if req.Department != "" {
		updated.Department = req.Department
	}
	if req.ClassName != "" {
		updated.ClassName = req.ClassName
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false})
			return
		}
		updated.PasswordHash = hash
	}

	if err := h.store.UpdateFaculty(c.Request.Context(), email, updated); err != nil {
		h.logger.Error("faculty update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ---------- Enrollment ----------

type captureFaceRequest struct {
	Image      string `json:"image" binding:"required"`
	Name       string `json:"name" binding:"required"`
	RegNo      string `json:"reg_no" binding:"required"`
	ClassName  string `json:"class_name"`
	Department string `json:"department"`
}

// CaptureFace enrolls a student from a base64 data-URL image.
func (h *Handler) CaptureFace(c *gin.Context) {
	var req captureFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}

	img, err := decodeDataURL(req.Image)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "invalid image data"})
		return
	}

	err = h.att.Enroll(c.Request.Context(), attendance.EnrollInput{
		Name:       req.Name,
		RegNo:      req.RegNo,
		ClassName:  req.ClassName,
		Department: req.Department,
		Image:      img,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Student enrolled successfully"})
	case errors.Is(err, attendance.ErrNoFaceDetected):
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "No face detected"})
	case errors.Is(err, attendance.ErrDecode):
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "invalid image data"})
	case errors.Is(err, attendance.ErrValidation):
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "missing required fields"})
	default:
		h.logger.Error("enrollment failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "enrollment failed"})
	}
}

// ---------- Recognition ----------

// Recognize matches faces in the uploaded frame and marks attendance.
func (h *Handler) Recognize(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image uploaded"})
		return
	}
	defer file.Close()

	img, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read image"})
		return
	}

	recognized, err := h.att.Recognize(c.Request.Context(), img)
	if err != nil {
		if errors.Is(err, attendance.ErrDecode) {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "unable to decode image"})
			return
		}
		h.logger.Error("recognition failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "recognition failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "recognized": recognized})
}

// ---------- Queries ----------

// Attendance returns ledger rows filtered by class and inclusive date range.
func (h *Handler) Attendance(c *gin.Context) {
	records, err := h.att.Query(c.Request.Context(), c.Query("class"), c.Query("from"), c.Query("to"))
	if err != nil {
		h.logger.Error("attendance query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}
	if records == nil {
		records = []model.AttendanceRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "records": records})
}

// Status reports current persisted row counts.
func (h *Handler) Status(c *gin.Context) {
	counts, err := h.att.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("status query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":             "running",
		"students_loaded":    counts.Students,
		"faculty_accounts":   counts.Faculty,
		"attendance_records": counts.Attendance,
	})
}

// decodeDataURL strips an optional "data:image/...;base64," prefix and decodes
// the remainder.
func decodeDataURL(s string) ([]byte, error) {
	if idx := strings.IndexByte(s, ','); idx >= 0 {
		s = s[idx+1:]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
