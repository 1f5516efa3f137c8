package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"percepto-server-go/internal/app/services"
	domainauth "percepto-server-go/internal/domain/auth"
	"percepto-server-go/internal/platform/config"
	platformerrors "percepto-server-go/internal/platform/errors"
	httptransport "percepto-server-go/internal/transport/http"
	"percepto-server-go/internal/utils"
)

// UploadScreen rejects uploads by declared size before any bytes are
// decoded.
type UploadScreen interface {
	CheckUploadSize(size int64) error
}

// Narrator runs the full analysis pipeline.
type Narrator interface {
	Analyze(ctx context.Context, data []byte, declaredFormat, question string) (*services.Narration, error)
}

// Service is the HTTP transport for image narration.
type Service struct {
	config    *config.Config
	logger    *utils.Logger
	screen    UploadScreen
	narrator  Narrator
	authToken *domainauth.AuthToken
	models    []string
	backends  []string
}

// NewService wires the narration pipeline behind the /vision routes.
// Auth is enabled only when a server token is configured.
func NewService(
	cfg *config.Config,
	logger *utils.Logger,
	screen UploadScreen,
	narrator Narrator,
	models []string,
	backends []string,
) (*Service, error) {
	if cfg == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "vision.new", "config is required")
	}
	if logger == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "vision.new", "logger is required")
	}
	if screen == nil || narrator == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "vision.new", "upload screen and narrator are required")
	}

	service := &Service{
		config:   cfg,
		logger:   logger,
		screen:   screen,
		narrator: narrator,
		models:   models,
		backends: backends,
	}

	if cfg.Server.Token != "" {
		service.authToken = domainauth.NewAuthToken(cfg.Server.Token)
	}

	return service, nil
}

// Register registers the vision routes on the API group.
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.GET("/vision", s.handleGet)
	router.POST("/vision", s.handlePost)
	router.OPTIONS("/vision", s.handleOptions)

	s.logger.InfoTag("HTTP", "vision routes registered")
	return nil
}

// handleOptions answers CORS preflight.
func (s *Service) handleOptions(c *gin.Context) {
	s.addCORSHeaders(c)
	c.Status(http.StatusOK)
}

// handleGet reports service status, configured models, and a host
// resource snapshot.
func (s *Service) handleGet(c *gin.Context) {
	s.addCORSHeaders(c)

	status := "ok"
	if len(s.models) == 0 {
		status = "degraded: no description models configured"
	}

	data := StatusData{
		Status:         status,
		Models:         s.models,
		SpeechBackends: s.backends,
		System:         systemSnapshot(),
	}

	s.respondSuccess(c, http.StatusOK, data, fmt.Sprintf("vision service running with %d models", len(s.models)))
}

// handlePost accepts a multipart image upload, runs the narration
// pipeline, and returns description plus optional audio.
func (s *Service) handlePost(c *gin.Context) {
	s.addCORSHeaders(c)

	if s.authToken != nil {
		result, err := s.verifyAuth(c)
		if err != nil || !result.IsValid {
			s.respondError(c, http.StatusUnauthorized, "invalid or missing auth token")
			s.logger.WarnTag("Auth", "vision auth failed: %v", err)
			return
		}
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	// size gate runs on the declared size, before any read or decode
	if err := s.screen.CheckUploadSize(header.Size); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		s.logger.WarnTag("Image", "upload rejected: %v", err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "failed to read upload")
		return
	}

	declaredFormat := formatFromFilename(header.Filename)
	question := c.Request.FormValue("question")

	narration, err := s.narrator.Analyze(c.Request.Context(), data, declaredFormat, question)
	if err != nil {
		status := statusForError(err)
		s.respondError(c, status, err.Error())
		s.logger.WarnTag("Vision", "analysis failed: %v", err)
		return
	}

	if s.config.Upload.SaveDir != "" && narration.Image != nil {
		if path, err := s.saveImage(narration.Image.Bytes, narration.Image.Format); err != nil {
			s.logger.WarnTag("Image", "failed to save processed image: %v", err)
		} else {
			s.logger.Debug("processed image saved to %s", path)
		}
	}

	payload := NarrationData{
		Description: narration.Description,
		ModelUsed:   narration.ModelUsed,
	}
	if narration.Image != nil {
		payload.ImageWidth = narration.Image.Width
		payload.ImageHeight = narration.Image.Height
	}
	if narration.Audio != nil {
		payload.Audio = base64.StdEncoding.EncodeToString(narration.Audio.Bytes)
		payload.AudioFormat = narration.Audio.Format
		payload.AudioSeconds = narration.Audio.Duration.Seconds()
		payload.SpeechBackend = narration.Audio.Backend
	}

	s.respondSuccess(c, http.StatusOK, payload, "analysis complete")
}

// verifyAuth validates the bearer token.
func (s *Service) verifyAuth(c *gin.Context) (*AuthVerifyResult, error) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, platformerrors.New(platformerrors.KindTransport, "verify_auth", "invalid auth header format")
	}

	token := authHeader[7:]
	isValid, clientID, err := s.authToken.VerifyToken(token)
	if err != nil || !isValid {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "verify_auth", "token verification failed", err)
	}

	return &AuthVerifyResult{IsValid: true, ClientID: clientID}, nil
}

// saveImage persists the processed payload with a unique name.
func (s *Service) saveImage(data []byte, format string) (string, error) {
	if err := os.MkdirAll(s.config.Upload.SaveDir, 0o755); err != nil {
		return "", fmt.Errorf("create save dir: %w", err)
	}

	path := filepath.Join(s.config.Upload.SaveDir, fmt.Sprintf("%s.%s", uuid.New().String(), format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image file: %w", err)
	}
	return path, nil
}

// statusForError maps pipeline error kinds onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case platformerrors.IsKind(err, platformerrors.KindImage):
		return http.StatusBadRequest
	case platformerrors.IsKind(err, platformerrors.KindVision):
		return http.StatusServiceUnavailable
	case platformerrors.IsKind(err, platformerrors.KindTransport):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// formatFromFilename derives the declared format from the upload name.
func formatFromFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	case ".bmp":
		return "bmp"
	case ".webp":
		return "webp"
	default:
		return ""
	}
}

func systemSnapshot() SystemSnapshot {
	snapshot := SystemSnapshot{}

	if vm, err := mem.VirtualMemory(); err == nil {
		snapshot.MemUsedPercent = vm.UsedPercent
		snapshot.MemUsedMB = vm.Used / 1024 / 1024
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	}

	return snapshot
}

func (s *Service) addCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Headers", "client-id, content-type, authorization")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

func (s *Service) respondSuccess(c *gin.Context, statusCode int, data interface{}, message string) {
	httptransport.RespondSuccess(c, statusCode, data, message)
}

func (s *Service) respondError(c *gin.Context, statusCode int, message string) {
	httptransport.RespondError(c, statusCode, message, gin.H{"error": message})
}
