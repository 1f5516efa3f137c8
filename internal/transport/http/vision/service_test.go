package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"percepto-server-go/internal/app/services"
	domainauth "percepto-server-go/internal/domain/auth"
	domainimage "percepto-server-go/internal/domain/image"
	"percepto-server-go/internal/domain/speech"
	"percepto-server-go/internal/platform/config"
	platformerrors "percepto-server-go/internal/platform/errors"
	"percepto-server-go/internal/utils"
)

type stubNarrator struct {
	result      *services.Narration
	err         error
	calls       int
	gotQuestion string
}

func (s *stubNarrator) Analyze(ctx context.Context, data []byte, declaredFormat, question string) (*services.Narration, error) {
	s.calls++
	s.gotQuestion = question
	return s.result, s.err
}

func testLogger(t *testing.T) *utils.Logger {
	t.Helper()
	logger, err := utils.NewLogger(&utils.LogCfg{
		LogLevel: "error",
		LogDir:   t.TempDir(),
		LogFile:  "test.log",
	})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	t.Cleanup(func() {
		_ = logger.Close()
	})
	return logger
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Token = ""
	cfg.Upload.SaveDir = ""
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config, narrator Narrator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := testLogger(t)
	screen := domainimage.NewValidator(&cfg.Upload, logger)

	svc, err := NewService(cfg, logger, screen, narrator, cfg.Vision.Models, []string{"edge", "espeak"})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	engine := gin.New()
	if err := svc.Register(context.Background(), engine.Group("/api")); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	return engine
}

func multipartUpload(t *testing.T, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body: %s)", err, rec.Body.String())
	}
	return env
}

func TestPostRejectsOversizedUploadBeforeAnalysis(t *testing.T) {
	narrator := &stubNarrator{result: &services.Narration{Description: "unused"}}
	engine := newTestRouter(t, testConfig(), narrator)

	body, contentType := multipartUpload(t, "big.jpg", make([]byte, 11*1024*1024))
	req := httptest.NewRequest(http.MethodPost, "/api/vision", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "11.0MB") {
		t.Fatalf("expected declared size in message, got: %s", rec.Body.String())
	}
	if narrator.calls != 0 {
		t.Fatalf("oversized upload must be rejected before analysis, got %d calls", narrator.calls)
	}
}

func TestPostReturnsNarration(t *testing.T) {
	narrator := &stubNarrator{result: &services.Narration{
		Description: "a red ball",
		ModelUsed:   "claude-3-5-sonnet-20241022",
		Image:       &domainimage.Encoded{Bytes: []byte("jpeg"), Format: "jpeg", Width: 640, Height: 480},
		Audio: &speech.Audio{
			Bytes:    []byte("mp3 bytes"),
			Format:   "mp3",
			Backend:  "edge",
			Duration: 2 * time.Second,
		},
	}}
	engine := newTestRouter(t, testConfig(), narrator)

	body, contentType := multipartUpload(t, "ball.png", []byte("fake png"))
	req := httptest.NewRequest(http.MethodPost, "/api/vision", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("expected success envelope, got: %s", rec.Body.String())
	}

	var data NarrationData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode narration data: %v", err)
	}
	if data.Description != "a red ball" {
		t.Fatalf("unexpected description: %q", data.Description)
	}
	if data.SpeechBackend != "edge" || data.AudioFormat != "mp3" {
		t.Fatalf("unexpected audio metadata: %+v", data)
	}
	if data.Audio == "" {
		t.Fatal("expected base64 audio payload")
	}
	if data.ImageWidth != 640 || data.ImageHeight != 480 {
		t.Fatalf("unexpected image dimensions: %dx%d", data.ImageWidth, data.ImageHeight)
	}
}

func TestPostForwardsQuestionField(t *testing.T) {
	narrator := &stubNarrator{result: &services.Narration{Description: "a beagle", ModelUsed: "A"}}
	engine := newTestRouter(t, testConfig(), narrator)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "dog.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("fake jpeg")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.WriteField("question", "what breed is this?"); err != nil {
		t.Fatalf("write question field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/vision", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if narrator.gotQuestion != "what breed is this?" {
		t.Fatalf("question field not forwarded, got %q", narrator.gotQuestion)
	}
}

func TestPostTextOnlyWhenAudioMissing(t *testing.T) {
	narrator := &stubNarrator{result: &services.Narration{
		Description: "a quiet street",
		ModelUsed:   "claude-3-haiku-20240307",
	}}
	engine := newTestRouter(t, testConfig(), narrator)

	body, contentType := multipartUpload(t, "street.jpg", []byte("fake jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/api/vision", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var data NarrationData
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode narration data: %v", err)
	}
	if data.Audio != "" || data.SpeechBackend != "" {
		t.Fatalf("expected text-only payload, got: %+v", data)
	}
}

func TestPostDescriptionExhaustionReturns503(t *testing.T) {
	narrator := &stubNarrator{err: platformerrors.New(
		platformerrors.KindVision, "describe.chain", "all description services failed",
	)}
	engine := newTestRouter(t, testConfig(), narrator)

	body, contentType := multipartUpload(t, "x.png", []byte("fake png"))
	req := httptest.NewRequest(http.MethodPost, "/api/vision", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestPostInvalidImageReturns400(t *testing.T) {
	narrator := &stubNarrator{err: platformerrors.New(
		platformerrors.KindImage, "narrator.validate", "corrupt image",
	)}
	engine := newTestRouter(t, testConfig(), narrator)

	body, contentType := multipartUpload(t, "x.png", []byte("junk"))
	req := httptest.NewRequest(http.MethodPost, "/api/vision", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPostMissingFileField(t *testing.T) {
	narrator := &stubNarrator{}
	engine := newTestRouter(t, testConfig(), narrator)

	req := httptest.NewRequest(http.MethodPost, "/api/vision", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if narrator.calls != 0 {
		t.Fatal("narrator must not run without a file")
	}
}

func TestGetStatus(t *testing.T) {
	engine := newTestRouter(t, testConfig(), &stubNarrator{})

	req := httptest.NewRequest(http.MethodGet, "/api/vision", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var data StatusData
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode status data: %v", err)
	}
	if data.Status != "ok" {
		t.Fatalf("expected ok status, got %q", data.Status)
	}
	if len(data.Models) != 4 {
		t.Fatalf("expected 4 configured models, got %d", len(data.Models))
	}
}

func TestOptionsPreflight(t *testing.T) {
	engine := newTestRouter(t, testConfig(), &stubNarrator{})

	req := httptest.NewRequest(http.MethodOptions, "/api/vision", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Fatalf("expected POST in allowed methods, got %q", got)
	}
}

func TestPostAuthRequiredWhenTokenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Token = "server-secret"

	narrator := &stubNarrator{result: &services.Narration{Description: "a red ball", ModelUsed: "A"}}
	engine := newTestRouter(t, cfg, narrator)

	body, contentType := multipartUpload(t, "x.png", []byte("fake png"))

	// missing header
	req := httptest.NewRequest(http.MethodPost, "/api/vision", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if narrator.calls != 0 {
		t.Fatal("narrator must not run for unauthenticated requests")
	}

	// valid bearer token
	token, err := domainauth.NewAuthToken("server-secret").GenerateToken("client-1")
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	body, contentType = multipartUpload(t, "x.png", []byte("fake png"))
	req = httptest.NewRequest(http.MethodPost, "/api/vision", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
