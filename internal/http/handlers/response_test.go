package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestFail_ServerErrorIsLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-503")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusServiceUnavailable, ErrCodeDeliveryUnavailable, "push down")
	})
	r.GET("/bad", func(c *gin.Context) {
		Fail(c, http.StatusUnprocessableEntity, ErrCodeMalformedEvent, "missing content")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if w.Code != http.StatusServiceUnavailable || resp.RequestID != "rid-503" || resp.Code != "delivery_unavailable" {
		t.Fatalf("unexpected response %d %+v", w.Code, resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}

	buf.Reset()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	if w.Code != http.StatusUnprocessableEntity || !strings.Contains(w.Body.String(), "malformed_event") {
		t.Fatalf("unexpected 422 response %d %s", w.Code, w.Body.String())
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx must not be logged here, got: %s", buf.String())
	}
}
