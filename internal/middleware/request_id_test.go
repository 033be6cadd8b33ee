package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		incoming string
		kept     bool
	}{
		{"abc-123", true},
		{"", false},
		{"has space", false},
		{"line\nbreak", false},
		{strings.Repeat("x", 65), false},
		{strings.Repeat("x", 64), true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.incoming != "" {
			req.Header[requestIDHeader] = []string{tc.incoming}
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		got := w.Header().Get(requestIDHeader)
		if tc.kept {
			assert.Equal(t, tc.incoming, got)
			continue
		}
		_, err := uuid.Parse(got)
		assert.NoError(t, err, "incoming %q", tc.incoming)
	}
}
