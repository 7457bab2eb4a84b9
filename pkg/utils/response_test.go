package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusNotFound, "Session not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"Session not found"}`, rec.Body.String())
}

func TestRespondJSONEncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"failed to encode response"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	newReq := func(contentType, body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return req
	}

	var payload struct {
		Title string `json:"title"`
	}
	require.NoError(t, DecodeJSON(newReq("application/json; charset=utf-8", `{"title":"x"}`), &payload))
	assert.Equal(t, "x", payload.Title)

	require.NoError(t, DecodeJSON(newReq("", `{"title":"y"}`), &payload))
	assert.Equal(t, "y", payload.Title)

	assert.ErrorIs(t, DecodeJSON(newReq("text/plain", `{"title":"x"}`), &payload), ErrUnsupportedMediaType)
	assert.ErrorIs(t, DecodeJSON(newReq("application/json", `{"title":`), &payload), ErrMalformedBody)
	assert.ErrorIs(t, DecodeJSON(newReq("application/json", " "), &payload), ErrEmptyBody)
}
