package remote

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(code int, body string) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}
}

func TestCheckStatusPassesSuccess(t *testing.T) {
	assert.NoError(t, CheckStatus("tts", response(http.StatusOK, "")))
	assert.NoError(t, CheckStatus("tts", response(http.StatusNoContent, "")))
}

func TestCheckStatusTruncatesBody(t *testing.T) {
	err := CheckStatus("llm", response(http.StatusBadGateway, strings.Repeat("x", 2000)))
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Len(t, se.Body, maxErrorBody)
	assert.True(t, strings.HasPrefix(err.Error(), "llm error: status=502 body=xxx"))
}
