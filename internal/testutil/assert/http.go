// Package assert holds HTTP response assertions shared by handler tests.
package assert

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
)

// JSON checks the status and JSON content type of rec and decodes its body
// into out.
func JSON(t *testing.T, rec *httptest.ResponseRecorder, status int, out any) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"),
		"expected JSON content type, got %q", rec.Header().Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

// ErrorCode checks that rec is a standard error response carrying code.
func ErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code swerrors.ErrorCode) swerrors.ErrorResponse {
	t.Helper()
	var body swerrors.ErrorResponse
	JSON(t, rec, status, &body)
	require.False(t, body.Success)
	require.Equal(t, code, body.ErrorDetail.Code)
	return body
}
