package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
)

func TestNewRequest_Defaults(t *testing.T) {
	req, err := NewRequest("https://example.com/app.js#frag")
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, ModeCORS, req.Mode)
	assert.Equal(t, CredentialsSameOrigin, req.Credentials)
	assert.Equal(t, CacheDefault, req.Cache)
	assert.Equal(t, "https://example.com/app.js", req.Href())
	assert.Equal(t, "https://example.com", req.Origin())
	assert.False(t, req.IsNavigation())

	_, err = NewRequest("://bad")
	assert.Error(t, err)
}

func TestFromHTTP(t *testing.T) {
	origin, _ := url.Parse("https://example.com")
	r := httptest.NewRequest(http.MethodGet, "/docs/?q=1", nil)
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	r.Header.Set("Cache-Control", "no-cache")

	req, err := FromHTTP(r, origin)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/docs/?q=1", req.Href())
	assert.True(t, req.IsNavigation())
	assert.Equal(t, "document", req.Destination)
	assert.Equal(t, CacheNoCache, req.Cache)
}

func TestRequestClone_IsDeep(t *testing.T) {
	req := MustRequest("https://example.com/a")
	req.Header.Set("X-Test", "1")

	c := req.Clone()
	c.URL.Path = "/b"
	c.Header.Set("X-Test", "2")

	assert.Equal(t, "/a", req.URL.Path)
	assert.Equal(t, "1", req.Header.Get("X-Test"))
}

func TestRequestWithURL_KeepsHeaders(t *testing.T) {
	req := MustRequest("https://example.com/a")
	req.Mode = ModeNavigate
	req.Header.Set("Accept", "text/html")

	n, err := req.WithURL("https://example.com/a?__WB_REVISION__=1")
	require.NoError(t, err)
	assert.Equal(t, "text/html", n.Header.Get("Accept"))
	assert.Equal(t, ModeCORS, n.Mode)
	assert.Equal(t, "1", n.URL.Query().Get("__WB_REVISION__"))
}

func TestToHTTP_CacheAndCredentials(t *testing.T) {
	req := MustRequest("https://example.com/a")
	req.Cache = CacheReload
	req.Credentials = CredentialsOmit
	req.Header.Set("Cookie", "a=b")

	httpReq, err := req.ToHTTP()
	require.NoError(t, err)
	assert.Equal(t, "no-cache", httpReq.Header.Get("Cache-Control"))
	assert.Empty(t, httpReq.Header.Get("Cookie"))
}

func TestResponseWriteTo(t *testing.T) {
	resp := NewResponse(http.StatusCreated, []byte("hello"))
	resp.Header.Set("Content-Type", "text/plain")

	rec := httptest.NewRecorder()
	require.NoError(t, resp.WriteTo(rec))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))

	rec = httptest.NewRecorder()
	require.NoError(t, ErrorResponse().WriteTo(rec))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHTTPFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old":
			http.Redirect(w, r, "/new", http.StatusFound)
		case "/new":
			w.Write([]byte("moved"))
		case "/big":
			w.Write(make([]byte, 64))
		default:
			w.Header().Set("X-Opt", r.Header.Get("X-Opt"))
			w.Write([]byte("body"))
		}
	}))
	defer server.Close()

	f := NewHTTPFetcher(nil, 32)
	ctx := context.Background()

	t.Run("plain", func(t *testing.T) {
		resp, err := f.Fetch(ctx, MustRequest(server.URL+"/plain"), &Options{Header: http.Header{"X-Opt": {"yes"}}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "body", string(resp.Body))
		assert.Equal(t, "yes", resp.Header.Get("X-Opt"))
		assert.False(t, resp.Redirected)
	})

	t.Run("redirected", func(t *testing.T) {
		resp, err := f.Fetch(ctx, MustRequest(server.URL+"/old"), nil)
		require.NoError(t, err)
		assert.True(t, resp.Redirected)
		assert.Equal(t, server.URL+"/new", resp.URL)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := f.Fetch(ctx, MustRequest(server.URL+"/big"), nil)
		assert.Error(t, err)
	})

	t.Run("integrity", func(t *testing.T) {
		req := MustRequest(server.URL + "/plain")
		req.Integrity = Integrity([]byte("body"))
		_, err := f.Fetch(ctx, req, nil)
		require.NoError(t, err)

		req.Integrity = Integrity([]byte("other"))
		_, err = f.Fetch(ctx, req, nil)
		assert.ErrorIs(t, err, ErrIntegrityMismatch)

		req.Mode = ModeNoCORS
		_, err = f.Fetch(ctx, req, nil)
		assert.NoError(t, err)
	})
}

func TestVerifyIntegrity(t *testing.T) {
	body := []byte("console.log(1)")

	assert.NoError(t, VerifyIntegrity(Integrity(body), body))
	assert.NoError(t, VerifyIntegrity("md5-abc", body))
	assert.NoError(t, VerifyIntegrity("sha512-bad "+Integrity(body), body))
	assert.ErrorIs(t, VerifyIntegrity(Integrity([]byte("x")), body), ErrIntegrityMismatch)
}

func TestCopyResponse(t *testing.T) {
	resp := NewResponse(http.StatusOK, []byte("ok"))
	resp.URL = "https://example.com/final"
	resp.Redirected = true

	c, err := CopyResponse(resp, "https://example.com", func(r *Response) {
		r.Header.Set("X-Copied", "1")
	})
	require.NoError(t, err)
	assert.False(t, c.Redirected)
	assert.Equal(t, "1", c.Header.Get("X-Copied"))
	assert.True(t, resp.Redirected)

	_, err = CopyResponse(resp, "https://other.com", nil)
	require.Error(t, err)
	assert.True(t, swerrors.HasCode(err, swerrors.CodeCrossOriginCopyResponse))
}
