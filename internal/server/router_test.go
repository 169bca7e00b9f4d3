package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fdfsweb/gateway/internal/catalog"
	"github.com/fdfsweb/gateway/internal/file"
	"github.com/fdfsweb/gateway/internal/storage"
)

const webURL = "http://127.0.0.1:8888/"

type memCatalog struct{ records []catalog.Record }

func (c *memCatalog) Insert(_ context.Context, rec *catalog.Record) error {
	c.records = append(c.records, *rec)
	return nil
}

func (c *memCatalog) DeleteByPath(context.Context, string, string) error { return nil }

func (c *memCatalog) List(_ context.Context, limit, offset int) ([]catalog.Record, error) {
	if offset >= len(c.records) {
		return []catalog.Record{}, nil
	}
	end := offset + limit
	if end > len(c.records) {
		end = len(c.records)
	}
	return c.records[offset:end], nil
}

func newTestRouter(t *testing.T, opts Options, cat file.Catalog) http.Handler {
	t.Helper()
	svc := file.NewService(storage.NewMemoryStorage("group1"), webURL, cat)
	return NewRouter(file.NewHandler(svc, "test.jpg", 1<<20), opts)
}

func multipartBody(t *testing.T, field, filename string, content []byte, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(h http.Handler, method, target string, body *bytes.Buffer, contentType, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, h http.Handler, content []byte, meta map[string]string) string {
	t.Helper()
	body, ct := multipartBody(t, "file", "cat.jpg", content, meta)
	rec := do(h, http.MethodPost, "/fdfs/upload", body, ct, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		URL  string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 200, res.Code)
	assert.Equal(t, "上传成功", res.Msg)
	return res.URL
}

func TestRouter_UploadDownloadDelete(t *testing.T) {
	h := newTestRouter(t, Options{}, nil)
	content := []byte("\x89PNG fake image bytes")

	fileURL := upload(t, h, content, nil)
	assert.Regexp(t, `^http://127\.0\.0\.1:8888/group1/M00/00/00/[0-9a-f]+\.jpg$`, fileURL)

	rec := do(h, http.MethodGet, "/fdfs/download?fileUrl="+url.QueryEscape(fileURL), nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, "attachment;filename=test.jpg", rec.Header().Get("Content-Disposition"))

	rec = do(h, http.MethodDelete, "/fdfs/delete?fileUrl="+url.QueryEscape(fileURL), nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/fdfs/download?fileUrl="+url.QueryEscape(fileURL), nil, "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.JSONEq(t, `{"code":500,"msg":"internal server error"}`, rec.Body.String())
}

func TestRouter_UploadMetadata(t *testing.T) {
	h := newTestRouter(t, Options{}, nil)
	fileURL := upload(t, h, []byte("x"), map[string]string{
		"meta.Author":     "JackyTang",
		"meta.CreateDate": "2020-08-11",
		"unrelated":       "ignored",
	})

	rec := do(h, http.MethodGet, "/fdfs/metadata?fileUrl="+url.QueryEscape(fileURL), nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, map[string]string{"Author": "JackyTang", "CreateDate": "2020-08-11"}, res.Data)
}

func TestRouter_EmptyDownload(t *testing.T) {
	h := newTestRouter(t, Options{}, nil)
	fileURL := upload(t, h, []byte{}, nil)

	rec := do(h, http.MethodGet, "/fdfs/download?fileUrl="+url.QueryEscape(fileURL), nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, "attachment;filename=test.jpg", rec.Header().Get("Content-Disposition"))
}

func TestRouter_FailuresAreGenericServerErrors(t *testing.T) {
	h := newTestRouter(t, Options{}, nil)

	body, ct := multipartBody(t, "", "", nil, map[string]string{"other": "x"})
	requests := []struct {
		name        string
		method      string
		target      string
		body        *bytes.Buffer
		contentType string
	}{
		{"upload without file", http.MethodPost, "/fdfs/upload", body, ct},
		{"upload not multipart", http.MethodPost, "/fdfs/upload", bytes.NewBufferString("{}"), "application/json"},
		{"download without url", http.MethodGet, "/fdfs/download", nil, ""},
		{"download without group", http.MethodGet, "/fdfs/download?fileUrl=http://host/bucket/key.jpg", nil, ""},
		{"download missing file", http.MethodGet, "/fdfs/download?fileUrl=" + url.QueryEscape(webURL+"group1/M00/00/00/missing.jpg"), nil, ""},
		{"metadata without group", http.MethodGet, "/fdfs/metadata?fileUrl=nogroup", nil, ""},
		{"delete missing file", http.MethodDelete, "/fdfs/delete?fileUrl=group1/M00/00/00/missing.jpg", nil, ""},
	}
	for _, tt := range requests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.target, tt.body, tt.contentType, "")
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"code":500,"msg":"internal server error"}`, rec.Body.String())
		})
	}
}

func TestRouter_UploadTooLarge(t *testing.T) {
	h := newTestRouter(t, Options{}, nil)

	body, ct := multipartBody(t, "file", "big.bin", bytes.Repeat([]byte("x"), 2<<20), nil)
	rec := do(h, http.MethodPost, "/fdfs/upload", body, ct, "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":413`)
}

func TestRouter_DeleteEmptyIsNoop(t *testing.T) {
	h := newTestRouter(t, Options{}, nil)
	rec := do(h, http.MethodDelete, "/fdfs/delete", nil, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_DeleteRequiresToken(t *testing.T) {
	const secret = "test-secret-key-123"
	h := newTestRouter(t, Options{JWTSecret: secret}, nil)
	fileURL := upload(t, h, []byte("x"), nil)
	target := "/fdfs/delete?fileUrl=" + url.QueryEscape(fileURL)

	rec := do(h, http.MethodDelete, target, nil, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	rec = do(h, http.MethodDelete, target, nil, "", token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_UploadRateLimited(t *testing.T) {
	h := newTestRouter(t, Options{UploadQPS: 1}, nil)
	upload(t, h, []byte("x"), nil)

	body, ct := multipartBody(t, "file", "cat.jpg", []byte("x"), nil)
	rec := do(h, http.MethodPost, "/fdfs/upload", body, ct, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Downloads are not limited.
	rec = do(h, http.MethodGet, "/health", nil, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Catalog(t *testing.T) {
	h := newTestRouter(t, Options{}, nil)
	rec := do(h, http.MethodGet, "/fdfs/files", nil, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cat := &memCatalog{}
	h = newTestRouter(t, Options{EnableCatalog: true}, cat)
	first := upload(t, h, []byte("a"), nil)
	upload(t, h, []byte("b"), nil)

	rec = do(h, http.MethodGet, "/fdfs/files?limit=1", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Data []catalog.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Data, 1)
	assert.Equal(t, first, res.Data[0].URL)
}

func TestRouter_Health(t *testing.T) {
	h := newTestRouter(t, Options{}, nil)
	rec := do(h, http.MethodGet, "/health", nil, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
