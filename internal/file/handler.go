package file

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fdfsweb/gateway/internal/fdfs"
	"github.com/fdfsweb/gateway/internal/middleware"
	"github.com/fdfsweb/gateway/internal/response"
)

const (
	formFileField  = "file"
	formMetaPrefix = "meta."
	multipartMem   = 32 << 20

	defaultListLimit = 20
	maxListLimit     = 200
)

// Handler holds HTTP handlers for file endpoints.
type Handler struct {
	svc            *Service
	downloadName   string
	maxUploadBytes int64
}

// NewHandler creates a new file Handler. Downloads are sent as attachments
// named downloadName; uploads larger than maxUploadBytes are rejected.
func NewHandler(svc *Service, downloadName string, maxUploadBytes int64) *Handler {
	return &Handler{svc: svc, downloadName: downloadName, maxUploadBytes: maxUploadBytes}
}

type uploadResult struct {
	Code int    `json:"code" example:"200"`
	Msg  string `json:"msg"  example:"上传成功"`
	URL  string `json:"url"  example:"http://192.168.0.202:9999/group1/M00/00/00/wKgAyl8yNwGAECEaAADJbfIXAss152.jpg"`
}

// Upload godoc
//
//	@Summary		Upload file
//	@Description	Store the multipart field "file" on the storage cluster and return its access URL. Extra form fields named meta.<key> are attached as metadata.
//	@Tags			fdfs
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"File to upload"
//	@Success		200		{object}	uploadResult
//	@Failure		413		{object}	response.Result
//	@Failure		429		{object}	response.Result
//	@Failure		500		{object}	response.Result
//	@Router			/fdfs/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		if r.ContentLength > h.maxUploadBytes {
			response.TooLarge(w, "file too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMem); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(w, "file too large")
			return
		}
		h.fail(w, r, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	_, fh, err := r.FormFile(formFileField)
	if err != nil {
		h.fail(w, r, fmt.Errorf("form file %q: %w", formFileField, err))
		return
	}

	fileURL, err := h.svc.UploadMultipart(r.Context(), fh, formMetadata(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Uploaded(w, fileURL)
}

// Download godoc
//
//	@Summary		Download file
//	@Description	Stream the bytes of a stored file as an attachment.
//	@Tags			fdfs
//	@Produce		octet-stream
//	@Param			fileUrl	query		string	true	"URL returned by upload"
//	@Success		200		{file}		binary
//	@Failure		500		{object}	response.Result
//	@Router			/fdfs/download [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	fileURL := r.URL.Query().Get("fileUrl")
	aw := &attachmentWriter{ResponseWriter: w, filename: h.downloadName}
	if _, err := h.svc.Download(r.Context(), fileURL, aw); err != nil {
		if aw.started {
			// Headers are gone; all we can do is cut the response short.
			log.Printf("file: download %s aborted: %v", fileURL, err)
			panic(http.ErrAbortHandler)
		}
		h.fail(w, r, err)
		return
	}
	aw.start()
}

// Delete godoc
//
//	@Summary		Delete file
//	@Description	Remove a stored file. An empty fileUrl is accepted and does nothing.
//	@Tags			fdfs
//	@Produce		json
//	@Security		BearerAuth
//	@Param			fileUrl	query		string	false	"URL returned by upload"
//	@Success		200		{object}	response.Result
//	@Failure		401		{object}	response.Result
//	@Failure		500		{object}	response.Result
//	@Router			/fdfs/delete [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	fileURL := r.URL.Query().Get("fileUrl")
	if err := h.svc.Delete(r.Context(), fileURL); err != nil {
		h.fail(w, r, err)
		return
	}
	if sub := middleware.Subject(r.Context()); sub != "" && fileURL != "" {
		log.Printf("file: %s deleted by %s", fileURL, sub)
	}
	response.Deleted(w)
}

// Metadata godoc
//
//	@Summary		Get file metadata
//	@Description	Return the key/value metadata attached to a stored file.
//	@Tags			fdfs
//	@Produce		json
//	@Param			fileUrl	query		string	true	"URL returned by upload"
//	@Success		200		{object}	response.Result{data=map[string]string}
//	@Failure		500		{object}	response.Result
//	@Router			/fdfs/metadata [get]
func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.svc.Metadata(r.Context(), r.URL.Query().Get("fileUrl"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, meta)
}

// List godoc
//
//	@Summary		List uploads
//	@Description	Return uploaded files recorded in the catalog, newest first.
//	@Tags			fdfs
//	@Produce		json
//	@Param			limit	query		int	false	"Page size (default 20, max 200)"
//	@Param			offset	query		int	false	"Records to skip"
//	@Success		200		{object}	response.Result{data=[]catalog.Record}
//	@Failure		500		{object}	response.Result
//	@Router			/fdfs/files [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	records, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, records)
}

// Health godoc
//
//	@Summary		Health check
//	@Description	Report whether the storage backend answers.
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	response.Result
//	@Failure		503	{object}	response.Result
//	@Router			/health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		log.Printf("file: health check: %v", err)
		response.ServiceUnavailable(w, "storage unavailable")
		return
	}
	response.OK(w, map[string]string{"status": "ok"})
}

// fail logs err and answers with a generic 500. Failures are not
// classified for the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("file: %s %s: %v", r.Method, r.URL.Path, err)
	response.InternalError(w)
}

// attachmentWriter sends the attachment headers right before the first
// body byte, so errors found before that can still become JSON responses.
type attachmentWriter struct {
	http.ResponseWriter
	filename string
	started  bool
}

func (aw *attachmentWriter) start() {
	if aw.started {
		return
	}
	aw.started = true
	hdr := aw.Header()
	hdr.Set("Content-Type", "application/octet-stream;charset=UTF-8")
	hdr.Set("Content-Disposition", "attachment;filename="+url.QueryEscape(aw.filename))
	aw.WriteHeader(http.StatusOK)
}

func (aw *attachmentWriter) Write(b []byte) (int, error) {
	aw.start()
	return aw.ResponseWriter.Write(b)
}

func formMetadata(r *http.Request) fdfs.MetaData {
	meta := fdfs.MetaData{}
	for k, vs := range r.MultipartForm.Value {
		if key := strings.TrimPrefix(k, formMetaPrefix); key != k && key != "" && len(vs) > 0 {
			meta[key] = vs[0]
		}
	}
	return meta
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
