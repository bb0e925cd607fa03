package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// FieldName is the multipart field that carries the image.
const FieldName = "image"

// multipartOverhead is the allowance for boundaries, part headers and any
// small non-file fields on top of the file limit itself.
const multipartOverhead = 64 << 10

// Candidate is an upload that passed validation and is held in memory until
// the Store persists it.
type Candidate struct {
	OriginalName string
	Extension    string
	Data         []byte
	ReceivedAt   time.Time
}

func (c *Candidate) Size() int64 {
	return int64(len(c.Data))
}

type Validator struct {
	maxBytes int64
	allowed  map[string]struct{}
}

// NewValidator accepts extensions with or without a leading dot, in any case.
func NewValidator(maxBytes int64, allowedExtensions []string) *Validator {
	allowed := make(map[string]struct{}, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			allowed[ext] = struct{}{}
		}
	}
	return &Validator{maxBytes: maxBytes, allowed: allowed}
}

func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Extension returns the lower-cased extension of name when it is allowed.
func (v *Validator) Extension(name string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return "", false
	}
	_, ok := v.allowed[ext]
	return ext, ok
}

// ReadMultipart streams the request body looking for the image part. The
// file type is checked from the part header before any content is read, and
// the content is buffered in memory up to the size limit, so a rejected
// upload never reaches the upload directory.
func (v *Validator) ReadMultipart(w http.ResponseWriter, r *http.Request) (*Candidate, error) {
	r.Body = http.MaxBytesReader(w, r.Body, v.maxBytes+multipartOverhead)

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, &ValidationError{Reason: ReasonNoFile, Err: err}
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, &ValidationError{Reason: ReasonNoFile}
		}
		if err != nil {
			if isBodyTooLarge(err) {
				return nil, &ValidationError{Reason: ReasonTooLarge, Detail: limitDetail(v.maxBytes)}
			}
			return nil, &ValidationError{Reason: ReasonNoFile, Err: err}
		}

		if part.FormName() != FieldName || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		candidate, err := v.readPart(part.FileName(), part)
		_ = part.Close()
		return candidate, err
	}
}

// Validate checks a file whose content is already available, e.g. one that
// arrived through a different transport than multipart.
func (v *Validator) Validate(name string, content io.Reader) (*Candidate, error) {
	if name == "" {
		return nil, &ValidationError{Reason: ReasonNoFile}
	}
	return v.readPart(name, content)
}

func (v *Validator) readPart(name string, content io.Reader) (*Candidate, error) {
	originalName := filepath.Base(name)
	ext, ok := v.Extension(originalName)
	if !ok {
		return nil, &ValidationError{
			Reason: ReasonBadType,
			Detail: fmt.Sprintf("%q is not one of the allowed types", originalName),
		}
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(content, v.maxBytes+1))
	if err != nil {
		if isBodyTooLarge(err) {
			return nil, &ValidationError{Reason: ReasonTooLarge, Detail: limitDetail(v.maxBytes)}
		}
		return nil, &ValidationError{Reason: ReasonNoFile, Err: err}
	}
	if n > v.maxBytes {
		return nil, &ValidationError{Reason: ReasonTooLarge, Detail: limitDetail(v.maxBytes)}
	}

	return &Candidate{
		OriginalName: originalName,
		Extension:    ext,
		Data:         buf.Bytes(),
		ReceivedAt:   time.Now(),
	}, nil
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func limitDetail(max int64) string {
	return fmt.Sprintf("limit is %d bytes", max)
}
