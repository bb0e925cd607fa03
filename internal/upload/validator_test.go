package upload

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "hello"))
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze-image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func reason(t *testing.T, err error) string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Reason
}

func TestReadMultipartAccepts(t *testing.T) {
	v := NewValidator(1024, []string{"jpg", "jpeg", "png", "gif"})
	req := multipartRequest(t, FieldName, "Holiday.JPG", []byte("fake-jpeg-bytes"))

	c, err := v.ReadMultipart(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Equal(t, "Holiday.JPG", c.OriginalName)
	assert.Equal(t, "jpg", c.Extension)
	assert.Equal(t, []byte("fake-jpeg-bytes"), c.Data)
	assert.Equal(t, int64(15), c.Size())
	assert.False(t, c.ReceivedAt.IsZero())
}

func TestReadMultipartExactLimit(t *testing.T) {
	v := NewValidator(8, []string{"png"})
	req := multipartRequest(t, FieldName, "a.png", bytes.Repeat([]byte{1}, 8))

	c, err := v.ReadMultipart(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(8), c.Size())
}

func TestReadMultipartRejects(t *testing.T) {
	v := NewValidator(16, []string{".PNG", "gif"})

	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		reason string
	}{
		{
			name:   "no file part",
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, "", "", nil) },
			reason: ReasonNoFile,
		},
		{
			name:   "wrong field name",
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, "file", "a.png", []byte("x")) },
			reason: ReasonNoFile,
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/analyze-image", strings.NewReader("{}"))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			reason: ReasonNoFile,
		},
		{
			name:   "disallowed extension",
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, FieldName, "notes.txt", []byte("x")) },
			reason: ReasonBadType,
		},
		{
			name:   "missing extension",
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, FieldName, "png", []byte("x")) },
			reason: ReasonBadType,
		},
		{
			name:   "extension only in the middle",
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, FieldName, "a.png.exe", []byte("x")) },
			reason: ReasonBadType,
		},
		{
			name: "over the limit",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, FieldName, "a.png", bytes.Repeat([]byte{1}, 17))
			},
			reason: ReasonTooLarge,
		},
		{
			name: "body far over the limit",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, FieldName, "a.gif", bytes.Repeat([]byte{1}, 200<<10))
			},
			reason: ReasonTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := v.ReadMultipart(httptest.NewRecorder(), tt.req(t))
			assert.Nil(t, c)
			assert.Equal(t, tt.reason, reason(t, err))
		})
	}
}

func TestValidate(t *testing.T) {
	v := NewValidator(4, []string{"png"})

	c, err := v.Validate("dir/x.PNG", strings.NewReader("abcd"))
	require.NoError(t, err)
	assert.Equal(t, "x.PNG", c.OriginalName)
	assert.Equal(t, "png", c.Extension)

	_, err = v.Validate("", strings.NewReader("abcd"))
	assert.Equal(t, ReasonNoFile, reason(t, err))

	_, err = v.Validate("x.png", strings.NewReader("abcde"))
	assert.Equal(t, ReasonTooLarge, reason(t, err))
}

func TestValidationErrorMessage(t *testing.T) {
	assert.Equal(t, "No image uploaded", (&ValidationError{Reason: ReasonNoFile}).Message())
	assert.Equal(t, "Only image files are allowed!", (&ValidationError{Reason: ReasonBadType}).Message())
	assert.Equal(t, "File too large", (&ValidationError{Reason: ReasonTooLarge}).Message())

	cause := errors.New("boom")
	err := &ValidationError{Reason: ReasonNoFile, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "no file")
}
