package frontchat

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// Attachment is a file sent with a message or a profile update.
type Attachment struct {
	FileName string
	MimeType string
	Data     []byte
}

// AttachmentFromFile reads a file from disk.
func AttachmentFromFile(path string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	name := filepath.Base(path)
	return &Attachment{FileName: name, MimeType: guessMimeType(name), Data: data}, nil
}

// Form is a multipart/form-data request body. It is encoded once so the
// gateway can replay it after a credential refresh.
type Form struct {
	fields []formField
	files  []formFile
}

type formField struct{ name, value string }

type formFile struct {
	name string
	att  *Attachment
}

// NewForm returns an empty form.
func NewForm() *Form { return &Form{} }

// Set appends a text field.
func (f *Form) Set(name, value string) *Form {
	f.fields = append(f.fields, formField{name, value})
	return f
}

// AddFile appends a file part. A nil attachment is skipped.
func (f *Form) AddFile(name string, att *Attachment) *Form {
	if att != nil {
		f.files = append(f.files, formFile{name, att})
	}
	return f
}

func (f *Form) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, fld := range f.fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field: %w", err)
		}
	}
	for _, file := range f.files {
		fileName := file.att.FileName
		if fileName == "" {
			fileName = "upload"
		}
		mimeType := file.att.MimeType
		if mimeType == "" {
			mimeType = guessMimeType(fileName)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(file.name), escapeQuotes(fileName)))
		h.Set("Content-Type", mimeType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(file.att.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write file data: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

func guessMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	// Not in Go's builtin registry everywhere
	fallback := map[string]string{
		".webp": "image/webp", ".webm": "video/webm", ".heic": "image/heic",
		".md": "text/markdown",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
