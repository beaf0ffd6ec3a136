// Package attachments validates attachment metadata handed to the message
// API. Uploads happen elsewhere; the core stores the URL and metadata only.
package attachments

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/model"
)

const (
	DefaultMaxSize = 25 << 20
	fallbackMIME   = "application/octet-stream"
)

type Resolver struct {
	allowedHosts []string
	maxSize      int64
}

// NewResolver accepts any host when allowedHosts is empty.
func NewResolver(allowedHosts []string, maxSize int64) *Resolver {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Resolver{allowedHosts: allowedHosts, maxSize: maxSize}
}

// Resolve normalizes a and derives the message kind from its MIME type.
func (r *Resolver) Resolve(a model.Attachment) (model.Attachment, model.Kind, error) {
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return a, "", invalid("url must be an absolute http(s) url")
	}
	if len(r.allowedHosts) > 0 && !slices.Contains(r.allowedHosts, u.Hostname()) {
		return a, "", invalid("host %q is not allowed", u.Hostname())
	}
	if a.Size < 0 || a.Size > r.maxSize {
		return a, "", invalid("size must be between 0 and %d bytes", r.maxSize)
	}
	if a.Filename == "" {
		a.Filename = path.Base(u.Path)
	}

	if a.MimeType == "" {
		a.MimeType = fallbackMIME
	}
	mt := mimetype.Lookup(strings.ToLower(a.MimeType))
	if mt == nil {
		return a, "", invalid("unsupported mime type %q", a.MimeType)
	}
	a.MimeType = mt.String()

	kind := model.KindFile
	if strings.HasPrefix(a.MimeType, "image/") {
		kind = model.KindImage
	}
	a.Type = string(kind)
	return a, kind, nil
}

// FromFile builds attachment metadata for a local file that has been
// uploaded to rawURL, sniffing the MIME type from its content.
func FromFile(filePath, rawURL string) (model.Attachment, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return model.Attachment{}, err
	}
	mt, err := mimetype.DetectFile(filePath)
	if err != nil {
		return model.Attachment{}, err
	}
	kind := model.KindFile
	if strings.HasPrefix(mt.String(), "image/") {
		kind = model.KindImage
	}
	return model.Attachment{
		Type:     string(kind),
		URL:      rawURL,
		Filename: path.Base(filePath),
		Size:     info.Size(),
		MimeType: mt.String(),
	}, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrInvalidAttachment, fmt.Sprintf(format, args...))
}
