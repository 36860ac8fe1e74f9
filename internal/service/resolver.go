package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/timmy/alttext/internal/config"
	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/storage"
	_ "golang.org/x/image/webp"
)

// SubjectGetter loads subjects by ID.
type SubjectGetter interface {
	GetByID(ctx context.Context, id string) (*domain.Subject, error)
}

// SubjectResolver reads subject images from object storage and builds the
// prompt context from the subject row and site settings.
type SubjectResolver struct {
	subjects SubjectGetter
	storage  storage.ObjectStorage
	site     config.SiteConfig
}

// NewSubjectResolver creates a resolver.
func NewSubjectResolver(subjects SubjectGetter, store storage.ObjectStorage, site config.SiteConfig) *SubjectResolver {
	return &SubjectResolver{subjects: subjects, storage: store, site: site}
}

// GetImage downloads the subject image and fills in its MIME type and size.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - subjectID: subject to resolve.
// Returns:
//   - domain.SubjectImage: bytes with MIME type and dimensions.
//   - error: domain.ErrSubjectNotFound, storage.ErrObjectNotFound, a non-image
//     payload, or domain.ErrStorageUnavailable when the store itself failed.
func (r *SubjectResolver) GetImage(ctx context.Context, subjectID string) (domain.SubjectImage, error) {
	subject, err := r.subjects.GetByID(ctx, subjectID)
	if err != nil {
		return domain.SubjectImage{}, err
	}

	data, err := storage.ReadObject(ctx, r.storage, subject.StorageKey)
	if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrObjectTooLarge) {
		return domain.SubjectImage{}, fmt.Errorf("failed to download %s: %w", subject.StorageKey, err)
	}
	if err != nil {
		return domain.SubjectImage{}, fmt.Errorf("%w: failed to download %s: %w", domain.ErrStorageUnavailable, subject.StorageKey, err)
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return domain.SubjectImage{}, fmt.Errorf("object %s is %s, not an image", subject.StorageKey, mime.String())
	}

	img := domain.SubjectImage{
		Data:     data,
		MIMEType: mime.String(),
		Width:    subject.Width,
		Height:   subject.Height,
		URL:      r.storage.GetURL(subject.StorageKey),
	}
	if img.Width <= 0 || img.Height <= 0 {
		// Dimensions only feed the token estimate; an undecodable header is not fatal.
		img.Width, img.Height, _ = imageDimensions(data)
	}
	return img, nil
}

// GetContext builds the prompt context for a subject.
func (r *SubjectResolver) GetContext(ctx context.Context, subjectID string) (domain.SubjectContext, error) {
	subject, err := r.subjects.GetByID(ctx, subjectID)
	if err != nil {
		return domain.SubjectContext{}, err
	}
	return domain.SubjectContext{
		SiteName:        r.site.Name,
		SiteDescription: r.site.Description,
		PostTitle:       subject.PostTitle,
		Categories:      subject.Categories,
		Tags:            subject.Tags,
		Exif:            subject.Exif,
	}, nil
}

func imageDimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
