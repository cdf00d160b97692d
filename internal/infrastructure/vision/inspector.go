package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"pest-scan/internal/domain/port"
)

// ErrLowQuality снимок не подходит для анализа
var ErrLowQuality = errors.New("image quality is too low")

// ErrUnsupportedFormat формат не входит в список разрешённых
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Inspector определяет формат по заголовку файла, не декодируя пиксели
type Inspector struct {
	allowed map[string]bool
}

// NewInspector принимает JPEG, PNG и WebP
func NewInspector() *Inspector {
	return &Inspector{allowed: map[string]bool{"jpeg": true, "png": true, "webp": true}}
}

// Inspect возвращает имя формата или ошибку, если байты не похожи на разрешённую картинку.
func (i *Inspector) Inspect(data []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if !i.allowed[format] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("%w: empty image %dx%d", ErrUnsupportedFormat, cfg.Width, cfg.Height)
	}
	return format, nil
}

var _ port.ImageInspector = (*Inspector)(nil)
