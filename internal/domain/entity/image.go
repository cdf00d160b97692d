package entity

import (
	"strings"
	"time"
)

// PreviewHandle — отзываемая ссылка на байты изображения для отрисовки
type PreviewHandle struct {
	ID  string // идентификатор в хранилище превью
	URL string // адрес, по которому рендерер получает картинку
}

// IsZero сообщает, что ссылка не выдана
func (h PreviewHandle) IsZero() bool {
	return h.ID == ""
}

// ImageUpload — кандидат, прошедший проверку и готовый стать ассетом
type ImageUpload struct {
	Name      string
	MediaType string
	Data      []byte
}

// Size возвращает размер файла в байтах
func (u ImageUpload) Size() int64 {
	return int64(len(u.Data))
}

// ImageAsset — выбранное пользователем изображение вместе с превью
type ImageAsset struct {
	ID         string        // уникален для каждого принятого файла
	Name       string        // имя файла, как его передал клиент
	MediaType  string        // объявленный MIME-тип
	Size       int64         // размер в байтах
	Data       []byte        // содержимое файла
	Preview    PreviewHandle // ссылка для отрисовки
	AcceptedAt time.Time
}

// IsImageType проверяет, что MIME-тип обозначает изображение
func IsImageType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}
