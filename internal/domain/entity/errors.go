package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSelection выбранный файл не является изображением
	ErrInvalidSelection = errors.New("selection is not an image")
	// ErrIntakeLocked приём файлов закрыт на время анализа
	ErrIntakeLocked = errors.New("intake is locked while analysis is running")
	// ErrInvalidTransition операция недопустима в текущем состоянии
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrSessionNotFound сессия не найдена
	ErrSessionNotFound = errors.New("scan session not found")
)

// DetectionFailure — детектор вернул ошибку или некорректный ответ
type DetectionFailure struct {
	SessionID string
	AssetID   string
	Err       error
}

func (f *DetectionFailure) Error() string {
	return fmt.Sprintf("detection failed for session %s (asset %s): %v", f.SessionID, f.AssetID, f.Err)
}

func (f *DetectionFailure) Unwrap() error {
	return f.Err
}
