package entity

import (
	"fmt"
	"time"
)

// SessionState состояние сессии сканирования
type SessionState string

const (
	StateIdle         SessionState = "idle"          // Ждём изображение
	StateFileSelected SessionState = "file_selected" // Файл выбран
	StateAnalyzing    SessionState = "analyzing"     // Идёт анализ
	StateCompleted    SessionState = "completed"     // Есть результат
)

// Analysis описывает запущенный вызов детектора.
// По нему сессия узнаёт устаревшие ответы.
type Analysis struct {
	Token uint64
	Asset *ImageAsset
}

// ScanSession представляет один цикл загрузка → анализ → результат
type ScanSession struct {
	ID          string
	State       SessionState
	Asset       *ImageAsset
	Result      *DetectionResult
	LastFailure string // текст последней ошибки детектора
	UpdatedAt   time.Time

	token uint64
}

// NewScanSession создаёт сессию в начальном состоянии
func NewScanSession(id string) *ScanSession {
	return &ScanSession{
		ID:        id,
		State:     StateIdle,
		UpdatedAt: time.Now(),
	}
}

// Select делает asset текущим. Возвращает вытесненный ассет, превью которого нужно освободить.
func (s *ScanSession) Select(asset *ImageAsset) (*ImageAsset, error) {
	if asset == nil {
		return nil, fmt.Errorf("%w: nil asset", ErrInvalidSelection)
	}
	if s.State == StateAnalyzing {
		return nil, ErrIntakeLocked
	}

	released := s.Asset
	s.Asset = asset
	s.Result = nil
	s.LastFailure = ""
	s.setState(StateFileSelected)
	return released, nil
}

// Clear убирает выбранный файл и возвращает сессию в Idle
func (s *ScanSession) Clear() (*ImageAsset, error) {
	switch s.State {
	case StateAnalyzing:
		return nil, ErrIntakeLocked
	case StateIdle:
		return nil, nil
	}

	released := s.Asset
	s.Asset = nil
	s.Result = nil
	s.LastFailure = ""
	s.setState(StateIdle)
	return released, nil
}

// BeginAnalysis переводит сессию в Analyzing.
// started=false, если анализ уже идёт: второй вызов детектора не нужен.
func (s *ScanSession) BeginAnalysis() (a Analysis, started bool, err error) {
	switch s.State {
	case StateAnalyzing:
		return Analysis{Token: s.token, Asset: s.Asset}, false, nil
	case StateFileSelected:
		s.LastFailure = ""
		s.setState(StateAnalyzing)
		return Analysis{Token: s.token, Asset: s.Asset}, true, nil
	default:
		return Analysis{}, false, fmt.Errorf("%w: cannot start analysis from %s", ErrInvalidTransition, s.State)
	}
}

// Complete сохраняет результат, если ответ относится к текущему анализу
func (s *ScanSession) Complete(a Analysis, result *DetectionResult) bool {
	if !s.awaiting(a) || result == nil {
		return false
	}

	stored := result.Clone()
	stored.AssetID = s.Asset.ID
	s.Result = stored
	s.setState(StateCompleted)
	return true
}

// Fail возвращает сессию к выбранному файлу, чтобы можно было повторить анализ
func (s *ScanSession) Fail(a Analysis, cause error) bool {
	if !s.awaiting(a) {
		return false
	}

	if cause != nil {
		s.LastFailure = cause.Error()
	}
	s.setState(StateFileSelected)
	return true
}

// Reset начинает новое сканирование из любого состояния
func (s *ScanSession) Reset() *ImageAsset {
	released := s.Asset
	s.Asset = nil
	s.Result = nil
	s.LastFailure = ""
	s.setState(StateIdle)
	return released
}

// Snapshot возвращает копию для чтения вне контроллера.
// Result копируется целиком; байты ассета (Asset.Data) общие и только для чтения.
func (s *ScanSession) Snapshot() ScanSession {
	c := *s
	if s.Asset != nil {
		asset := *s.Asset
		c.Asset = &asset
	}
	c.Result = s.Result.Clone()
	return c
}

// CheckInvariants проверяет согласованность состояния
func (s *ScanSession) CheckInvariants() error {
	if (s.Result != nil) != (s.State == StateCompleted) {
		return fmt.Errorf("session %s: result present=%t in state %s", s.ID, s.Result != nil, s.State)
	}
	if (s.Asset != nil) != (s.State != StateIdle) {
		return fmt.Errorf("session %s: asset present=%t in state %s", s.ID, s.Asset != nil, s.State)
	}
	if s.Result != nil && s.Result.AssetID != s.Asset.ID {
		return fmt.Errorf("session %s: result belongs to asset %s, current is %s", s.ID, s.Result.AssetID, s.Asset.ID)
	}
	return nil
}

func (s *ScanSession) awaiting(a Analysis) bool {
	return s.State == StateAnalyzing &&
		a.Token == s.token &&
		a.Asset != nil && s.Asset != nil &&
		a.Asset.ID == s.Asset.ID
}

// setState меняет состояние. Каждый переход выдаёт новый токен,
// поэтому ответы на прежние анализы становятся устаревшими.
func (s *ScanSession) setState(state SessionState) {
	s.token++
	s.State = state
	s.UpdatedAt = time.Now()
}
