package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"pest-scan/internal/domain/entity"
	"pest-scan/internal/domain/port"
)

// Source способ, которым пользователь передал файл
type Source string

const (
	SourcePicker Source = "picker" // выбор через диалог
	SourceDrop   Source = "drop"   // перетаскивание
)

// IntakePolicy дополнительные ограничения на принимаемые файлы
type IntakePolicy struct {
	MaxImageBytes int64 // 0 — без ограничения
	StrictFormats bool  // проверять байты: только JPEG, PNG, WebP
}

// IntakeService принимает изображения и передаёт их контроллеру сессий
type IntakeService struct {
	scans     *ScanService
	inspector port.ImageInspector
	policy    IntakePolicy
}

func NewIntakeService(scans *ScanService, inspector port.ImageInspector, policy IntakePolicy) *IntakeService {
	return &IntakeService{
		scans:     scans,
		inspector: inspector,
		policy:    policy,
	}
}

// Submit выбирает файл из candidates и делает его текущим ассетом сессии.
// Не-изображение возвращает entity.ErrInvalidSelection, состояние не меняется.
func (s *IntakeService) Submit(ctx context.Context, sessionID string, source Source, candidates []entity.ImageUpload) (entity.ScanSession, error) {
	chosen, ok := pick(source, candidates)
	if !ok {
		return s.rejected(ctx, sessionID, fmt.Errorf("%w: no image among %d files", entity.ErrInvalidSelection, len(candidates)))
	}
	if err := s.validate(chosen); err != nil {
		return s.rejected(ctx, sessionID, err)
	}

	return s.scans.Select(ctx, sessionID, chosen)
}

// Clear убирает выбранный файл
func (s *IntakeService) Clear(ctx context.Context, sessionID string) (entity.ScanSession, error) {
	return s.scans.Clear(ctx, sessionID)
}

// DropZone возвращает зону перетаскивания для сессии
func (s *IntakeService) DropZone(sessionID string) *DropZone {
	return &DropZone{intake: s, sessionID: sessionID}
}

func (s *IntakeService) validate(u entity.ImageUpload) error {
	if !entity.IsImageType(u.MediaType) {
		return fmt.Errorf("%w: media type %q", entity.ErrInvalidSelection, u.MediaType)
	}
	if s.policy.MaxImageBytes > 0 && u.Size() > s.policy.MaxImageBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", entity.ErrInvalidSelection, u.Size(), s.policy.MaxImageBytes)
	}
	if s.policy.StrictFormats && s.inspector != nil {
		if _, err := s.inspector.Inspect(u.Data); err != nil {
			return fmt.Errorf("%w: %v", entity.ErrInvalidSelection, err)
		}
	}
	return nil
}

// rejected возвращает текущее состояние вместе с ошибкой отказа
func (s *IntakeService) rejected(ctx context.Context, sessionID string, cause error) (entity.ScanSession, error) {
	session, err := s.scans.Session(ctx, sessionID)
	if err != nil {
		return entity.ScanSession{}, err
	}
	return session, cause
}

// pick выбирает файл: из диалога первый, из перетаскивания первый с типом image/*
func pick(source Source, candidates []entity.ImageUpload) (entity.ImageUpload, bool) {
	if len(candidates) == 0 {
		return entity.ImageUpload{}, false
	}
	if source != SourceDrop {
		return candidates[0], true
	}
	for _, c := range candidates {
		if entity.IsImageType(c.MediaType) {
			return c, true
		}
	}
	return entity.ImageUpload{}, false
}

// DropZone хранит только подсветку зоны при перетаскивании; на сессию не влияет
type DropZone struct {
	intake    *IntakeService
	sessionID string
	active    atomic.Bool
}

func (z *DropZone) DragOver() { z.active.Store(true) }

func (z *DropZone) DragLeave() { z.active.Store(false) }

// Active сообщает, подсвечена ли зона
func (z *DropZone) Active() bool { return z.active.Load() }

// Drop снимает подсветку и передаёт файлы в Submit
func (z *DropZone) Drop(ctx context.Context, files []entity.ImageUpload) (entity.ScanSession, error) {
	z.active.Store(false)
	return z.intake.Submit(ctx, z.sessionID, SourceDrop, files)
}
