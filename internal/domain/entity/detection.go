package entity

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Severity уровень опасности вредителя
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid сообщает, входит ли значение в допустимый набор
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Pesticide рекомендованный препарат
type Pesticide struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`               // категория: Organic, Systemic...
	Application string `json:"application" yaml:"application"` // инструкция по применению
}

// ControlMethod способ борьбы или профилактики
type ControlMethod struct {
	Method        string `json:"method" yaml:"method"`
	Description   string `json:"description" yaml:"description"`
	Effectiveness string `json:"effectiveness" yaml:"effectiveness"`
}

// DetectionResult хранит итог определения вредителя.
// После сохранения в сессии не изменяется.
type DetectionResult struct {
	AssetID        string          `json:"asset_id,omitempty" yaml:"-"`
	PestName       string          `json:"pest_name" yaml:"pest_name"`
	Confidence     float64         `json:"confidence" yaml:"confidence"`
	Severity       Severity        `json:"severity" yaml:"severity"`
	Description    string          `json:"description" yaml:"description"`
	Pesticides     []Pesticide     `json:"pesticides" yaml:"pesticides"`
	ControlMethods []ControlMethod `json:"control_methods" yaml:"control_methods"`
}

// ErrInvalidResult ответ детектора не соответствует контракту
var ErrInvalidResult = errors.New("invalid detection result")

// Validate проверяет результат на границе с детектором.
func (r *DetectionResult) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: empty result", ErrInvalidResult)
	}
	if strings.TrimSpace(r.PestName) == "" {
		return fmt.Errorf("%w: pest name is empty", ErrInvalidResult)
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalidResult, r.Confidence)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidResult, r.Severity)
	}
	return nil
}

// Clone возвращает глубокую копию, чтобы сессия не делила срезы с детектором
func (r *DetectionResult) Clone() *DetectionResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Pesticides = append([]Pesticide(nil), r.Pesticides...)
	c.ControlMethods = append([]ControlMethod(nil), r.ControlMethods...)
	return &c
}
