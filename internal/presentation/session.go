package presentation

import (
	"io"

	"pest-scan/internal/domain/entity"
)

// SessionView модель страницы сессии до получения результата
type SessionView struct {
	FileName      string
	ImageURL      string
	LastFailure   string
	Analyzing     bool // форма загрузки скрыта, страница обновляется сама
	UploadAction  string
	AnalyzeAction string
}

// NewSessionView собирает модель по снимку сессии
func NewSessionView(session entity.ScanSession, uploadAction, analyzeAction string) SessionView {
	view := SessionView{
		LastFailure:   session.LastFailure,
		Analyzing:     session.State == entity.StateAnalyzing,
		UploadAction:  uploadAction,
		AnalyzeAction: analyzeAction,
	}
	if session.Asset != nil {
		view.FileName = session.Asset.Name
		view.ImageURL = session.Asset.Preview.URL
	}
	return view
}

// RenderSessionHTML пишет страницу загрузки и ожидания
func RenderSessionHTML(w io.Writer, view SessionView) error {
	return sessionTemplate.Execute(w, view)
}
