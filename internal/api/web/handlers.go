package web

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"

	app "pest-scan/internal/application"
	"pest-scan/internal/domain/entity"
	"pest-scan/internal/presentation"
)

type assetResponse struct {
	Name       string `json:"name"`
	MediaType  string `json:"media_type"`
	Size       int64  `json:"size"`
	PreviewURL string `json:"preview_url"`
}

type resultResponse struct {
	PestName       string                 `json:"pest_name"`
	Description    string                 `json:"description"`
	Confidence     string                 `json:"confidence"`
	Severity       string                 `json:"severity"`
	SeverityWeight int                    `json:"severity_weight"`
	SeverityTone   string                 `json:"severity_tone"`
	ImageURL       string                 `json:"image_url"`
	Pesticides     []entity.Pesticide     `json:"pesticides"`
	ControlMethods []entity.ControlMethod `json:"control_methods"`
	NewScanAction  string                 `json:"new_scan_action"`
}

type sessionResponse struct {
	ID            string          `json:"id"`
	State         string          `json:"state"`
	IntakeEnabled bool            `json:"intake_enabled"`
	Asset         *assetResponse  `json:"asset,omitempty"`
	Result        *resultResponse `json:"result,omitempty"`
	LastFailure   string          `json:"last_failure,omitempty"`
}

func newSessionResponse(s entity.ScanSession) sessionResponse {
	resp := sessionResponse{
		ID:            s.ID,
		State:         string(s.State),
		IntakeEnabled: s.State != entity.StateAnalyzing,
		LastFailure:   s.LastFailure,
	}
	if s.Asset != nil {
		resp.Asset = &assetResponse{
			Name:       s.Asset.Name,
			MediaType:  s.Asset.MediaType,
			Size:       s.Asset.Size,
			PreviewURL: s.Asset.Preview.URL,
		}
	}
	if s.Result != nil && s.Asset != nil {
		view := presentation.NewResultView(s.Result, s.Asset.Preview, newScanPath(s.ID))
		resp.Result = &resultResponse{
			PestName:       view.PestName,
			Description:    view.Description,
			Confidence:     view.Confidence,
			Severity:       string(s.Result.Severity),
			SeverityWeight: view.Severity.Weight,
			SeverityTone:   view.Severity.Tone,
			ImageURL:       view.ImageURL,
			Pesticides:     view.Pesticides,
			ControlMethods: view.ControlMethods,
			NewScanAction:  view.NewScanAction,
		}
	}
	return resp
}

func newScanPath(id string) string {
	return "/api/sessions/" + id + "/new-scan"
}

func pagePath(id string) string {
	return "/sessions/" + id
}

// wantsPage: запрос отправлен формой со страницы сессии, отвечаем переходом на неё
func wantsPage(c echo.Context) bool {
	return c.FormValue("return") == "page"
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(c echo.Context) error {
	session, err := s.scans.CreateSession(c.Request().Context())
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusCreated, newSessionResponse(session))
}

func (s *Server) handleGetSession(c echo.Context) error {
	session, err := s.scans.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, newSessionResponse(session))
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	if err := s.scans.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return s.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleSubmitImage принимает поле "file" (диалог) или "files" (перетаскивание)
func (s *Server) handleSubmitImage(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to parse form")
	}

	ctx := c.Request().Context()
	id := c.Param("id")

	var session entity.ScanSession
	switch {
	case len(form.File["file"]) > 0:
		uploads, err := readUploads(form.File["file"][:1])
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Failed to read file")
		}
		session, err = s.intake.Submit(ctx, id, app.SourcePicker, uploads)
		if err != nil {
			return s.httpError(err)
		}
	case len(form.File["files"]) > 0:
		uploads, err := readUploads(form.File["files"])
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Failed to read files")
		}
		session, err = s.intake.DropZone(id).Drop(ctx, uploads)
		if err != nil {
			return s.httpError(err)
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded")
	}

	if wantsPage(c) {
		return c.Redirect(http.StatusSeeOther, pagePath(id))
	}
	return c.JSON(http.StatusOK, newSessionResponse(session))
}

func (s *Server) handleClearImage(c echo.Context) error {
	session, err := s.intake.Clear(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, newSessionResponse(session))
}

func (s *Server) handleStartAnalysis(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.scans.StartAnalysis(ctx, id); err != nil {
		return s.httpError(err)
	}
	if wantsPage(c) {
		return c.Redirect(http.StatusSeeOther, pagePath(id))
	}
	session, err := s.scans.Session(ctx, id)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusAccepted, newSessionResponse(session))
}

func (s *Server) handleNewScan(c echo.Context) error {
	id := c.Param("id")
	session, err := s.scans.StartNewScan(c.Request().Context(), id)
	if err != nil {
		return s.httpError(err)
	}

	// форма со страницы результата
	if wantsPage(c) {
		return c.Redirect(http.StatusSeeOther, pagePath(id))
	}
	return c.JSON(http.StatusOK, newSessionResponse(session))
}

func (s *Server) handleResultPage(c echo.Context) error {
	session, err := s.scans.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}

	var buf bytes.Buffer
	if session.State == entity.StateCompleted {
		view := presentation.NewResultView(session.Result, session.Asset.Preview, newScanPath(session.ID))
		err = presentation.RenderHTML(&buf, view)
	} else {
		base := "/api/sessions/" + session.ID
		err = presentation.RenderSessionHTML(&buf, presentation.NewSessionView(session, base+"/image", base+"/analysis"))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (s *Server) handlePreview(c echo.Context) error {
	data, mediaType, err := s.scans.Preview(c.Request().Context(), c.Param("handle"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Preview not found")
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Blob(http.StatusOK, mediaType, data)
}

// httpError переводит ошибки домена в HTTP-статусы
func (s *Server) httpError(err error) error {
	switch {
	case errors.Is(err, entity.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, entity.ErrInvalidSelection):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, entity.ErrIntakeLocked), errors.Is(err, entity.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// readUploads читает файлы формы. Без заголовка части тип определяется по расширению.
func readUploads(headers []*multipart.FileHeader) ([]entity.ImageUpload, error) {
	uploads := make([]entity.ImageUpload, 0, len(headers))
	for _, h := range headers {
		data, err := readFile(h)
		if err != nil {
			return nil, err
		}
		mediaType := h.Header.Get(echo.HeaderContentType)
		if mediaType == "" || mediaType == "application/octet-stream" {
			if byExt := mime.TypeByExtension(filepath.Ext(h.Filename)); byExt != "" {
				mediaType = byExt
			}
		}
		uploads = append(uploads, entity.ImageUpload{
			Name:      h.Filename,
			MediaType: mediaType,
			Data:      data,
		})
	}
	return uploads, nil
}

func readFile(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
