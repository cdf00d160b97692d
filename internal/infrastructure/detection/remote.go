package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"pest-scan/internal/domain/entity"
	"pest-scan/internal/domain/port"
)

// RemoteDetector отправляет изображение во внешний сервис инференса
type RemoteDetector struct {
	inferenceURL string
	client       *http.Client
}

// NewRemoteDetector создаёт адаптер к сервису по адресу inferenceURL
func NewRemoteDetector(inferenceURL string, client *http.Client) *RemoteDetector {
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteDetector{
		inferenceURL: strings.TrimRight(inferenceURL, "/"),
		client:       client,
	}
}

// remoteResponse формат ответа сервиса инференса
type remoteResponse struct {
	PestName    string  `json:"pestName"`
	Confidence  float64 `json:"confidence"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	Pesticides  []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Application string `json:"application"`
	} `json:"pesticides"`
	ControlMethods []struct {
		Method        string `json:"method"`
		Description   string `json:"description"`
		Effectiveness string `json:"effectiveness"`
	} `json:"controlMethods"`
}

// Detect выполняет inference через внешний сервис
func (d *RemoteDetector) Detect(ctx context.Context, asset *entity.ImageAsset) (*entity.DetectionResult, error) {
	// Создаём multipart запрос
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := asset.Name
	if name == "" {
		name = "image"
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(asset.Data)); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.inferenceURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference failed with status: %d", resp.StatusCode)
	}

	var payload remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := payload.toResult()
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// CheckHealth проверяет доступность сервиса инференса
func (d *RemoteDetector) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.inferenceURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}

	return nil
}

func (p remoteResponse) toResult() *entity.DetectionResult {
	result := &entity.DetectionResult{
		PestName:       strings.TrimSpace(p.PestName),
		Confidence:     p.Confidence,
		Severity:       entity.Severity(strings.ToLower(strings.TrimSpace(p.Severity))),
		Description:    p.Description,
		Pesticides:     make([]entity.Pesticide, 0, len(p.Pesticides)),
		ControlMethods: make([]entity.ControlMethod, 0, len(p.ControlMethods)),
	}
	for _, ps := range p.Pesticides {
		result.Pesticides = append(result.Pesticides, entity.Pesticide{
			Name:        ps.Name,
			Type:        ps.Type,
			Application: ps.Application,
		})
	}
	for _, m := range p.ControlMethods {
		result.ControlMethods = append(result.ControlMethods, entity.ControlMethod{
			Method:        m.Method,
			Description:   m.Description,
			Effectiveness: m.Effectiveness,
		})
	}
	return result
}

var _ port.PestDetector = (*RemoteDetector)(nil)
