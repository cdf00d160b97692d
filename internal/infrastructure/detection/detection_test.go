package detection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pest-scan/internal/domain/entity"
)

func testAsset() *entity.ImageAsset {
	return &entity.ImageAsset{ID: "a1", Name: "leaf.jpg", MediaType: "image/jpeg", Data: []byte{0xff, 0xd8}}
}

func TestStubDetector_ReturnsCatalogPayload(t *testing.T) {
	d, err := NewStubDetector(time.Millisecond)
	require.NoError(t, err)

	res, err := d.Detect(context.Background(), testAsset())
	require.NoError(t, err)
	assert.Equal(t, "Aphids (Aphis fabae)", res.PestName)
	assert.InDelta(t, 0.89, res.Confidence, 1e-9)
	assert.Equal(t, entity.SeverityMedium, res.Severity)
	require.Len(t, res.Pesticides, 3)
	require.Len(t, res.ControlMethods, 3)
	assert.Equal(t, "Neem Oil", res.Pesticides[0].Name)
	assert.Equal(t, "Imidacloprid", res.Pesticides[2].Name)
	assert.Equal(t, "Biological Control", res.ControlMethods[0].Method)

	// каждый вызов получает свою копию
	res.Pesticides[0].Name = "changed"
	again, err := d.Detect(context.Background(), testAsset())
	require.NoError(t, err)
	assert.Equal(t, "Neem Oil", again.Pesticides[0].Name)
}

func TestStubDetector_Cancelled(t *testing.T) {
	d, err := NewStubDetector(time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Detect(ctx, testAsset())
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadResult_RejectsInvalid(t *testing.T) {
	_, err := LoadResult([]byte("pest_name: x\nconfidence: 2\nseverity: low\n"))
	require.ErrorIs(t, err, entity.ErrInvalidResult)
}

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func TestRemoteDetector_Success(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, "http://inference.local/predict",
		func(req *http.Request) (*http.Response, error) {
			file, header, err := req.FormFile("file")
			if err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, "no file"), nil
			}
			defer file.Close()
			data, _ := io.ReadAll(file)
			if header.Filename != "leaf.jpg" || len(data) != 2 {
				return httpmock.NewStringResponse(http.StatusBadRequest, "bad file"), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"pestName":    "Spider Mites",
				"confidence":  0.72,
				"severity":    "HIGH",
				"description": "Tiny arachnids.",
				"pesticides": []map[string]string{
					{"name": "Abamectin", "type": "Miticide", "application": "Spray leaf undersides."},
				},
				"controlMethods": []map[string]string{
					{"method": "Humidity", "description": "Raise humidity.", "effectiveness": "Medium"},
				},
			})
		})

	d := NewRemoteDetector("http://inference.local/", nil)
	res, err := d.Detect(context.Background(), testAsset())
	require.NoError(t, err)
	assert.Equal(t, "Spider Mites", res.PestName)
	assert.Equal(t, entity.SeverityHigh, res.Severity)
	require.Len(t, res.Pesticides, 1)
	assert.Equal(t, "Abamectin", res.Pesticides[0].Name)
	require.Len(t, res.ControlMethods, 1)
	assert.Equal(t, "Humidity", res.ControlMethods[0].Method)
}

func TestRemoteDetector_HTTPError(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, "http://inference.local/predict",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy"))

	_, err := NewRemoteDetector("http://inference.local", nil).Detect(context.Background(), testAsset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRemoteDetector_InvalidPayload(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodPost, "http://inference.local/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"pestName":"","confidence":0.5,"severity":"low"}`))

	_, err := NewRemoteDetector("http://inference.local", nil).Detect(context.Background(), testAsset())
	require.ErrorIs(t, err, entity.ErrInvalidResult)
}

func TestRemoteDetector_CheckHealth(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodGet, "http://inference.local/health",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"ok"}`))

	require.NoError(t, NewRemoteDetector("http://inference.local", nil).CheckHealth(context.Background()))
}

type gateFunc func(ctx context.Context, data []byte) error

func (f gateFunc) Check(ctx context.Context, data []byte) error { return f(ctx, data) }

type countingDetector struct{ calls int }

func (d *countingDetector) Detect(ctx context.Context, asset *entity.ImageAsset) (*entity.DetectionResult, error) {
	d.calls++
	return &entity.DetectionResult{PestName: "x", Confidence: 0.1, Severity: entity.SeverityLow}, nil
}

func TestQualityGatedDetector(t *testing.T) {
	blurry := errors.New("blurry")
	next := &countingDetector{}

	rejecting := NewQualityGatedDetector(gateFunc(func(context.Context, []byte) error { return blurry }), next)
	_, err := rejecting.Detect(context.Background(), testAsset())
	require.ErrorIs(t, err, blurry)
	require.Equal(t, 0, next.calls)

	passing := NewQualityGatedDetector(gateFunc(func(context.Context, []byte) error { return nil }), next)
	_, err = passing.Detect(context.Background(), testAsset())
	require.NoError(t, err)
	require.Equal(t, 1, next.calls)
}
