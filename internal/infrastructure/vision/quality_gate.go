//go:build gocv
// +build gocv

package vision

import (
	"context"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// QualityGate отсеивает снимки, по которым детектор не сможет определить вредителя
type QualityGate struct {
	MaxSide               int
	MinImageSide          int
	MinSharpnessEdgeRatio float64
	MaxOverexposedRatio   float64
	MaxUnderexposedRatio  float64
	MaxGlareRatio         float64
	// MinLeafCoverage — минимальная доля зелёных пикселей (лист в кадре)
	MinLeafCoverage float64
}

// NewQualityGate создаёт фильтр с порогами для фото листьев.
func NewQualityGate() *QualityGate {
	return &QualityGate{
		MaxSide:               1024,
		MinImageSide:          224,
		MinSharpnessEdgeRatio: 0.008,
		MaxOverexposedRatio:   0.35,
		MaxUnderexposedRatio:  0.45,
		MaxGlareRatio:         0.08,
		MinLeafCoverage:       0.12,
	}
}

// Check проверяет, что в кадре есть лист, затем резкость, экспозицию и блики.
func (g *QualityGate) Check(ctx context.Context, imageData []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mat, err := decodeToMat(imageData)
	if err != nil {
		return err
	}
	defer mat.Close()

	if mat.Cols() < g.MinImageSide || mat.Rows() < g.MinImageSide {
		return fmt.Errorf("%w: image is too small (%dx%d)", ErrLowQuality, mat.Cols(), mat.Rows())
	}

	// Приводим изображение к стандартному размеру для стабильных порогов.
	if mat.Cols() > g.MaxSide || mat.Rows() > g.MaxSide {
		scale := float64(g.MaxSide) / float64(max(mat.Cols(), mat.Rows()))
		resized := gocv.NewMat()
		gocv.Resize(mat, &resized, image.Pt(int(float64(mat.Cols())*scale), int(float64(mat.Rows())*scale)), 0, 0, gocv.InterpolationArea)
		mat.Close()
		mat = resized
	}

	if coverage := leafCoverage(mat); coverage < g.MinLeafCoverage {
		return fmt.Errorf("%w: no leaf in frame (leaf_coverage=%.4f)", ErrLowQuality, coverage)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 80, 160)
	if ratio := ratioOfMask(edges); ratio < g.MinSharpnessEdgeRatio {
		return fmt.Errorf("%w: image is blurry (edge_ratio=%.4f)", ErrLowQuality, ratio)
	}

	bright := gocv.NewMat()
	defer bright.Close()
	gocv.Threshold(gray, &bright, 250, 255, gocv.ThresholdBinary)
	if ratio := ratioOfMask(bright); ratio > g.MaxOverexposedRatio {
		return fmt.Errorf("%w: overexposed image (ratio=%.4f)", ErrLowQuality, ratio)
	}

	dark := gocv.NewMat()
	defer dark.Close()
	gocv.Threshold(gray, &dark, 20, 255, gocv.ThresholdBinaryInv)
	if ratio := ratioOfMask(dark); ratio > g.MaxUnderexposedRatio {
		return fmt.Errorf("%w: underexposed image (ratio=%.4f)", ErrLowQuality, ratio)
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(mat, &hsv, gocv.ColorBGRToHSV)
	channels := gocv.Split(hsv)
	for i := range channels {
		defer channels[i].Close()
	}
	if len(channels) < 3 {
		return errors.New("invalid hsv channels")
	}

	lowSat := gocv.NewMat()
	defer lowSat.Close()
	gocv.Threshold(channels[1], &lowSat, 40, 255, gocv.ThresholdBinaryInv)

	highVal := gocv.NewMat()
	defer highVal.Close()
	gocv.Threshold(channels[2], &highVal, 245, 255, gocv.ThresholdBinary)

	glare := gocv.NewMat()
	defer glare.Close()
	gocv.BitwiseAnd(lowSat, highVal, &glare)
	if ratio := ratioOfMask(glare); ratio > g.MaxGlareRatio {
		return fmt.Errorf("%w: too much glare (ratio=%.4f)", ErrLowQuality, ratio)
	}

	return nil
}

// Зелёный диапазон в HSV OpenCV (H в 0..180). Жёлтые и бурые края
// поражённых листьев тоже считаются листом.
var (
	leafLower = gocv.NewScalar(25, 40, 40, 0)
	leafUpper = gocv.NewScalar(90, 255, 255, 0)
)

// leafCoverage возвращает долю пикселей mat (BGR), попадающих в зелёный диапазон.
func leafCoverage(mat gocv.Mat) float64 {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(mat, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv, leafLower, leafUpper, &mask)
	return ratioOfMask(mask)
}

// decodeToMat превращает байты изображения в gocv.Mat.
func decodeToMat(imageData []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(imageData, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	if !mat.Empty() {
		mat.Close()
	}
	return gocv.NewMat(), errors.New("failed to decode image")
}

func ratioOfMask(mask gocv.Mat) float64 {
	total := mask.Cols() * mask.Rows()
	if total <= 0 {
		return 0
	}
	return float64(gocv.CountNonZero(mask)) / float64(total)
}
