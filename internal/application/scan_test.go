package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pest-scan/internal/domain/entity"
	"pest-scan/internal/infrastructure/detection"
	"pest-scan/internal/infrastructure/storage"
	"pest-scan/internal/presentation"
)

func TestScanService_ScenarioA_FullCycle(t *testing.T) {
	stub, err := detection.NewStubDetector(10 * time.Millisecond)
	require.NoError(t, err)
	previews := newCountingPreviews()
	scans := NewScanService(storage.NewMemorySessionRepository(), previews, stub, ScanConfig{})
	t.Cleanup(scans.Close)
	intake := NewIntakeService(scans, nil, IntakePolicy{})
	ctx := context.Background()

	s, err := scans.CreateSession(ctx)
	require.NoError(t, err)

	s, err = intake.Submit(ctx, s.ID, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 2_000_000)})
	require.NoError(t, err)
	require.Equal(t, entity.StateFileSelected, s.State)
	require.Equal(t, "leaf.jpg", s.Asset.Name)
	require.Equal(t, int64(2_000_000), s.Asset.Size)

	done, err := scans.StartAnalysis(ctx, s.ID)
	require.NoError(t, err)
	s, err = scans.Session(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StateAnalyzing, s.State)

	waitDone(t, done)

	s, err = scans.Session(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StateCompleted, s.State)
	require.NoError(t, s.CheckInvariants())
	require.Equal(t, "Aphids (Aphis fabae)", s.Result.PestName)
	require.Equal(t, entity.SeverityMedium, s.Result.Severity)
	require.Len(t, s.Result.Pesticides, 3)
	require.Len(t, s.Result.ControlMethods, 3)
	require.Equal(t, "89.0%", presentation.FormatConfidence(s.Result.Confidence))
}

func TestScanService_ScenarioC_NewScanReleasesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)
	handle := s.Asset.Preview.ID

	done, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	f.detector.next(t).reply <- outcome{res: aphids()}
	waitDone(t, done)

	s, err = f.scans.StartNewScan(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, entity.StateIdle, s.State)
	require.Nil(t, s.Asset)
	require.Nil(t, s.Result)
	require.Equal(t, 1, f.previews.Revokes(handle))
	require.Equal(t, 0, f.previews.Live())
}

func TestScanService_ScenarioD_FailureKeepsAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)
	assetID := s.Asset.ID

	done, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	f.detector.next(t).reply <- outcome{err: errors.New("inference backend unavailable")}
	waitDone(t, done)

	s, err = f.scans.Session(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, entity.StateFileSelected, s.State)
	require.Equal(t, assetID, s.Asset.ID)
	require.Nil(t, s.Result)
	require.Contains(t, s.LastFailure, "inference backend unavailable")

	failures := f.reporter.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, f.session, failures[0].SessionID)
	require.Equal(t, assetID, failures[0].AssetID)

	// повтор без повторной загрузки
	done, err = f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	f.detector.next(t).reply <- outcome{res: aphids()}
	waitDone(t, done)

	s, err = f.scans.Session(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, entity.StateCompleted, s.State)
	require.Empty(t, s.LastFailure)
}

func TestScanService_InvalidResultIsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)

	done, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	bad := aphids()
	bad.Confidence = 7
	f.detector.next(t).reply <- outcome{res: bad}
	waitDone(t, done)

	s, err := f.scans.Session(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, entity.StateFileSelected, s.State)
	require.Nil(t, s.Result)

	failures := f.reporter.Failures()
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0], entity.ErrInvalidResult)
}

func TestScanService_StartAnalysisTwiceIssuesOneCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)

	first, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	second, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, first, second)

	call := f.detector.next(t)
	require.Equal(t, 0, f.detector.pending())
	call.reply <- outcome{res: aphids()}
	waitDone(t, first)
	require.Equal(t, 0, f.detector.pending())
}

func TestScanService_LateResolutionAfterNewScanIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)
	done, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	call := f.detector.next(t)

	_, err = f.scans.StartNewScan(ctx, f.session)
	require.NoError(t, err)

	call.reply <- outcome{res: aphids()}
	waitDone(t, done)

	s, err := f.scans.Session(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, entity.StateIdle, s.State)
	require.Nil(t, s.Result)
	require.Nil(t, s.Asset)
	require.Empty(t, f.reporter.Failures())
}

func TestScanService_LateResolutionDoesNotCompleteNewAnalysis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("first.jpg", 10)})
	require.NoError(t, err)
	oldDone, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	f.detector.next(t) // старый вызов не отвечает

	_, err = f.scans.StartNewScan(ctx, f.session)
	require.NoError(t, err)
	s, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("second.jpg", 10)})
	require.NoError(t, err)
	secondAsset := s.Asset.ID

	newDone, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	newCall := f.detector.next(t)
	require.Equal(t, secondAsset, newCall.asset.ID)

	// сброс отменил старый вызов, его итог отброшен
	waitDone(t, oldDone)

	s, err = f.scans.Session(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, entity.StateAnalyzing, s.State)

	// повторный запуск ждёт именно новый анализ
	again, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, newDone, again)

	newCall.reply <- outcome{res: aphids()}
	waitDone(t, newDone)

	s, err = f.scans.Session(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, entity.StateCompleted, s.State)
	require.Equal(t, secondAsset, s.Result.AssetID)
}

func TestScanService_IntakeLockedWhileAnalyzing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)
	original := s.Asset.ID

	done, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	call := f.detector.next(t)

	_, err = f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("other.jpg", 10)})
	require.ErrorIs(t, err, entity.ErrIntakeLocked)
	_, err = f.intake.Clear(ctx, f.session)
	require.ErrorIs(t, err, entity.ErrIntakeLocked)

	s, err = f.scans.Session(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, original, s.Asset.ID)
	// отклонённая загрузка не оставила живого превью
	require.Equal(t, 1, f.previews.Live())

	call.reply <- outcome{res: aphids()}
	waitDone(t, done)
}

func TestScanService_StartAnalysisRequiresAsset(t *testing.T) {
	f := newFixture(t)
	_, err := f.scans.StartAnalysis(context.Background(), f.session)
	require.ErrorIs(t, err, entity.ErrInvalidTransition)
}

func TestScanService_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.scans.Session(context.Background(), "missing")
	require.ErrorIs(t, err, entity.ErrSessionNotFound)
}

func TestScanService_TimeoutIsFailure(t *testing.T) {
	previews := newCountingPreviews()
	detector := newScriptedDetector()
	reporter := &recordingReporter{}
	scans := NewScanService(storage.NewMemorySessionRepository(), previews, detector, ScanConfig{
		AnalysisTimeout: 20 * time.Millisecond,
		Reporter:        reporter,
	})
	t.Cleanup(scans.Close)
	ctx := context.Background()

	s, err := scans.CreateSession(ctx)
	require.NoError(t, err)
	_, err = scans.Select(ctx, s.ID, jpegUpload("leaf.jpg", 10))
	require.NoError(t, err)

	done, err := scans.StartAnalysis(ctx, s.ID)
	require.NoError(t, err)
	detector.next(t) // не отвечаем
	waitDone(t, done)

	s, err = scans.Session(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StateFileSelected, s.State)
	failures := reporter.Failures()
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0], context.DeadlineExceeded)
}

func TestScanService_DeleteSessionReleasesPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)

	require.NoError(t, f.scans.DeleteSession(ctx, f.session))
	require.Equal(t, 1, f.previews.Revokes(s.Asset.Preview.ID))

	_, err = f.scans.Session(ctx, f.session)
	require.ErrorIs(t, err, entity.ErrSessionNotFound)
}

func TestScanService_PreviewServedUntilReleased(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)

	_, mediaType, err := f.scans.Preview(ctx, s.Asset.Preview.ID)
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", mediaType)

	_, err = f.intake.Clear(ctx, f.session)
	require.NoError(t, err)
	_, _, err = f.scans.Preview(ctx, s.Asset.Preview.ID)
	require.Error(t, err)
}

func TestScanService_OpenSessionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.scans.OpenSession(ctx, "chat-42")
	require.NoError(t, err)
	require.Equal(t, "chat-42", s.ID)
	require.Equal(t, entity.StateIdle, s.State)

	_, err = f.intake.Submit(ctx, "chat-42", SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)

	s, err = f.scans.OpenSession(ctx, "chat-42")
	require.NoError(t, err)
	require.Equal(t, entity.StateFileSelected, s.State)
}

func TestScanService_NewScanCancelsAbandonedCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)
	done, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	f.detector.next(t) // не отвечаем

	_, err = f.scans.StartNewScan(ctx, f.session)
	require.NoError(t, err)
	waitDone(t, done)

	s, err := f.scans.Session(ctx, f.session)
	require.NoError(t, err)
	require.Equal(t, entity.StateIdle, s.State)
	require.Empty(t, f.reporter.Failures())
}

func TestScanService_OneDetectorCallPerSession(t *testing.T) {
	scripted := newScriptedDetector()
	scripted.ignoreCancel = true
	detector := &peakDetector{next: scripted}
	reporter := &recordingReporter{}
	scans := NewScanService(storage.NewMemorySessionRepository(), newCountingPreviews(), detector, ScanConfig{
		Reporter: reporter,
	})
	t.Cleanup(scans.Close)
	intake := NewIntakeService(scans, nil, IntakePolicy{})
	ctx := context.Background()

	s, err := scans.CreateSession(ctx)
	require.NoError(t, err)
	id := s.ID

	_, err = intake.Submit(ctx, id, SourcePicker, []entity.ImageUpload{jpegUpload("first.jpg", 10)})
	require.NoError(t, err)
	oldDone, err := scans.StartAnalysis(ctx, id)
	require.NoError(t, err)
	oldCall := scripted.next(t)

	_, err = scans.StartNewScan(ctx, id)
	require.NoError(t, err)
	s, err = intake.Submit(ctx, id, SourcePicker, []entity.ImageUpload{jpegUpload("second.jpg", 10)})
	require.NoError(t, err)
	second := s.Asset.ID

	newDone, err := scans.StartAnalysis(ctx, id)
	require.NoError(t, err)

	// новый вызов ждёт, пока старый не завершится
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, scripted.pending())

	oldCall.reply <- outcome{res: aphids()}
	waitDone(t, oldDone)

	newCall := scripted.next(t)
	require.Equal(t, second, newCall.asset.ID)
	newCall.reply <- outcome{res: aphids()}
	waitDone(t, newDone)

	require.Equal(t, 1, detector.Peak())
	s, err = scans.Session(ctx, id)
	require.NoError(t, err)
	require.Equal(t, entity.StateCompleted, s.State)
	require.Equal(t, second, s.Result.AssetID)
	require.Empty(t, reporter.Failures())
}

func TestScanService_CancelledWaitingRunKeepsQueue(t *testing.T) {
	scripted := newScriptedDetector()
	scripted.ignoreCancel = true
	detector := &peakDetector{next: scripted}
	scans := NewScanService(storage.NewMemorySessionRepository(), newCountingPreviews(), detector, ScanConfig{})
	t.Cleanup(scans.Close)
	intake := NewIntakeService(scans, nil, IntakePolicy{})
	ctx := context.Background()

	s, err := scans.CreateSession(ctx)
	require.NoError(t, err)
	id := s.ID

	analyze := func(name string) <-chan struct{} {
		t.Helper()
		_, err := intake.Submit(ctx, id, SourcePicker, []entity.ImageUpload{jpegUpload(name, 10)})
		require.NoError(t, err)
		done, err := scans.StartAnalysis(ctx, id)
		require.NoError(t, err)
		return done
	}

	firstDone := analyze("first.jpg")
	firstCall := scripted.next(t)

	// второй запуск сбрасывают, пока он ещё ждёт первый вызов
	_, err = scans.StartNewScan(ctx, id)
	require.NoError(t, err)
	secondDone := analyze("second.jpg")
	_, err = scans.StartNewScan(ctx, id)
	require.NoError(t, err)
	waitDone(t, secondDone)

	thirdDone := analyze("third.jpg")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, scripted.pending())

	firstCall.reply <- outcome{res: aphids()}
	waitDone(t, firstDone)

	thirdCall := scripted.next(t)
	require.Equal(t, "third.jpg", thirdCall.asset.Name)
	thirdCall.reply <- outcome{res: aphids()}
	waitDone(t, thirdDone)

	require.Equal(t, 1, detector.Peak())
	s, err = scans.Session(ctx, id)
	require.NoError(t, err)
	require.Equal(t, entity.StateCompleted, s.State)
}

func TestScanService_TryStartAnalysisReportsRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)

	first, started, err := f.scans.TryStartAnalysis(ctx, f.session)
	require.NoError(t, err)
	require.True(t, started)

	again, started, err := f.scans.TryStartAnalysis(ctx, f.session)
	require.NoError(t, err)
	require.False(t, started)
	require.Equal(t, first, again)

	f.detector.next(t).reply <- outcome{res: aphids()}
	waitDone(t, first)
}

func TestScanService_ShutdownIsNotReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.intake.Submit(ctx, f.session, SourcePicker, []entity.ImageUpload{jpegUpload("leaf.jpg", 10)})
	require.NoError(t, err)
	done, err := f.scans.StartAnalysis(ctx, f.session)
	require.NoError(t, err)
	f.detector.next(t)

	f.scans.Close()
	waitDone(t, done)

	require.Empty(t, f.reporter.Failures())
}
