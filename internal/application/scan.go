package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pest-scan/internal/domain/entity"
	"pest-scan/internal/domain/port"
)

// ScanConfig необязательные зависимости контроллера
type ScanConfig struct {
	AnalysisTimeout time.Duration // 0 — без ограничения
	Reporter        port.FailureReporter
	Observer        port.ScanObserver
	Logger          *slog.Logger
}

// ScanService управляет сессиями сканирования: переходы состояний,
// жизненный цикл превью и вызовы детектора.
type ScanService struct {
	mu       sync.Mutex
	repo     port.SessionRepository
	previews port.PreviewStore
	detector port.PestDetector
	reporter port.FailureReporter
	observer port.ScanObserver
	logger   *slog.Logger
	timeout  time.Duration

	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight map[string]*analysisRun  // анализ, которого ждёт сессия
	settling map[string]chan struct{} // последний вызов детектора сессии, пока он не завершился
}

// analysisRun один запущенный анализ
type analysisRun struct {
	done    chan struct{} // ответ обработан
	settled chan struct{} // этот и все предыдущие вызовы детектора сессии вернулись
	cancel  context.CancelFunc
}

// NewScanService создаёт контроллер сессий.
func NewScanService(repo port.SessionRepository, previews port.PreviewStore, detector port.PestDetector, cfg ScanConfig) *ScanService {
	ctx, cancel := context.WithCancel(context.Background())

	s := &ScanService{
		repo:     repo,
		previews: previews,
		detector: detector,
		reporter: cfg.Reporter,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		timeout:  cfg.AnalysisTimeout,
		baseCtx:  ctx,
		cancel:   cancel,
		inflight: make(map[string]*analysisRun),
		settling: make(map[string]chan struct{}),
	}
	if s.reporter == nil {
		s.reporter = nopReporter{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "scan")

	return s
}

// CreateSession открывает новую сессию в состоянии Idle
func (s *ScanService) CreateSession(ctx context.Context) (entity.ScanSession, error) {
	session := entity.NewScanSession(uuid.NewString())
	if err := s.repo.Create(ctx, session); err != nil {
		return entity.ScanSession{}, err
	}
	s.observer.Transition(entity.StateIdle)
	return session.Snapshot(), nil
}

// OpenSession возвращает сессию с заданным ID, создавая её при первом обращении.
// Бот использует ID чата.
func (s *ScanService) OpenSession(ctx context.Context, id string) (entity.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.Get(ctx, id)
	if err == nil {
		return session.Snapshot(), nil
	}
	if !errors.Is(err, entity.ErrSessionNotFound) {
		return entity.ScanSession{}, err
	}

	session = entity.NewScanSession(id)
	if err := s.repo.Create(ctx, session); err != nil {
		return entity.ScanSession{}, err
	}
	s.observer.Transition(entity.StateIdle)
	return session.Snapshot(), nil
}

// Session возвращает копию состояния сессии
func (s *ScanService) Session(ctx context.Context, id string) (entity.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return entity.ScanSession{}, err
	}
	return session.Snapshot(), nil
}

// Select принимает проверенный файл: создаёт превью и заменяет текущий ассет.
func (s *ScanService) Select(ctx context.Context, id string, upload entity.ImageUpload) (entity.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return entity.ScanSession{}, err
	}
	if session.State == entity.StateAnalyzing {
		return session.Snapshot(), entity.ErrIntakeLocked
	}

	handle, err := s.previews.Create(ctx, upload.Data, upload.MediaType)
	if err != nil {
		return session.Snapshot(), err
	}
	s.observer.PreviewsLive(1)

	asset := &entity.ImageAsset{
		ID:         uuid.NewString(),
		Name:       upload.Name,
		MediaType:  upload.MediaType,
		Size:       upload.Size(),
		Data:       upload.Data,
		Preview:    handle,
		AcceptedAt: time.Now(),
	}

	released, err := session.Select(asset)
	if err != nil {
		s.release(ctx, asset)
		return session.Snapshot(), err
	}
	s.release(ctx, released)
	s.observer.Transition(session.State)

	s.logger.InfoContext(ctx, "image selected",
		"session_id", id,
		"asset_id", asset.ID,
		"name", asset.Name,
		"media_type", asset.MediaType,
		"size", asset.Size)

	return session.Snapshot(), nil
}

// Clear убирает выбранный файл
func (s *ScanService) Clear(ctx context.Context, id string) (entity.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return entity.ScanSession{}, err
	}

	prev := session.State
	released, err := session.Clear()
	if err != nil {
		return session.Snapshot(), err
	}
	s.release(ctx, released)
	if prev != session.State {
		s.observer.Transition(session.State)
	}

	return session.Snapshot(), nil
}

// StartAnalysis запускает анализ выбранного файла.
// Возвращает канал, который закрывается после обработки ответа детектора.
// Повторный вызов во время анализа не создаёт второго запроса.
func (s *ScanService) StartAnalysis(ctx context.Context, id string) (<-chan struct{}, error) {
	done, _, err := s.TryStartAnalysis(ctx, id)
	return done, err
}

// TryStartAnalysis как StartAnalysis, но сообщает, был ли анализ запущен этим вызовом.
// started == false значит, что сессия уже ждёт ответа и done принадлежит тому анализу.
func (s *ScanService) TryStartAnalysis(ctx context.Context, id string) (done <-chan struct{}, started bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	analysis, started, err := session.BeginAnalysis()
	if err != nil {
		return nil, false, err
	}
	if !started {
		if run, ok := s.inflight[id]; ok {
			return run.done, false, nil
		}
		closed := make(chan struct{})
		close(closed)
		return closed, false, nil
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	run := &analysisRun{done: make(chan struct{}), settled: make(chan struct{}), cancel: cancel}
	prev := s.settling[id]
	s.inflight[id] = run
	s.settling[id] = run.settled
	s.observer.Transition(session.State)

	s.logger.InfoContext(ctx, "analysis started", "session_id", id, "asset_id", analysis.Asset.ID)

	s.wg.Add(1)
	go s.analyze(runCtx, id, analysis, run, prev)

	return run.done, true, nil
}

// StartNewScan сбрасывает сессию в Idle из любого состояния.
// Ответ детектора на прерванный анализ будет отброшен.
func (s *ScanService) StartNewScan(ctx context.Context, id string) (entity.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return entity.ScanSession{}, err
	}

	s.abandon(id)
	released := session.Reset()
	s.release(ctx, released)
	s.observer.Transition(session.State)

	return session.Snapshot(), nil
}

// DeleteSession освобождает ресурсы сессии и забывает её
func (s *ScanService) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	s.abandon(id)
	s.release(ctx, session.Reset())
	return s.repo.Delete(ctx, id)
}

// abandon отменяет анализ, которого сессия больше не ждёт.
// Его ответ всё равно будет отброшен как устаревший.
func (s *ScanService) abandon(id string) {
	if run, ok := s.inflight[id]; ok {
		run.cancel()
		delete(s.inflight, id)
	}
}

// Preview отдаёт байты превью для отрисовки
func (s *ScanService) Preview(ctx context.Context, handleID string) ([]byte, string, error) {
	return s.previews.Open(ctx, handleID)
}

// Close отменяет незавершённые анализы и дожидается их горутин
func (s *ScanService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *ScanService) analyze(ctx context.Context, id string, analysis entity.Analysis, run *analysisRun, prev <-chan struct{}) {
	defer s.wg.Done()
	defer s.settle(id, run, prev)
	defer close(run.done)
	defer run.cancel()

	// у сессии не больше одного вызова детектора одновременно
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	var result *entity.DetectionResult
	err := ctx.Err()
	if err == nil {
		result, err = s.callDetector(ctx, analysis.Asset)
	}
	elapsed := time.Since(started).Seconds()

	failure := s.resolve(id, analysis, run, result, err, elapsed)
	if failure == nil {
		return
	}
	// остановка сервиса не ошибка детектора
	if s.baseCtx.Err() != nil {
		s.logger.Info("analysis interrupted by shutdown", "session_id", id, "asset_id", analysis.Asset.ID)
		return
	}
	s.reporter.Report(ctx, failure)
}

// settle дожидается предыдущего вызова детектора и снимает запуск из очереди сессии.
// Отменённый в ожидании запуск не должен открыть дорогу следующему раньше времени.
func (s *ScanService) settle(id string, run *analysisRun, prev <-chan struct{}) {
	if prev != nil {
		<-prev
	}
	s.mu.Lock()
	if s.settling[id] == run.settled {
		delete(s.settling, id)
	}
	s.mu.Unlock()
	close(run.settled)
}

// callDetector вызывает детектор и проверяет ответ на границе
func (s *ScanService) callDetector(ctx context.Context, asset *entity.ImageAsset) (result *entity.DetectionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, errors.New("detector panicked")
			s.logger.Error("detector panic", "panic", r)
		}
	}()

	result, err = s.detector.Detect(ctx, asset)
	if err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// resolve применяет ответ, если сессия всё ещё ждёт именно его
func (s *ScanService) resolve(id string, analysis entity.Analysis, run *analysisRun, result *entity.DetectionResult, detectErr error, elapsed float64) *entity.DetectionFailure {
	s.mu.Lock()
	defer s.mu.Unlock()

	// после сброса сессия могла запустить новый анализ
	if s.inflight[id] == run {
		delete(s.inflight, id)
	}

	session, err := s.repo.Get(context.Background(), id)
	if err != nil {
		s.observer.DetectionResolved(port.OutcomeStale, elapsed)
		s.logger.Debug("detection resolved for removed session", "session_id", id)
		return nil
	}

	if detectErr != nil {
		if !session.Fail(analysis, detectErr) {
			s.observer.DetectionResolved(port.OutcomeStale, elapsed)
			s.logger.Debug("stale detection failure discarded", "session_id", id, "asset_id", analysis.Asset.ID, "error", detectErr)
			return nil
		}
		s.observer.DetectionResolved(port.OutcomeFailure, elapsed)
		s.observer.Transition(session.State)
		s.logger.Warn("analysis failed", "session_id", id, "asset_id", analysis.Asset.ID, "error", detectErr)
		return &entity.DetectionFailure{SessionID: id, AssetID: analysis.Asset.ID, Err: detectErr}
	}

	if !session.Complete(analysis, result) {
		s.observer.DetectionResolved(port.OutcomeStale, elapsed)
		s.logger.Debug("stale detection result discarded", "session_id", id, "asset_id", analysis.Asset.ID)
		return nil
	}
	s.observer.DetectionResolved(port.OutcomeSuccess, elapsed)
	s.observer.Transition(session.State)
	s.logger.Info("analysis completed",
		"session_id", id,
		"asset_id", analysis.Asset.ID,
		"pest", result.PestName,
		"confidence", result.Confidence,
		"severity", result.Severity)
	return nil
}

// release отзывает превью вытесненного ассета ровно один раз
func (s *ScanService) release(ctx context.Context, asset *entity.ImageAsset) {
	if asset == nil || asset.Preview.IsZero() {
		return
	}
	if err := s.previews.Revoke(ctx, asset.Preview); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke preview", "asset_id", asset.ID, "error", err)
		return
	}
	s.observer.PreviewsLive(-1)
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, *entity.DetectionFailure) {}

type nopObserver struct{}

func (nopObserver) Transition(entity.SessionState)    {}
func (nopObserver) DetectionResolved(string, float64) {}
func (nopObserver) PreviewsLive(int)                  {}
