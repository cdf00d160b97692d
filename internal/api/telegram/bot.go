package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	app "pest-scan/internal/application"
	"pest-scan/internal/domain/entity"
	"pest-scan/internal/presentation"
)

const (
	msgStart = `👋 Привет! Я бот для определения вредителей растений.

📸 Отправьте мне фото поражённого листа или стебля, затем команду /analyze.

📋 Команды:
/analyze — определить вредителя
/new — новая проверка
/cancel — убрать выбранное фото
/help — справка`

	msgHelp = `ℹ️ Как пользоваться ботом:

1️⃣ Отправьте фото растения (можно файлом)
2️⃣ Отправьте /analyze
3️⃣ Получите название вредителя, уровень опасности и рекомендации

💡 Рекомендации:
• Снимайте поражённый участок крупным планом
• Фото должно быть чётким и хорошо освещённым

📋 Команды:
/analyze — определить вредителя
/new — новая проверка
/cancel — убрать выбранное фото`

	msgPhotoSelected   = "✅ Фото получено. Отправьте /analyze, чтобы определить вредителя."
	msgPhotoReplaced   = "🔄 Фото заменено. Отправьте /analyze для анализа."
	msgNotImage        = "🚫 Это не изображение. Пришлите фото или файл с картинкой."
	msgSendPhoto       = "📸 Пожалуйста, отправьте фото растения для проверки."
	msgNoPhoto         = "📸 Сначала отправьте фото растения."
	msgBusy            = "⏳ Идёт анализ, дождитесь результата."
	msgProcessing      = "🔬 Анализирую изображение..."
	msgAnalysisFailed  = "⚠️ Не удалось определить вредителя. Фото сохранено, попробуйте /analyze ещё раз или пришлите другое."
	msgCancelled       = "❌ Фото убрано. Отправьте новое фото для проверки."
	msgNewScan         = "🆕 Новая проверка. Отправьте фото растения."
	msgUnknownCommand  = "❓ Неизвестная команда. Используйте /help для справки."
	msgProcessingError = "⚠️ Не удалось загрузить файл. Попробуйте ещё раз."
)

// Bot представляет Telegram-бота. Каждый чат работает со своей сессией сканирования.
type Bot struct {
	api    *tgbotapi.BotAPI
	client *http.Client
	scans  *app.ScanService
	intake *app.IntakeService
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewBot создаёт нового бота. client используется и для Bot API, и для скачивания файлов.
func NewBot(token string, client *http.Client, scans *app.ScanService, intake *app.IntakeService, logger *slog.Logger) (*Bot, error) {
	if client == nil {
		client = http.DefaultClient
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}

	logger = logger.With("component", "telegram")
	logger.Info("authorized", "account", api.Self.UserName)

	return &Bot{
		api:    api,
		client: client,
		scans:  scans,
		intake: intake,
		logger: logger,
	}, nil
}

// Run запускает основной цикл обработки сообщений до отмены ctx
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	sessionID := strconv.FormatInt(msg.Chat.ID, 10)
	if _, err := b.scans.OpenSession(ctx, sessionID); err != nil {
		b.logger.Error("open session", "chat_id", msg.Chat.ID, "error", err)
		return
	}

	// Обработка команд
	if msg.IsCommand() {
		b.handleCommand(ctx, msg, sessionID)
		return
	}

	// Обработка фото
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		b.handleUpload(ctx, msg, sessionID, photo.FileID, entity.ImageUpload{
			Name:      photo.FileUniqueID + ".jpg",
			MediaType: "image/jpeg",
		})
		return
	}

	// Файл без сжатия
	if msg.Document != nil {
		b.handleUpload(ctx, msg, sessionID, msg.Document.FileID, entity.ImageUpload{
			Name:      msg.Document.FileName,
			MediaType: msg.Document.MimeType,
		})
		return
	}

	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, sessionID string) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, msgStart)

	case "help":
		b.sendMessage(msg.Chat.ID, msgHelp)

	case "analyze":
		b.handleAnalyze(ctx, msg.Chat.ID, sessionID)

	case "new":
		if _, err := b.scans.StartNewScan(ctx, sessionID); err != nil {
			b.logger.Error("start new scan", "session_id", sessionID, "error", err)
			return
		}
		b.sendMessage(msg.Chat.ID, msgNewScan)

	case "cancel":
		if _, err := b.intake.Clear(ctx, sessionID); err != nil {
			b.replyError(msg.Chat.ID, err)
			return
		}
		b.sendMessage(msg.Chat.ID, msgCancelled)

	default:
		b.sendMessage(msg.Chat.ID, msgUnknownCommand)
	}
}

// handleUpload скачивает файл и передаёт его в сессию
func (b *Bot) handleUpload(ctx context.Context, msg *tgbotapi.Message, sessionID, fileID string, upload entity.ImageUpload) {
	// Не-изображение отбрасываем до скачивания
	if !entity.IsImageType(upload.MediaType) {
		b.sendMessage(msg.Chat.ID, msgNotImage)
		return
	}

	data, err := b.downloadFile(ctx, fileID)
	if err != nil {
		b.logger.Error("download file", "chat_id", msg.Chat.ID, "error", err)
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}
	upload.Data = data

	before, err := b.scans.Session(ctx, sessionID)
	if err != nil {
		b.logger.Error("get session", "session_id", sessionID, "error", err)
		return
	}

	if _, err := b.intake.Submit(ctx, sessionID, app.SourcePicker, []entity.ImageUpload{upload}); err != nil {
		b.replyError(msg.Chat.ID, err)
		return
	}

	if before.Asset != nil {
		b.sendMessage(msg.Chat.ID, msgPhotoReplaced)
		return
	}
	b.sendMessage(msg.Chat.ID, msgPhotoSelected)
}

// handleAnalyze запускает анализ и отправляет результат, когда он готов
func (b *Bot) handleAnalyze(ctx context.Context, chatID int64, sessionID string) {
	done, started, err := b.scans.TryStartAnalysis(ctx, sessionID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	// результат уже ждёт первый запуск
	if !started {
		b.sendMessage(chatID, msgBusy)
		return
	}
	b.sendMessage(chatID, msgProcessing)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		b.sendOutcome(ctx, chatID, sessionID)
	}()
}

// sendOutcome отправляет итог анализа: результат или сообщение об ошибке
func (b *Bot) sendOutcome(ctx context.Context, chatID int64, sessionID string) {
	session, err := b.scans.Session(ctx, sessionID)
	if err != nil {
		b.logger.Warn("session gone before outcome", "session_id", sessionID, "error", err)
		return
	}

	switch session.State {
	case entity.StateCompleted:
		view := presentation.NewResultView(session.Result, session.Asset.Preview, "/new")
		b.sendMessage(chatID, presentation.RenderText(view))
	case entity.StateFileSelected:
		b.sendMessage(chatID, msgAnalysisFailed)
	}
	// Idle: пользователь начал новую проверку, пока шёл анализ
}

func (b *Bot) replyError(chatID int64, err error) {
	switch {
	case errors.Is(err, entity.ErrInvalidSelection):
		b.sendMessage(chatID, msgNotImage)
	case errors.Is(err, entity.ErrIntakeLocked):
		b.sendMessage(chatID, msgBusy)
	case errors.Is(err, entity.ErrInvalidTransition):
		b.sendMessage(chatID, msgNoPhoto)
	default:
		b.logger.Error("request failed", "chat_id", chatID, "error", err)
		b.sendMessage(chatID, msgProcessingError)
	}
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("send message", "chat_id", chatID, "error", err)
	}
}
