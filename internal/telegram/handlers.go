package telegram

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/ambotlabs/ambot/internal/admin"
	"github.com/ambotlabs/ambot/internal/admission"
	"github.com/ambotlabs/ambot/internal/config"
	"github.com/ambotlabs/ambot/internal/queue"
	"github.com/ambotlabs/ambot/internal/ratelimit"
	"github.com/ambotlabs/ambot/internal/storage"
)

// Bot wraps the telegram bot with handlers. It is the transport
// collaborator: it relays admission verdicts and job outcomes, and it
// delivers finished files.
type Bot struct {
	bot     *bot.Bot
	cfg     *config.Config
	storage *storage.Storage
	ledger  *admin.Ledger
	limiter *ratelimit.Limiter
	ctrl    *admission.Controller
	flows   *flowStore
	log     *slog.Logger
}

// New creates a new telegram bot. The admission controller is attached
// afterwards with SetController, before Start.
func New(cfg *config.Config, store *storage.Storage, ledger *admin.Ledger, limiter *ratelimit.Limiter, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:     cfg,
		storage: store,
		ledger:  ledger,
		limiter: limiter,
		flows:   newFlowStore(),
		log:     log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	// Register command handlers
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/check", bot.MatchTypeExact, b.checkHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/daily", bot.MatchTypeExact, b.dailyHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/history", bot.MatchTypePrefix, b.historyHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/addcoins", bot.MatchTypePrefix, b.addCoinsHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/ledger", bot.MatchTypePrefix, b.ledgerHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/admin_status", bot.MatchTypeExact, b.adminStatusHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/export_logs", bot.MatchTypeExact, b.exportLogsHandler)

	return b, nil
}

// SetController attaches the admission controller. Must be called before
// Start.
func (b *Bot) SetController(c *admission.Controller) {
	b.ctrl = c
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Commands ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	from := update.Message.From
	acct, err := b.storage.GetOrCreate(ctx, from.ID, from.Username, fullName(from), b.cfg.RegisterBonus, time.Now())
	if err != nil {
		b.log.Error("get or create account", "user_id", from.ID, "error", err)
		b.sendMessage(ctx, update.Message.Chat.ID, "❌ Something went wrong, try again.", nil)
		return
	}

	text := fmt.Sprintf(
		"<b>Ambot Converter</b> 🎵\n\n"+
			"Send me a song or video title and I'll convert it to MP3 or MP4.\n\n"+
			"Balance: <b>%d coins</b>\n"+
			"Daily limit: <b>%d conversions</b>\n\n"+
			"Commands: /check /daily /history",
		acct.Balance, b.cfg.DailyLimit,
	)
	b.sendMessage(ctx, update.Message.Chat.ID, text, nil)
}

func (b *Bot) checkHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	userID := update.Message.From.ID
	acct, err := b.storage.GetAccount(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		b.sendMessage(ctx, update.Message.Chat.ID, "You are not registered yet. Send /start first.", nil)
		return
	}
	if err != nil {
		b.log.Error("get account", "user_id", userID, "error", err)
		return
	}

	counts, err := b.storage.CountSucceededByKind(ctx, userID)
	if err != nil {
		b.log.Error("count conversions", "user_id", userID, "error", err)
	}

	text := fmt.Sprintf(
		"👤 <b>%s</b>\n\n"+
			"Coins: <b>%d</b>\n"+
			"Converted today: <b>%d/%d</b>\n\n"+
			"Music: %d\nVideo: %d",
		acct.Fullname, acct.Balance, dailyUsedToday(acct), b.cfg.DailyLimit,
		counts[storage.KindMP3], counts[storage.KindMP4],
	)
	b.sendMessage(ctx, update.Message.Chat.ID, text, nil)
}

func (b *Bot) dailyHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	userID := update.Message.From.ID
	credited, acct, err := b.storage.ClaimDailyReward(ctx, userID, b.cfg.DailyReward, time.Now())
	if errors.Is(err, storage.ErrNotFound) {
		b.sendMessage(ctx, update.Message.Chat.ID, "You are not registered yet. Send /start first.", nil)
		return
	}
	if err != nil {
		b.log.Error("claim daily reward", "user_id", userID, "error", err)
		return
	}

	if !credited {
		b.sendMessage(ctx, update.Message.Chat.ID, "You already claimed today's reward. Come back tomorrow!", nil)
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID,
		fmt.Sprintf("🎁 You received <b>%d coins</b>! Balance: <b>%d</b>", b.cfg.DailyReward, acct.Balance), nil)
}

func (b *Bot) historyHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	userID := update.Message.From.ID
	limit := 10
	if parts := strings.Fields(update.Message.Text); len(parts) >= 2 {
		if n, err := strconv.Atoi(parts[1]); err == nil && n > 0 {
			limit = n
		}
	}

	jobs, err := b.storage.UserJobs(ctx, userID, limit)
	if err != nil {
		b.log.Error("user jobs", "user_id", userID, "error", err)
		return
	}
	if len(jobs) == 0 {
		b.sendMessage(ctx, update.Message.Chat.ID, "No conversions yet.", nil)
		return
	}

	var lines []string
	for _, j := range jobs {
		lines = append(lines, fmt.Sprintf("%s | %s | %d | %d coins | %s | %s",
			j.CreatedAt.Format("2006-01-02 15:04:05"), j.Kind, j.Quality, j.Cost, j.Status, j.Title))
	}
	b.sendMessage(ctx, update.Message.Chat.ID, strings.Join(lines, "\n"), nil)
}

// --- Admin commands ---

func (b *Bot) addCoinsHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	callerID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 3 {
		b.sendMessage(ctx, chatID, "Usage: /addcoins <@username|user_id> <amount>", nil)
		return
	}

	targetID, err := b.resolveTarget(ctx, parts[1])
	if err != nil {
		b.sendMessage(ctx, chatID, fmt.Sprintf("User %s not found.", parts[1]), nil)
		return
	}

	amount, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		b.sendMessage(ctx, chatID, "Invalid amount. Must be an integer.", nil)
		return
	}

	acct, err := b.ledger.Adjust(ctx, callerID, targetID, amount, "addcoins via bot")
	switch {
	case errors.Is(err, admin.ErrNotAuthorized):
		b.sendMessage(ctx, chatID, "You are not authorized.", nil)
	case errors.Is(err, storage.ErrInvalidAdjustment):
		b.sendMessage(ctx, chatID, "Adjustment rejected: balance cannot go negative.", nil)
	case errors.Is(err, storage.ErrNotFound):
		b.sendMessage(ctx, chatID, "User not found.", nil)
	case err != nil:
		b.log.Error("admin adjust", "error", err)
		b.sendMessage(ctx, chatID, "❌ Adjustment failed.", nil)
	default:
		b.sendMessage(ctx, chatID,
			fmt.Sprintf("Updated user %d by %+d coins. New balance: %d.", targetID, amount, acct.Balance), nil)
	}
}

func (b *Bot) ledgerHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	callerID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	var userID int64
	if parts := strings.Fields(update.Message.Text); len(parts) >= 2 {
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			b.sendMessage(ctx, chatID, "Usage: /ledger [user_id]", nil)
			return
		}
		userID = id
	}

	cursor, err := b.ledger.History(callerID, userID)
	if errors.Is(err, admin.ErrNotAuthorized) {
		b.sendMessage(ctx, chatID, "You are not authorized.", nil)
		return
	}
	if err != nil {
		b.log.Error("ledger history", "error", err)
		return
	}

	entries, err := cursor.Next(ctx, 30)
	if err != nil {
		b.log.Error("ledger history page", "error", err)
		return
	}
	if len(entries) == 0 {
		b.sendMessage(ctx, chatID, "No ledger entries.", nil)
		return
	}

	var lines []string
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s | user %d | %+d | %s",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.UserID, e.Delta, e.Reason))
	}
	b.sendMessage(ctx, chatID, strings.Join(lines, "\n"), nil)
}

func (b *Bot) adminStatusHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	callerID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	stats, err := b.ledger.Status(ctx, callerID)
	if errors.Is(err, admin.ErrNotAuthorized) {
		b.sendMessage(ctx, chatID, "You are not authorized.", nil)
		return
	}
	if err != nil {
		b.log.Error("admin status", "error", err)
		return
	}

	accounts, err := b.ledger.Accounts(ctx, callerID)
	if err != nil {
		b.log.Error("admin accounts", "error", err)
		return
	}

	lines := []string{fmt.Sprintf(
		"Users: %d | Coins outstanding: %d | Jobs today: %d\n",
		stats.TotalUsers, stats.CoinsOutstanding, stats.JobsToday,
	)}
	for i, a := range accounts {
		name := a.Username
		if name == "" {
			name = fmt.Sprintf("id:%d", a.UserID)
		}
		lines = append(lines, fmt.Sprintf("%d: %s | %d coins", i+1, name, a.Balance))
	}
	b.sendMessage(ctx, chatID, strings.Join(lines, "\n"), nil)
}

func (b *Bot) exportLogsHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	callerID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	cursor, err := b.ledger.History(callerID, 0)
	if errors.Is(err, admin.ErrNotAuthorized) {
		b.sendMessage(ctx, chatID, "You are not authorized.", nil)
		return
	}
	if err != nil {
		b.log.Error("export logs", "error", err)
		return
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"id", "user_id", "delta", "reason", "job_id", "note", "created_at"})
	for {
		entries, err := cursor.Next(ctx, 500)
		if err != nil {
			b.log.Error("export logs page", "error", err)
			b.sendMessage(ctx, chatID, "❌ Export failed.", nil)
			return
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			w.Write([]string{
				strconv.FormatInt(e.ID, 10),
				strconv.FormatInt(e.UserID, 10),
				strconv.FormatInt(e.Delta, 10),
				string(e.Reason),
				e.JobID,
				e.Note,
				e.CreatedAt.Format(time.RFC3339),
			})
		}
	}
	w.Flush()

	_, err = b.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: fmt.Sprintf("ambot_ledger_%d.csv", time.Now().Unix()),
			Data:     &buf,
		},
	})
	if err != nil {
		b.log.Error("send csv", "error", err)
		b.sendMessage(ctx, chatID, "❌ Failed to send CSV.", nil)
	}
}

// --- Conversion flow ---

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if strings.HasPrefix(text, "/") {
		return
	}

	from := update.Message.From
	if _, err := b.storage.GetOrCreate(ctx, from.ID, from.Username, fullName(from), b.cfg.RegisterBonus, time.Now()); err != nil {
		b.log.Error("get or create account", "user_id", from.ID, "error", err)
		return
	}

	if strings.Contains(text, "youtube.com") || strings.Contains(text, "youtu.be") {
		b.sendMessage(ctx, update.Message.Chat.ID,
			"Links are not supported, please send a title only.", nil)
		return
	}

	b.flows.Begin(from.ID, text)
	b.sendMessage(ctx, update.Message.Chat.ID,
		fmt.Sprintf("<b>Ambot Converter</b>\nTitle: %s\nSelect type:", text),
		TypeKeyboard(),
	)
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	userID := cb.From.ID
	data := cb.Data

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	switch {
	case strings.HasPrefix(data, "type:"):
		b.handleTypeChoice(ctx, cb, strings.TrimPrefix(data, "type:"))
	case strings.HasPrefix(data, "audioq:"):
		b.handleQualityChoice(ctx, cb, storage.KindMP3, strings.TrimPrefix(data, "audioq:"))
	case strings.HasPrefix(data, "videoq:"):
		b.handleQualityChoice(ctx, cb, storage.KindMP4, strings.TrimPrefix(data, "videoq:"))
	default:
		b.log.Warn("unknown callback", "data", data, "user_id", userID)
	}
}

func (b *Bot) handleTypeChoice(ctx context.Context, cb *models.CallbackQuery, kindStr string) {
	userID := cb.From.ID

	flow := b.flows.Get(userID)
	if flow == nil {
		b.editMessage(ctx, cb.Message, "Send me a title first.", nil)
		return
	}

	kind := storage.JobKind(kindStr)
	b.flows.SetKind(userID, kind)

	if kind == storage.KindMP3 {
		b.editMessage(ctx, cb.Message, "Select audio quality:", AudioQualityKeyboard(b.cfg.AudioCosts))
	} else {
		b.editMessage(ctx, cb.Message, "Select video quality:", VideoQualityKeyboard(b.cfg.VideoCosts))
	}
}

func (b *Bot) handleQualityChoice(ctx context.Context, cb *models.CallbackQuery, kind storage.JobKind, qualityStr string) {
	userID := cb.From.ID

	flow := b.flows.Get(userID)
	if flow == nil || flow.Kind != kind {
		b.editMessage(ctx, cb.Message, "Send me a title first.", nil)
		return
	}

	quality, err := strconv.Atoi(qualityStr)
	if err != nil {
		return
	}

	var cost int64
	if kind == storage.KindMP3 {
		cost = b.cfg.AudioCost(quality)
	} else {
		cost = b.cfg.VideoCost(quality)
	}

	b.flows.Clear(userID)

	_, err = b.ctrl.Request(ctx, userID, kind, flow.Title, quality, cost)
	if err != nil {
		b.editMessage(ctx, cb.Message, b.denialMessage(ctx, userID, cost, err), nil)
		return
	}

	b.editMessage(ctx, cb.Message,
		fmt.Sprintf("<b>Ambot Converter</b>\nTitle: %s\nCharged: %d coins\n\nQueued. You'll be notified when it starts.", flow.Title, cost),
		nil,
	)
}

// denialMessage maps an admission error to the single human-readable
// reason shown to the user.
func (b *Bot) denialMessage(ctx context.Context, userID int64, cost int64, err error) string {
	switch {
	case errors.Is(err, queue.ErrBusy):
		return "⏳ You already have a conversion in progress. Wait for it to finish."
	case errors.Is(err, ratelimit.ErrCooldownActive):
		wait := "a moment"
		if acct, aerr := b.storage.GetAccount(ctx, userID); aerr == nil {
			wait = fmt.Sprintf("%ds", int(b.limiter.RetryIn(acct, time.Now()).Seconds())+1)
		}
		return fmt.Sprintf("🕒 You're converting too frequently. Please wait %s.", wait)
	case errors.Is(err, ratelimit.ErrDailyLimitReached):
		return fmt.Sprintf("📅 You reached the daily limit of %d conversions. Try again tomorrow.", b.cfg.DailyLimit)
	case errors.Is(err, storage.ErrInsufficientFunds):
		return fmt.Sprintf("💸 Insufficient coins. This conversion costs %d coins.", cost)
	case errors.Is(err, storage.ErrNotFound):
		return "You are not registered yet. Send /start first."
	default:
		b.log.Error("admission request", "user_id", userID, "error", err)
		return "❌ Something went wrong. You have not been charged."
	}
}

// --- Admission events ---

// JobStarted notifies the user their conversion left the queue.
func (b *Bot) JobStarted(ctx context.Context, job *storage.Job) {
	b.sendMessage(ctx, job.UserID,
		fmt.Sprintf("🎬 Converting: <b>%s</b> (%s %d)...", job.Title, job.Kind, job.Quality), nil)
}

// JobSucceeded is called after the file was delivered.
func (b *Bot) JobSucceeded(ctx context.Context, job *storage.Job) {
	b.sendMessage(ctx, job.UserID,
		fmt.Sprintf("✅ Done: <b>%s</b>", job.Title), nil)
}

// JobFailed tells the user about a failure. When the charge was
// refunded, the message says so explicitly so the user knows their
// balance is restored.
func (b *Bot) JobFailed(ctx context.Context, job *storage.Job, cause error, refunded bool) {
	if refunded {
		b.sendMessage(ctx, job.UserID,
			fmt.Sprintf("⚠️ Conversion of <b>%s</b> failed. Your %d coins have been refunded.", job.Title, job.Cost), nil)
		return
	}
	b.sendMessage(ctx, job.UserID,
		fmt.Sprintf("❌ Conversion of <b>%s</b> failed and the refund could not be applied. Please contact the admin.", job.Title), nil)
}

// DailyRewardGranted notifies a user about the automatic daily reward.
func (b *Bot) DailyRewardGranted(ctx context.Context, userID, amount int64) {
	b.sendMessage(ctx, userID,
		fmt.Sprintf("🎁 Daily reward: <b>%d coins</b> added to your balance.", amount), nil)
}

// SendDocument delivers a finished file to the user.
func (b *Bot) SendDocument(ctx context.Context, userID int64, path, filename string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	_, err = b.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: userID,
		Document: &models.InputFileUpload{
			Filename: filename,
			Data:     f,
		},
	})
	return err
}

// --- Helpers ---

func (b *Bot) resolveTarget(ctx context.Context, target string) (int64, error) {
	if strings.HasPrefix(target, "@") {
		acct, err := b.storage.FindByUsername(ctx, strings.TrimPrefix(target, "@"))
		if err != nil {
			return 0, err
		}
		return acct.UserID, nil
	}
	return strconv.ParseInt(target, 10, 64)
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}

func fullName(u *models.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func dailyUsedToday(acct *storage.Account) int {
	if storage.SameUTCDay(acct.DailyUsedDate, time.Now()) {
		return acct.DailyUsed
	}
	return 0
}
