package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/export"
	"nicrolabs-studio/internal/generate"
	"nicrolabs-studio/internal/mediagroup"
	"nicrolabs-studio/internal/prefs"
	"nicrolabs-studio/internal/prompt"
	"nicrolabs-studio/internal/studio"
	"nicrolabs-studio/internal/suggest"
	"nicrolabs-studio/internal/telegram"
)

// Messenger is the part of the Telegram client the handlers use.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendMessage(chatID int64, text string) (int, error)
	SendTextWithKeyboard(chatID int64, text string, kb telegram.InlineKeyboard) (int, error)
	EditText(chatID int64, messageID int, text string) error
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb telegram.InlineKeyboard) error
	AnswerCallback(callbackID, text string, alert bool) error
	SendPhoto(chatID int64, name string, data []byte, caption string) error
	SendDocument(chatID int64, name string, data []byte, caption string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

type Generator interface {
	Generate(ctx context.Context, sess *studio.Session) (studio.GeneratedImage, error)
}

type Suggester interface {
	Apply(ctx context.Context, sess *studio.Session, description string) suggest.Result
}

type Options struct {
	Telegram  Messenger
	Generator Generator
	Suggester Suggester
	Store     *studio.Store
	Catalog   *catalog.Catalog
	Prefs     *prefs.Store
	Policy    generate.TierPolicy
	Progress  *Progress
	// Guest marks new chat sessions as guests; their results are watermarked.
	Guest        bool
	ExportPrefix string
	Logger       *slog.Logger
}

type Handler struct {
	tg           Messenger
	gen          Generator
	sug          Suggester
	store        *studio.Store
	catalog      *catalog.Catalog
	composer     *prompt.Composer
	prefs        *prefs.Store
	policy       generate.TierPolicy
	progress     *Progress
	guest        bool
	exportPrefix string
	ui           *uiStore
	logger       *slog.Logger
	aggregator   *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	store := opts.Store
	if store == nil {
		store = studio.NewStore(studio.StoreOptions{})
	}
	policy := opts.Policy
	if policy == nil {
		policy = generate.DefaultTierPolicy
	}
	progress := opts.Progress
	if progress == nil {
		progress = NewProgress(opts.Telegram, logger)
	}

	return &Handler{
		tg:           opts.Telegram,
		gen:          opts.Generator,
		sug:          opts.Suggester,
		store:        store,
		catalog:      cat,
		composer:     prompt.New(cat),
		prefs:        opts.Prefs,
		policy:       policy,
		progress:     progress,
		guest:        opts.Guest,
		exportPrefix: opts.ExportPrefix,
		ui:           newUIStore(),
		logger:       logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

// SweepUI forgets panel state of users idle for ttl. It runs next to the
// session sweep.
func (h *Handler) SweepUI(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	return h.ui.Sweep(now.Add(-ttl))
}

func sessionKey(chatID, userID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

func (h *Handler) session(chatID, userID int64) *studio.Session {
	return h.store.GetOrCreate(sessionKey(chatID, userID), h.guest)
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, userID, msg)
	}

	if fileID := imageFileID(msg); fileID != "" {
		if msg.MediaGroupID != "" && h.aggregator != nil {
			h.aggregator.Add(mediagroup.Item{
				ChatID:       chatID,
				UserID:       userID,
				MediaGroupID: msg.MediaGroupID,
				Caption:      msg.Caption,
				FileID:       fileID,
			})
			return nil
		}
		return h.attachPhotos(ctx, chatID, userID, msg.Caption, []string{fileID}, 0)
	}

	if strings.TrimSpace(msg.Text) != "" {
		return h.handleText(ctx, chatID, userID, msg.Text)
	}
	return nil
}

// imageFileID picks the largest photo size, or an image sent as a file.
func imageFileID(msg *tgbotapi.Message) string {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID
	}
	return ""
}

func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if err := h.attachPhotos(ctx, group.ChatID, group.UserID, group.Caption, group.FileIDs, group.Dropped); err != nil {
		h.logger.Error("media group processing failed", "err", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		if h.firstVisit(userID) {
			if err := h.tg.SendText(chatID, onboardingText(h.catalog)); err != nil {
				return err
			}
		}
		return h.sendPanel(chatID, userID)
	case "help":
		return h.tg.SendText(chatID, helpText)
	case "studio":
		return h.sendPanel(chatID, userID)
	case "tips":
		return h.tg.SendText(chatID, tipsText(h.catalog))
	case "styleref":
		h.ui.Update(chatID, userID, func(st *UIState) { st.Awaiting = awaitStyleRef })
		return h.tg.SendText(chatID, "🖼 Send the photo whose look should be copied.")
	case "suggest":
		description := strings.TrimSpace(msg.CommandArguments())
		if description == "" {
			h.ui.Update(chatID, userID, func(st *UIState) { st.Awaiting = awaitDescription })
			return h.tg.SendText(chatID, "💡 Describe your business in a few words (cancel: /cancel).")
		}
		return h.suggest(ctx, chatID, userID, description)
	case "prompt":
		return h.tg.SendText(chatID, h.composePrompt(h.session(chatID, userID)))
	case "generate":
		return h.generate(ctx, chatID, userID)
	case "history":
		h.ui.Update(chatID, userID, func(st *UIState) { st.Menu = menuHistory })
		return h.sendPanel(chatID, userID)
	case "clear":
		sess := h.session(chatID, userID)
		for slot := 1; slot <= studio.MaxProductImages; slot++ {
			sess.RemoveImage(slot)
		}
		sess.RemoveImage(studio.StyleReferenceSlot)
		return h.tg.SendText(chatID, "✅ Photos removed.")
	case "logout":
		h.store.Delete(sessionKey(chatID, userID))
		h.ui.Delete(chatID, userID)
		return h.tg.SendText(chatID, "👋 Session closed. Photos, scene and results were cleared.")
	case "cancel":
		h.ui.Update(chatID, userID, func(st *UIState) { st.Awaiting = awaitNone })
		return h.tg.SendText(chatID, "OK.")
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Try /help.")
	}
}

func (h *Handler) firstVisit(userID int64) bool {
	if h.prefs == nil {
		return false
	}
	first, err := h.prefs.FirstVisit(prefs.OnboardingKey + ":tg:" + strconv.FormatInt(userID, 10))
	if err != nil {
		h.logger.Warn("onboarding flag not saved", "user_id", userID, "err", err)
	}
	return first
}

func (h *Handler) handleText(ctx context.Context, chatID, userID int64, text string) error {
	var pending awaiting
	h.ui.Update(chatID, userID, func(st *UIState) {
		pending = st.Awaiting
		if pending == awaitDescription {
			st.Awaiting = awaitNone
		}
	})
	if pending == awaitDescription {
		return h.suggest(ctx, chatID, userID, text)
	}
	return h.setInstruction(chatID, userID, strings.TrimSpace(text))
}

func (h *Handler) setInstruction(chatID, userID int64, text string) error {
	h.session(chatID, userID).Update(func(sel *studio.Selection) { sel.SetInstruction(text) })
	return h.sendPanel(chatID, userID)
}

// attachPhotos downloads fileIDs into the session: the style reference slot
// when /styleref is pending, otherwise the first free product slots.
func (h *Handler) attachPhotos(ctx context.Context, chatID, userID int64, caption string, fileIDs []string, dropped int) error {
	h.tg.SendTyping(chatID)

	type downloaded struct {
		data     []byte
		mimeType string
	}

	downloads := make([]downloaded, len(fileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, fileID := range fileIDs {
		eg.Go(func() error {
			data, mimeType, err := h.tg.DownloadFile(egCtx, fileID)
			if err != nil {
				return err
			}
			downloads[i] = downloaded{data: data, mimeType: mimeType}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error("photo download failed", "err", err)
		return h.tg.SendText(chatID, "❌ Could not download the photo. Please send it again.")
	}

	sess := h.session(chatID, userID)
	styleFirst := false
	h.ui.Update(chatID, userID, func(st *UIState) {
		styleFirst = st.Awaiting == awaitStyleRef
		st.Awaiting = awaitNone
	})

	skipped := dropped
	for i, d := range downloads {
		var err error
		if i == 0 && styleFirst {
			_, err = sess.SetImage(studio.StyleReferenceSlot, "style", d.mimeType, d.data)
		} else {
			_, err = sess.AddImage(fmt.Sprintf("photo-%d", i+1), d.mimeType, d.data)
		}
		if errors.Is(err, studio.ErrSlotOutOfRange) {
			skipped++
			continue
		}
		if err != nil {
			return err
		}
	}

	if c := strings.TrimSpace(caption); c != "" {
		sess.Update(func(sel *studio.Selection) { sel.SetInstruction(c) })
	}
	if skipped > 0 {
		_ = h.tg.SendText(chatID, fmt.Sprintf("⚠️ Only %d product photos fit; %d skipped. Remove one in 🖼 Photos to swap.", studio.MaxProductImages, skipped))
	}
	return h.sendPanel(chatID, userID)
}

func (h *Handler) suggest(ctx context.Context, chatID, userID int64, description string) error {
	if h.sug == nil {
		return h.tg.SendText(chatID, "Style suggestions are not available right now.")
	}
	h.tg.SendTyping(chatID)

	res := h.sug.Apply(ctx, h.session(chatID, userID), description)
	if !res.Applied {
		return h.tg.SendText(chatID, "🤷 No suggestion this time. Pick the styles yourself or try another description.")
	}
	_ = h.tg.SendText(chatID, "💡 Styles suggested for "+strconv.Quote(strings.TrimSpace(description))+".")
	h.ui.Update(chatID, userID, func(st *UIState) { st.Menu = menuMain })
	return h.sendPanel(chatID, userID)
}

func (h *Handler) composePrompt(sess *studio.Session) string {
	snap := sess.Snapshot()
	aspect := h.catalog.AspectRatio(snap.Selection.FormatID)
	tier := h.policy(aspect, snap.Selection.HighFidelity)
	return fmt.Sprintf("📄 Prompt (%s tier, %s)\n\n%s", tier, aspect, h.composer.Compose(prompt.FromSnapshot(snap)))
}

func (h *Handler) generate(ctx context.Context, chatID, userID int64) error {
	if h.gen == nil {
		return h.tg.SendText(chatID, "Generation is not available right now.")
	}
	sess := h.session(chatID, userID)
	if sess.Phase().InFlight() {
		return h.tg.SendText(chatID, "⏳ A render is already running.")
	}
	if err := generate.Validate(sess.Snapshot()); err != nil {
		return h.tg.SendText(chatID, "📷 Send at least one product photo and describe the scene first.")
	}

	statusID, err := h.tg.SendMessage(chatID, "⏳ Starting…")
	if err != nil {
		return err
	}
	h.progress.Track(sess.ID, chatID, statusID)
	defer h.progress.Forget(sess.ID)

	img, err := h.gen.Generate(ctx, sess)
	switch {
	case errors.Is(err, generate.ErrInFlight):
		return h.tg.EditText(chatID, statusID, "⏳ A render is already running.")
	case errors.Is(err, generate.ErrInputRequired):
		return h.tg.EditText(chatID, statusID, "📷 Send at least one product photo and describe the scene first.")
	case err != nil:
		return h.tg.EditText(chatID, statusID, "❌ "+failureText(err))
	}

	_ = h.tg.EditText(chatID, statusID, "✅ Done!")
	if err := h.sendResult(chatID, img, false); err != nil {
		return err
	}
	return h.sendPanel(chatID, userID)
}

func failureText(err error) string {
	var refusal *generate.RefusalError
	switch {
	case errors.As(err, &refusal):
		return "The model answered with text instead of an image: " + refusal.Text
	case errors.Is(err, context.DeadlineExceeded):
		return "The render took too long. Please try again."
	case errors.Is(err, generate.ErrNoImage), errors.Is(err, generate.ErrNoContent):
		return "No image came back. Try another scene description."
	}
	return "Something went wrong: " + err.Error()
}

// sendResult sends img as a photo, or as an uncompressed file when asFile.
func (h *Handler) sendResult(chatID int64, img studio.GeneratedImage, asFile bool) error {
	data, err := img.Bytes()
	if err != nil {
		return err
	}
	name := export.NameFor(h.exportPrefix, img)
	caption := "✨ " + img.Prompt
	if asFile {
		return h.tg.SendDocument(chatID, name, data, caption)
	}
	return h.tg.SendPhoto(chatID, name, data, caption)
}

const helpText = "📸 Nicrolabs Studio\n\n" +
	"1. Send up to 3 product photos (an album works too). A caption becomes the scene.\n" +
	"2. Pick business, vibe, lighting, camera, angle and format in the panel.\n" +
	"3. Type the scene you want, then press 🎨 Generate.\n\n" +
	"Commands:\n" +
	"/studio - show the panel\n" +
	"/styleref - next photo is a style reference\n" +
	"/suggest <business> - let AI pick the styles\n" +
	"/prompt - show the prompt that will be sent\n" +
	"/generate - render now\n" +
	"/history - previous results\n" +
	"/tips - photo tips\n" +
	"/clear - remove photos\n" +
	"/logout - clear everything\n" +
	"/cancel - cancel a pending question"

func onboardingText(c *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("👋 Welcome to Nicrolabs Studio!\n")
	for i, step := range c.Onboarding() {
		fmt.Fprintf(&b, "\n%d. %s\n%s\n", i+1, step.Title, step.Description)
	}
	return strings.TrimSpace(b.String())
}

func tipsText(c *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("💡 Tips\n")
	for _, tip := range c.Tips() {
		b.WriteString("\n• " + tip)
	}
	return b.String()
}
