package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/studio"
)

const (
	callbackPrefix = "st"

	menuMain      = "main"
	menuFormat    = "format"
	menuTemplates = "templates"
	menuPhotos    = "photos"
	menuHistory   = "history"

	historyButtons = 8
)

func (h *Handler) sendPanel(chatID, userID int64) error {
	sess := h.session(chatID, userID)
	st := h.ui.Get(chatID, userID)

	msgID, err := h.tg.SendTextWithKeyboard(chatID, h.panelText(sess, st), h.panelKeyboard(userID, sess, st))
	if err != nil {
		return err
	}
	h.ui.Update(chatID, userID, func(st *UIState) { st.MessageID = msgID })
	return nil
}

func (h *Handler) renderPanel(chatID, userID int64, messageID int) error {
	sess := h.session(chatID, userID)
	st := h.ui.Get(chatID, userID)
	if messageID == 0 {
		messageID = st.MessageID
	}

	text := h.panelText(sess, st)
	kb := h.panelKeyboard(userID, sess, st)
	if messageID != 0 {
		if err := h.tg.EditTextWithKeyboard(chatID, messageID, text, kb); err == nil {
			return nil
		}
	}
	return h.sendPanel(chatID, userID)
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil {
		return nil
	}
	parts := strings.Split(strings.TrimSpace(q.Data), ":")
	if len(parts) < 3 || parts[0] != callbackPrefix {
		return nil
	}

	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if ownerID != q.From.ID {
		_ = h.tg.AnswerCallback(q.ID, "This panel belongs to someone else.", true)
		return nil
	}

	action, args := parts[2], parts[3:]
	chatID := q.Message.Chat.ID
	msgID := q.Message.MessageID
	sess := h.session(chatID, ownerID)
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	h.ui.Update(chatID, ownerID, func(st *UIState) { st.MessageID = msgID })
	setMenu := func(menu string) {
		h.ui.Update(chatID, ownerID, func(st *UIState) { st.Menu = menu })
	}

	notice := ""
	switch action {
	case "menu":
		setMenu(arg(0))
	case "opt":
		cat, ok := catalog.ParseCategory(arg(0))
		if ok {
			if _, known := h.catalog.Option(cat, arg(1)); known {
				sess.Update(func(sel *studio.Selection) { sel.Toggle(cat, arg(1)) })
			}
		}
		setMenu(menuMain)
	case "fmt":
		if _, ok := h.catalog.Format(arg(0)); ok {
			sess.Update(func(sel *studio.Selection) { sel.SelectFormat(arg(0)) })
		}
		setMenu(menuMain)
	case "hf":
		sess.Update(func(sel *studio.Selection) { sel.SetHighFidelity(!sel.HighFidelity) })
	case "id":
		sess.Update(func(sel *studio.Selection) {
			if sel.IdentityTransfer {
				sel.ExitIdentityTransfer()
			} else {
				sel.EnterIdentityTransfer()
			}
		})
	case "tpl":
		index, _ := strconv.Atoi(arg(0))
		applied := false
		sess.Update(func(sel *studio.Selection) { applied = sel.ApplyTemplate(h.catalog, index) })
		if !applied {
			notice = "Pick a business first."
		}
		setMenu(menuMain)
	case "img":
		slot, _ := strconv.Atoi(arg(0))
		sess.RemoveImage(slot)
	case "style":
		h.ui.Update(chatID, ownerID, func(st *UIState) { st.Awaiting = awaitStyleRef })
		notice = "Send the style reference photo."
	case "describe":
		h.ui.Update(chatID, ownerID, func(st *UIState) { st.Awaiting = awaitDescription })
		notice = "Describe your business in a few words."
	case "hsel":
		if img, ok := sess.Result(arg(0)); ok {
			sess.SelectResult(img.ID)
			_ = h.tg.AnswerCallback(q.ID, "OK", false)
			return h.sendResult(chatID, img, false)
		}
		notice = "That result is gone."
	case "hdl":
		if img, ok := sess.Result(arg(0)); ok {
			_ = h.tg.AnswerCallback(q.ID, "Sending file…", false)
			return h.sendResult(chatID, img, true)
		}
		notice = "That result is gone."
	case "hrm":
		sess.RemoveResult(arg(0))
	case "reset":
		sess.Update(func(sel *studio.Selection) { *sel = studio.NewSelection() })
		setMenu(menuMain)
	case "prompt":
		_ = h.tg.AnswerCallback(q.ID, "Sending prompt…", false)
		return h.tg.SendText(chatID, h.composePrompt(sess))
	case "gen":
		_ = h.tg.AnswerCallback(q.ID, "Generating…", false)
		return h.generate(ctx, chatID, ownerID)
	case "close":
		h.ui.Update(chatID, ownerID, func(st *UIState) {
			st.Awaiting = awaitNone
			st.Menu = menuMain
		})
	}

	if notice != "" {
		_ = h.tg.AnswerCallback(q.ID, notice, false)
	} else {
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
	}
	return h.renderPanel(chatID, ownerID, msgID)
}

func (h *Handler) panelText(sess *studio.Session, st UIState) string {
	snap := sess.Snapshot()
	sel := snap.Selection

	var b strings.Builder
	b.WriteString("📸 Nicrolabs Studio\n\n")
	if sel.IdentityTransfer {
		b.WriteString("Mode: 🎭 Identity transfer\n")
	} else {
		b.WriteString("Mode: 🛍 Product studio\n")
	}

	fmt.Fprintf(&b, "Photos: %d/%d", len(snap.Products), studio.MaxProductImages)
	if snap.StyleReference != nil {
		b.WriteString(" + style reference")
	}
	b.WriteString("\n")

	for _, cat := range catalog.Categories() {
		label := "-"
		if opt, ok := h.catalog.Option(cat, sel.Value(cat)); ok {
			label = opt.Label
		}
		fmt.Fprintf(&b, "%s: %s\n", title(cat.String()), label)
	}
	if f, ok := h.catalog.Format(sel.FormatID); ok {
		fmt.Fprintf(&b, "Format: %s\n", f.Label)
	}
	fmt.Fprintf(&b, "High fidelity: %s\n", onOff(sel.HighFidelity))
	if sel.HasInstruction() {
		b.WriteString("Scene: " + truncateLine(sel.Instruction, 120) + "\n")
	} else {
		b.WriteString("Scene: (type it as a message)\n")
	}
	if n := len(sess.History()); n > 0 {
		fmt.Fprintf(&b, "Results: %d\n", n)
	}

	proc := sess.Processing()
	switch {
	case proc.Loading:
		b.WriteString("\n⏳ " + proc.Status + "\n")
	case proc.Error != "":
		b.WriteString("\n❌ Last render failed: " + truncateLine(proc.Error, 200) + "\n")
	}

	switch st.Awaiting {
	case awaitStyleRef:
		b.WriteString("\n🖼 Now send the style reference photo.\n")
	case awaitDescription:
		b.WriteString("\n💡 Now describe your business.\n")
	default:
		if len(snap.Products) == 0 {
			b.WriteString("\n📷 Send a product photo to begin.\n")
		}
	}

	if st.Menu == menuTemplates {
		templates := h.catalog.Templates(sel.Value(catalog.Business))
		if len(templates) == 0 {
			b.WriteString("\nPick a business to see scene templates.\n")
		}
		for i, t := range templates {
			fmt.Fprintf(&b, "\n%d) %s", i+1, t)
		}
	}

	return strings.TrimSpace(b.String())
}

func (h *Handler) panelKeyboard(ownerID int64, sess *studio.Session, st UIState) tgbotapi.InlineKeyboardMarkup {
	if cat, ok := catalog.ParseCategory(st.Menu); ok {
		return h.optionKeyboard(ownerID, cat, sess.Selection())
	}
	switch st.Menu {
	case menuFormat:
		return h.formatKeyboard(ownerID, sess.Selection())
	case menuTemplates:
		return h.templateKeyboard(ownerID, sess.Selection())
	case menuPhotos:
		return photosKeyboard(ownerID, sess.Snapshot())
	case menuHistory:
		return historyKeyboard(ownerID, sess)
	}
	return mainKeyboard(ownerID, sess)
}

func mainKeyboard(ownerID int64, sess *studio.Session) tgbotapi.InlineKeyboardMarkup {
	sel := sess.Selection()
	snap := sess.Snapshot()

	photos := fmt.Sprintf("🖼 Photos (%d)", len(snap.Products))
	history := fmt.Sprintf("🗂 History (%d)", len(sess.History()))

	return tgbotapi.NewInlineKeyboardMarkup(
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("Business", cb(ownerID, "menu", catalog.Business.String())),
			tgbotapi.NewInlineKeyboardButtonData("Vibe", cb(ownerID, "menu", catalog.Vibe.String())),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("Lighting", cb(ownerID, "menu", catalog.Lighting.String())),
			tgbotapi.NewInlineKeyboardButtonData("Camera", cb(ownerID, "menu", catalog.Camera.String())),
			tgbotapi.NewInlineKeyboardButtonData("Angle", cb(ownerID, "menu", catalog.Angle.String())),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("Format", cb(ownerID, "menu", menuFormat)),
			tgbotapi.NewInlineKeyboardButtonData("Templates", cb(ownerID, "menu", menuTemplates)),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("4K: "+onOff(sel.HighFidelity), cb(ownerID, "hf")),
			tgbotapi.NewInlineKeyboardButtonData("Identity: "+onOff(sel.IdentityTransfer), cb(ownerID, "id")),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("💡 Suggest", cb(ownerID, "describe")),
			tgbotapi.NewInlineKeyboardButtonData("📄 Prompt", cb(ownerID, "prompt")),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(photos, cb(ownerID, "menu", menuPhotos)),
			tgbotapi.NewInlineKeyboardButtonData(history, cb(ownerID, "menu", menuHistory)),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🎨 Generate", cb(ownerID, "gen")),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("Reset", cb(ownerID, "reset")),
			tgbotapi.NewInlineKeyboardButtonData("Close", cb(ownerID, "close")),
		},
	)
}

func (h *Handler) optionKeyboard(ownerID int64, cat catalog.Category, sel studio.Selection) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, opt := range h.catalog.List().ByCategory(cat) {
		label := opt.Label
		if opt.ID == sel.Value(cat) {
			label = "✅ " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "opt", cat.String(), opt.ID)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, backRow(ownerID))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (h *Handler) formatKeyboard(ownerID int64, sel studio.Selection) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, f := range h.catalog.List().Format {
		label := f.Label
		if f.ID == sel.FormatID {
			label = "✅ " + label
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "fmt", f.ID)),
		})
	}
	rows = append(rows, backRow(ownerID))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (h *Handler) templateKeyboard(ownerID int64, sel studio.Selection) tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for i := range h.catalog.Templates(sel.Value(catalog.Business)) {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(i+1), cb(ownerID, "tpl", strconv.Itoa(i))))
	}
	rows := [][]tgbotapi.InlineKeyboardButton{}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, backRow(ownerID))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func photosKeyboard(ownerID int64, snap studio.Snapshot) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, img := range snap.Products {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✖ Image %d", img.Slot), cb(ownerID, "img", strconv.Itoa(img.Slot))),
		})
	}
	if snap.StyleReference != nil {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("✖ Style reference", cb(ownerID, "img", strconv.Itoa(studio.StyleReferenceSlot))),
		})
	} else {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("➕ Style reference", cb(ownerID, "style")),
		})
	}
	rows = append(rows, backRow(ownerID))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func historyKeyboard(ownerID int64, sess *studio.Session) tgbotapi.InlineKeyboardMarkup {
	activeID := ""
	if active, ok := sess.ActiveResult(); ok {
		activeID = active.ID
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for i, img := range sess.History() {
		if i >= historyButtons {
			break
		}
		label := fmt.Sprintf("%d. %s", i+1, truncateLine(img.Prompt, 24))
		if img.ID == activeID {
			label = "✅ " + label
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "hsel", img.ID)),
			tgbotapi.NewInlineKeyboardButtonData("⬇", cb(ownerID, "hdl", img.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑", cb(ownerID, "hrm", img.ID)),
		})
	}
	rows = append(rows, backRow(ownerID))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func backRow(ownerID int64) []tgbotapi.InlineKeyboardButton {
	return []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cb(ownerID, "menu", menuMain)),
	}
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", callbackPrefix, ownerID, strings.Join(parts, ":"))
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
