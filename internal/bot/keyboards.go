package bot

import (
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"castbot/pkg/jalali"
	"castbot/pkg/tgui"
)

// Callback data values. Calendar callbacks carry their arguments
// underscore-separated after the prefix.
const (
	cbLangPrefix      = "lang_"
	cbSendNow         = "send_now"
	cbSendScheduled   = "send_scheduled"
	cbCancel          = "cancel_broadcast"
	cbSelectPrefix    = "select_channel_"
	cbConfirmChannels = "confirm_channels"
	cbCaptionYes      = "add_caption_yes"
	cbCaptionNo       = "add_caption_no"
	cbAddChannel      = "add_channel"
	cbMyChannels      = "my_channels"
	cbRemovePrefix    = "remove_channel_"
	cbAnnounceConfirm = "announce_confirm"
	cbAnnounceCancel  = "announce_cancel"
	cbCalIgnore       = "pcal_ignore"
	cbCalPrevPrefix   = "pcal_prev_" // pcal_prev_<year>_<month>
	cbCalNextPrefix   = "pcal_next_" // pcal_next_<year>_<month>
	cbCalDayPrefix    = "pcal_day_"  // pcal_day_<year>_<month>_<day>
)

var weekdayHeaders = [7]string{"ش", "ی", "د", "س", "چ", "پ", "ج"}

func languageKeyboard() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn(text("lang_button_fa", LangFa), cbLangPrefix+"fa"),
			tgui.Btn(text("lang_button_en", LangEn), cbLangPrefix+"en")).
		Markup()
}

func mainMenuKeyboard(lang Lang) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(
		rm.Row(rm.Text(text("set_footer_button", lang))),
		rm.Row(rm.Text(text("manage_channels_button", lang))),
	)
	return rm
}

func channelsMenuKeyboard(lang Lang) *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn(text("add_channel_button", lang), cbAddChannel)).
		Row(tgui.Btn(text("my_channels_button", lang), cbMyChannels)).
		Markup()
}

func postActionKeyboard(lang Lang) *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn(text("send_now_button", lang), cbSendNow)).
		Row(tgui.Btn(text("send_scheduled_button", lang), cbSendScheduled)).
		Row(tgui.Btn(text("cancel_broadcast_button", lang), cbCancel)).
		Markup()
}

func captionChoiceKeyboard(lang Lang) *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn(text("add_caption_yes_button", lang), cbCaptionYes)).
		Row(tgui.Btn(text("add_caption_no_button", lang), cbCaptionNo)).
		Markup()
}

func announceConfirmKeyboard() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn(text("announce_confirm_button", LangEn), cbAnnounceConfirm),
			tgui.Btn(text("announce_cancel_button", LangEn), cbAnnounceCancel)).
		Markup()
}

// channelEntry pairs a registered channel with its display title.
type channelEntry struct {
	ID    int64
	Title string
}

// channelSelectKeyboard renders one row per channel with a check mark on
// the selected ones. The confirm row only appears once something is
// selected.
func channelSelectKeyboard(lang Lang, channels []channelEntry, selected []int64) *tele.ReplyMarkup {
	sel := make(map[int64]bool, len(selected))
	for _, id := range selected {
		sel[id] = true
	}
	kb := tgui.NewInline()
	for _, ch := range channels {
		label := ch.Title
		if sel[ch.ID] {
			label = "✅ " + label
		}
		kb.Row(tgui.Btn(label, cbSelectPrefix+strconv.FormatInt(ch.ID, 10)))
	}
	if len(selected) > 0 {
		kb.Row(tgui.Btn(text("confirm_channels_button", lang), cbConfirmChannels))
	}
	kb.Row(tgui.Btn(text("cancel_broadcast_button", lang), cbCancel))
	return kb.Markup()
}

// channelListKeyboard offers a remove button per registered channel.
func channelListKeyboard(channels []channelEntry) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	for _, ch := range channels {
		kb.Row(tgui.Btn("🗑 "+ch.Title, cbRemovePrefix+strconv.FormatInt(ch.ID, 10)))
	}
	return kb.Markup()
}

// calendarKeyboard renders one Jalali month as a 7-column grid with
// month navigation. Weeks start on Saturday.
func calendarKeyboard(year, month int) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	kb.Row(tgui.Btn(fmt.Sprintf("%s %d", jalali.MonthNames[month-1], year), cbCalIgnore))

	header := make([]tele.Btn, 0, 7)
	for _, d := range weekdayHeaders {
		header = append(header, tgui.Btn(d, cbCalIgnore))
	}
	kb.Row(header...)

	offset := jalali.WeekdayIndex(jalali.Date{Year: year, Month: month, Day: 1})
	days := jalali.MonthLength(year, month)

	cells := make([]tele.Btn, 0, offset+days+6)
	for i := 0; i < offset; i++ {
		cells = append(cells, tgui.Btn(" ", cbCalIgnore))
	}
	for d := 1; d <= days; d++ {
		cells = append(cells, tgui.Btn(strconv.Itoa(d),
			fmt.Sprintf("%s%d_%d_%d", cbCalDayPrefix, year, month, d)))
	}
	for len(cells)%7 != 0 {
		cells = append(cells, tgui.Btn(" ", cbCalIgnore))
	}
	for i := 0; i < len(cells); i += 7 {
		kb.Row(cells[i : i+7]...)
	}

	py, pm := year, month-1
	if pm < 1 {
		py, pm = year-1, 12
	}
	ny, nm := year, month+1
	if nm > 12 {
		ny, nm = year+1, 1
	}
	kb.Row(
		tgui.Btn("◀️", fmt.Sprintf("%s%d_%d", cbCalPrevPrefix, py, pm)),
		tgui.Btn("▶️", fmt.Sprintf("%s%d_%d", cbCalNextPrefix, ny, nm)),
	)
	return kb.Markup()
}
