package bot

// Lang is a user interface language code.
type Lang string

const (
	LangFa Lang = "fa"
	LangEn Lang = "en"
)

// toLang maps a stored language code onto a supported Lang, defaulting to
// English the way the rest of the UI does.
func toLang(code string) Lang {
	if code == string(LangFa) {
		return LangFa
	}
	return LangEn
}

// texts is the user-facing string table. Keys without an entry for a
// language fall back to English.
var texts = map[string]map[Lang]string{
	"welcome": {
		LangFa: "لطفا زبان خود را انتخاب کنید.",
		LangEn: "Please select your language.",
	},
	"lang_selected": {
		LangFa: "شما زبان فارسی را انتخاب کردید. به منوی اصلی خوش آمدید!",
		LangEn: "You have selected English. Welcome to the main menu!",
	},
	"lang_button_fa": {
		LangFa: "🇮🇷 فارسی",
		LangEn: "🇮🇷 فارسی",
	},
	"lang_button_en": {
		LangFa: "🇬🇧 English",
		LangEn: "🇬🇧 English",
	},
	"main_menu": {
		LangFa: "شما در منوی اصلی هستید. چه کاری می‌خواهید انجام دهید؟",
		LangEn: "You are in the main menu. What would you like to do?",
	},
	"set_footer_button": {
		LangFa: "تنظیم فوتر 📝",
		LangEn: "Set Footer 📝",
	},
	"manage_channels_button": {
		LangFa: "مدیریت کانال‌ها 📢",
		LangEn: "Manage Channels 📢",
	},
	"prompt_for_footer": {
		LangFa: "لطفاً متن فوتر مورد نظر خود را ارسال کنید. این متن به انتهای تمام پست‌های شما اضافه خواهد شد.",
		LangEn: "Please send the footer text you want. This text will be added to the end of all your posts.",
	},
	"footer_set_success": {
		LangFa: "✅ فوتر شما با موفقیت تنظیم شد!",
		LangEn: "✅ Your footer has been set successfully!",
	},
	"channels_menu_title": {
		LangFa: "مدیریت کانال‌ها:",
		LangEn: "Channel management:",
	},
	"add_channel_button": {
		LangFa: "افزودن کانال ➕",
		LangEn: "Add Channel ➕",
	},
	"my_channels_button": {
		LangFa: "کانال‌های من 📋",
		LangEn: "My Channels 📋",
	},
	"prompt_forward_message": {
		LangFa: "لطفاً یک پیام از کانال مورد نظر فوروارد کنید. ربات باید در آن کانال ادمین باشد.",
		LangEn: "Please forward a message from the channel. The bot must be an admin there.",
	},
	"forward_not_channel": {
		LangFa: "لطفاً پیامی از یک کانال فوروارد کنید.",
		LangEn: "Please forward a message from a channel.",
	},
	"channel_already_registered": {
		LangFa: "این کانال قبلاً ثبت شده است.",
		LangEn: "This channel is already registered.",
	},
	"error_bot_not_admin": {
		LangFa: "❌ ربات در این کانال ادمین نیست.",
		LangEn: "❌ The bot is not an admin in this channel.",
	},
	"error_not_admin_in_channel": {
		LangFa: "❌ شما در این کانال ادمین نیستید.",
		LangEn: "❌ You are not an admin in this channel.",
	},
	"channel_add_success": {
		LangFa: "✅ کانال با موفقیت ثبت شد!",
		LangEn: "✅ Channel registered successfully!",
	},
	"channel_removed": {
		LangFa: "کانال حذف شد.",
		LangEn: "Channel removed.",
	},
	"no_channels_found": {
		LangFa: "هیچ کانالی ثبت نشده است.",
		LangEn: "No channels registered yet.",
	},
	"your_channels_list": {
		LangFa: "کانال‌های شما:",
		LangEn: "Your channels:",
	},
	"error_no_channels_for_broadcast": {
		LangFa: "ابتدا باید حداقل یک کانال ثبت کنید. از منوی «مدیریت کانال‌ها» استفاده کنید.",
		LangEn: "You need to register at least one channel first. Use the channel management menu.",
	},
	"post_action_menu_title": {
		LangFa: "می‌خواهید این پست را چگونه ارسال کنید؟",
		LangEn: "How do you want to send this post?",
	},
	"send_now_button": {
		LangFa: "ارسال فوری 🚀",
		LangEn: "Send Now 🚀",
	},
	"send_scheduled_button": {
		LangFa: "ارسال زمان‌بندی شده ⏰",
		LangEn: "Schedule ⏰",
	},
	"cancel_broadcast_button": {
		LangFa: "لغو ❌",
		LangEn: "Cancel ❌",
	},
	"operation_cancelled": {
		LangFa: "عملیات لغو شد.",
		LangEn: "Operation cancelled.",
	},
	"select_channels_prompt": {
		LangFa: "کانال‌های مقصد را انتخاب کنید:",
		LangEn: "Select the destination channels:",
	},
	"confirm_channels_button": {
		LangFa: "تأیید ✅",
		LangEn: "Confirm ✅",
	},
	"ask_for_caption_prompt": {
		LangFa: "آیا می‌خواهید کپشن اضافه کنید؟",
		LangEn: "Do you want to add a caption?",
	},
	"add_caption_yes_button": {
		LangFa: "بله، افزودن کپشن ✍️",
		LangEn: "Yes, add a caption ✍️",
	},
	"add_caption_no_button": {
		LangFa: "خیر، ارسال بدون کپشن",
		LangEn: "No, send without a caption",
	},
	"prompt_for_caption": {
		LangFa: "لطفاً متن کپشن را ارسال کنید.",
		LangEn: "Please send the caption text.",
	},
	"sending": {
		LangFa: "در حال ارسال...",
		LangEn: "Sending...",
	},
	"broadcast_success": {
		LangFa: "✅ پست شما به %d کانال ارسال شد.",
		LangEn: "✅ Your post was sent to %d channel(s).",
	},
	"broadcast_partial": {
		LangFa: "پست به %d کانال ارسال شد؛ ارسال به %d کانال ناموفق بود.",
		LangEn: "Sent to %d channel(s); delivery to %d channel(s) failed.",
	},
	"choose_date_prompt": {
		LangFa: "تاریخ ارسال را انتخاب کنید:",
		LangEn: "Pick the date to send:",
	},
	"choose_time_prompt": {
		LangFa: "ساعت ارسال را به صورت HH:MM بفرستید (مثلاً 14:30).",
		LangEn: "Send the time as HH:MM (for example 14:30).",
	},
	"invalid_time": {
		LangFa: "فرمت ساعت نامعتبر است. به صورت HH:MM بفرستید.",
		LangEn: "Invalid time format. Send it as HH:MM.",
	},
	"past_time": {
		LangFa: "زمان انتخابی گذشته است. زمان دیگری بفرستید.",
		LangEn: "That time is in the past. Send another one.",
	},
	"post_scheduled": {
		LangFa: "✅ پست شما برای %d کانال زمان‌بندی شد.",
		LangEn: "✅ Your post was scheduled for %d channel(s).",
	},
	"scheduled_delivered": {
		LangFa: "✅ پست زمان‌بندی‌شده شما ارسال شد.",
		LangEn: "✅ Your scheduled post was delivered.",
	},
	"scheduled_failed": {
		LangFa: "❌ ارسال پست زمان‌بندی‌شده شما ناموفق بود.",
		LangEn: "❌ Delivery of your scheduled post failed.",
	},
	"quota_exhausted": {
		LangFa: "سهمیه ماهانه شما تمام شده است. برای ارسال نامحدود، پرمیوم تهیه کنید.",
		LangEn: "Your monthly quota is used up. Get premium for unlimited posts.",
	},
	"quota_remaining": {
		LangFa: "سهمیه باقی‌مانده این ماه: %d",
		LangEn: "Remaining quota this month: %d",
	},
	"channel_over_quota": {
		LangFa: "سهمیه ماهانه این کانال‌ها تمام شده است: %s",
		LangEn: "These channels are over their monthly quota: %s",
	},
	"error_generic": {
		LangFa: "خطایی رخ داد. لطفاً دوباره تلاش کنید.",
		LangEn: "Something went wrong. Please try again.",
	},
	"not_in_flow": {
		LangFa: "برای شروع، یک پست بفرستید.",
		LangEn: "Send a post to get started.",
	},
	"usage_setpremium": {
		LangEn: "Usage: /setpremium <user_id> [days]",
	},
	"usage_removepremium": {
		LangEn: "Usage: /removepremium <user_id>",
	},
	"usage_userinfo": {
		LangEn: "Usage: /userinfo <user_id>",
	},
	"user_not_found": {
		LangFa: "کاربر یافت نشد.",
		LangEn: "User not found.",
	},
	"premium_set": {
		LangEn: "Premium enabled for user %d until %s.",
	},
	"premium_set_permanent": {
		LangEn: "Permanent premium enabled for user %d.",
	},
	"premium_removed": {
		LangEn: "Premium removed for user %d.",
	},
	"announce_prompt": {
		LangEn: "Send the message to deliver to every user.",
	},
	"announce_preview": {
		LangEn: "About to send to %d user(s):\n\n%s\n\nProceed?",
	},
	"announce_confirm_button": {
		LangEn: "Send ✅",
	},
	"announce_cancel_button": {
		LangEn: "Cancel ❌",
	},
	"announce_cancelled": {
		LangEn: "Announcement cancelled.",
	},
	"announce_sending": {
		LangEn: "Sending announcement...",
	},
	"announce_done": {
		LangEn: "Announcement finished: %d delivered, %d failed.",
	},
	"announce_from_admin": {
		LangFa: "📢 پیام از مدیریت:\n\n%s",
		LangEn: "📢 Message from the admin:\n\n%s",
	},
	"no_users_found": {
		LangEn: "No users found.",
	},
	"top_users_header": {
		LangEn: "Top users by total posts:",
	},
	"active_users_header": {
		LangEn: "Active users (last 7 days):",
	},
	"premium_channels_header": {
		LangEn: "Premium channels:",
	},
	"report_empty": {
		LangEn: "Nothing to report.",
	},
}

// text looks up a UI string, falling back to English.
func text(key string, lang Lang) string {
	byLang, ok := texts[key]
	if !ok {
		return key
	}
	if s, ok := byLang[lang]; ok {
		return s
	}
	return byLang[LangEn]
}
