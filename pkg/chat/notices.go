package chat

import (
	"fmt"

	"github.com/shopassist/chatgate/pkg/langdetect"
	"github.com/shopassist/chatgate/pkg/localtime"
	"github.com/shopassist/chatgate/pkg/quota"
)

// Localized texts for quota notices. %s in a daily notice is the countdown
// until the tenant's local midnight.
type noticeSet struct {
	daily    string
	monthly  string
	inactive string
}

var notices = map[string]noticeSet{
	langdetect.LangEnglish: {
		daily:    "We've reached today's message limit. Please come back in %s — we'd love to keep chatting!",
		monthly:  "We've reached this month's message limit. Please try again after the monthly reset.",
		inactive: "This chat service is currently unavailable. Please try again later.",
	},
	langdetect.LangArabic: {
		daily:    "لقد وصلنا إلى الحد اليومي للرسائل. يرجى العودة بعد %s — يسعدنا مواصلة الحديث!",
		monthly:  "لقد وصلنا إلى الحد الشهري للرسائل. يرجى المحاولة بعد إعادة التعيين الشهرية.",
		inactive: "خدمة الدردشة غير متاحة حالياً. يرجى المحاولة لاحقاً.",
	},
	langdetect.LangChinese: {
		daily:    "今天的消息额度已用完。请在 %s 后再来——我们很乐意继续聊天!",
		monthly:  "本月的消息额度已用完。请在每月重置后再试。",
		inactive: "聊天服务暂时不可用,请稍后再试。",
	},
	langdetect.LangJapanese: {
		daily:    "本日のメッセージ上限に達しました。%s 後にまたお越しください!",
		monthly:  "今月のメッセージ上限に達しました。月次リセット後にもう一度お試しください。",
		inactive: "チャットサービスは現在ご利用いただけません。後ほどお試しください。",
	},
	langdetect.LangKorean: {
		daily:    "오늘의 메시지 한도에 도달했습니다. %s 후에 다시 방문해 주세요!",
		monthly:  "이번 달 메시지 한도에 도달했습니다. 월간 초기화 후 다시 시도해 주세요.",
		inactive: "채팅 서비스를 현재 이용할 수 없습니다. 나중에 다시 시도해 주세요.",
	},
	langdetect.LangHindi: {
		daily:    "आज की संदेश सीमा पूरी हो गई है। कृपया %s बाद फिर आएं!",
		monthly:  "इस महीने की संदेश सीमा पूरी हो गई है। मासिक रीसेट के बाद पुनः प्रयास करें।",
		inactive: "चैट सेवा अभी उपलब्ध नहीं है। कृपया बाद में प्रयास करें।",
	},
	langdetect.LangRussian: {
		daily:    "Дневной лимит сообщений исчерпан. Возвращайтесь через %s — будем рады продолжить!",
		monthly:  "Месячный лимит сообщений исчерпан. Попробуйте снова после ежемесячного сброса.",
		inactive: "Чат временно недоступен. Пожалуйста, попробуйте позже.",
	},
	langdetect.LangSpanish: {
		daily:    "Hemos alcanzado el límite de mensajes de hoy. Vuelve en %s — ¡nos encantará seguir charlando!",
		monthly:  "Hemos alcanzado el límite de mensajes de este mes. Inténtalo de nuevo tras el reinicio mensual.",
		inactive: "El servicio de chat no está disponible en este momento. Inténtalo más tarde.",
	},
	langdetect.LangFrench: {
		daily:    "Nous avons atteint la limite de messages du jour. Revenez dans %s — au plaisir de poursuivre la conversation !",
		monthly:  "Nous avons atteint la limite de messages de ce mois-ci. Réessayez après la réinitialisation mensuelle.",
		inactive: "Le service de chat est indisponible pour le moment. Veuillez réessayer plus tard.",
	},
	langdetect.LangGerman: {
		daily:    "Das heutige Nachrichtenlimit ist erreicht. Schau in %s wieder vorbei — wir plaudern gerne weiter!",
		monthly:  "Das monatliche Nachrichtenlimit ist erreicht. Bitte versuche es nach dem monatlichen Reset erneut.",
		inactive: "Der Chat-Dienst ist derzeit nicht verfügbar. Bitte versuche es später erneut.",
	},
	langdetect.LangPortuguese: {
		daily:    "Atingimos o limite de mensagens de hoje. Volte em %s — adoraríamos continuar a conversa!",
		monthly:  "Atingimos o limite de mensagens deste mês. Tente novamente após a redefinição mensal.",
		inactive: "O serviço de chat está indisponível no momento. Tente novamente mais tarde.",
	},
}

// blockNotice composes the localized notice for a denied request. Daily
// blocks embed the countdown to the tenant's local midnight.
func blockNotice(reason quota.DenyReason, lang, timezone string) string {
	set, ok := notices[lang]
	if !ok {
		set = notices[langdetect.LangEnglish]
	}

	switch reason {
	case quota.DenyDailyExceeded:
		countdown, err := localtime.UntilMidnight(timezone)
		if err != nil {
			countdown, _ = localtime.UntilMidnight("UTC")
		}
		return fmt.Sprintf(set.daily, countdown)
	case quota.DenyMonthlyExceeded:
		return set.monthly
	default:
		return set.inactive
	}
}
