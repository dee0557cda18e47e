package locale

import "strings"

type Lang string

const (
	Uzbek   Lang = "uz"
	Russian Lang = "ru"
)

// Phrases holds the user-facing strings the chat core writes into sessions.
type Phrases struct {
	Lang        Lang
	NewChat     string
	ErrorReply  string
	PhotoPrompt string
	// VisionNote is sent with a photo when the user did not add a question.
	VisionNote string
}

var phrases = map[Lang]Phrases{
	Uzbek: {
		Lang:        Uzbek,
		NewChat:     "Yangi chat",
		ErrorReply:  "Xatolik yuz berdi. Qayta urinib ko'ring.",
		PhotoPrompt: "Bu rasmga qarang",
		VisionNote:  "Bu o'simlikka nima bo'lgan? Muammoni aniqlashga yordam bering.",
	},
	Russian: {
		Lang:        Russian,
		NewChat:     "Новый чат",
		ErrorReply:  "Произошла ошибка. Попробуйте ещё раз.",
		PhotoPrompt: "Посмотрите на это фото",
		VisionNote:  "Что с этим растением? Помоги определить проблему.",
	},
}

// For returns the phrase set for lang; unknown languages get Uzbek.
func For(lang string) Phrases {
	if p, ok := phrases[Lang(strings.ToLower(strings.TrimSpace(lang)))]; ok {
		return p
	}
	return phrases[Uzbek]
}
