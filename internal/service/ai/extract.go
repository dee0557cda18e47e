package ai

import (
	"encoding/json"
	"strings"

	"dehqonjon/internal/models"
)

// keywordConfidence is reported when the model ignored the JSON format and
// the diagnosis was recovered from free text.
const keywordConfidence = 0.75

type diseaseHint struct {
	keyword     string
	name        string
	description string
}

var diseaseHints = []diseaseHint{
	{"серая гниль", "Серая гниль", "Грибковое заболевание"},
	{"мучнистая роса", "Мучнистая роса", "Белый налёт на листьях"},
	{"фитофтороз", "Фитофтороз", "Бурые пятна на листьях"},
	{"хлороз", "Хлороз", "Пожелтение листьев"},
	{"тля", "Тля", "Мелкие насекомые на листьях"},
	{"паутинный клещ", "Паутинный клещ", "Мелкие точки и паутина"},
	{"kulrang chirish", "Kulrang chirish", "Zamburug' kasalligi"},
	{"un shudring", "Un shudring", "Barglarda oq qoplama"},
	{"fitoftoroz", "Fitoftoroz", "Barglarda jigarrang dog'lar"},
}

var treatmentKeywords = []string{"обработ", "опрыска", "удали", "полив", "ishlov", "purkash", "olib tashla"}

var defaultRecommendations = []string{
	"Следуйте рекомендациям выше",
	"При ухудшении обратитесь к специалисту",
}

type imageAnswer struct {
	Analysis        string             `json:"analysis"`
	Diagnosis       []models.Diagnosis `json:"diagnosis"`
	Recommendations []string           `json:"recommendations"`
	Confidence      float64            `json:"confidence"`
}

// parseImageAnswer reads the vision model output. A JSON object is preferred;
// anything else is treated as free text.
func parseImageAnswer(raw string) *ImageAnalysis {
	if ans, ok := decodeJSONAnswer(raw); ok {
		out := &ImageAnalysis{
			Analysis:        strings.TrimSpace(ans.Analysis),
			Diagnosis:       ans.Diagnosis,
			Recommendations: ans.Recommendations,
			Confidence:      clamp(ans.Confidence, 0, 1),
		}
		if out.Diagnosis == nil {
			out.Diagnosis = []models.Diagnosis{}
		}
		for i := range out.Diagnosis {
			out.Diagnosis[i].Probability = int(clamp(float64(out.Diagnosis[i].Probability), 0, 100))
			if out.Diagnosis[i].Recommendations == nil {
				out.Diagnosis[i].Recommendations = []string{}
			}
		}
		if len(out.Recommendations) == 0 {
			out.Recommendations = extractRecommendations(out.Analysis)
		}
		return out
	}

	text := strings.TrimSpace(raw)
	return &ImageAnalysis{
		Analysis:        text,
		Diagnosis:       findDiagnoses(text),
		Recommendations: extractRecommendations(text),
		Confidence:      keywordConfidence,
	}
}

func decodeJSONAnswer(raw string) (imageAnswer, bool) {
	var ans imageAnswer
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return ans, false
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &ans); err != nil {
		return ans, false
	}
	if strings.TrimSpace(ans.Analysis) == "" {
		return ans, false
	}
	return ans, true
}

func findDiagnoses(text string) []models.Diagnosis {
	lower := strings.ToLower(text)
	found := []models.Diagnosis{}
	for _, hint := range diseaseHints {
		if strings.Contains(lower, hint.keyword) {
			found = append(found, models.Diagnosis{
				Name:            hint.name,
				Probability:     75,
				Description:     hint.description,
				Recommendations: []string{},
			})
		}
	}
	return found
}

func extractRecommendations(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range treatmentKeywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			clean := strings.TrimLeft(strings.TrimSpace(line), "-•* ")
			if len([]rune(clean)) > 10 {
				out = append(out, clean)
			}
			break
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultRecommendations...)
	}
	return out
}

// suggestFollowUps proposes quick replies for the chat UI.
func suggestFollowUps(message string) []string {
	lower := strings.ToLower(message)
	if containsAny(lower, "qanday", "nima", "yordam", "kasall", "o'g'it") {
		switch {
		case containsAny(lower, "kasall", "dog'"):
			return []string{"Rasm yuklash", "Davolash usullari", "Profilaktika"}
		case strings.Contains(lower, "o'g'it"):
			return []string{"Bug'doy uchun", "Sabzavotlar uchun", "Organik"}
		default:
			return []string{"Rasm yuklash", "Kasalliklar", "O'g'itlar"}
		}
	}
	switch {
	case containsAny(lower, "болезн", "пятн"):
		return []string{"📷 Загрузить фото", "Способы лечения", "Профилактика"}
	case strings.Contains(lower, "удобрен"):
		return []string{"Для пшеницы", "Для овощей", "Органические"}
	case strings.Contains(lower, "вредител"):
		return []string{"📷 Загрузить фото", "Народные методы", "Химия"}
	default:
		return []string{"📷 Загрузить фото", "Болезни", "Удобрения"}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
