// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package extractor

// bucket is a named keyword list. Order of buckets is significant where
// the first match wins.
type bucket struct {
	name     string
	keywords []string
}

// emotionBuckets are checked in order; the first matching bucket is the
// only emotion recorded for an utterance.
var emotionBuckets = []bucket{
	{"happy", []string{"рад", "счастлив", "хорошо", "отлично", "замечательно", "ура", "happy", "glad", "great", "wonderful", "awesome", "yay"}},
	{"sad", []string{"грустно", "печально", "плохо", "ужасно", "депрессия", "sad", "unhappy", "depressed", "awful", "terrible", "miserable"}},
	{"anxious", []string{"волнуюсь", "беспокоюсь", "тревожно", "нервничаю", "переживаю", "anxious", "worried", "worry", "nervous", "uneasy"}},
	{"excited", []string{"взволнован", "восторг", "не могу дождаться", "супер", "excited", "thrilled", "can't wait", "cannot wait"}},
	{"angry", []string{"злой", "разозлился", "бесит", "раздражает", "ярость", "angry", "furious", "annoyed", "pissed"}},
	{"tired", []string{"устал", "устала", "усталость", "измотан", "выжат", "tired", "exhausted", "worn out", "drained"}},
}

var factMarkers = []string{
	"я", "меня", "мой", "моя", "мое", "моё", "мне", "у меня", "я работаю", "я живу", "я учусь",
	"i", "i'm", "i am", "me", "my", "mine", "i work", "i live", "i study",
}

// urgencyWords escalate a fact to high importance
var urgencyWords = []string{
	"важно", "критично", "серьезно", "серьёзно", "проблема",
	"important", "critical", "serious", "problem",
}

// aspirationWords also escalate a fact to high importance
var aspirationWords = []string{
	"мечтаю", "хочу", "цель", "планирую",
	"dream", "plan", "want", "goal",
}

var preferenceMarkers = []string{
	"люблю", "нравится", "предпочитаю", "выбираю", "мне нравится", "не люблю", "не нравится",
	"love", "like", "prefer", "enjoy", "hate", "don't like", "dislike",
}

var goalMarkers = []string{
	"хочу", "мечтаю", "цель", "планирую", "надеюсь", "стремлюсь", "желаю",
	"want", "dream", "plan", "hope", "goal", "wish",
}

var relationshipMarkers = []string{
	"мама", "папа", "брат", "сестра", "друг", "подруга", "жена", "муж", "парень", "девушка", "коллега",
	"mom", "mother", "dad", "father", "brother", "sister", "friend", "wife", "husband",
	"boyfriend", "girlfriend", "partner", "colleague",
}

// tagBuckets map keywords to canonical tags. English aliases share the
// Russian tag name so stored tags stay one vocabulary.
var tagBuckets = []bucket{
	{"работа", []string{"работа", "работаю", "офис", "карьера", "профессия", "work", "job", "office", "career", "profession"}},
	{"семья", []string{"семья", "родители", "мама", "папа", "брат", "сестра", "family", "parents", "mom", "dad", "brother", "sister"}},
	{"друзья", []string{"друзья", "друг", "подруга", "компания", "friends", "friend"}},
	{"здоровье", []string{"здоровье", "болезнь", "врач", "больница", "лечение", "health", "illness", "sick", "doctor", "hospital", "treatment"}},
	{"хобби", []string{"хобби", "увлечение", "спорт", "музыка", "книги", "фильмы", "hobby", "sport", "music", "books", "movies"}},
	{"путешествия", []string{"путешествие", "отпуск", "страна", "город", "поездка", "travel", "trip", "vacation", "country", "city"}},
	{"учеба", []string{"учеба", "учёба", "университет", "школа", "экзамен", "диплом", "study", "university", "school", "exam", "diploma"}},
	{"финансы", []string{"деньги", "зарплата", "покупка", "трата", "экономия", "money", "salary", "purchase", "spending", "savings"}},
}
