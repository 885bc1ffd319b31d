package screening

import "github.com/lukasbauer/callguard/internal/lang"

// phrasebook holds the fixed lines the assistant speaks in one language.
type phrasebook struct {
	Greeting        string
	Farewell        string
	NoUnderstanding string
	Rejection       string
}

// recognitionHints bias the first, multilingual listen toward the supported
// languages.
const recognitionHints = "italiano, english, polski"

var phrasebooks = map[lang.Language]phrasebook{
	lang.Italian: {
		Greeting:        "Pronto, chi parla?",
		Farewell:        "Arrivederci.",
		NoUnderstanding: "Non ho capito. Arrivederci.",
		Rejection:       "Mi dispiace, non sono interessato. Arrivederci.",
	},
	lang.English: {
		Greeting:        "Hello, who's calling?",
		Farewell:        "Goodbye.",
		NoUnderstanding: "I didn't understand. Goodbye.",
		Rejection:       "I'm sorry, I'm not interested. Goodbye.",
	},
	lang.Polish: {
		Greeting:        "Halo, kto mówi?",
		Farewell:        "Do widzenia.",
		NoUnderstanding: "Nie zrozumiałem. Do widzenia.",
		Rejection:       "Przepraszam, nie jestem zainteresowany. Do widzenia.",
	},
}

func phrases(l lang.Language) phrasebook {
	if p, ok := phrasebooks[l]; ok {
		return p
	}
	return phrasebooks[lang.Default]
}
