package reply

import (
	"fmt"

	"github.com/lukasbauer/callguard/internal/lang"
)

// template is everything needed to generate, or fake, one reply.
type template struct {
	system   string
	user     string // %s verbs: rendered history, latest caller message
	fallback string
}

var userTemplates = map[lang.Language]string{
	lang.Italian: "Conversazione finora:\n%s\n\nChiamante: %s\n\nGenera una risposta appropriata in italiano.",
	lang.English: "Conversation so far:\n%s\n\nCaller: %s\n\nGenerate an appropriate response in English.",
	lang.Polish:  "Dotychczasowa rozmowa:\n%s\n\nDzwoniący: %s\n\nWygeneruj odpowiednią odpowiedź po polsku.",
}

var templates = [numModes]map[lang.Language]template{
	ModePolite: {
		lang.Italian: {
			system: "Sei un assistente telefonico AI educato e professionale. " +
				"Rispondi cortesemente e chiedi il motivo della chiamata se non è chiaro. " +
				"Risposte brevi (max 20 parole). Parla in italiano naturale come un essere umano.",
			user:     userTemplates[lang.Italian],
			fallback: "Mi scusi, di cosa si tratta esattamente?",
		},
		lang.English: {
			system: "You are a polite and professional AI phone assistant. " +
				"Respond courteously and ask about the reason for the call if unclear. " +
				"Brief responses (max 20 words). Speak in natural English like a human.",
			user:     userTemplates[lang.English],
			fallback: "Excuse me, what is this about exactly?",
		},
		lang.Polish: {
			system: "Jesteś uprzejmym i profesjonalnym asystentem telefonicznym AI. " +
				"Odpowiadaj grzecznie i pytaj o powód rozmowy, jeśli nie jest jasny. " +
				"Krótkie odpowiedzi (max 20 słów). Mów naturalnym polskim jak człowiek.",
			user:     userTemplates[lang.Polish],
			fallback: "Przepraszam, o co dokładnie chodzi?",
		},
	},
	ModeStall: {
		lang.Italian: {
			system: "Sei un assistente telefonico AI. Il tuo obiettivo è far perdere tempo a potenziali scammer " +
				"facendo domande vaghe, sembrando confuso, e allungando la conversazione. Sii educato ma evasivo. " +
				"Risposte brevi (max 15 parole). Parla in italiano naturale.",
			user:     userTemplates[lang.Italian],
			fallback: "Scusi, può ripetere? Non ho capito bene.",
		},
		lang.English: {
			system: "You are an AI phone assistant. Your goal is to waste potential scammers' time " +
				"by asking vague questions, seeming confused, and prolonging the conversation. Be polite but evasive. " +
				"Brief responses (max 15 words). Speak in natural English.",
			user:     userTemplates[lang.English],
			fallback: "Sorry, can you repeat? I didn't understand well.",
		},
		lang.Polish: {
			system: "Jesteś asystentem telefonicznym AI. Twoim celem jest marnowanie czasu potencjalnych oszustów " +
				"zadając niejasne pytania, udając zdezorientowanie i przedłużając rozmowę. Bądź uprzejmy ale unikający. " +
				"Krótkie odpowiedzi (max 15 słów). Mów naturalnym polskim.",
			user:     userTemplates[lang.Polish],
			fallback: "Przepraszam, może pan powtórzyć? Nie zrozumiałem dobrze.",
		},
	},
	ModeReject: {
		lang.Italian: {
			system: "Sei un assistente telefonico AI. Rifiuta educatamente ma fermamente l'offerta. " +
				"Sii breve e diretto (max 15 parole). Parla in italiano naturale.",
			user:     userTemplates[lang.Italian],
			fallback: "Non sono interessato, grazie. Arrivederci.",
		},
		lang.English: {
			system: "You are an AI phone assistant. Politely but firmly reject the offer. " +
				"Be brief and direct (max 15 words). Speak in natural English.",
			user:     userTemplates[lang.English],
			fallback: "I'm not interested, thank you. Goodbye.",
		},
		lang.Polish: {
			system: "Jesteś asystentem telefonicznym AI. Grzecznie ale stanowczo odrzuć ofertę. " +
				"Bądź krótki i bezpośredni (max 15 słów). Mów naturalnym polskim.",
			user:     userTemplates[lang.Polish],
			fallback: "Nie jestem zainteresowany, dziękuję. Do widzenia.",
		},
	},
}

func init() {
	if err := checkTemplates(); err != nil {
		panic(err)
	}
}

// checkTemplates verifies that every mode has a complete template for every
// supported language.
func checkTemplates() error {
	for _, m := range Modes() {
		for _, l := range lang.Supported() {
			t, ok := templates[m][l]
			switch {
			case !ok:
				return fmt.Errorf("reply: no template for %s/%s", m, l)
			case t.system == "" || t.user == "" || t.fallback == "":
				return fmt.Errorf("reply: incomplete template for %s/%s", m, l)
			}
		}
	}
	return nil
}

func lookup(m Mode, l lang.Language) template {
	if !m.Valid() {
		m = ModePolite
	}
	if t, ok := templates[m][l]; ok {
		return t
	}
	return templates[m][lang.Default]
}

// Fallback returns the fixed reply for m and l.
func Fallback(m Mode, l lang.Language) string {
	return lookup(m, l).fallback
}
