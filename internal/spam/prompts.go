package spam

import "github.com/lukasbauer/callguard/internal/lang"

const systemPrompt = "You are an expert at detecting spam phone calls."

// prompts are keyed by language; the two %s verbs are the rendered history and
// the latest caller message.
var prompts = map[lang.Language]string{
	lang.Italian: `Sei un sistema di rilevamento spam per chiamate telefoniche.

Analizza questa conversazione e determina se è spam/scam:

Conversazione:
%s
Ultimo messaggio: %s

Indicatori di spam:
- Offerte non richieste (energia, telefonia, assicurazioni)
- Richieste di dati personali/bancari
- Urgenza artificiosa ("offerta scade oggi")
- Premi/vincite non richiesti
- Chiamate registrate/robot
- Tono da call center aggressivo

Rispondi SOLO con questo formato:
SPAM_SCORE: [numero da 0 a 10]
REASON: [breve spiegazione in italiano]

0-3 = probabilmente legittimo
4-6 = sospetto, serve cautela
7-10 = sicuramente spam/scam`,

	lang.English: `You are a spam detection system for phone calls.

Analyze this conversation and determine if it's spam/scam:

Conversation:
%s
Last message: %s

Spam indicators:
- Unsolicited offers (energy, telecom, insurance)
- Requests for personal/banking data
- Artificial urgency ("offer expires today")
- Unrequested prizes/winnings
- Recorded calls/robots
- Aggressive call center tone

Reply ONLY in this format:
SPAM_SCORE: [number from 0 to 10]
REASON: [brief explanation in English]

0-3 = probably legitimate
4-6 = suspicious, caution needed
7-10 = definitely spam/scam`,

	lang.Polish: `Jesteś systemem wykrywania spamu dla połączeń telefonicznych.

Przeanalizuj tę rozmowę i określ, czy to spam/oszustwo:

Rozmowa:
%s
Ostatnia wiadomość: %s

Wskaźniki spamu:
- Niezamówione oferty (energia, telekomunikacja, ubezpieczenia)
- Prośby o dane osobowe/bankowe
- Sztuczna pilność ("oferta wygasa dzisiaj")
- Niezamówione nagrody/wygrane
- Nagrane połączenia/roboty
- Agresywny ton call center

Odpowiedz TYLKO w tym formacie:
SPAM_SCORE: [liczba od 0 do 10]
REASON: [krótkie wyjaśnienie po polsku]

0-3 = prawdopodobnie legalne
4-6 = podejrzane, potrzebna ostrożność
7-10 = zdecydowanie spam/oszustwo`,
}

// Localized rationale fragments used when the model gives none.
var (
	errorPrefix = map[lang.Language]string{
		lang.Italian: "Errore",
		lang.English: "Error",
		lang.Polish:  "Błąd",
	}
	noReason = map[lang.Language]string{
		lang.Italian: "Analisi non disponibile",
		lang.English: "Analysis not available",
		lang.Polish:  "Analiza niedostępna",
	}
)

func localized(m map[lang.Language]string, l lang.Language) string {
	if s, ok := m[l]; ok {
		return s
	}
	return m[lang.Default]
}
