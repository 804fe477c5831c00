package language

import "strings"

// Default is used whenever a client asks for a language we do not serve.
const Default = "en"

// Language describes one supported conversation language.
type Language struct {
	Code     string // short code used on the wire, e.g. "hi"
	Name     string
	Locale   string // speech recognition locale, e.g. "hi-IN"
	Greeting string // spoken when a session starts
}

var supported = map[string]Language{
	"en": {
		Code:     "en",
		Name:     "English",
		Locale:   "en-IN",
		Greeting: "Hello, I am your personal health assistant. How are you feeling today?",
	},
	"hi": {
		Code:     "hi",
		Name:     "Hindi",
		Locale:   "hi-IN",
		Greeting: "नमस्ते, मैं आपका व्यक्तिगत स्वास्थ्य सहायक हूँ। आप आज कैसा महसूस कर रहे हैं?",
	},
	"gu": {
		Code:     "gu",
		Name:     "Gujarati",
		Locale:   "gu-IN",
		Greeting: "નમસ્તે, હું તમારો અંગત આરોગ્ય સહાયક છું. આજે તમને કેવું લાગે છે?",
	},
	"mr": {
		Code:     "mr",
		Name:     "Marathi",
		Locale:   "mr-IN",
		Greeting: "नमस्कार, मी तुमचा वैयक्तिक आरोग्य सहाय्यक आहे. तुम्हाला आज कसे वाटत आहे?",
	},
	"bn": {
		Code:     "bn",
		Name:     "Bengali",
		Locale:   "bn-IN",
		Greeting: "নমস্কার, আমি আপনার ব্যক্তিগত স্বাস্থ্য সহায়ক। আপনি আজ কেমন অনুভব করছেন?",
	},
	"ml": {
		Code:     "ml",
		Name:     "Malayalam",
		Locale:   "ml-IN",
		Greeting: "നമസ്കാരം, ഞാൻ നിങ്ങളുടെ സ്വകാര്യ ആരോഗ്യ സഹായിയാണ്. നിങ്ങൾക്ക് ഇന്ന് എന്തു തോന്നുന്നു?",
	},
	"ur": {
		Code:     "ur",
		Name:     "Urdu",
		Locale:   "ur-IN",
		Greeting: "ہیلو، میں آپ کا ذاتی ہیلتھ اسسٹنٹ ہوں۔ آج آپ کیسی طبیعت ہے؟",
	},
}

// order keeps listings stable.
var order = []string{"en", "hi", "gu", "mr", "bn", "ml", "ur"}

// Lookup returns the language for code and whether it is supported.
func Lookup(code string) (Language, bool) {
	l, ok := supported[strings.ToLower(strings.TrimSpace(code))]
	return l, ok
}

// Resolve returns the language for code, falling back to English.
func Resolve(code string) Language {
	if l, ok := Lookup(code); ok {
		return l
	}
	return supported[Default]
}

// All returns every supported language in a stable order.
func All() []Language {
	out := make([]Language, 0, len(order))
	for _, c := range order {
		out = append(out, supported[c])
	}
	return out
}
