package langdetect

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"english", "Hello, do you ship internationally?", LangEnglish},
		{"arabic", "مرحبا، هل لديكم توصيل؟", LangArabic},
		{"chinese", "你好，请问有货吗？", LangChinese},
		{"japanese hiragana", "こんにちは、在庫はありますか", LangJapanese},
		{"japanese kanji with kana", "配送について教えてください", LangJapanese},
		{"korean", "안녕하세요, 배송 되나요?", LangKorean},
		{"hindi", "नमस्ते, क्या आप डिलीवरी करते हैं?", LangHindi},
		{"russian", "Здравствуйте, есть ли доставка?", LangRussian},
		{"spanish letters", "¿Tienen envío a España?", LangSpanish},
		{"spanish stopwords", "hola, gracias por la ayuda", LangSpanish},
		{"french letters", "Où est ma commande, s'il vous plaît ?", LangFrench},
		{"french stopwords", "bonjour, merci pour votre aide", LangFrench},
		{"german letters", "Ich möchte die Größe ändern", LangGerman},
		{"german stopwords", "hallo, ist das noch verfügbar", LangGerman},
		{"portuguese letters", "Vocês têm promoções?", LangPortuguese},
		{"portuguese stopwords", "obrigado pela resposta", LangPortuguese},
		{"empty defaults to english", "", LangEnglish},
		{"numbers default to english", "12345", LangEnglish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.text); got != tt.want {
				t.Errorf("Detect(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetect_Deterministic(t *testing.T) {
	const text = "bonjour, merci beaucoup"
	first := Detect(text)
	for i := 0; i < 10; i++ {
		if got := Detect(text); got != first {
			t.Fatalf("Detect is not deterministic: %q then %q", first, got)
		}
	}
}

func TestDetect_ScriptWinsOverKeywords(t *testing.T) {
	// Mixed text with a dominant script must not be misread from a Latin
	// stopword appearing alongside.
	if got := Detect("hola 你好"); got != LangChinese {
		t.Errorf("Detect = %q, want %q (script check runs first)", got, LangChinese)
	}
}
