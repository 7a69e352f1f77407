package models

// TranslationRequest describes one unit of translation work. Either
// ImagePNG or Text is set, never both. It is ephemeral and never persisted.
type TranslationRequest struct {
	Text           string `json:"text,omitempty"`
	ImagePNG       []byte `json:"image_png,omitempty"`
	SourceLang     string `json:"source_lang,omitempty"`
	TargetLang     string `json:"target_lang"`
	VocabularyBook string `json:"vocabulary_book,omitempty"`
}

// TranslationOutcome is the terminal result of a pipeline run. Exactly one
// of the success pair (OriginalText, TranslatedText) or Error is populated.
type TranslationOutcome struct {
	OriginalText   string `json:"original_text,omitempty"`
	TranslatedText string `json:"translated_text,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Failed reports whether the outcome carries a failure.
func (o TranslationOutcome) Failed() bool {
	return o.Error != ""
}
