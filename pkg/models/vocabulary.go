// Package models contains domain models shared across glossa.
package models

// MetaTranslation is the reserved metadata key holding an entry's translation.
const MetaTranslation = "translation"

// Optional metadata keys conventionally present on vocabulary entries.
// Callers must tolerate their absence.
const (
	MetaSourceLang = "source_lang"
	MetaTargetLang = "target_lang"
)

// CollectionInfo identifies a vocabulary book.
type CollectionInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
