package i18n

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Language represents a supported language
type Language string

const (
	// Japanese language
	LanguageJapanese Language = "ja"
	// English language
	LanguageEnglish Language = "en"
)

// Message keys used by the gateway
const (
	KeyServerMessage       = "server.message"
	KeySystemDefault       = "device.system_default"
	KeyCameraUnavailable   = "error.camera_unavailable"
	KeyMicUnavailable      = "error.microphone_unavailable"
	KeyShuttingDown        = "error.shutting_down"
	KeyRecordingEncodeFail = "error.recording_encode_failed"
)

// Translator manages translations for the application
type Translator struct {
	currentLanguage Language
	translations    map[Language]map[string]string
	mu              sync.RWMutex
}

// NewTranslator creates a new translator with default language
func NewTranslator(language Language) *Translator {
	return &Translator{
		currentLanguage: language,
		translations:    make(map[Language]map[string]string),
	}
}

// NewDefaultTranslator creates a translator preloaded with the built-in messages
func NewDefaultTranslator(language Language) *Translator {
	t := NewTranslator(language)
	t.translations[LanguageJapanese] = DefaultJapaneseTranslations()
	t.translations[LanguageEnglish] = DefaultEnglishTranslations()
	return t
}

// LoadTranslations merges translations from JSON data. Keys already
// present for language are overwritten.
func (t *Translator) LoadTranslations(language Language, data []byte) error {
	var translations map[string]string
	if err := json.Unmarshal(data, &translations); err != nil {
		return fmt.Errorf("failed to unmarshal translations: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.translations[language]
	if !ok {
		existing = make(map[string]string, len(translations))
		t.translations[language] = existing
	}
	for k, v := range translations {
		existing[k] = v
	}
	return nil
}

// LoadTranslationsFromFile loads translations from a JSON file
func (t *Translator) LoadTranslationsFromFile(language Language, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read translation file: %w", err)
	}

	return t.LoadTranslations(language, data)
}

// LoadDir merges <dir>/<language>.json for every supported language.
// Missing files are skipped. It returns the languages that were loaded.
func (t *Translator) LoadDir(dir string) ([]Language, error) {
	var loaded []Language
	for _, language := range GetSupportedLanguages() {
		path := filepath.Join(dir, string(language)+".json")
		if err := t.LoadTranslationsFromFile(language, path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("%s: %w", language, err)
		}
		loaded = append(loaded, language)
	}
	return loaded, nil
}

// GetLanguage returns the current language
func (t *Translator) GetLanguage() Language {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentLanguage
}

// Translate translates a key in the current language
func (t *Translator) Translate(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if translations, ok := t.translations[t.currentLanguage]; ok {
		if text, ok := translations[key]; ok {
			return text
		}
	}

	// Fallback to English if translation not found
	if t.currentLanguage != LanguageEnglish {
		if translations, ok := t.translations[LanguageEnglish]; ok {
			if text, ok := translations[key]; ok {
				return text
			}
		}
	}

	// Return key itself if no translation found
	return key
}

// TranslateWithFormat translates a key and formats with parameters
func (t *Translator) TranslateWithFormat(key string, params map[string]string) string {
	text := t.Translate(key)

	for param, value := range params {
		placeholder := fmt.Sprintf("{%s}", param)
		text = strings.ReplaceAll(text, placeholder, value)
	}

	return text
}

// ValidateLanguage validates that a language is supported
func ValidateLanguage(language string) bool {
	return language == string(LanguageJapanese) || language == string(LanguageEnglish)
}

// GetSupportedLanguages returns a list of supported languages
func GetSupportedLanguages() []Language {
	return []Language{LanguageJapanese, LanguageEnglish}
}

// DefaultEnglishTranslations returns default English translations
func DefaultEnglishTranslations() map[string]string {
	return map[string]string{
		KeyServerMessage:       "Camera and microphone API server",
		KeySystemDefault:       "System default",
		KeyCameraUnavailable:   "Camera unavailable: {error}",
		KeyMicUnavailable:      "Microphone unavailable: {error}",
		KeyShuttingDown:        "Server is shutting down",
		KeyRecordingEncodeFail: "Failed to encode recording: {error}",
	}
}

// DefaultJapaneseTranslations returns default Japanese translations
func DefaultJapaneseTranslations() map[string]string {
	return map[string]string{
		KeyServerMessage:       "カメラとマイクAPIサーバー",
		KeySystemDefault:       "システムデフォルト",
		KeyCameraUnavailable:   "カメラを使用できません: {error}",
		KeyMicUnavailable:      "マイクを使用できません: {error}",
		KeyShuttingDown:        "サーバーを停止しています",
		KeyRecordingEncodeFail: "録音のエンコードに失敗しました: {error}",
	}
}
