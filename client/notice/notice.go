// Package notice holds user-facing notices and their translations.
//
// Notices are raised with a translatable key; text is resolved only when a
// presentation layer asks for it. A raw server string may be attached as a
// fallback and is used only when the key has no translation.
package notice

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

type Notice struct {
	Level    Level  `json:"level"`
	Key      string `json:"key"`
	Args     []any  `json:"args,omitempty"`
	Fallback string `json:"fallback,omitempty"`
}

func New(level Level, key string, args ...any) Notice {
	return Notice{Level: level, Key: key, Args: args}
}

// ErrorKey is the key under which a server event tag is translated.
func ErrorKey(event string) string {
	return "errors." + event
}

type Translator struct {
	printer *message.Printer
	known   map[string]struct{}
}

// NewTranslator builds a translator for lang. Unknown languages and keys
// missing from a catalog fall back to English.
func NewTranslator(lang string) (*Translator, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("unsupported language %q: %w", lang, err)
	}
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	known := make(map[string]struct{}, len(english))
	for key, msg := range english {
		if err = b.SetString(language.English, key, msg); err != nil {
			return nil, err
		}
		known[key] = struct{}{}
	}
	for key, msg := range polish {
		if err = b.SetString(language.Polish, key, msg); err != nil {
			return nil, err
		}
	}
	matcher := language.NewMatcher([]language.Tag{language.English, language.Polish})
	_, idx, _ := matcher.Match(tag)
	supported := []language.Tag{language.English, language.Polish}[idx]
	return &Translator{
		printer: message.NewPrinter(supported, message.Catalog(b)),
		known:   known,
	}, nil
}

func (t *Translator) Has(key string) bool {
	_, ok := t.known[key]
	return ok
}

// Text resolves the notice. An untranslatable key yields the fallback, or
// the key itself when there is none.
func (t *Translator) Text(n Notice) string {
	if !t.Has(n.Key) {
		if n.Fallback != "" {
			return n.Fallback
		}
		return n.Key
	}
	return t.printer.Sprintf(n.Key, n.Args...)
}
