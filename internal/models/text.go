package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/language"
)

// Text is either a plain string or a set of translations keyed by language
// tag. The zero value is an empty plain text.
type Text struct {
	plain     string
	localized map[string]string
}

// PlainText returns a Text that resolves to s for every language.
func PlainText(s string) Text {
	return Text{plain: s}
}

// Localized returns a Text holding one value per language tag.
func Localized(values map[string]string) Text {
	m := make(map[string]string, len(values))
	for lang, v := range values {
		m[lang] = v
	}
	return Text{localized: m}
}

// IsLocalized reports whether t carries translations.
func (t Text) IsLocalized() bool {
	return t.localized != nil
}

// IsZero reports whether t resolves to the empty string for every language.
func (t Text) IsZero() bool {
	if !t.IsLocalized() {
		return t.plain == ""
	}
	for _, v := range t.localized {
		if v != "" {
			return false
		}
	}
	return true
}

// Translations returns a copy of the localized values, or nil for plain text.
func (t Text) Translations() map[string]string {
	if !t.IsLocalized() {
		return nil
	}
	m := make(map[string]string, len(t.localized))
	for lang, v := range t.localized {
		m[lang] = v
	}
	return m
}

// Resolve returns the value for the preferred language, then for the
// fallback language, then the first non-empty value in tag order.
// Regional variants match their base language ("en-US" finds "en").
func (t Text) Resolve(preferred, fallback string) string {
	if !t.IsLocalized() {
		return t.plain
	}
	for _, want := range []string{preferred, fallback} {
		if v := t.lookup(want); v != "" {
			return v
		}
	}
	for _, lang := range t.langs() {
		if v := t.localized[lang]; v != "" {
			return v
		}
	}
	return ""
}

// Resolve is the function form of Text.Resolve.
func Resolve(value Text, preferred, fallback string) string {
	return value.Resolve(preferred, fallback)
}

func (t Text) lookup(want string) string {
	if want == "" {
		return ""
	}
	if v := t.localized[want]; v != "" {
		return v
	}
	desired, err := language.Parse(want)
	if err != nil {
		return ""
	}

	var keys []string
	var supported []language.Tag
	for _, lang := range t.langs() {
		if t.localized[lang] == "" {
			continue
		}
		tag, err := language.Parse(lang)
		if err != nil {
			continue
		}
		keys = append(keys, lang)
		supported = append(supported, tag)
	}
	if len(supported) == 0 {
		return ""
	}

	_, idx, conf := language.NewMatcher(supported).Match(desired)
	if conf < language.High {
		return ""
	}
	return t.localized[keys[idx]]
}

func (t Text) langs() []string {
	langs := make([]string, 0, len(t.localized))
	for lang := range t.localized {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// String returns the plain value or the first translation in tag order.
func (t Text) String() string {
	return t.Resolve("", "")
}

// MarshalJSON encodes plain text as a JSON string and translations as an object.
func (t Text) MarshalJSON() ([]byte, error) {
	if t.IsLocalized() {
		return json.Marshal(t.localized)
	}
	return json.Marshal(t.plain)
}

// UnmarshalJSON accepts either a JSON string or an object of strings.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Text{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = PlainText(s)
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("text must be a string or an object of strings: %w", err)
	}
	*t = Localized(m)
	return nil
}

// Value stores the text as JSON.
func (t Text) Value() (driver.Value, error) {
	b, err := t.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a JSON string or object column.
func (t *Text) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = Text{}
		return nil
	case []byte:
		return t.UnmarshalJSON(v)
	case string:
		return t.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Text", src)
	}
}
