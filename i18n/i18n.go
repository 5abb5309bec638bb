// Package i18n localizes sheetloc's own user-facing messages. Catalogs
// are gettext .po files embedded under locales/ and served through the
// gotext library.
//
// English is the source language: when no catalog matches the requested
// language, T() and N() pass msgids through untouched instead of loading
// anything.
package i18n

import (
	"embed"
	"io/fs"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
)

// Catalog layout: locales/{lang}/LC_MESSAGES/sheetloc.po
//
//go:embed all:locales
var locales embed.FS

const domain = "sheetloc"

var (
	active *gotext.Locale
	lang   = "en"
)

// Init selects the message language. An empty lang auto-detects from the
// locale environment. A regional code without its own catalog falls back
// to the bare language ("fr_CA" uses the "fr" catalog); languages with no
// catalog at all leave messages in English.
func Init(requested string) {
	if requested == "" {
		requested = envLanguage()
	}

	if !hasCatalog(requested) {
		base, _, _ := strings.Cut(requested, "_")
		if !hasCatalog(base) {
			active = nil
			lang = "en"
			return
		}
		requested = base
	}
	lang = requested

	active = gotext.NewLocaleFSWithPath(requested, locales, "locales")
	active.AddDomain(domain)
	active.SetDomain(domain)
}

// Language returns the message language selected by Init.
func Language() string {
	return lang
}

func hasCatalog(lang string) bool {
	if lang == "" {
		return false
	}
	_, err := fs.Stat(locales, "locales/"+lang+"/LC_MESSAGES/"+domain+".po")
	return err == nil
}

// T translates a message, passing it through when no catalog is active
// or the catalog has no entry for it.
func T(msgid string) string {
	if active == nil {
		return msgid
	}
	return active.Get(msgid)
}

// N translates a countable message, applying the catalog language's
// plural formula.
func N(singular, plural string, n int) string {
	if active == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return active.GetN(singular, plural, n)
}

// envLanguage picks the preferred message language from the locale
// environment, in GNU gettext precedence order.
func envLanguage() string {
	for _, name := range [...]string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		// LANGUAGE is a colon-separated preference list; encoding
		// suffixes like ".UTF-8" are never part of a catalog name.
		value, _, _ = strings.Cut(value, ":")
		value, _, _ = strings.Cut(value, ".")
		if value == "" || value == "C" || value == "POSIX" {
			continue
		}
		return value
	}
	return "en"
}
