package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var bundledLocales embed.FS

type Locale struct {
	translations map[string]string
	locale       string
}

var (
	globalLocale *Locale
	localeMu     sync.RWMutex
)

// InitLocale initializes the global locale system
func InitLocale() error {
	locale := DetectSystemLocale()

	l, err := LoadLocale(locale)
	if err != nil {
		l, err = LoadLocale("en_US")
		if err != nil {
			return fmt.Errorf("failed to load fallback locale en_US: %w", err)
		}
	}

	setLocale(l)
	return nil
}

func setLocale(l *Locale) {
	localeMu.Lock()
	globalLocale = l
	localeMu.Unlock()
}

// DetectSystemLocale detects the user's system locale
func DetectSystemLocale() string {
	for _, env := range []string{"LANG", "LC_ALL", "LC_MESSAGES"} {
		if locale := os.Getenv(env); locale != "" {
			// Typically like "en_US.UTF-8"
			parts := strings.Split(locale, ".")
			if parts[0] != "" && parts[0] != "C" && parts[0] != "POSIX" {
				return parts[0]
			}
		}
	}

	if runtime.GOOS == "windows" {
		if locale := os.Getenv("LANG"); locale != "" {
			return locale
		}
	}

	return "en_US"
}

// LoadLocale loads a locale from the lang/ directory next to the executable,
// falling back to the catalogs compiled into the binary.
func LoadLocale(locale string) (*Locale, error) {
	if exePath, err := os.Executable(); err == nil {
		if l, err := loadLocaleFrom(filepath.Join(filepath.Dir(exePath), "lang"), locale); err == nil {
			return l, nil
		}
	}

	data, err := bundledLocales.ReadFile("lang/" + locale + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no catalog for locale %s: %w", locale, err)
	}
	return parseLocale(data, locale)
}

func loadLocaleFrom(dir, locale string) (*Locale, error) {
	localeFile := filepath.Join(dir, locale+".yaml")

	data, err := os.ReadFile(localeFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read locale file %s: %w", localeFile, err)
	}

	return parseLocale(data, locale)
}

func parseLocale(data []byte, locale string) (*Locale, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse locale %s: %w", locale, err)
	}

	return &Locale{
		translations: translations,
		locale:       locale,
	}, nil
}

// T translates a key with optional parameters
// Usage: T("order_processing", 2) => "Automation started (attempt 2)"
func T(key string, params ...interface{}) string {
	localeMu.RLock()
	l := globalLocale
	localeMu.RUnlock()

	if l == nil {
		return key
	}

	translation, ok := l.translations[key]
	if !ok {
		return key
	}

	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}

	return translation
}

// GetLocale returns the current locale code (e.g., "en_US")
func GetLocale() string {
	localeMu.RLock()
	defer localeMu.RUnlock()

	if globalLocale == nil {
		return "en_US"
	}
	return globalLocale.locale
}
