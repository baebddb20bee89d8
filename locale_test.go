package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Test locale detection
func TestDetectSystemLocale(t *testing.T) {
	testCases := []struct {
		name           string
		lang           string
		lcAll          string
		lcMessages     string
		expectedLocale string
	}{
		{
			name:           "English US locale from LANG",
			lang:           "en_US.UTF-8",
			expectedLocale: "en_US",
		},
		{
			name:           "LANG takes precedence when both LANG and LC_ALL are set",
			lang:           "en_US.UTF-8",
			lcAll:          "ms_MY.UTF-8",
			expectedLocale: "en_US",
		},
		{
			name:           "LC_ALL used when LANG is empty",
			lcAll:          "ms_MY.UTF-8",
			expectedLocale: "ms_MY",
		},
		{
			name:           "POSIX locale is ignored",
			lang:           "C.UTF-8",
			lcMessages:     "id_ID",
			expectedLocale: "id_ID",
		},
		{
			name:           "Fallback to en_US when empty",
			expectedLocale: "en_US",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LANG", tc.lang)
			t.Setenv("LC_ALL", tc.lcAll)
			t.Setenv("LC_MESSAGES", tc.lcMessages)

			detectedLocale := DetectSystemLocale()

			if detectedLocale != tc.expectedLocale {
				t.Errorf("Expected locale '%s', got '%s'", tc.expectedLocale, detectedLocale)
			}
		})
	}
}

// Test locale loading
func TestLoadLocale(t *testing.T) {
	t.Run("Load locale file from directory", func(t *testing.T) {
		dir := t.TempDir()
		content := "test_key: \"Test Value\"\ntest_with_param: \"Hello, %s!\"\n"
		if err := os.WriteFile(filepath.Join(dir, "test_locale.yaml"), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write test locale file: %v", err)
		}

		locale, err := loadLocaleFrom(dir, "test_locale")
		if err != nil {
			t.Fatalf("Failed to load locale: %v", err)
		}

		if locale.translations["test_key"] != "Test Value" {
			t.Errorf("Expected 'Test Value', got '%s'", locale.translations["test_key"])
		}
		if locale.locale != "test_locale" {
			t.Errorf("Expected locale 'test_locale', got '%s'", locale.locale)
		}
	})

	t.Run("Load non-existent locale file", func(t *testing.T) {
		if _, err := loadLocaleFrom(t.TempDir(), "xx_XX"); err == nil {
			t.Error("Expected error for missing locale file")
		}
	})

	t.Run("Malformed locale file", func(t *testing.T) {
		if _, err := parseLocale([]byte("key: [unterminated"), "bad"); err == nil {
			t.Error("Expected parse error for malformed YAML")
		}
	})

	t.Run("Bundled en_US catalog", func(t *testing.T) {
		locale, err := LoadLocale("en_US")
		if err != nil {
			t.Fatalf("Failed to load bundled locale: %v", err)
		}
		if locale.translations["order_queued"] != "Order queued for processing" {
			t.Errorf("Unexpected order_queued translation: '%s'", locale.translations["order_queued"])
		}
	})

	t.Run("Unknown locale has no catalog", func(t *testing.T) {
		if _, err := LoadLocale("zz_ZZ"); err == nil {
			t.Error("Expected error for unknown locale")
		}
	})
}

// Test T() translation function
func TestTranslationFunction(t *testing.T) {
	testLocale := &Locale{
		translations: map[string]string{
			"simple_key":          "Simple Translation",
			"key_with_param":      "Hello, %s!",
			"key_with_two_params": "Order %s has %d screenshots",
		},
		locale: "test",
	}

	originalLocale := globalLocale
	setLocale(testLocale)
	defer setLocale(originalLocale)

	testCases := []struct {
		name           string
		key            string
		params         []interface{}
		expectedOutput string
	}{
		{name: "Simple translation", key: "simple_key", expectedOutput: "Simple Translation"},
		{name: "Translation with one parameter", key: "key_with_param", params: []interface{}{"World"}, expectedOutput: "Hello, World!"},
		{name: "Translation with two parameters", key: "key_with_two_params", params: []interface{}{"o-1", 5}, expectedOutput: "Order o-1 has 5 screenshots"},
		{name: "Missing key returns key itself", key: "nonexistent_key", expectedOutput: "nonexistent_key"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := T(tc.key, tc.params...)

			if result != tc.expectedOutput {
				t.Errorf("Expected '%s', got '%s'", tc.expectedOutput, result)
			}
		})
	}
}

// Test GetLocale function
func TestGetLocale(t *testing.T) {
	originalLocale := globalLocale
	defer setLocale(originalLocale)

	setLocale(nil)
	if result := GetLocale(); result != "en_US" {
		t.Errorf("Expected default locale 'en_US' when globalLocale is nil, got '%s'", result)
	}

	setLocale(&Locale{translations: map[string]string{}, locale: "ms_MY"})
	if result := GetLocale(); result != "ms_MY" {
		t.Errorf("Expected locale 'ms_MY', got '%s'", result)
	}
}

// Every error code must have a failure message in the bundled catalog
func TestLocalizationKeysExist(t *testing.T) {
	locale, err := LoadLocale("en_US")
	if err != nil {
		t.Fatalf("Failed to load bundled locale: %v", err)
	}

	requiredKeys := []string{
		"order_queued", "order_requeued", "retry_accepted", "order_processing",
		"order_interrupted", "run_timeout", "run_exception", "run_success",
		"step_started", "step_completed", "step_failed", "captcha_detected", "captcha_solved",
	}
	for code := range knownCodes() {
		requiredKeys = append(requiredKeys, "failure_"+string(code))
	}

	for _, key := range requiredKeys {
		if _, ok := locale.translations[key]; !ok {
			t.Errorf("Missing localization key %s", key)
		}
	}
}

// Test T() function with nil global locale
func TestTranslationWithNilGlobalLocale(t *testing.T) {
	originalLocale := globalLocale
	setLocale(nil)
	defer setLocale(originalLocale)

	if result := T("test_key"); result != "test_key" {
		t.Errorf("Expected T() to return key when globalLocale is nil, got '%s'", result)
	}
}

func TestInitLocaleFallsBackToEnglish(t *testing.T) {
	originalLocale := globalLocale
	defer setLocale(originalLocale)

	t.Setenv("LANG", "zz_ZZ.UTF-8")
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")

	if err := InitLocale(); err != nil {
		t.Fatalf("InitLocale failed: %v", err)
	}

	if GetLocale() != "en_US" {
		t.Errorf("Expected fallback to en_US, got '%s'", GetLocale())
	}
	if !strings.Contains(T("run_timeout", "15m0s"), "after 15m0s") {
		t.Errorf("Expected run_timeout to format the budget, got '%s'", T("run_timeout", "15m0s"))
	}
}
