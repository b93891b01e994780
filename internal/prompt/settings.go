package prompt

import (
	"sort"
	"strings"

	"github.com/theamal11z/Rex68/internal/memory"
)

// Well-known setting keys.
const (
	SettingPersonality   = "personality"
	SettingLanguage      = "language_preference"
	SettingBehaviorRules = "behavior_rules"
	SettingGreetingStyle = "greeting_style"
	SettingAPIKey        = "api_key"
)

// Settings is a snapshot of behavioral settings keyed by name.
type Settings map[string]string

// SettingsFrom builds a snapshot from stored settings.
func SettingsFrom(list []memory.Setting) Settings {
	s := make(Settings, len(list))
	for _, item := range list {
		s[item.Key] = item.Value
	}
	return s
}

func (s Settings) get(key string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s[key])
}

// CustomGuidelines returns every non-reserved setting as "key: value",
// sorted by key.
func (s Settings) CustomGuidelines() []string {
	keys := make([]string, 0, len(s))
	for k, v := range s {
		if isReserved(k) || strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + ": " + strings.TrimSpace(s[k])
	}
	return out
}

func isReserved(key string) bool {
	switch key {
	case SettingPersonality, SettingLanguage, SettingBehaviorRules, SettingGreetingStyle, SettingAPIKey:
		return true
	}
	return false
}
