/*
Package factory converts stored and JSON settings into a leaderboard Config.

PURPOSE:
  Settings live as loosely typed name/value rows (they are edited from an
  admin screen). This package is the single place where those strings are
  validated and turned into typed leaderboard configuration, so the
  leaderboard never parses settings itself.

JSON SCHEMA (ParseConfigJSON, used by the CLI --settings flag):
  {
    "account_value": "100",
    "max_participants": 8,
    "splits": [
      {"place": 1, "percentage": "0.30"},
      {"place": 2, "percentage": "0.20"}
    ],
    "excluded_reps": ["Support Desk"]
  }
  Omitted fields keep leaderboard.DefaultConfig() values.

VALIDATION:
  - ACCOUNT_VALUE: decimal >= 0
  - MAX_PARTICIPANTS, PAGE_TIMER_SEC_*: integer >= 1
  - Theme: light, dark or system
  - Splits: must sum to 1 (SplitTable.Validate)

SEE ALSO:
  - leaderboard/leaderboard.go: Config
  - store/sqlite/sqlite.go: Settings tables and defaults
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/leaderboard"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of the leaderboard settings.
type ConfigJSON struct {
	AccountValue    *decimal.Decimal `json:"account_value,omitempty"`
	MaxParticipants *int             `json:"max_participants,omitempty"`
	Splits          []SplitJSON      `json:"splits,omitempty"`
	ExcludedReps    []string         `json:"excluded_reps,omitempty"`
}

// SplitJSON is one prize split.
type SplitJSON struct {
	Place      int             `json:"place"`
	Percentage decimal.Decimal `json:"percentage"`
}

// ParseConfigJSON parses a settings document into a validated Config.
func ParseConfigJSON(data []byte) (leaderboard.Config, error) {
	var doc ConfigJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return leaderboard.Config{}, fmt.Errorf("%w: %v", generic.ErrInvalidSetting, err)
	}

	cfg := leaderboard.DefaultConfig()
	if doc.AccountValue != nil {
		if doc.AccountValue.IsNegative() {
			return leaderboard.Config{}, fmt.Errorf("%w: account_value must be >= 0", generic.ErrInvalidSetting)
		}
		cfg.AccountValue = *doc.AccountValue
	}
	if doc.MaxParticipants != nil {
		if *doc.MaxParticipants < 1 {
			return leaderboard.Config{}, fmt.Errorf("%w: max_participants must be >= 1", generic.ErrInvalidSetting)
		}
		cfg.MaxParticipants = *doc.MaxParticipants
	}
	if len(doc.Splits) > 0 {
		table := make(leaderboard.SplitTable, len(doc.Splits))
		for _, s := range doc.Splits {
			if _, dup := table[s.Place]; dup {
				return leaderboard.Config{}, fmt.Errorf("%w: duplicate place %d", generic.ErrInvalidSplits, s.Place)
			}
			table[s.Place] = s.Percentage
		}
		if err := table.Validate(); err != nil {
			return leaderboard.Config{}, err
		}
		cfg.Splits = table
	}
	cfg.ExcludedReps = doc.ExcludedReps

	return cfg, nil
}

// =============================================================================
// STORED SETTINGS
// =============================================================================

// BuildConfig converts stored settings into a Config. Unknown settings are
// ignored; a malformed known setting is an error. An empty split table
// falls back to the defaults.
func BuildConfig(settings []generic.Setting, splits []generic.Split, excluded []string) (leaderboard.Config, error) {
	cfg := leaderboard.DefaultConfig()

	for _, s := range settings {
		if err := ValidateSetting(s); err != nil {
			return leaderboard.Config{}, err
		}
		switch s.Name {
		case generic.SettingAccountValue:
			cfg.AccountValue, _ = decimal.NewFromString(strings.TrimSpace(s.Value))
		case generic.SettingMaxParticipants:
			cfg.MaxParticipants, _ = strconv.Atoi(strings.TrimSpace(s.Value))
		}
	}

	if len(splits) > 0 {
		cfg.Splits = leaderboard.SplitsFrom(splits)
	}
	cfg.ExcludedReps = excluded

	return cfg, nil
}

// ValidateSetting checks a setting value against its name and declared type.
func ValidateSetting(s generic.Setting) error {
	v := strings.TrimSpace(s.Value)
	invalid := func(why string) error {
		return fmt.Errorf("%w: %s=%q: %s", generic.ErrInvalidSetting, s.Name, s.Value, why)
	}

	switch s.Name {
	case generic.SettingAccountValue:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return invalid("not a number")
		}
		if d.IsNegative() {
			return invalid("must be >= 0")
		}
		return nil
	case generic.SettingMaxParticipants, generic.SettingPageTimerSecLive, generic.SettingPageTimerSecPast:
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid("not an integer")
		}
		if n < 1 {
			return invalid("must be >= 1")
		}
		return nil
	case generic.SettingTheme:
		switch v {
		case "light", "dark", "system":
			return nil
		}
		return invalid("must be light, dark or system")
	}

	switch s.DataType {
	case generic.SettingNumber:
		if _, err := decimal.NewFromString(v); err != nil {
			return invalid("not a number")
		}
	case generic.SettingBoolean:
		if _, err := strconv.ParseBool(v); err != nil {
			return invalid("not a boolean")
		}
	case generic.SettingDate:
		if _, err := generic.ParseFirstPayment(v); err != nil {
			return invalid("not a date like \"Jan 2, 2006\"")
		}
	}
	return nil
}

// =============================================================================
// CONFIG SOURCE
// =============================================================================

// StoreSource reads the live Config from a SettingsStore on every call.
type StoreSource struct {
	Store generic.SettingsStore
}

// LeaderboardConfig implements leaderboard.ConfigSource.
func (s StoreSource) LeaderboardConfig(ctx context.Context) (leaderboard.Config, error) {
	settings, err := s.Store.ListSettings(ctx)
	if err != nil {
		return leaderboard.Config{}, fmt.Errorf("list settings: %w", err)
	}
	splits, err := s.Store.ListSplits(ctx)
	if err != nil {
		return leaderboard.Config{}, fmt.Errorf("list splits: %w", err)
	}
	excluded, err := s.Store.ListExcludedReps(ctx)
	if err != nil {
		return leaderboard.Config{}, fmt.Errorf("list excluded reps: %w", err)
	}
	return BuildConfig(settings, splits, excluded)
}
