package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTINGS - Leaderboard configuration as stored
// =============================================================================

// Well-known general setting names.
const (
	SettingAccountValue     = "ACCOUNT_VALUE"
	SettingMaxParticipants  = "MAX_PARTICIPANTS"
	SettingPageTimerSecLive = "PAGE_TIMER_SEC_LIVE"
	SettingPageTimerSecPast = "PAGE_TIMER_SEC_PAST"
	SettingTheme            = "Theme"
)

// SettingType is the declared type of a setting value.
type SettingType string

const (
	SettingNumber  SettingType = "number"
	SettingString  SettingType = "string"
	SettingBoolean SettingType = "boolean"
	SettingDate    SettingType = "date"
)

// Setting is one named configuration value.
type Setting struct {
	Name        string
	Value       string
	Description string
	DataType    SettingType
}

// Split is the share of the bonus pool paid to one leaderboard place.
type Split struct {
	Place      int
	Percentage decimal.Decimal
}

// SettingsStore persists leaderboard configuration.
type SettingsStore interface {
	ListSettings(ctx context.Context) ([]Setting, error)
	SaveSetting(ctx context.Context, s Setting) error
	ListSplits(ctx context.Context) ([]Split, error)
	ReplaceSplits(ctx context.Context, splits []Split) error
	ListExcludedReps(ctx context.Context) ([]string, error)
	ReplaceExcludedReps(ctx context.Context, names []string) error
}
