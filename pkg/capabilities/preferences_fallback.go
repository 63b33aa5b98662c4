package capabilities

import (
	"context"
	"log/slog"

	"github.com/fieldops/dayplan/pkg/contracts"
)

// FallbackPreferences wraps a PreferenceSource with profile-based defaults:
// when the primary source fails, the fallback preferences are served instead
// so planning does not depend on backend availability.
type FallbackPreferences struct {
	primary  PreferenceSource
	fallback contracts.PlanningPreferences
	logger   *slog.Logger
}

func NewFallbackPreferences(primary PreferenceSource, fallback contracts.PlanningPreferences) *FallbackPreferences {
	return &FallbackPreferences{
		primary:  primary,
		fallback: fallback,
		logger:   slog.Default().With("component", "preferences"),
	}
}

func (s *FallbackPreferences) PreferencesFor(ctx context.Context, userID string) (contracts.PlanningPreferences, error) {
	prefs, err := s.primary.PreferencesFor(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "preference source unavailable, using profile defaults",
			"user_id", userID, "error", err)
		return s.fallback, nil
	}
	return prefs, nil
}
