// Package policy resolves the effective scheduling policy for a salon: the
// posting window, jitter bounds, and timezone that govern when an approved
// post may go out.
//
// Salon overrides are user-editable and must never be able to crash the
// scheduler, so resolution is total: any lookup or parse failure falls back
// field-by-field to the global default. A salon may override only its posting
// window while inheriting the global jitter bounds, and vice versa.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"salonpost/internal/config"
	"salonpost/internal/types"
)

// OverrideSource abstracts the salon policy lookup. Implemented by
// db.PolicyRepository; a nil override row (with nil error) means the salon
// has no overrides.
type OverrideSource interface {
	GetOverrides(ctx context.Context, salonID string) (*types.PolicyOverrides, error)
}

// Resolver merges per-salon overrides over the process-wide default policy.
// Policies are re-read on every Resolve call: a salon's change takes effect
// on the next scheduling tick, never mid-tick.
type Resolver struct {
	source   OverrideSource
	defaults types.Policy
	logger   *slog.Logger
}

// NewResolver creates a Resolver with the given override source and global
// default. Defaults must already be validated (see DefaultsFromConfig).
func NewResolver(source OverrideSource, defaults types.Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source:   source,
		defaults: defaults,
		logger:   logger,
	}
}

// Resolve returns the salon's effective policy. It never fails: on any lookup
// error the global default is returned in full, and each malformed override
// field is skipped individually while the rest still apply.
func (r *Resolver) Resolve(ctx context.Context, salonID string) types.Policy {
	effective := r.defaults

	overrides, err := r.source.GetOverrides(ctx, salonID)
	if err != nil {
		r.logger.WarnContext(ctx, "policy lookup failed, using global default",
			"salon_id", salonID,
			"error", err,
		)
		return effective
	}
	if overrides == nil {
		return effective
	}

	r.applyWindow(ctx, salonID, overrides, &effective)
	r.applyDelay(ctx, salonID, overrides, &effective)
	r.applyTimezone(ctx, salonID, overrides, &effective)

	return effective
}

// applyWindow merges the posting window override. Both ends must be present
// and well-formed with start < end; otherwise the default window is kept.
func (r *Resolver) applyWindow(ctx context.Context, salonID string, o *types.PolicyOverrides, effective *types.Policy) {
	if o.WindowStart == nil && o.WindowEnd == nil {
		return
	}
	if o.WindowStart == nil || o.WindowEnd == nil {
		r.logger.WarnContext(ctx, "partial posting window override ignored",
			"salon_id", salonID,
		)
		return
	}

	start, err := ParseClock(*o.WindowStart)
	if err != nil {
		r.logger.WarnContext(ctx, "invalid window start, keeping default window",
			"salon_id", salonID,
			"value", *o.WindowStart,
			"error", err,
		)
		return
	}
	end, err := ParseClock(*o.WindowEnd)
	if err != nil {
		r.logger.WarnContext(ctx, "invalid window end, keeping default window",
			"salon_id", salonID,
			"value", *o.WindowEnd,
			"error", err,
		)
		return
	}
	if start.Minutes() >= end.Minutes() {
		r.logger.WarnContext(ctx, "inverted posting window ignored",
			"salon_id", salonID,
			"start", *o.WindowStart,
			"end", *o.WindowEnd,
		)
		return
	}

	effective.Window = types.PostingWindow{Start: start, End: end}
}

// applyDelay merges the jitter bounds override. Requires both bounds,
// non-negative, min <= max.
func (r *Resolver) applyDelay(ctx context.Context, salonID string, o *types.PolicyOverrides, effective *types.Policy) {
	if o.DelayMinMinutes == nil && o.DelayMaxMinutes == nil {
		return
	}
	if o.DelayMinMinutes == nil || o.DelayMaxMinutes == nil {
		r.logger.WarnContext(ctx, "partial jitter bounds override ignored",
			"salon_id", salonID,
		)
		return
	}

	minDelay, maxDelay := *o.DelayMinMinutes, *o.DelayMaxMinutes
	if minDelay < 0 || maxDelay < 0 || minDelay > maxDelay {
		r.logger.WarnContext(ctx, "invalid jitter bounds ignored",
			"salon_id", salonID,
			"min", minDelay,
			"max", maxDelay,
		)
		return
	}

	effective.Delay = types.DelayBounds{Min: minDelay, Max: maxDelay}
}

// applyTimezone merges the timezone override, validating it against the IANA
// database via time.LoadLocation.
func (r *Resolver) applyTimezone(ctx context.Context, salonID string, o *types.PolicyOverrides, effective *types.Policy) {
	if o.Timezone == nil {
		return
	}

	loc, err := time.LoadLocation(*o.Timezone)
	if err != nil {
		r.logger.WarnContext(ctx, "unknown timezone ignored",
			"salon_id", salonID,
			"timezone", *o.Timezone,
			"error", err,
		)
		return
	}

	effective.Timezone = *o.Timezone
	effective.Location = loc
}

// ParseClock parses an "HH:MM" wall-clock string into a ClockTime.
func ParseClock(s string) (types.ClockTime, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return types.ClockTime{}, fmt.Errorf("clock time %q is not HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return types.ClockTime{}, fmt.Errorf("clock time %q has invalid hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return types.ClockTime{}, fmt.Errorf("clock time %q has invalid minute", s)
	}

	return types.ClockTime{Hour: hour, Minute: minute}, nil
}

// DefaultsFromConfig builds the validated global default policy from
// configuration. Unlike salon overrides, the global default is operator-owned
// and must be correct: any invalid field is a startup error.
func DefaultsFromConfig(cfg config.PolicyDefaults) (types.Policy, error) {
	start, err := ParseClock(cfg.WindowStart)
	if err != nil {
		return types.Policy{}, types.NewAppError(types.ErrCodeValidationInvalidWindow, "invalid default window start", err)
	}
	end, err := ParseClock(cfg.WindowEnd)
	if err != nil {
		return types.Policy{}, types.NewAppError(types.ErrCodeValidationInvalidWindow, "invalid default window end", err)
	}
	if start.Minutes() >= end.Minutes() {
		return types.Policy{}, types.NewAppError(types.ErrCodeValidationInvalidWindow, "default posting window start must precede end", nil)
	}

	if cfg.DelayMinMinutes < 0 || cfg.DelayMaxMinutes < 0 || cfg.DelayMinMinutes > cfg.DelayMaxMinutes {
		return types.Policy{}, types.NewAppError(types.ErrCodeValidationInvalidJitter, "default jitter bounds are invalid", nil)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return types.Policy{}, types.NewAppError(types.ErrCodeValidationInvalidZone, "invalid default timezone", err)
	}

	return types.Policy{
		Window:   types.PostingWindow{Start: start, End: end},
		Delay:    types.DelayBounds{Min: cfg.DelayMinMinutes, Max: cfg.DelayMaxMinutes},
		Timezone: cfg.Timezone,
		Location: loc,
	}, nil
}
