package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ReminderPolite = "polite"
	ReminderFirm   = "firm"
	ReminderFinal  = "final"
)

// ReminderIntervals maps a reminder pattern to the gap between reminders.
var ReminderIntervals = map[string]time.Duration{
	"3days":  3 * 24 * time.Hour,
	"7days":  7 * 24 * time.Hour,
	"14days": 14 * 24 * time.Hour,
}

type Profile struct {
	UserID             uuid.UUID
	BusinessName       string
	BusinessEmail      string
	BusinessPhone      string
	ReminderStyle      string
	ReminderPattern    string
	OnboardingStep     int
	OnboardingComplete bool
	UpdatedAt          time.Time
}

const profileColumns = `user_id, business_name, business_email, business_phone, reminder_style,
	reminder_pattern, onboarding_step, onboarding_complete, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (Profile, error) {
	var p Profile
	var name, email, phone *string
	if err := row.Scan(&p.UserID, &name, &email, &phone, &p.ReminderStyle, &p.ReminderPattern,
		&p.OnboardingStep, &p.OnboardingComplete, &p.UpdatedAt); err != nil {
		return Profile{}, notFound(err)
	}
	p.BusinessName, p.BusinessEmail, p.BusinessPhone = deref(name), deref(email), deref(phone)
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (Profile, error) {
	return scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
}

type BusinessParams struct {
	Name  string
	Email string
	Phone string
}

// UpdateBusiness stores the business details and advances onboarding past
// step 1. It never moves the step backwards.
func (s *Store) UpdateBusiness(ctx context.Context, userID uuid.UUID, p BusinessParams) (Profile, error) {
	return scanProfile(s.db.QueryRow(ctx, `
		UPDATE profiles
		SET business_name = $2,
		    business_email = $3,
		    business_phone = $4,
		    onboarding_step = GREATEST(onboarding_step, 2),
		    updated_at = now()
		WHERE user_id = $1
		RETURNING `+profileColumns,
		userID, p.Name, nullable(p.Email), nullable(p.Phone)))
}

func (s *Store) AdvanceOnboarding(ctx context.Context, userID uuid.UUID, step int) (Profile, error) {
	if step < 1 || step > 5 {
		return Profile{}, fmt.Errorf("onboarding step %d out of range", step)
	}
	return scanProfile(s.db.QueryRow(ctx, `
		UPDATE profiles
		SET onboarding_step = GREATEST(onboarding_step, $2), updated_at = now()
		WHERE user_id = $1
		RETURNING `+profileColumns,
		userID, step))
}

func (s *Store) UpdateReminderSettings(ctx context.Context, userID uuid.UUID, style, pattern string) (Profile, error) {
	if _, ok := ReminderIntervals[pattern]; !ok {
		return Profile{}, fmt.Errorf("unknown reminder pattern %q", pattern)
	}
	return scanProfile(s.db.QueryRow(ctx, `
		UPDATE profiles
		SET reminder_style = $2,
		    reminder_pattern = $3,
		    onboarding_step = GREATEST(onboarding_step, 4),
		    updated_at = now()
		WHERE user_id = $1
		RETURNING `+profileColumns,
		userID, style, pattern))
}

func (s *Store) CompleteOnboarding(ctx context.Context, userID uuid.UUID) (Profile, error) {
	return scanProfile(s.db.QueryRow(ctx, `
		UPDATE profiles
		SET onboarding_step = 5, onboarding_complete = TRUE, updated_at = now()
		WHERE user_id = $1
		RETURNING `+profileColumns,
		userID))
}
