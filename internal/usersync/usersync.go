// Package usersync enrolls app users that have no LMS membership yet. Each
// run takes a small chunk of pending users; a user is retried on later runs
// until MaxAttempts enrollments have failed.
package usersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"aldar.app/internal/lms"
	"aldar.app/internal/obs"
)

const (
	// CredentialsKey names the batch user the job logs in to the LMS with.
	CredentialsKey = "user_sync_job"

	defaultChunk       = 15
	defaultMaxAttempts = 5
)

// User is a pending enrollment.
type User struct {
	ID                 int64
	FirstName          string
	LastName           string
	Email              string
	MembershipID       string
	MobileNumber       string
	ReferrerMemberID   string
	CountryOfResidence string
	Nationality        string
	Gender             string
	DateOfBirth        time.Time
}

// Enrolled is what the LMS assigned to a user.
type Enrolled struct {
	MemberID string
	Status   string
	Tier     string
	Active   bool
}

type Store interface {
	PendingEnrollments(ctx context.Context, limit, maxAttempts int) ([]User, error)
	MarkEnrolled(ctx context.Context, userID int64, e Enrolled, at time.Time) error
	IncrementSyncAttempts(ctx context.Context, userID int64) error
}

// Enroller is the part of the LMS client the job calls. lms.Retrier implements it.
type Enroller interface {
	RegisterUser(ctx context.Context, e lms.Enrollment) (map[string]any, error)
}

type Options struct {
	Chunk       int
	MaxAttempts int
	Delay       time.Duration
}

// Report summarises one run.
type Report struct {
	Fetched  int
	Enrolled int
	Failed   int
}

type Syncer struct {
	store Store
	lms   Enroller
	opts  Options
	now   func() time.Time
}

func New(store Store, enroller Enroller, opts Options) *Syncer {
	if opts.Chunk <= 0 {
		opts.Chunk = defaultChunk
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Syncer{store: store, lms: enroller, opts: opts, now: time.Now}
}

// Run enrolls one chunk of pending users. Per-user failures are counted and
// logged; only store failures abort the run.
func (s *Syncer) Run(ctx context.Context) (Report, error) {
	log := obs.Logger().With().Str("job", "user_sync").Logger()

	users, err := s.store.PendingEnrollments(ctx, s.opts.Chunk, s.opts.MaxAttempts)
	if err != nil {
		return Report{}, fmt.Errorf("pending enrollments: %w", err)
	}
	rep := Report{Fetched: len(users)}
	log.Info().Int("users", len(users)).Msg("syncing users")

	pace := rate.NewLimiter(rate.Inf, 1)
	if s.opts.Delay > 0 {
		pace = rate.NewLimiter(rate.Every(s.opts.Delay), 1)
	}
	for _, u := range users {
		if err := pace.Wait(ctx); err != nil {
			return rep, err
		}
		enrolled, err := s.enroll(ctx, u)
		if err == nil {
			err = s.store.MarkEnrolled(ctx, u.ID, enrolled, s.now())
			if err != nil {
				return rep, fmt.Errorf("mark user %d enrolled: %w", u.ID, err)
			}
			rep.Enrolled++
			log.Info().Int64("user_id", u.ID).Str("member_id", enrolled.MemberID).Msg("user enrolled")
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return rep, err
		}
		rep.Failed++
		log.Error().Err(err).Int64("user_id", u.ID).Msg("exception occurred in syncing user")
		if err := s.store.IncrementSyncAttempts(ctx, u.ID); err != nil {
			return rep, fmt.Errorf("increment sync attempts of %d: %w", u.ID, err)
		}
	}
	return rep, nil
}

func (s *Syncer) enroll(ctx context.Context, u User) (Enrolled, error) {
	e := lms.Enrollment{
		Channel:            lms.SourceFallback,
		ExternalUserID:     fmt.Sprint(u.ID),
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		MembershipNumber:   u.MembershipID,
		Email:              u.Email,
		MobileNumber:       u.MobileNumber,
		RegistrationDate:   s.now(),
		ReferrerMemberID:   u.ReferrerMemberID,
		CountryOfResidence: u.CountryOfResidence,
		Nationality:        u.Nationality,
		Gender:             u.Gender,
	}
	if !u.DateOfBirth.IsZero() {
		e.DateOfBirth = u.DateOfBirth.Format(time.DateOnly)
	}
	profile, err := s.lms.RegisterUser(ctx, e)
	if err != nil {
		return Enrolled{}, err
	}
	memberID, _ := profile["member_id"].(string)
	if memberID == "" {
		return Enrolled{}, errors.New("enrollment profile has no member_id")
	}
	status, _ := profile["status"].(string)
	tier, _ := profile["member_tier"].(string)
	return Enrolled{
		MemberID: memberID,
		Status:   status,
		Tier:     tier,
		Active:   strings.EqualFold(status, "active"),
	}, nil
}
