// Package social applies friend-request and group-membership transitions to
// the Identity Store and notifies the users they affect.
//
// Every mutation reads a fresh snapshot, checks its guards against it, and
// writes back with the snapshot's revision. A write that lost a race is
// retried from the read.
package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/identity"
	"github.com/Tyrowin/nexus-social/internal/metrics"
)

// Options configures a Service.
type Options struct {
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	MaxAttempts int
	Now         func() time.Time
	NewID       func() string
}

// Service is the social graph mutator.
type Service struct {
	store       identity.Store
	notifier    Notifier
	logger      *zap.Logger
	metrics     *metrics.Metrics
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

func NewService(store identity.Store, notifier Notifier, opts Options) *Service {
	s := &Service{
		store:       store,
		notifier:    notifier,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("social")
	if s.maxAttempts <= 0 {
		s.maxAttempts = 5
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return ulid.Make().String() }
	}
	return s
}

// mutate runs one read/validate/write cycle and repeats it while the store
// reports a conflicting writer.
func (s *Service) mutate(ctx context.Context, op string, cycle func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		err := cycle()
		if errors.Is(err, identity.ErrConflict) {
			s.metrics.StoreConflict()
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy, func(err error, wait time.Duration) {
		s.logger.Info("mutation_retry", zap.String("op", op), zap.Duration("wait", wait))
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrConflict):
		s.logger.Warn("mutation_gave_up", zap.String("op", op), zap.Int("attempts", s.maxAttempts))
		return ErrConflict
	case IsValidation(err), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrGroupNotFound):
		s.logger.Info("mutation_rejected", zap.String("op", op), zap.String("reason", err.Error()))
		return err
	default:
		s.logger.Error("mutation_failed", zap.String("op", op), zap.Error(err))
		return err
	}
}

func (s *Service) readUsers(ctx context.Context) (identity.Snapshot[identity.User], error) {
	snap, err := s.store.ReadUsers(ctx)
	if err != nil {
		return snap, fmt.Errorf("read users: %w", err)
	}
	return snap, nil
}

func (s *Service) readGroups(ctx context.Context) (identity.Snapshot[identity.GroupChat], error) {
	snap, err := s.store.ReadGroups(ctx)
	if err != nil {
		return snap, fmt.Errorf("read groups: %w", err)
	}
	return snap, nil
}

// viewUsers is readUsers for callers that never write: a failed read is
// logged and treated as an empty collection.
func (s *Service) viewUsers(ctx context.Context) identity.Snapshot[identity.User] {
	snap, err := s.readUsers(ctx)
	if err != nil {
		s.logger.Warn("store_read_degraded", zap.String("collection", "users"), zap.Error(err))
		return identity.Snapshot[identity.User]{}
	}
	return snap
}

func (s *Service) viewGroups(ctx context.Context) identity.Snapshot[identity.GroupChat] {
	snap, err := s.readGroups(ctx)
	if err != nil {
		s.logger.Warn("store_read_degraded", zap.String("collection", "groups"), zap.Error(err))
		return identity.Snapshot[identity.GroupChat]{}
	}
	return snap
}

// User returns the user with the given id. An unreadable store reports
// ErrUserNotFound.
func (s *Service) User(ctx context.Context, id string) (identity.User, error) {
	snap := s.viewUsers(ctx)
	i, ok := identity.FindUser(snap.Items, id)
	if !ok {
		return identity.User{}, ErrUserNotFound
	}
	return snap.Items[i], nil
}

// Group returns the group with the given id. An unreadable store reports
// ErrGroupNotFound.
func (s *Service) Group(ctx context.Context, id string) (identity.GroupChat, error) {
	snap := s.viewGroups(ctx)
	i, ok := identity.FindGroup(snap.Items, id)
	if !ok {
		return identity.GroupChat{}, ErrGroupNotFound
	}
	return snap.Items[i], nil
}

// AreFriends reports whether the users with ids a and b are friends. Both
// sides of the friendship must be recorded; an unreadable store reports false.
func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	snap := s.viewUsers(ctx)
	i, ok := identity.FindUser(snap.Items, a)
	if !ok {
		return false, nil
	}
	j, ok := identity.FindUser(snap.Items, b)
	if !ok {
		return false, nil
	}
	return snap.Items[i].HasFriend(snap.Items[j].Username) && snap.Items[j].HasFriend(snap.Items[i].Username), nil
}

// IsGroupMember reports whether userID is a participant of groupID.
func (s *Service) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	g, err := s.Group(ctx, groupID)
	if errors.Is(err, ErrGroupNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return g.HasParticipant(userID), nil
}

// GroupParticipants returns the participant ids of groupID.
func (s *Service) GroupParticipants(ctx context.Context, groupID string) ([]string, error) {
	g, err := s.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return g.Participants, nil
}
