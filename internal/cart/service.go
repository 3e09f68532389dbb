package cart

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Owner identifies whose cart an operation targets. An authenticated user id
// takes precedence over a guest session id.
type Owner struct {
	UserID    string
	SessionID string
}

func (o Owner) IsGuest() bool { return o.UserID == "" }

// Service applies cart operations against the user and guest repositories.
type Service struct {
	users  UserRepository
	guests Repository
	tracer trace.Tracer
}

func NewService(users UserRepository, guests Repository) *Service {
	return &Service{
		users:  users,
		guests: guests,
		tracer: otel.Tracer("github.com/bunnybox/storefront/internal/cart"),
	}
}

func (s *Service) repoFor(o Owner) (Repository, string, error) {
	switch {
	case o.UserID != "":
		return s.users, o.UserID, nil
	case o.SessionID != "":
		return s.guests, o.SessionID, nil
	}
	return nil, "", ErrNoOwner
}

func (s *Service) start(ctx context.Context, name string, o Owner) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "cart."+name, trace.WithAttributes(
		attribute.Bool("cart.guest", o.IsGuest()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Get returns the owner's cart; an absent cart is returned empty.
func (s *Service) Get(ctx context.Context, o Owner) (snap Snapshot, err error) {
	ctx, span := s.start(ctx, "Get", o)
	defer func() { endSpan(span, err) }()

	repo, key, err := s.repoFor(o)
	if err != nil {
		return Snapshot{}, err
	}
	return load(ctx, repo, key)
}

func load(ctx context.Context, repo Repository, key string) (Snapshot, error) {
	got, err := repo.Get(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	if got == nil {
		return Snapshot{Items: []Item{}}, nil
	}
	return Normalize(*got), nil
}

func (s *Service) mutate(ctx context.Context, name string, o Owner, fn func(Snapshot) (Snapshot, error)) (snap Snapshot, err error) {
	ctx, span := s.start(ctx, name, o)
	defer func() { endSpan(span, err) }()

	repo, key, err := s.repoFor(o)
	if err != nil {
		return Snapshot{}, err
	}
	current, err := load(ctx, repo, key)
	if err != nil {
		return Snapshot{}, err
	}
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	if err := repo.Put(ctx, key, next); err != nil {
		return current, err
	}
	return next, nil
}

func (s *Service) AddItem(ctx context.Context, o Owner, it Item) (Snapshot, error) {
	return s.mutate(ctx, "AddItem", o, func(cur Snapshot) (Snapshot, error) {
		return AddLine(cur, it)
	})
}

func (s *Service) UpdateQuantity(ctx context.Context, o Owner, lineID string, qty int) (Snapshot, error) {
	return s.mutate(ctx, "UpdateQuantity", o, func(cur Snapshot) (Snapshot, error) {
		return SetQuantity(cur, lineID, qty)
	})
}

func (s *Service) RemoveItem(ctx context.Context, o Owner, lineID string) (Snapshot, error) {
	return s.mutate(ctx, "RemoveItem", o, func(cur Snapshot) (Snapshot, error) {
		return RemoveLine(cur, lineID)
	})
}

// SetPromo stores the code on the cart without validating it; an empty code
// clears it.
func (s *Service) SetPromo(ctx context.Context, o Owner, code string) (Snapshot, error) {
	return s.mutate(ctx, "SetPromo", o, func(cur Snapshot) (Snapshot, error) {
		return WithPromo(cur, code), nil
	})
}

func (s *Service) Clear(ctx context.Context, o Owner) (err error) {
	ctx, span := s.start(ctx, "Clear", o)
	defer func() { endSpan(span, err) }()

	repo, key, err := s.repoFor(o)
	if err != nil {
		return err
	}
	return repo.Delete(ctx, key)
}

// maxMergedSessions bounds the merge ledger kept on each user cart.
const maxMergedSessions = 20

// Sync merges a local snapshot into the user's server cart and persists the
// result. When local is nil the guest cart stored under sessionID is used.
//
// The session is recorded on the user cart in the same write as the merged
// snapshot. A later sync for a recorded session merges nothing, so a guest cart
// that could not be deleted is never counted twice. The guest cart is deleted
// only after the merged cart has been written.
func (s *Service) Sync(ctx context.Context, userID, sessionID string, local *Snapshot) (merged Snapshot, err error) {
	ctx, span := s.start(ctx, "Sync", Owner{UserID: userID, SessionID: sessionID})
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return Snapshot{}, ErrNoOwner
	}
	log := zerolog.Ctx(ctx)

	stored, sessions, err := s.users.GetMerged(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load user cart: %w", err)
	}
	server := Snapshot{Items: []Item{}}
	if stored != nil {
		server = Normalize(*stored)
	}

	alreadyMerged := sessionID != "" && slices.Contains(sessions, sessionID)
	var localSnap Snapshot
	switch {
	case alreadyMerged:
		log.Info().Str("session_id", sessionID).Msg("guest session already merged")
	case local != nil:
		localSnap = *local
	case sessionID != "":
		if localSnap, err = load(ctx, s.guests, sessionID); err != nil {
			return Snapshot{}, fmt.Errorf("load guest cart: %w", err)
		}
	}

	merged = Merge(localSnap, server)
	if merged.Items == nil {
		merged.Items = []Item{}
	}
	if sessionID != "" && !alreadyMerged {
		sessions = rememberSession(sessions, sessionID)
	}
	if err := s.users.PutMerged(ctx, userID, merged, sessions); err != nil {
		return Snapshot{}, fmt.Errorf("persist merged cart: %w", err)
	}
	span.SetAttributes(attribute.Int("cart.items", merged.ItemCount()))

	if sessionID != "" {
		if err := s.guests.Delete(ctx, sessionID); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("failed to discard guest cart after sync")
		}
	}
	log.Info().Str("user_id", userID).Int("items", merged.ItemCount()).Msg("cart synced")
	return merged, nil
}

// rememberSession appends id, keeping the most recent maxMergedSessions.
func rememberSession(sessions []string, id string) []string {
	out := append(slices.Clone(sessions), id)
	if len(out) > maxMergedSessions {
		out = out[len(out)-maxMergedSessions:]
	}
	return out
}
