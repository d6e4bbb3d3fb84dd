package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"live-poll-service/internal/domain"
)

// DraftQueue holds generated drafts per session until the host launches them.
type DraftQueue interface {
	Push(ctx context.Context, code string, drafts []domain.QueuedDraft) error
	List(ctx context.Context, code string) ([]domain.QueuedDraft, error)
	// Take removes and returns one draft, or ErrDraftNotFound.
	Take(ctx context.Context, code, id string) (domain.QueuedDraft, error)
	Clear(ctx context.Context, code string) error
}

// DraftGenerator turns a lecture transcript into candidate polls.
type DraftGenerator interface {
	Generate(ctx context.Context, transcript string) ([]domain.PollDraft, error)
}

var errDraftsDisabled = domain.NewError(domain.KindValidation, "draft generation is not configured")

// GenerateDrafts asks the generator for drafts and queues the valid ones for
// the host. The generator runs outside the session lock.
func (s *LiveService) GenerateDrafts(ctx context.Context, code, hostID, transcript string) ([]domain.QueuedDraft, error) {
	ctx, span := s.tracer.Start(ctx, "LiveService.GenerateDrafts", trace.WithAttributes(attribute.String("session.code", code)))
	defer span.End()

	if s.drafts == nil || s.generator == nil {
		return nil, errDraftsDisabled
	}
	session, err := s.hostSession(code, hostID)
	if err != nil {
		return nil, err
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, domain.NewError(domain.KindValidation, "transcript is required")
	}

	drafts, err := s.generator.Generate(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("generate drafts: %w", err)
	}

	now := s.clock.Now()
	queued := make([]domain.QueuedDraft, 0, len(drafts))
	for _, d := range drafts {
		normalized, err := NormalizeDraft(d, s.settings)
		if err != nil {
			s.logger.Warn("discarding invalid draft", "session", session.Code(), "error", err)
			continue
		}
		queued = append(queued, domain.QueuedDraft{
			ID:       uuid.NewString(),
			Draft:    normalized,
			QueuedAt: now,
		})
	}
	if len(queued) == 0 {
		return nil, domain.NewError(domain.KindValidation, "generator produced no usable drafts")
	}
	if err := s.drafts.Push(ctx, session.Code(), queued); err != nil {
		return nil, fmt.Errorf("queue drafts: %w", err)
	}
	span.SetAttributes(attribute.Int("drafts.queued", len(queued)))
	s.logger.Info("drafts queued", "session", session.Code(), "count", len(queued))
	return queued, nil
}

// ListDrafts returns the host's pending drafts.
func (s *LiveService) ListDrafts(ctx context.Context, code, hostID string) ([]domain.QueuedDraft, error) {
	if s.drafts == nil {
		return nil, errDraftsDisabled
	}
	session, err := s.hostSession(code, hostID)
	if err != nil {
		return nil, err
	}
	return s.drafts.List(ctx, session.Code())
}

// LaunchDraft launches a queued draft. A draft whose launch is rejected is
// put back so the host can retry it.
func (s *LiveService) LaunchDraft(ctx context.Context, code, hostID, draftID string) (domain.Poll, error) {
	if s.drafts == nil {
		return domain.Poll{}, errDraftsDisabled
	}
	session, err := s.hostSession(code, hostID)
	if err != nil {
		return domain.Poll{}, err
	}
	queued, err := s.drafts.Take(ctx, session.Code(), draftID)
	if err != nil {
		return domain.Poll{}, err
	}
	poll, err := s.LaunchPoll(ctx, session.Code(), hostID, queued.Draft)
	if err != nil {
		if pushErr := s.drafts.Push(ctx, session.Code(), []domain.QueuedDraft{queued}); pushErr != nil {
			s.logger.Error("requeue draft failed", "session", session.Code(), "draft", draftID, "error", pushErr)
		}
		return domain.Poll{}, err
	}
	return poll, nil
}

func (s *LiveService) hostSession(code, hostID string) (*Session, error) {
	session, err := s.get(code)
	if err != nil {
		return nil, err
	}
	if session.HostID() != hostID {
		return nil, domain.ErrNotHost
	}
	return session, nil
}
