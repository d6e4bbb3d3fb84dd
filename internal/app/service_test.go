package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
	"live-poll-service/internal/infra/memory"
)

const (
	testCode = "ABC123"
	testHost = "host-1"
)

func newTestService(t *testing.T, settings app.Settings, opts ...app.Option) (*app.LiveService, *manualClock) {
	t.Helper()
	clock := newManualClock()
	opts = append([]app.Option{app.WithClock(clock)}, opts...)
	service := app.NewLiveService(memory.NewSessionStore(), settings, opts...)
	if _, err := service.CreateSession(context.Background(), testHost, testCode); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return service, clock
}

func fourOptionDraft() domain.PollDraft {
	return domain.PollDraft{
		Question:         "Which hook runs after render?",
		Options:          []string{"useState", "useEffect", "useMemo", "useRef"},
		CorrectIndex:     1,
		Difficulty:       domain.DifficultyMedium,
		TimeLimitSeconds: 30,
	}
}

func join(t *testing.T, service *app.LiveService, id string) *app.Subscription {
	t.Helper()
	_, sub, err := service.JoinSession(context.Background(), testCode, app.ParticipantJoin{ID: id, DisplayName: "name-" + id})
	if err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
	return sub
}

func launch(t *testing.T, service *app.LiveService) domain.Poll {
	t.Helper()
	poll, err := service.LaunchPoll(context.Background(), testCode, testHost, fourOptionDraft())
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	return poll
}

func drain(sub *app.Subscription) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countType(events []domain.Event, typ domain.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestScoringWithStreakBonus(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService(t, app.DefaultSettings())
	join(t, service, "u1")

	// two fast correct answers build a streak of 2
	for i := 0; i < 2; i++ {
		poll := launch(t, service)
		if _, err := service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 1}); err != nil {
			t.Fatalf("warmup submit %d: %v", i, err)
		}
		if _, _, err := service.ClosePoll(ctx, testCode, testHost, poll.ID); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}

	poll := launch(t, service)
	clock.Advance(6 * time.Second)
	answer, err := service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if answer.PointsAwarded != 220 {
		t.Fatalf("expected 220 points, got %d", answer.PointsAwarded)
	}
	if answer.ResponseTimeSeconds != 6 {
		t.Fatalf("expected 6s response time, got %v", answer.ResponseTimeSeconds)
	}

	board, _ := service.Leaderboard(ctx, testCode)
	if board[0].Streak != 3 || board[0].Score != 225+235+220 {
		t.Fatalf("unexpected standing %+v", board[0])
	}
}

func TestWrongAnswerResetsStreak(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService(t, app.DefaultSettings())
	join(t, service, "u1")

	poll := launch(t, service)
	if _, err := service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 1}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, _, _ = service.ClosePoll(ctx, testCode, testHost, poll.ID)

	poll = launch(t, service)
	clock.Advance(25 * time.Second)
	answer, err := service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 3})
	if err != nil {
		t.Fatalf("submit wrong: %v", err)
	}
	if answer.PointsAwarded != 0 || answer.IsCorrect {
		t.Fatalf("expected 0 points for wrong answer, got %+v", answer)
	}
	board, _ := service.Leaderboard(ctx, testCode)
	if board[0].Streak != 0 {
		t.Fatalf("expected streak reset, got %d", board[0].Streak)
	}
	if board[0].TotalAnswers != 2 || board[0].CorrectAnswers != 1 {
		t.Fatalf("unexpected counters %+v", board[0])
	}
}

func TestLateAnswerIsExpired(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService(t, app.DefaultSettings())
	join(t, service, "u1")

	poll := launch(t, service)
	before, _ := service.Leaderboard(ctx, testCode)

	clock.Advance(31 * time.Second)
	_, err := service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 1})
	if !errors.Is(err, domain.ErrAnswerExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
	if domain.KindOf(err) != domain.KindExpired {
		t.Fatalf("expected expired kind, got %s", domain.KindOf(err))
	}
	after, _ := service.Leaderboard(ctx, testCode)
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Fatalf("leaderboard changed: %+v -> %+v", before, after)
	}

	snap, _ := service.Snapshot(ctx, testCode)
	if snap.ActivePoll != nil {
		t.Fatalf("expected poll closed by timer")
	}
}

func TestAnswerToHostClosedPollIsStateError(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	join(t, service, "u1")

	poll := launch(t, service)
	_, _, _ = service.ClosePoll(ctx, testCode, testHost, poll.ID)

	_, err := service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 1})
	if !errors.Is(err, domain.ErrPollNotActive) {
		t.Fatalf("expected poll not active, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	join(t, service, "u1")
	poll := launch(t, service)

	_, err := service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 4})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = service.SubmitAnswer(ctx, testCode, "ghost", app.Submission{PollID: poll.ID, OptionIndex: 1})
	if !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
	_, err = service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: "nope", OptionIndex: 1})
	if !errors.Is(err, domain.ErrPollNotFound) {
		t.Fatalf("expected poll not found, got %v", err)
	}
	_, err = service.SubmitAnswer(ctx, "ZZZZZZ", "u1", app.Submission{PollID: poll.ID, OptionIndex: 1})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	join(t, service, "u1")
	poll := launch(t, service)

	const n = 50
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		accepted   int
		duplicates int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrAlreadyAnswered):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || duplicates != n-1 {
		t.Fatalf("expected 1 accepted and %d duplicates, got %d and %d", n-1, accepted, duplicates)
	}
	board, _ := service.Leaderboard(ctx, testCode)
	if board[0].TotalAnswers != 1 {
		t.Fatalf("expected a single scored answer, got %+v", board[0])
	}
}

func TestConcurrentLaunchesKeepOnePollActive(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())

	for round := 0; round < 5; round++ {
		const n = 20
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			launched []domain.Poll
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				poll, err := service.LaunchPoll(ctx, testCode, testHost, fourOptionDraft())
				if err != nil {
					if !errors.Is(err, domain.ErrPollAlreadyActive) {
						t.Errorf("unexpected error: %v", err)
					}
					return
				}
				mu.Lock()
				launched = append(launched, poll)
				mu.Unlock()
			}()
		}
		wg.Wait()

		if len(launched) != 1 {
			t.Fatalf("round %d: expected exactly one launch, got %d", round, len(launched))
		}
		if _, _, err := service.ClosePoll(ctx, testCode, testHost, launched[0].ID); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
}

func TestHostCloseRacingTimeoutEmitsOnePollEnded(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		service, clock := newTestService(t, app.DefaultSettings())
		hostSub := join(t, service, testHost)
		poll := launch(t, service)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			clock.Advance(30 * time.Second)
		}()
		go func() {
			defer wg.Done()
			if _, _, err := service.ClosePoll(ctx, testCode, testHost, poll.ID); err != nil {
				t.Errorf("close: %v", err)
			}
		}()
		wg.Wait()

		if got := countType(drain(hostSub), domain.EventPollEnded); got != 1 {
			t.Fatalf("iteration %d: expected one poll-ended event, got %d", i, got)
		}
	}
}

func TestClosePollIsIdempotent(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	join(t, service, "u1")
	poll := launch(t, service)
	_, _ = service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 0})

	first, closed, err := service.ClosePoll(ctx, testCode, testHost, poll.ID)
	if err != nil || !closed {
		t.Fatalf("first close: closed=%v err=%v", closed, err)
	}
	second, closed, err := service.ClosePoll(ctx, testCode, testHost, poll.ID)
	if err != nil || closed {
		t.Fatalf("second close should be a no-op: closed=%v err=%v", closed, err)
	}
	if first.TotalResponses != 1 || second.TotalResponses != 1 || first.Reason != domain.CloseHostEnded {
		t.Fatalf("unexpected results %+v / %+v", first, second)
	}
	if first.OptionBreakdown[0].Count != 1 || first.OptionBreakdown[0].Percentage != 100 {
		t.Fatalf("unexpected breakdown %+v", first.OptionBreakdown)
	}
}

func TestHostOnlyActions(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	join(t, service, "u1")

	if _, err := service.LaunchPoll(ctx, testCode, "u1", fourOptionDraft()); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected forbidden launch, got %v", err)
	}
	poll := launch(t, service)
	if _, _, err := service.ClosePoll(ctx, testCode, "u1", poll.ID); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected forbidden close, got %v", err)
	}
	if err := service.EndSession(ctx, testCode, "u1"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected forbidden end, got %v", err)
	}
	if domain.KindOf(domain.ErrNotHost) != domain.KindForbidden {
		t.Fatalf("expected forbidden kind")
	}
}

func TestLaunchValidation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())

	cases := map[string]func(d *domain.PollDraft){
		"one option":      func(d *domain.PollDraft) { d.Options = d.Options[:1] },
		"seven options":   func(d *domain.PollDraft) { d.Options = append(d.Options, "a", "b", "c") },
		"bad index":       func(d *domain.PollDraft) { d.CorrectIndex = 4 },
		"empty question":  func(d *domain.PollDraft) { d.Question = "  " },
		"bad difficulty":  func(d *domain.PollDraft) { d.Difficulty = "extreme" },
		"negative limit":  func(d *domain.PollDraft) { d.TimeLimitSeconds = -1 },
		"limit too large": func(d *domain.PollDraft) { d.TimeLimitSeconds = 301 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			draft := fourOptionDraft()
			mutate(&draft)
			if _, err := service.LaunchPoll(ctx, testCode, testHost, draft); domain.KindOf(err) != domain.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	draft := fourOptionDraft()
	draft.TimeLimitSeconds = 0
	draft.Difficulty = "Hard"
	poll, err := service.LaunchPoll(ctx, testCode, testHost, draft)
	if err != nil {
		t.Fatalf("launch with defaults: %v", err)
	}
	if poll.TimeLimitSeconds != 30 || poll.Difficulty != domain.DifficultyHard || poll.State != domain.StateActive {
		t.Fatalf("defaults not applied: %+v", poll)
	}
}

func TestJoinIsIdempotentAndResyncs(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService(t, app.DefaultSettings())
	sub := join(t, service, "u1")
	poll := launch(t, service)
	clock.Advance(3 * time.Second)
	if _, err := service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 1}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := service.LeaveSession(ctx, testCode, "u1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	sub.Close()

	resync, sub2, err := service.JoinSession(ctx, testCode, app.ParticipantJoin{ID: "u1"})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	defer sub2.Close()

	if resync.Session.ParticipantCount != 1 || resync.Session.ConnectedCount != 1 {
		t.Fatalf("rejoin must not duplicate the participant: %+v", resync.Session)
	}
	if resync.Participant == nil || resync.Participant.Score == 0 || resync.Participant.DisplayName != "name-u1" {
		t.Fatalf("expected score and name preserved, got %+v", resync.Participant)
	}
	if resync.Session.ActivePoll == nil || resync.ActiveAnswer == nil || resync.ActiveAnswer.OptionIndex != 1 {
		t.Fatalf("expected active poll and own answer in resync: %+v", resync)
	}
	if resync.Rank != 1 || resync.Session.RemainingSeconds != 27 {
		t.Fatalf("unexpected rank %d / remaining %v", resync.Rank, resync.Session.RemainingSeconds)
	}
}

func TestCapacityExcludesHost(t *testing.T) {
	ctx := context.Background()
	settings := app.DefaultSettings()
	settings.MaxParticipants = 2
	service, _ := newTestService(t, settings)

	join(t, service, testHost)
	join(t, service, "u1")
	join(t, service, "u2")
	_, _, err := service.JoinSession(ctx, testCode, app.ParticipantJoin{ID: "u3"})
	if !errors.Is(err, domain.ErrSessionFull) || domain.KindOf(err) != domain.KindCapacity {
		t.Fatalf("expected capacity error, got %v", err)
	}
	// reconnecting members are always admitted
	if _, _, err := service.JoinSession(ctx, testCode, app.ParticipantJoin{ID: "u2"}); err != nil {
		t.Fatalf("rejoin at capacity: %v", err)
	}
}

func TestEventsAreOrdered(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	hostSub := join(t, service, testHost)
	join(t, service, "u1")
	poll := launch(t, service)
	_, _ = service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 1})
	_, _, _ = service.ClosePoll(ctx, testCode, testHost, poll.ID)

	events := drain(hostSub)
	want := []domain.EventType{
		domain.EventParticipantJoined,
		domain.EventPollStarted,
		domain.EventLeaderboardUpdated,
		domain.EventPollEnded,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], ev.Type)
		}
		if i > 0 && ev.Seq <= events[i-1].Seq {
			t.Fatalf("sequence not increasing: %d after %d", ev.Seq, events[i-1].Seq)
		}
	}
	started := events[1].Payload.(domain.PollStartedPayload)
	if started.Poll.ID != poll.ID || len(started.Poll.Options) != 4 {
		t.Fatalf("unexpected poll-started payload %+v", started)
	}
}

func TestSlowConsumerIsDropped(t *testing.T) {
	ctx := context.Background()
	settings := app.DefaultSettings()
	settings.SubscriberBuffer = 1
	service, _ := newTestService(t, settings)

	slow := join(t, service, "u1")
	fast := join(t, service, "u2")
	<-fast.Events()

	poll := launch(t, service)
	for ev := range fast.Events() {
		if ev.Type == domain.EventPollStarted {
			break
		}
	}
	if _, err := service.SubmitAnswer(ctx, testCode, "u2", app.Submission{PollID: poll.ID, OptionIndex: 1}); err != nil {
		t.Fatalf("submit must not be stalled by a slow member: %v", err)
	}

	for range slow.Events() {
	}
	if !errors.Is(slow.Err(), app.ErrSlowConsumer) {
		t.Fatalf("expected slow consumer error, got %v", slow.Err())
	}
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	sub := join(t, service, "u1")
	poll := launch(t, service)

	if err := service.EndSession(ctx, testCode, testHost); err != nil {
		t.Fatalf("end: %v", err)
	}

	var events []domain.Event
	for ev := range sub.Events() {
		events = append(events, ev)
	}
	if !errors.Is(sub.Err(), app.ErrSessionClosed) {
		t.Fatalf("expected session closed, got %v", sub.Err())
	}
	last := events[len(events)-1]
	if last.Type != domain.EventSessionEnded || countType(events, domain.EventPollEnded) != 1 {
		t.Fatalf("expected poll-ended then session-ended, got %+v", events)
	}

	if _, err := service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 1}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	if _, err := service.CreateSession(ctx, testHost, testCode); err != nil {
		t.Fatalf("code should be reusable after end: %v", err)
	}
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	codes := []string{"QWERTY", "QWERTY", "ZXCVBN"}
	service := app.NewLiveService(memory.NewSessionStore(), app.DefaultSettings(),
		app.WithCodeGenerator(func() (string, error) {
			c := codes[0]
			codes = codes[1:]
			return c, nil
		}))

	first, err := service.CreateSession(ctx, testHost, "")
	if err != nil || first.Code != "QWERTY" {
		t.Fatalf("create: %+v %v", first, err)
	}
	second, err := service.CreateSession(ctx, testHost, "")
	if err != nil || second.Code != "ZXCVBN" {
		t.Fatalf("expected retry on collision: %+v %v", second, err)
	}
	if _, err := service.CreateSession(ctx, testHost, "qwerty"); !errors.Is(err, domain.ErrSessionExists) {
		t.Fatalf("expected conflict for explicit code, got %v", err)
	}
	if _, err := service.CreateSession(ctx, testHost, "no"); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for short code, got %v", err)
	}
	if snap, err := service.Snapshot(ctx, " qwerty "); err != nil || snap.HostID != testHost {
		t.Fatalf("lookup should normalize code: %+v %v", snap, err)
	}
}

func TestRandomCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := app.RandomCode()
		if err != nil {
			t.Fatalf("random code: %v", err)
		}
		if len(code) != 6 || code != app.NormalizeCode(code) {
			t.Fatalf("bad code %q", code)
		}
		for _, r := range code {
			if r == 'O' || r == '0' || r == 'I' || r == '1' {
				t.Fatalf("ambiguous character in %q", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 90 {
		t.Fatalf("codes are not random enough: %d unique", len(seen))
	}
}

func TestResetScores(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	join(t, service, "u1")
	poll := launch(t, service)
	_, _ = service.SubmitAnswer(ctx, testCode, "u1", app.Submission{PollID: poll.ID, OptionIndex: 1})

	if err := service.ResetScores(ctx, testCode, testHost); !errors.Is(err, domain.ErrPollRunning) {
		t.Fatalf("expected reset blocked while poll runs, got %v", err)
	}
	_, _, _ = service.ClosePoll(ctx, testCode, testHost, poll.ID)
	if err := service.ResetScores(ctx, testCode, testHost); err != nil {
		t.Fatalf("reset: %v", err)
	}
	board, _ := service.Leaderboard(ctx, testCode)
	if board[0].Score != 0 || board[0].Streak != 0 || board[0].TotalAnswers != 0 {
		t.Fatalf("expected zeroed standing, got %+v", board[0])
	}
}

func TestSweepEndsIdleSessions(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService(t, app.DefaultSettings())
	sub := join(t, service, "u1")

	clock.Advance(10 * time.Minute)
	if n := service.Sweep(clock.Now()); n != 0 {
		t.Fatalf("session swept too early")
	}
	clock.Advance(25 * time.Minute)
	if n := service.Sweep(clock.Now()); n != 1 {
		t.Fatalf("expected one swept session, got %d", n)
	}
	for range sub.Events() {
	}
	if _, err := service.Snapshot(ctx, testCode); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected swept session removed, got %v", err)
	}
}

func TestHistoryFromLiveSession(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	for i := 0; i < 3; i++ {
		poll := launch(t, service)
		_, _, _ = service.ClosePoll(ctx, testCode, testHost, poll.ID)
	}
	launch(t, service)

	history, err := service.History(ctx, testCode)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected three closed polls, got %d", len(history))
	}
	for _, p := range history {
		if p.State != domain.StateClosed {
			t.Fatalf("history contains unclosed poll %+v", p)
		}
	}
}

func TestReconcileFindsNoDrift(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService(t, app.DefaultSettings())
	for i := 0; i < 10; i++ {
		join(t, service, fmt.Sprintf("u%d", i))
	}
	for round := 0; round < 4; round++ {
		poll := launch(t, service)
		for i := 0; i < 10; i++ {
			clock.Advance(time.Duration(i%3) * time.Second)
			_, _ = service.SubmitAnswer(ctx, testCode, fmt.Sprintf("u%d", i), app.Submission{PollID: poll.ID, OptionIndex: (i + round) % 4})
		}
		_, _, _ = service.ClosePoll(ctx, testCode, testHost, poll.ID)
	}
	drifted, err := service.Reconcile(ctx, testCode)
	if err != nil || drifted {
		t.Fatalf("expected no drift: drifted=%v err=%v", drifted, err)
	}
	rank, err := service.RankOf(ctx, testCode, "u0")
	if err != nil || rank < 1 || rank > 10 {
		t.Fatalf("rank of u0: %d %v", rank, err)
	}
}

func TestDisconnectWaitsForLastConnection(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	host := join(t, service, testHost)
	first := join(t, service, "u1")
	second := join(t, service, "u1")
	drain(host)

	if err := service.Disconnect(ctx, testCode, first); err != nil {
		t.Fatalf("disconnect first: %v", err)
	}
	for range first.Events() {
	}
	if !errors.Is(first.Err(), app.ErrUnsubscribed) {
		t.Fatalf("expected first subscription closed, got %v", first.Err())
	}
	snap, _ := service.Snapshot(ctx, testCode)
	if snap.ConnectedCount != 1 {
		t.Fatalf("expected u1 still connected, got %d", snap.ConnectedCount)
	}
	if n := countType(drain(host), domain.EventParticipantLeft); n != 0 {
		t.Fatalf("expected no participant-left while a connection remains, got %d", n)
	}

	// repeated disconnects of the same subscription change nothing
	if err := service.Disconnect(ctx, testCode, first); err != nil {
		t.Fatalf("disconnect first again: %v", err)
	}
	if snap, _ := service.Snapshot(ctx, testCode); snap.ConnectedCount != 1 {
		t.Fatalf("expected u1 still connected, got %d", snap.ConnectedCount)
	}

	if err := service.Disconnect(ctx, testCode, second); err != nil {
		t.Fatalf("disconnect second: %v", err)
	}
	snap, _ = service.Snapshot(ctx, testCode)
	if snap.ConnectedCount != 0 {
		t.Fatalf("expected u1 disconnected, got %d", snap.ConnectedCount)
	}
	if n := countType(drain(host), domain.EventParticipantLeft); n != 1 {
		t.Fatalf("expected one participant-left, got %d", n)
	}
}

func TestDisconnectAfterSessionEnded(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, app.DefaultSettings())
	sub := join(t, service, "u1")
	if err := service.EndSession(ctx, testCode, testHost); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := service.Disconnect(ctx, testCode, sub); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	for range sub.Events() {
	}
}
