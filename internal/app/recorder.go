package app

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"live-poll-service/internal/domain"
)

// ArchiveStore is the durable store consulted for history and recovery.
// Writes must be idempotent upserts: the recorder may replay them. Records
// are keyed by session id because a room code is reused once its session ends.
type ArchiveStore interface {
	SaveSession(ctx context.Context, record domain.SessionRecord) error
	SavePoll(ctx context.Context, poll domain.Poll) error
	SaveAnswer(ctx context.Context, answer domain.Answer) error
	// LatestSession returns the most recently created session for a code,
	// or ErrSessionNotFound.
	LatestSession(ctx context.Context, code string) (domain.SessionRecord, error)
	ListPolls(ctx context.Context, sessionID string) ([]domain.Poll, error)
}

// ResultsPublisher forwards closed-poll results and session summaries downstream.
type ResultsPublisher interface {
	PublishResults(ctx context.Context, results domain.PollResults) error
	PublishSession(ctx context.Context, record domain.SessionRecord) error
}

// Recorder receives state changes from inside a session's critical section.
// Implementations must not block.
type Recorder interface {
	RecordSession(domain.SessionRecord)
	RecordPoll(domain.Poll)
	RecordAnswer(domain.Answer)
	RecordResults(domain.PollResults)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordSession(domain.SessionRecord) {}
func (NopRecorder) RecordPoll(domain.Poll)             {}
func (NopRecorder) RecordAnswer(domain.Answer)         {}
func (NopRecorder) RecordResults(domain.PollResults)   {}

type recordJob struct {
	kind    string
	session string
	run     func(ctx context.Context) error
}

// AsyncRecorder writes to the archive store and publisher off the session
// path. Jobs are sharded by session code so one session's writes apply in
// order; a full shard drops the job rather than stall the session.
type AsyncRecorder struct {
	store     ArchiveStore
	publisher ResultsPublisher
	shards    []chan recordJob
	timeout   time.Duration
	logger    *slog.Logger
}

func NewAsyncRecorder(store ArchiveStore, publisher ResultsPublisher, queueSize, workers int, logger *slog.Logger) *AsyncRecorder {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	shards := make([]chan recordJob, workers)
	for i := range shards {
		shards[i] = make(chan recordJob, queueSize)
	}
	return &AsyncRecorder{
		store:     store,
		publisher: publisher,
		shards:    shards,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

func (r *AsyncRecorder) RecordSession(record domain.SessionRecord) {
	if r.store != nil {
		r.enqueue(recordJob{kind: "session", session: record.Code, run: func(ctx context.Context) error {
			return r.store.SaveSession(ctx, record)
		}})
	}
	if r.publisher != nil && !record.IsActive {
		r.enqueue(recordJob{kind: "publish-session", session: record.Code, run: func(ctx context.Context) error {
			return r.publisher.PublishSession(ctx, record)
		}})
	}
}

func (r *AsyncRecorder) RecordPoll(poll domain.Poll) {
	if r.store == nil {
		return
	}
	r.enqueue(recordJob{kind: "poll", session: poll.SessionCode, run: func(ctx context.Context) error {
		return r.store.SavePoll(ctx, poll)
	}})
}

func (r *AsyncRecorder) RecordAnswer(answer domain.Answer) {
	if r.store == nil {
		return
	}
	r.enqueue(recordJob{kind: "answer", session: answer.SessionCode, run: func(ctx context.Context) error {
		return r.store.SaveAnswer(ctx, answer)
	}})
}

func (r *AsyncRecorder) RecordResults(results domain.PollResults) {
	if r.publisher == nil {
		return
	}
	r.enqueue(recordJob{kind: "publish-results", session: results.SessionCode, run: func(ctx context.Context) error {
		return r.publisher.PublishResults(ctx, results)
	}})
}

func (r *AsyncRecorder) enqueue(job recordJob) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(job.session))
	shard := r.shards[int(h.Sum32()%uint32(len(r.shards)))]
	select {
	case shard <- job:
	default:
		r.logger.Warn("archive queue full, dropping write", "kind", job.kind, "session", job.session)
	}
}

// Run drains the queues until ctx is cancelled, then flushes what is left.
func (r *AsyncRecorder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, shard := range r.shards {
		shard := shard
		g.Go(func() error {
			for {
				select {
				case job := <-shard:
					r.process(ctx, job)
				case <-ctx.Done():
					r.flush(shard)
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func (r *AsyncRecorder) flush(shard chan recordJob) {
	for {
		select {
		case job := <-shard:
			r.process(context.Background(), job)
		default:
			return
		}
	}
}

func (r *AsyncRecorder) process(ctx context.Context, job recordJob) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := job.run(ctx); err != nil {
		r.logger.Error("archive write failed", "kind", job.kind, "session", job.session, "error", err)
	}
}
