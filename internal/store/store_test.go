package store_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"reverie/internal/lifecycle"
	"reverie/internal/services"
	"reverie/internal/store"
	"reverie/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	version, err := st.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version == "" {
		t.Fatal("expected a schema version after open")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	again, err := reopened.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if again != version {
		t.Fatalf("expected version %q after reopen, got %q", version, again)
	}
}

func TestCreateDreamRejectsDuplicateID(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := st.CreateDream(ctx, store.NewDream{ID: "d-1", UserID: "u"}); err != nil {
		t.Fatalf("CreateDream failed: %v", err)
	}
	_, err := st.CreateDream(ctx, store.NewDream{ID: "d-1", UserID: "u"})
	if !errors.Is(err, services.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := st.CreateDream(ctx, store.NewDream{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing user, got %v", err)
	}
}

func TestAddSegmentOrderingAndErrors(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")

	testsupport.AddText(t, st, dream.ID, 2, "second")
	audio := testsupport.AddAudio(t, st, dream.ID, 0, "a.m4a")
	text := testsupport.AddText(t, st, dream.ID, 1, "  first  ")

	if audio.Status != lifecycle.StatusPending || audio.Transcript != "" {
		t.Fatalf("audio segment should start pending without transcript: %#v", audio)
	}
	if text.Status != lifecycle.StatusCompleted || text.Transcript != "first" {
		t.Fatalf("text segment should be completed with its text: %#v", text)
	}

	segments, err := st.ListSegments(ctx, dream.ID)
	if err != nil {
		t.Fatalf("ListSegments failed: %v", err)
	}
	var orders []int
	for _, seg := range segments {
		orders = append(orders, seg.Order)
	}
	if !slices.Equal(orders, []int{0, 1, 2}) {
		t.Fatalf("expected ascending order, got %v", orders)
	}

	_, err = st.AddSegment(ctx, store.NewSegment{DreamID: dream.ID, Order: 1, Modality: store.ModalityText, ContentText: "dup"})
	if !errors.Is(err, services.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	_, err = st.AddSegment(ctx, store.NewSegment{DreamID: "missing", Order: 0, Modality: store.ModalityText, ContentText: "x"})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkSegmentStatusPreventsDowngrade(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")
	seg := testsupport.AddAudio(t, st, dream.ID, 0, "a.m4a")

	claimed, err := st.MarkSegmentStatus(ctx, seg.ID, lifecycle.EventStart, store.SegmentMark{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if claimed.Status != lifecycle.StatusProcessing || claimed.Attempts != 1 || claimed.LastHeartbeat == nil {
		t.Fatalf("unexpected claimed segment %#v", claimed)
	}

	done, err := st.MarkSegmentStatus(ctx, seg.ID, lifecycle.EventSucceed, store.SegmentMark{Transcript: "hello"})
	if err != nil {
		t.Fatalf("succeed failed: %v", err)
	}
	if done.Transcript != "hello" || done.Status != lifecycle.StatusCompleted {
		t.Fatalf("unexpected completed segment %#v", done)
	}

	_, err = st.MarkSegmentStatus(ctx, seg.ID, lifecycle.EventFail, store.SegmentMark{Reason: "late"})
	var transitionErr *lifecycle.TransitionError
	if !errors.As(err, &transitionErr) || transitionErr.From != lifecycle.StatusCompleted {
		t.Fatalf("expected transition error from completed, got %v", err)
	}
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition marker, got %v", err)
	}

	current, err := st.GetSegment(ctx, seg.ID)
	if err != nil {
		t.Fatalf("GetSegment failed: %v", err)
	}
	if current.Status != lifecycle.StatusCompleted || current.Transcript != "hello" {
		t.Fatalf("completed segment was modified: %#v", current)
	}
}

func TestMarkSegmentStatusConcurrentClaim(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")
	seg := testsupport.AddAudio(t, st, dream.ID, 0, "a.m4a")

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.MarkSegmentStatus(ctx, seg.ID, lifecycle.EventStart, store.SegmentMark{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claim to win, got %d", wins)
	}
}

func TestRequeueFailedSegment(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")
	seg := testsupport.AddAudio(t, st, dream.ID, 0, "a.m4a")

	if _, err := st.MarkSegmentStatus(ctx, seg.ID, lifecycle.EventFail, store.SegmentMark{Reason: "no speech"}); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	requeued, err := st.MarkSegmentStatus(ctx, seg.ID, lifecycle.EventRequeue, store.SegmentMark{})
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	if requeued.Status != lifecycle.StatusPending || requeued.FailureReason != "" {
		t.Fatalf("unexpected requeued segment %#v", requeued)
	}
}

func TestDeleteSegmentRefusesProcessing(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")
	seg := testsupport.AddAudio(t, st, dream.ID, 0, "a.m4a")

	if _, err := st.MarkSegmentStatus(ctx, seg.ID, lifecycle.EventStart, store.SegmentMark{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := st.DeleteSegment(ctx, dream.ID, seg.ID); !errors.Is(err, services.ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress, got %v", err)
	}
	text := testsupport.AddText(t, st, dream.ID, 1, "bye")
	if _, err := st.DeleteSegment(ctx, dream.ID, text.ID); err != nil {
		t.Fatalf("DeleteSegment failed: %v", err)
	}
	if _, err := st.DeleteSegment(ctx, dream.ID, text.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSetTranscriptIsIdempotent(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")

	changed, err := st.SetTranscript(ctx, dream.ID, "")
	if err != nil || !changed {
		t.Fatalf("first consolidation should write (changed=%v, err=%v)", changed, err)
	}
	changed, err = st.SetTranscript(ctx, dream.ID, "")
	if err != nil || changed {
		t.Fatalf("identical transcript should not write (changed=%v, err=%v)", changed, err)
	}
	changed, err = st.SetTranscript(ctx, dream.ID, "a\n\nb")
	if err != nil || !changed {
		t.Fatalf("new transcript should write (changed=%v, err=%v)", changed, err)
	}
}

func TestTransitionStageRequiresTranscript(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")

	_, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventStart, store.StageOutcome{})
	if !errors.Is(err, services.ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}
	_, err = st.TransitionStage(ctx, "missing", store.StageSummary, lifecycle.EventStart, store.StageOutcome{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	state, err := st.GetStage(ctx, dream.ID, store.StageSummary)
	if err != nil {
		t.Fatalf("GetStage failed: %v", err)
	}
	if state.Status != lifecycle.StatusAbsent {
		t.Fatalf("failed claim should leave the stage absent, got %s", state.Status)
	}
}

func TestTransitionStageLifecycle(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")
	if _, err := st.SetTranscript(ctx, dream.ID, "I was on a train."); err != nil {
		t.Fatalf("SetTranscript failed: %v", err)
	}

	pending, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventEnqueue, store.StageOutcome{})
	if err != nil || pending.Status != lifecycle.StatusPending {
		t.Fatalf("enqueue failed: %v (%#v)", err, pending)
	}
	claimed, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventStart, store.StageOutcome{})
	if err != nil || claimed.Status != lifecycle.StatusProcessing || claimed.Attempts != 1 {
		t.Fatalf("start failed: %v (%#v)", err, claimed)
	}

	_, err = st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventStart, store.StageOutcome{})
	var transitionErr *lifecycle.TransitionError
	if !errors.As(err, &transitionErr) || transitionErr.From != lifecycle.StatusProcessing {
		t.Fatalf("second claim should lose against processing, got %v", err)
	}

	done, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventSucceed, store.StageOutcome{Artifact: "A train dream.", MetadataJSON: `{"title":"Train"}`})
	if err != nil {
		t.Fatalf("succeed failed: %v", err)
	}
	if done.Artifact != "A train dream." || done.GeneratedAt == nil || done.Status != lifecycle.StatusCompleted {
		t.Fatalf("unexpected completed stage %#v", done)
	}

	if _, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventStart, store.StageOutcome{}); err == nil {
		t.Fatal("start without force must not reopen a completed stage")
	}
	forced, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventForceStart, store.StageOutcome{})
	if err != nil {
		t.Fatalf("force start failed: %v", err)
	}
	if forced.Artifact != "" || forced.Attempts != 2 {
		t.Fatalf("force start should clear the artifact and count the attempt: %#v", forced)
	}

	failed, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventFail, store.StageOutcome{Reason: "model refused"})
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if failed.Artifact != "" || failed.ErrorMessage != "model refused" {
		t.Fatalf("unexpected failed stage %#v", failed)
	}

	stages, err := st.ListStages(ctx, dream.ID)
	if err != nil {
		t.Fatalf("ListStages failed: %v", err)
	}
	if len(stages) != len(store.AllStages) {
		t.Fatalf("expected %d stages, got %d", len(store.AllStages), len(stages))
	}
	if stages[1].Stage != store.StageAnalysis || stages[1].Status != lifecycle.StatusAbsent {
		t.Fatalf("expected absent analysis stage, got %#v", stages[1])
	}
}

func TestCheckInRetryCount(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	checkIn, err := st.CreateCheckIn(ctx, store.NewCheckIn{UserID: "u", Text: "Restless", MoodScores: map[string]float64{"calm": 0.2}})
	if err != nil {
		t.Fatalf("CreateCheckIn failed: %v", err)
	}
	if checkIn.InsightStatus != lifecycle.StatusPending || checkIn.MoodScores["calm"] != 0.2 {
		t.Fatalf("unexpected check-in %#v", checkIn)
	}

	for i := 1; i <= 2; i++ {
		if _, err := st.TransitionCheckIn(ctx, checkIn.ID, lifecycle.EventStart, store.InsightOutcome{}); err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
		failed, err := st.TransitionCheckIn(ctx, checkIn.ID, lifecycle.EventFail, store.InsightOutcome{Reason: "timeout"})
		if err != nil {
			t.Fatalf("fail %d failed: %v", i, err)
		}
		if failed.RetryCount != i {
			t.Fatalf("expected retry_count %d, got %d", i, failed.RetryCount)
		}
	}

	retryable, err := st.RetryableCheckIns(ctx, 3, 10)
	if err != nil {
		t.Fatalf("RetryableCheckIns failed: %v", err)
	}
	if len(retryable) != 1 {
		t.Fatalf("expected check-in under ceiling to be retryable, got %d", len(retryable))
	}
	retryable, err = st.RetryableCheckIns(ctx, 2, 10)
	if err != nil {
		t.Fatalf("RetryableCheckIns failed: %v", err)
	}
	if len(retryable) != 0 {
		t.Fatalf("expected exhausted check-in to be skipped, got %d", len(retryable))
	}

	if _, err := st.TransitionCheckIn(ctx, checkIn.ID, lifecycle.EventStart, store.InsightOutcome{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	done, err := st.TransitionCheckIn(ctx, checkIn.ID, lifecycle.EventSucceed, store.InsightOutcome{Text: "You seek rest.", Type: "subconscious"})
	if err != nil {
		t.Fatalf("succeed failed: %v", err)
	}
	if done.InsightVersion != 1 || done.InsightText != "You seek rest." || done.GeneratedAt == nil {
		t.Fatalf("unexpected completed check-in %#v", done)
	}
}

func TestCheckInStartHonoursMaxAttempts(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	checkIn, err := st.CreateCheckIn(ctx, store.NewCheckIn{UserID: "u", Text: "Heavy"})
	if err != nil {
		t.Fatalf("CreateCheckIn failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := st.TransitionCheckIn(ctx, checkIn.ID, lifecycle.EventStart, store.InsightOutcome{MaxAttempts: 2}); err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
		if _, err := st.TransitionCheckIn(ctx, checkIn.ID, lifecycle.EventFail, store.InsightOutcome{}); err != nil {
			t.Fatalf("fail %d failed: %v", i, err)
		}
	}

	current, err := st.TransitionCheckIn(ctx, checkIn.ID, lifecycle.EventStart, store.InsightOutcome{MaxAttempts: 2})
	var transitionErr *lifecycle.TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError at the ceiling, got %v", err)
	}
	if current.InsightStatus != lifecycle.StatusFailed || current.RetryCount != 2 {
		t.Fatalf("refused start must not change the row, got status=%s retries=%d", current.InsightStatus, current.RetryCount)
	}
	if _, err := st.TransitionCheckIn(ctx, checkIn.ID, lifecycle.EventStart, store.InsightOutcome{}); err != nil {
		t.Fatalf("unbounded start failed: %v", err)
	}
}

func TestAbandonStaleReportsDreams(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")
	seg := testsupport.AddAudio(t, st, dream.ID, 0, "a.m4a")
	if _, err := st.MarkSegmentStatus(ctx, seg.ID, lifecycle.EventStart, store.SegmentMark{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	report, err := st.AbandonStale(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("AbandonStale failed: %v", err)
	}
	if !report.Empty() {
		t.Fatalf("fresh heartbeat should not be abandoned: %#v", report)
	}

	report, err = st.AbandonStale(ctx, time.Time{})
	if err != nil {
		t.Fatalf("AbandonStale failed: %v", err)
	}
	if !slices.Equal(report.DreamIDs(), []string{dream.ID}) {
		t.Fatalf("expected dream %s in report, got %#v", dream.ID, report)
	}
	current, err := st.GetSegment(ctx, seg.ID)
	if err != nil {
		t.Fatalf("GetSegment failed: %v", err)
	}
	if current.Status != lifecycle.StatusFailed || current.FailureReason != lifecycle.AbandonedReason {
		t.Fatalf("unexpected abandoned segment %#v", current)
	}
}

func TestRecordAnswerAndProfile(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")

	choice := 2
	if _, err := st.RecordAnswer(ctx, dream.ID, 0, &choice, ""); err != nil {
		t.Fatalf("RecordAnswer failed: %v", err)
	}
	if _, err := st.RecordAnswer(ctx, dream.ID, 0, nil, "my own words"); err != nil {
		t.Fatalf("RecordAnswer replace failed: %v", err)
	}
	if _, err := st.RecordAnswer(ctx, dream.ID, 1, &choice, "both"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for choice+custom, got %v", err)
	}
	answers, err := st.ListAnswers(ctx, dream.ID)
	if err != nil {
		t.Fatalf("ListAnswers failed: %v", err)
	}
	if len(answers) != 1 || answers[0].ChoiceIndex != nil || answers[0].CustomAnswer != "my own words" {
		t.Fatalf("unexpected answers %#v", answers)
	}

	if err := st.UpsertProfile(ctx, store.UserProfile{UserID: "u", Archetype: "starweaver", Confidence: 0.875, TopThemes: []string{"water"}}); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	profile, err := st.GetProfile(ctx, "u")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if profile == nil || profile.Archetype != "starweaver" || !slices.Equal(profile.TopThemes, []string{"water"}) {
		t.Fatalf("unexpected profile %#v", profile)
	}
	missing, err := st.GetProfile(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("expected nil profile for unknown user, got %#v (%v)", missing, err)
	}
}

func TestStatsCountsStatuses(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, "u")
	testsupport.AddAudio(t, st, dream.ID, 0, "a.m4a")
	testsupport.AddText(t, st, dream.ID, 1, "b")

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Dreams != 1 || stats.Segments[lifecycle.StatusPending] != 1 || stats.Segments[lifecycle.StatusCompleted] != 1 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}
