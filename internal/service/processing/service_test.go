package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/gradehub/submission-service/internal/models"
	"github.com/gradehub/submission-service/internal/repository"
)

type fakeStore struct {
	mu          sync.Mutex
	submissions map[string]*models.Submission
	statusLog   map[string][]string
	failMark    map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		submissions: make(map[string]*models.Submission),
		statusLog:   make(map[string][]string),
		failMark:    make(map[string]error),
	}
}

func (f *fakeStore) add(id, assignmentID, text string) *models.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &models.Submission{
		ID:               id,
		AssignmentID:     assignmentID,
		StudentID:        "student-" + id,
		DocumentKey:      "documents/" + id,
		ProcessingStatus: models.StatusPending.String(),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if text != "" {
		sub.ExtractedText = &text
	}
	f.submissions[id] = sub
	return sub
}

func (f *fakeStore) get(id string) models.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.submissions[id]
}

func (f *fakeStore) Create(ctx context.Context, s *models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions[s.ID] = s
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[id]
	if !ok {
		return nil, nil
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeStore) ListByAssignment(ctx context.Context, assignmentID string, limit, offset int) ([]models.Submission, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) ListExtractedPeers(ctx context.Context, assignmentID, excludeID string) ([]models.PeerText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []string
	for id := range f.submissions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var peers []models.PeerText
	for _, id := range ids {
		sub := f.submissions[id]
		if sub.AssignmentID != assignmentID || sub.ID == excludeID {
			continue
		}
		if sub.ExtractedText == nil || *sub.ExtractedText == "" {
			continue
		}
		peers = append(peers, models.PeerText{SubmissionID: sub.ID, Text: *sub.ExtractedText})
	}
	return peers, nil
}

func (f *fakeStore) ListStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]models.Submission, error) {
	return nil, nil
}

func (f *fakeStore) setStatus(id, status string) {
	f.statusLog[id] = append(f.statusLog[id], status)
	f.submissions[id].ProcessingStatus = status
	f.submissions[id].UpdatedAt = time.Now()
}

func (f *fakeStore) MarkProcessing(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStatus(id, models.StatusProcessing.String())
	f.submissions[id].SimilarityScore = nil
	f.submissions[id].SimilarityDetail = nil
	f.submissions[id].ProcessingError = nil
	return nil
}

func (f *fakeStore) SetExtractedText(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions[id].ExtractedText = &text
	return nil
}

func (f *fakeStore) MarkCompleted(ctx context.Context, id string, score float64, detail json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failMark[id]; err != nil {
		return &repository.PersistenceError{Op: "mark completed", Err: err}
	}
	f.setStatus(id, models.StatusCompleted.String())
	f.submissions[id].SimilarityScore = &score
	f.submissions[id].SimilarityDetail = detail
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStatus(id, models.StatusFailed.String())
	f.submissions[id].ProcessingError = &reason
	f.submissions[id].SimilarityScore = nil
	f.submissions[id].SimilarityDetail = nil
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

type fakeDocuments struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (f *fakeDocuments) Put(ctx context.Context, key string, document []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[key] = document
	return nil
}

func (f *fakeDocuments) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[key]
	if !ok {
		return nil, repository.ErrDocumentNotFound
	}
	return doc, nil
}

func (f *fakeDocuments) Delete(ctx context.Context, key string) error { return nil }

// fakeExtractor returns the document bytes verbatim as text, or fails
// for documents registered as broken.
type fakeExtractor struct {
	mu     sync.Mutex
	broken map[string]error
}

func (f *fakeExtractor) Extract(ctx context.Context, document []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.broken[string(document)]; ok {
		return "", err
	}
	return string(document), nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, body)
	return nil
}

type pipeline struct {
	store     *fakeStore
	documents *fakeDocuments
	extractor *fakeExtractor
	publisher *fakePublisher
	service   *Service
}

func newPipeline() *pipeline {
	store := newFakeStore()
	documents := &fakeDocuments{docs: make(map[string][]byte)}
	extractor := &fakeExtractor{broken: make(map[string]error)}
	publisher := &fakePublisher{}

	service := NewService(store, documents, extractor, publisher, Config{
		ExtractTimeout: 5 * time.Second,
		ScoreTimeout:   5 * time.Second,
		Exchange:       "submission_exchange",
		RoutingKey:     "submission.process",
	}, zerolog.Nop())

	return &pipeline{
		store:     store,
		documents: documents,
		extractor: extractor,
		publisher: publisher,
		service:   service,
	}
}

func (p *pipeline) addSubmission(id, assignmentID, documentText string) {
	sub := p.store.add(id, assignmentID, "")
	p.documents.docs[sub.DocumentKey] = []byte(documentText)
}

func TestProcessHappyPath(t *testing.T) {
	p := newPipeline()
	p.store.add("peer-1", "a1", "the quick brown fox")
	p.store.add("peer-2", "a1", "lorem ipsum dolor")
	p.addSubmission("target", "a1", "the quick brown fox")

	if err := p.service.Process(context.Background(), "target"); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	got := p.store.get("target")
	if got.ProcessingStatus != models.StatusCompleted.String() {
		t.Errorf("status = %s, want completed", got.ProcessingStatus)
	}
	if got.SimilarityScore == nil {
		t.Fatal("similarity score not set")
	}
	if *got.SimilarityScore < 99 {
		t.Errorf("score = %v, want ~100 for identical peer", *got.SimilarityScore)
	}
	if got.ProcessingError != nil {
		t.Errorf("processing error set on completed submission: %v", *got.ProcessingError)
	}
	if got.ExtractedText == nil || *got.ExtractedText != "the quick brown fox" {
		t.Errorf("extracted text = %v, want document text", got.ExtractedText)
	}

	var detail models.SimilarityDetail
	if err := json.Unmarshal(got.SimilarityDetail, &detail); err != nil {
		t.Fatalf("failed to unmarshal detail: %v", err)
	}
	if detail.OverallScore != *got.SimilarityScore {
		t.Errorf("detail overall = %v, score = %v, want equal", detail.OverallScore, *got.SimilarityScore)
	}

	var gotPeers []string
	for _, c := range detail.Comparisons {
		gotPeers = append(gotPeers, c.SubmissionID)
	}
	if diff := cmp.Diff([]string{"peer-1", "peer-2"}, gotPeers); diff != "" {
		t.Errorf("comparison peers mismatch (-want +got):\n%s", diff)
	}

	wantLog := []string{models.StatusProcessing.String(), models.StatusCompleted.String()}
	if diff := cmp.Diff(wantLog, p.store.statusLog["target"]); diff != "" {
		t.Errorf("status sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessEmptyCorpus(t *testing.T) {
	p := newPipeline()
	p.addSubmission("only-one", "a1", "anything at all")

	if err := p.service.Process(context.Background(), "only-one"); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	got := p.store.get("only-one")
	if got.ProcessingStatus != models.StatusCompleted.String() {
		t.Errorf("status = %s, want completed", got.ProcessingStatus)
	}
	if got.SimilarityScore == nil || *got.SimilarityScore != 0 {
		t.Errorf("score = %v, want 0 with no peers", got.SimilarityScore)
	}

	var detail models.SimilarityDetail
	if err := json.Unmarshal(got.SimilarityDetail, &detail); err != nil {
		t.Fatalf("failed to unmarshal detail: %v", err)
	}
	if len(detail.Comparisons) != 0 {
		t.Errorf("comparisons = %v, want empty", detail.Comparisons)
	}
}

func TestProcessExtractionFailure(t *testing.T) {
	p := newPipeline()
	p.addSubmission("target", "a1", "scanned gibberish")
	p.extractor.broken["scanned gibberish"] = errors.New("all providers failed")

	err := p.service.Process(context.Background(), "target")
	if err == nil {
		t.Fatal("Process succeeded, want error")
	}

	got := p.store.get("target")
	if got.ProcessingStatus != models.StatusFailed.String() {
		t.Errorf("status = %s, want failed", got.ProcessingStatus)
	}
	if got.ProcessingError == nil {
		t.Fatal("processing error not set")
	}
	if got.ExtractedText != nil {
		t.Errorf("extracted text = %q, want unset after extraction failure", *got.ExtractedText)
	}
	if got.SimilarityScore != nil {
		t.Errorf("score set on failed submission: %v", *got.SimilarityScore)
	}
}

func TestProcessUnknownSubmission(t *testing.T) {
	p := newPipeline()

	err := p.service.Process(context.Background(), "missing")
	if !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("err = %v, want ErrSubmissionNotFound", err)
	}
}

func TestProcessFailureIsolation(t *testing.T) {
	p := newPipeline()
	p.addSubmission("good", "a1", "a perfectly fine essay")
	p.addSubmission("bad", "a1", "unreadable blob")
	p.extractor.broken["unreadable blob"] = errors.New("unreadable document")

	var wg sync.WaitGroup
	for _, id := range []string{"good", "bad"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			// Errors surface through the store, asserted below.
			_ = p.service.Process(context.Background(), id)
		}(id)
	}
	wg.Wait()

	good := p.store.get("good")
	if good.ProcessingStatus != models.StatusCompleted.String() {
		t.Errorf("good status = %s, want completed despite sibling failure", good.ProcessingStatus)
	}

	bad := p.store.get("bad")
	if bad.ProcessingStatus != models.StatusFailed.String() {
		t.Errorf("bad status = %s, want failed", bad.ProcessingStatus)
	}
}

func TestProcessIdempotentRescore(t *testing.T) {
	p := newPipeline()
	p.store.add("peer-1", "a1", "shared essay content about history")
	p.addSubmission("target", "a1", "shared essay content about geography")

	if err := p.service.Process(context.Background(), "target"); err != nil {
		t.Fatalf("first Process returned error: %v", err)
	}
	first := p.store.get("target")

	if err := p.service.Process(context.Background(), "target"); err != nil {
		t.Fatalf("second Process returned error: %v", err)
	}
	second := p.store.get("target")

	if *first.SimilarityScore != *second.SimilarityScore {
		t.Errorf("rescore changed result: %v then %v", *first.SimilarityScore, *second.SimilarityScore)
	}
	if diff := cmp.Diff(first.SimilarityDetail, second.SimilarityDetail); diff != "" {
		t.Errorf("rescore changed detail (-first +second):\n%s", diff)
	}
}

func TestProcessFinalWriteFailureLeavesProcessing(t *testing.T) {
	p := newPipeline()
	p.addSubmission("target", "a1", "essay text")
	p.store.failMark["target"] = errors.New("connection reset")

	err := p.service.Process(context.Background(), "target")
	if err == nil {
		t.Fatal("Process succeeded, want persistence error")
	}

	var persistErr *repository.PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("error type = %T, want *PersistenceError", err)
	}

	got := p.store.get("target")
	if got.ProcessingStatus != models.StatusProcessing.String() {
		t.Errorf("status = %s, want stuck in processing (no automatic retry)", got.ProcessingStatus)
	}
}

func TestProcessScorePanicForcedToFailed(t *testing.T) {
	p := newPipeline()
	p.addSubmission("target", "a1", "essay text")
	p.service.score = func(target string, corpus []models.PeerText) (float64, []models.Comparison, error) {
		panic("index out of range")
	}

	err := p.service.Process(context.Background(), "target")
	if err == nil {
		t.Fatal("Process succeeded, want error from panic")
	}

	got := p.store.get("target")
	if got.ProcessingStatus != models.StatusFailed.String() {
		t.Errorf("status = %s, want failed after panic", got.ProcessingStatus)
	}
	if got.ProcessingError == nil {
		t.Error("processing error not recorded after panic")
	}
}

func TestProcessScoreTimeout(t *testing.T) {
	p := newPipeline()
	p.addSubmission("target", "a1", "essay text")
	p.service.config.ScoreTimeout = 20 * time.Millisecond
	p.service.score = func(target string, corpus []models.PeerText) (float64, []models.Comparison, error) {
		time.Sleep(500 * time.Millisecond)
		return 0, nil, nil
	}

	err := p.service.Process(context.Background(), "target")
	if err == nil {
		t.Fatal("Process succeeded, want timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error does not wrap DeadlineExceeded: %v", err)
	}

	got := p.store.get("target")
	if got.ProcessingStatus != models.StatusFailed.String() {
		t.Errorf("status = %s, want failed after timeout", got.ProcessingStatus)
	}
}

func TestEnqueueProcessingPublishesEvent(t *testing.T) {
	p := newPipeline()
	sub := p.store.add("target", "a1", "")

	if err := p.service.EnqueueProcessing(context.Background(), sub); err != nil {
		t.Fatalf("EnqueueProcessing returned error: %v", err)
	}

	if len(p.publisher.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(p.publisher.messages))
	}

	var event models.SubmissionQueuedEvent
	if err := json.Unmarshal(p.publisher.messages[0], &event); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if event.SubmissionID != "target" || event.AssignmentID != "a1" {
		t.Errorf("event = %+v, want submission target in assignment a1", event)
	}
}

func TestProcessPublishesResultEvents(t *testing.T) {
	p := newPipeline()
	p.service.config.ResultRoutingKey = "submission.result"
	p.addSubmission("ok", "a1", "readable essay")
	p.addSubmission("broken", "a1", "scanned noise")
	p.extractor.broken["scanned noise"] = errors.New("all providers failed")

	if err := p.service.Process(context.Background(), "ok"); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if err := p.service.Process(context.Background(), "broken"); err == nil {
		t.Fatal("Process succeeded for broken document, want error")
	}

	if len(p.publisher.messages) != 2 {
		t.Fatalf("published %d messages, want completed and failed events", len(p.publisher.messages))
	}

	var completed models.ProcessingCompletedEvent
	if err := json.Unmarshal(p.publisher.messages[0], &completed); err != nil {
		t.Fatalf("failed to unmarshal completed event: %v", err)
	}
	if completed.SubmissionID != "ok" || completed.Status != models.StatusCompleted.String() {
		t.Errorf("completed event = %+v", completed)
	}

	var failed models.ProcessingFailedEvent
	if err := json.Unmarshal(p.publisher.messages[1], &failed); err != nil {
		t.Fatalf("failed to unmarshal failed event: %v", err)
	}
	if failed.SubmissionID != "broken" || failed.Error == "" {
		t.Errorf("failed event = %+v", failed)
	}
}

func TestPeerOnlyVisibleOnceExtracted(t *testing.T) {
	p := newPipeline()
	// peer-pending has a document but no extracted text yet.
	p.addSubmission("peer-pending", "a1", "not yet extracted")
	p.store.add("peer-ready", "a1", "already extracted text")
	p.addSubmission("target", "a1", "fresh target text")

	if err := p.service.Process(context.Background(), "target"); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	var detail models.SimilarityDetail
	got := p.store.get("target")
	if err := json.Unmarshal(got.SimilarityDetail, &detail); err != nil {
		t.Fatalf("failed to unmarshal detail: %v", err)
	}

	for _, c := range detail.Comparisons {
		if c.SubmissionID == "peer-pending" {
			t.Error("unextracted submission appeared in the corpus")
		}
	}
	found := false
	for _, c := range detail.Comparisons {
		if c.SubmissionID == "peer-ready" {
			found = true
		}
	}
	if !found {
		t.Errorf("extracted peer missing from comparisons: %+v", detail.Comparisons)
	}
}

func TestProcessConcurrentDistinctSubmissions(t *testing.T) {
	p := newPipeline()
	const n = 8
	for i := 0; i < n; i++ {
		p.addSubmission(fmt.Sprintf("sub-%d", i), "a1", fmt.Sprintf("essay number %d with shared words", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := p.service.Process(context.Background(), id); err != nil {
				t.Errorf("Process(%s) returned error: %v", id, err)
			}
		}(fmt.Sprintf("sub-%d", i))
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		got := p.store.get(fmt.Sprintf("sub-%d", i))
		if got.ProcessingStatus != models.StatusCompleted.String() {
			t.Errorf("sub-%d status = %s, want completed", i, got.ProcessingStatus)
		}
	}
}
