package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/faultline-io/faultline-backend/internal/events"
	"github.com/faultline-io/faultline-backend/internal/parser"
	"github.com/faultline-io/faultline-backend/internal/queue"
	"github.com/faultline-io/faultline-backend/internal/stacks"
	"github.com/faultline-io/faultline-backend/pkg/db/models"
	"github.com/faultline-io/faultline-backend/pkg/enums"
	"github.com/faultline-io/faultline-backend/pkg/logger"
	"github.com/faultline-io/faultline-backend/pkg/metrics"
	"github.com/faultline-io/faultline-backend/pkg/outbox"
	"github.com/faultline-io/faultline-backend/pkg/outbox/payloads"
	"github.com/faultline-io/faultline-backend/pkg/types"
)

func setupIngestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{`
CREATE TABLE IF NOT EXISTS stacks (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  project_id TEXT NOT NULL,
  signature_hash TEXT NOT NULL,
  stacking_version TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  total_occurrences INTEGER NOT NULL DEFAULT 0,
  first_occurrence DATETIME,
  last_occurrence DATETIME,
  is_regressed INTEGER NOT NULL DEFAULT 0,
  date_fixed DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  project_id TEXT NOT NULL,
  stack_id TEXT NOT NULL,
  type TEXT NOT NULL,
  source TEXT NOT NULL DEFAULT '',
  date DATETIME NOT NULL,
  message TEXT,
  value NUMERIC,
  geo TEXT,
  reference_id TEXT,
  tags TEXT,
  request TEXT,
  data TEXT,
  is_deleted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS projects (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  name TEXT NOT NULL,
  notification_settings TEXT,
  config TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS ux_stacks_project_signature
  ON stacks (project_id, signature_hash, stacking_version);`}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fakeBlobs struct {
	objects  map[string][]byte
	archived []string
	getErr   error
}

func (f *fakeBlobs) Get(ctx context.Context, objectPath string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[objectPath]
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", objectPath, errObjectMissing)
	}
	return data, nil
}

func (f *fakeBlobs) Archive(ctx context.Context, objectPath, projectID string, createdUTC time.Time) error {
	f.archived = append(f.archived, objectPath)
	return nil
}

var errObjectMissing = fmt.Errorf("object missing")

type fakeCache struct {
	values map[string]string
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	if v, ok := f.values[key]; ok {
		return v, nil
	}
	return "", nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	f.values[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeCache) SignatureCacheKey(projectID, signatureHash, stackingVersion string) string {
	return "fl:stack-sig:" + projectID + ":" + signatureHash + ":" + stackingVersion
}

type recordingCounter struct {
	merges    []stacks.Merge
	regressed []uuid.UUID
	applyErr  error
}

func (r *recordingCounter) Apply(ctx context.Context, merge stacks.Merge) error {
	if r.applyErr != nil {
		return r.applyErr
	}
	r.merges = append(r.merges, merge)
	return nil
}

func (r *recordingCounter) MarkRegressed(ctx context.Context, stack *models.Stack) error {
	r.regressed = append(r.regressed, stack.ID)
	stack.IsRegressed = true
	stack.DateFixed = nil
	return nil
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (r *recordingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type gormTxRunner struct {
	db *gorm.DB
}

func (g *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := g.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

type ingestHarness struct {
	consumer *Consumer
	db       *gorm.DB
	blobs    *fakeBlobs
	counter  *recordingCounter
	emitter  *recordingEmitter
	project  *models.Project
}

func newIngestHarness(t *testing.T) *ingestHarness {
	t.Helper()

	db := setupIngestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test"})

	project := &models.Project{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Name:           "checkout-api",
		NotificationSettings: types.NotificationSettingsMap{
			"chat": {ReportNewErrors: true},
		},
	}
	require.NoError(t, db.Create(project).Error)

	stackRepo := stacks.NewRepository(db)
	cache := &fakeCache{values: map[string]string{}}
	resolver := stacks.NewResolver(stackRepo, cache, time.Minute, logg)

	parserSvc := parser.NewService([]parser.Variant{parser.NewV2Variant()}, logg)

	enrichment, err := EnrichmentRegistry(ContentFingerprinter{}, logg).Build(context.Background(), nil, logg)
	require.NoError(t, err)

	blobs := &fakeBlobs{objects: map[string][]byte{}}
	counter := &recordingCounter{}
	emitter := &recordingEmitter{}

	consumer, err := NewConsumer(ConsumerParams{
		Blobs:           blobs,
		Parser:          parserSvc,
		Enrichment:      enrichment,
		Resolver:        resolver,
		StackRepo:       stackRepo,
		EventRepo:       events.NewRepository(db),
		Projects:        &dbProjectLoader{db: db},
		Counter:         counter,
		DB:              &gormTxRunner{db: db},
		Outbox:          emitter,
		MaxPayloadBytes: 4096,
		Logger:          logg,
	})
	require.NoError(t, err)

	return &ingestHarness{
		consumer: consumer,
		db:       db,
		blobs:    blobs,
		counter:  counter,
		emitter:  emitter,
		project:  project,
	}
}

type dbProjectLoader struct {
	db *gorm.DB
}

func (l *dbProjectLoader) FindByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var project models.Project
	if err := l.db.WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (h *ingestHarness) postMessage(t *testing.T, body []byte) queue.Message {
	t.Helper()
	h.blobs.objects["q/00000001.json"] = body
	post := EventPost{
		BlobPath:   "q/00000001.json",
		ProjectID:  h.project.ID,
		APIVersion: parser.CurrentAPIVersion,
		UserAgent:  "faultline-client/2.1",
	}
	data, err := json.Marshal(post)
	require.NoError(t, err)
	return queue.Message{ID: "msg-1", Data: data, DeliveryAttempt: 1}
}

func TestConsumerPersistsEventAndQueuesNotification(t *testing.T) {
	t.Parallel()

	h := newIngestHarness(t)
	msg := h.postMessage(t, []byte(`{"type":"error","source":"payment.Process","message":"timeout contacting gateway"}`))

	result := h.consumer.Handle(context.Background(), msg)
	require.Equal(t, queue.StatusSuccess, result.Status)

	var persisted []models.Event
	require.NoError(t, h.db.Find(&persisted).Error)
	require.Len(t, persisted, 1)
	assert.Equal(t, enums.EventTypeError, persisted[0].Type)
	assert.Equal(t, "payment.Process", persisted[0].Source)
	assert.Equal(t, "faultline-client/2.1", persisted[0].Request.UserAgent)

	var stackRows []models.Stack
	require.NoError(t, h.db.Find(&stackRows).Error)
	require.Len(t, stackRows, 1)
	assert.Equal(t, persisted[0].StackID, stackRows[0].ID)

	require.Len(t, h.emitter.events, 1)
	work, ok := h.emitter.events[0].Data.(payloads.NotificationQueuedEvent)
	require.True(t, ok)
	assert.Equal(t, persisted[0].ID, work.EventID)
	assert.True(t, work.IsNew)
	assert.False(t, work.IsRegression)
	assert.Equal(t, int64(1), work.TotalOccurrences)

	require.Len(t, h.counter.merges, 1)
	assert.Equal(t, int64(1), h.counter.merges[0].Count)

	assert.Equal(t, []string{"q/00000001.json"}, h.blobs.archived)
}

func TestConsumerReusesExistingStack(t *testing.T) {
	t.Parallel()

	h := newIngestHarness(t)
	body := []byte(`{"type":"error","source":"payment.Process","message":"timeout contacting gateway"}`)

	first := h.consumer.Handle(context.Background(), h.postMessage(t, body))
	require.Equal(t, queue.StatusSuccess, first.Status)
	second := h.consumer.Handle(context.Background(), h.postMessage(t, body))
	require.Equal(t, queue.StatusSuccess, second.Status)

	var stackCount int64
	require.NoError(t, h.db.Model(&models.Stack{}).Count(&stackCount).Error)
	assert.Equal(t, int64(1), stackCount)

	require.Len(t, h.emitter.events, 2)
	work, ok := h.emitter.events[1].Data.(payloads.NotificationQueuedEvent)
	require.True(t, ok)
	assert.False(t, work.IsNew)
}

func TestConsumerMessagesDifferingOnlyByNumbersShareAStack(t *testing.T) {
	t.Parallel()

	h := newIngestHarness(t)

	first := h.consumer.Handle(context.Background(), h.postMessage(t,
		[]byte(`{"type":"error","source":"orders.Load","message":"order 1293 not found"}`)))
	require.Equal(t, queue.StatusSuccess, first.Status)
	second := h.consumer.Handle(context.Background(), h.postMessage(t,
		[]byte(`{"type":"error","source":"orders.Load","message":"order 99041 not found"}`)))
	require.Equal(t, queue.StatusSuccess, second.Status)

	var stackCount int64
	require.NoError(t, h.db.Model(&models.Stack{}).Count(&stackCount).Error)
	assert.Equal(t, int64(1), stackCount)
}

func TestConsumerMarksRegressionOnFixedStack(t *testing.T) {
	t.Parallel()

	h := newIngestHarness(t)
	body := []byte(`{"type":"error","source":"payment.Process","message":"timeout contacting gateway"}`)

	first := h.consumer.Handle(context.Background(), h.postMessage(t, body))
	require.Equal(t, queue.StatusSuccess, first.Status)

	fixedAt := time.Now().UTC()
	require.NoError(t, h.db.Model(&models.Stack{}).
		Where("1 = 1").
		Updates(map[string]any{"date_fixed": fixedAt, "total_occurrences": 4}).Error)

	second := h.consumer.Handle(context.Background(), h.postMessage(t, body))
	require.Equal(t, queue.StatusSuccess, second.Status)

	require.Len(t, h.counter.regressed, 1)
	work, ok := h.emitter.events[1].Data.(payloads.NotificationQueuedEvent)
	require.True(t, ok)
	assert.True(t, work.IsRegression)
	assert.Equal(t, int64(5), work.TotalOccurrences)
}

func TestConsumerAbandonsMissingBlob(t *testing.T) {
	t.Parallel()

	h := newIngestHarness(t)
	msg := h.postMessage(t, []byte(`{}`))
	delete(h.blobs.objects, "q/00000001.json")

	result := h.consumer.Handle(context.Background(), msg)
	assert.Equal(t, queue.StatusAbandon, result.Status)
	assert.Empty(t, h.blobs.archived)
}

func TestConsumerAbandonsOversizedPayload(t *testing.T) {
	t.Parallel()

	h := newIngestHarness(t)
	msg := h.postMessage(t, bytes.Repeat([]byte("a"), 5000))

	result := h.consumer.Handle(context.Background(), msg)
	require.Equal(t, queue.StatusAbandon, result.Status)
	assert.Empty(t, h.blobs.archived)

	var eventCount int64
	require.NoError(t, h.db.Model(&models.Event{}).Count(&eventCount).Error)
	assert.Zero(t, eventCount)
}

func TestConsumerMalformedPayloadIsBenign(t *testing.T) {
	t.Parallel()

	h := newIngestHarness(t)
	msg := h.postMessage(t, []byte(`{"type": broken`))

	result := h.consumer.Handle(context.Background(), msg)
	require.Equal(t, queue.StatusSuccess, result.Status)

	var eventCount int64
	require.NoError(t, h.db.Model(&models.Event{}).Count(&eventCount).Error)
	assert.Zero(t, eventCount)
	assert.Equal(t, []string{"q/00000001.json"}, h.blobs.archived)
}

func TestConsumerDeadLettersUndecodablePost(t *testing.T) {
	t.Parallel()

	h := newIngestHarness(t)
	msg := queue.Message{ID: "msg-9", Data: []byte("not json"), DeliveryAttempt: 1}

	result := h.consumer.Handle(context.Background(), msg)
	assert.Equal(t, queue.StatusDeadLetter, result.Status)
}

func TestConsumerGzipPayload(t *testing.T) {
	t.Parallel()

	h := newIngestHarness(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`{"type":"log","source":"nightly-export","message":"completed"}`))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	h.blobs.objects["q/00000002.json.gz"] = buf.Bytes()
	post := EventPost{
		BlobPath:        "q/00000002.json.gz",
		ProjectID:       h.project.ID,
		APIVersion:      parser.CurrentAPIVersion,
		ContentEncoding: "gzip",
	}
	data, err := json.Marshal(post)
	require.NoError(t, err)

	result := h.consumer.Handle(context.Background(), queue.Message{ID: "msg-2", Data: data, DeliveryAttempt: 1})
	require.Equal(t, queue.StatusSuccess, result.Status)

	var persisted []models.Event
	require.NoError(t, h.db.Find(&persisted).Error)
	require.Len(t, persisted, 1)
	assert.Equal(t, enums.EventTypeLog, persisted[0].Type)
}

func TestConsumerCancelledMidBatch(t *testing.T) {
	t.Parallel()

	h := newIngestHarness(t)
	msg := h.postMessage(t, []byte(`[{"type":"log","source":"a"},{"type":"log","source":"b"}]`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := h.consumer.Handle(ctx, msg)
	assert.Equal(t, queue.StatusCancelled, result.Status)
}

// racingStackRepo inserts a rival row for the same signature right before the
// consumer's own insert, reproducing two workers racing a first-seen
// signature.
type racingStackRepo struct {
	stacks.Repository
	rivals []*models.Stack
}

func (r *racingStackRepo) Create(ctx context.Context, stack *models.Stack) error {
	rival := &models.Stack{
		ID:              uuid.New(),
		OrganizationID:  stack.OrganizationID,
		ProjectID:       stack.ProjectID,
		SignatureHash:   stack.SignatureHash,
		StackingVersion: stack.StackingVersion,
		Title:           stack.Title,
	}
	if err := r.Repository.Create(ctx, rival); err != nil {
		return err
	}
	r.rivals = append(r.rivals, rival)
	return r.Repository.Create(ctx, stack)
}

func TestConsumerRecoversFromConcurrentStackCreation(t *testing.T) {
	t.Parallel()

	db := setupIngestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test"})

	project := &models.Project{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Name:           "checkout-api",
	}
	require.NoError(t, db.Create(project).Error)

	inner := stacks.NewRepository(db)
	racing := &racingStackRepo{Repository: inner}
	cache := &fakeCache{values: map[string]string{}}
	resolver := stacks.NewResolver(inner, cache, time.Minute, logg)

	parserSvc := parser.NewService([]parser.Variant{parser.NewV2Variant()}, logg)
	enrichment, err := EnrichmentRegistry(ContentFingerprinter{}, logg).Build(context.Background(), nil, logg)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	blobs := &fakeBlobs{objects: map[string][]byte{}}
	consumer, err := NewConsumer(ConsumerParams{
		Blobs:           blobs,
		Parser:          parserSvc,
		Enrichment:      enrichment,
		Resolver:        resolver,
		StackRepo:       racing,
		EventRepo:       events.NewRepository(db),
		Projects:        &dbProjectLoader{db: db},
		Counter:         &recordingCounter{},
		DB:              &gormTxRunner{db: db},
		Outbox:          &recordingEmitter{},
		Metrics:         metrics.NewPipelineMetrics(reg),
		MaxPayloadBytes: 4096,
		Logger:          logg,
	})
	require.NoError(t, err)

	blobs.objects["q/race.json"] = []byte(`{"type":"error","source":"payment.Process","message":"timeout contacting gateway"}`)
	post := EventPost{
		BlobPath:   "q/race.json",
		ProjectID:  project.ID,
		APIVersion: parser.CurrentAPIVersion,
	}
	data, err := json.Marshal(post)
	require.NoError(t, err)

	result := consumer.Handle(context.Background(), queue.Message{ID: "msg-race", Data: data, DeliveryAttempt: 1})
	require.Equal(t, queue.StatusSuccess, result.Status)

	// Only the rival row survives; the event attaches to it.
	var persistedStacks []models.Stack
	require.NoError(t, db.Find(&persistedStacks).Error)
	require.Len(t, persistedStacks, 1)
	require.Len(t, racing.rivals, 1)
	assert.Equal(t, racing.rivals[0].ID, persistedStacks[0].ID)

	var persistedEvents []models.Event
	require.NoError(t, db.Find(&persistedEvents).Error)
	require.Len(t, persistedEvents, 1)
	assert.Equal(t, racing.rivals[0].ID, persistedEvents[0].StackID)

	assert.Equal(t, 1.0, gatherCounter(t, reg, "pipeline_duplicate_stacks"))
}

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %q not registered", name)
	return 0
}
