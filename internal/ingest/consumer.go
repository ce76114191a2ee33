package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/faultline-io/faultline-backend/internal/analytics"
	"github.com/faultline-io/faultline-backend/internal/events"
	"github.com/faultline-io/faultline-backend/internal/parser"
	"github.com/faultline-io/faultline-backend/internal/pipeline"
	"github.com/faultline-io/faultline-backend/internal/projects"
	"github.com/faultline-io/faultline-backend/internal/queue"
	"github.com/faultline-io/faultline-backend/internal/stacks"
	dbpkg "github.com/faultline-io/faultline-backend/pkg/db"
	"github.com/faultline-io/faultline-backend/pkg/db/models"
	"github.com/faultline-io/faultline-backend/pkg/enums"
	apperrors "github.com/faultline-io/faultline-backend/pkg/errors"
	"github.com/faultline-io/faultline-backend/pkg/logger"
	"github.com/faultline-io/faultline-backend/pkg/metrics"
	"github.com/faultline-io/faultline-backend/pkg/outbox"
	"github.com/faultline-io/faultline-backend/pkg/outbox/payloads"
	"github.com/faultline-io/faultline-backend/pkg/storage/gcs"
)

const eventReferenceConstraint = "uq_events_project_reference"

type blobStore interface {
	Get(ctx context.Context, objectPath string) ([]byte, error)
	Archive(ctx context.Context, objectPath, projectID string, createdUTC time.Time) error
}

type payloadParser interface {
	Parse(ctx context.Context, input []byte, apiVersion int) ([]*parser.Event, error)
}

type stackResolver interface {
	Resolve(ctx context.Context, projectID uuid.UUID, signatureHash string) (*models.Stack, error)
}

type counterUpdater interface {
	Apply(ctx context.Context, merge stacks.Merge) error
	MarkRegressed(ctx context.Context, stack *models.Stack) error
}

type projectLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type workItemEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type statsRecorder interface {
	RecordIngest(ctx context.Context, stat analytics.IngestStat) error
}

// Consumer turns one EventPost queue message into persisted events, stack
// mutations and queued notification work.
type Consumer struct {
	blobs           blobStore
	parser          payloadParser
	enrichment      *pipeline.Runner[*EnrichmentContext]
	resolver        stackResolver
	stackRepo       stacks.Repository
	eventRepo       events.Repository
	projects        projectLoader
	counter         counterUpdater
	db              txRunner
	outbox          workItemEmitter
	stats           statsRecorder
	metrics         *metrics.PipelineMetrics
	maxPayloadBytes int64
	logg            *logger.Logger
}

// ConsumerParams wires the consumer.
type ConsumerParams struct {
	Blobs           blobStore
	Parser          payloadParser
	Enrichment      *pipeline.Runner[*EnrichmentContext]
	Resolver        stackResolver
	StackRepo       stacks.Repository
	EventRepo       events.Repository
	Projects        projectLoader
	Counter         counterUpdater
	DB              txRunner
	Outbox          workItemEmitter
	Stats           statsRecorder
	Metrics         *metrics.PipelineMetrics
	MaxPayloadBytes int64
	Logger          *logger.Logger
}

// NewConsumer validates the wiring and builds a consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if params.Parser == nil {
		return nil, errors.New("parser is required")
	}
	if params.Enrichment == nil {
		return nil, errors.New("enrichment runner is required")
	}
	if params.Resolver == nil {
		return nil, errors.New("stack resolver is required")
	}
	if params.StackRepo == nil {
		return nil, errors.New("stack repository is required")
	}
	if params.EventRepo == nil {
		return nil, errors.New("event repository is required")
	}
	if params.Projects == nil {
		return nil, errors.New("project loader is required")
	}
	if params.Counter == nil {
		return nil, errors.New("counter updater is required")
	}
	if params.DB == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter is required")
	}
	if params.MaxPayloadBytes <= 0 {
		return nil, errors.New("max payload bytes must be positive")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		blobs:           params.Blobs,
		parser:          params.Parser,
		enrichment:      params.Enrichment,
		resolver:        params.Resolver,
		stackRepo:       params.StackRepo,
		eventRepo:       params.EventRepo,
		projects:        params.Projects,
		counter:         params.Counter,
		db:              params.DB,
		outbox:          params.Outbox,
		stats:           params.Stats,
		metrics:         params.Metrics,
		maxPayloadBytes: params.MaxPayloadBytes,
		logg:            params.Logger,
	}, nil
}

// Handle processes one queue message.
func (c *Consumer) Handle(ctx context.Context, msg queue.Message) queue.Result {
	post, err := DecodeEventPost(msg.Data)
	if err != nil {
		c.logg.Error(ctx, "undecodable event post", err)
		c.metrics.IncProcessed("malformed_post")
		return queue.DeadLetter(err)
	}

	ctx = c.logg.WithProjectID(ctx, post.ProjectID.String())
	ctx = c.logg.WithFields(ctx, map[string]any{"blob_path": post.BlobPath})

	raw, err := c.blobs.Get(ctx, post.BlobPath)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotFound) {
			c.logg.Warn(ctx, "event post blob missing")
		} else {
			c.logg.Error(ctx, "fetching event post blob failed", err)
		}
		return queue.Abandon(err)
	}

	if int64(len(raw)) > c.maxPayloadBytes {
		err := apperrors.New(apperrors.CodePayloadTooLarge,
			fmt.Sprintf("payload is %d bytes, limit %d", len(raw), c.maxPayloadBytes))
		c.logg.Error(ctx, "event post payload exceeds size limit", err)
		c.metrics.IncProcessed("payload_too_large")
		return queue.Abandon(err)
	}

	raw, err = decodeBody(raw, post.ContentEncoding, post.CharSet)
	if err != nil {
		c.logg.Error(ctx, "decoding event post body failed", err)
		c.metrics.IncProcessed("malformed_body")
		c.archive(ctx, post, time.Now().UTC())
		return queue.Success()
	}

	project, err := c.projects.FindByID(ctx, post.ProjectID)
	if err != nil {
		if errors.Is(err, projects.ErrProjectNotFound) {
			c.logg.Warn(ctx, "event post for unknown project, discarding")
			c.archive(ctx, post, time.Now().UTC())
			return queue.Success()
		}
		return failure(ctx, err)
	}

	parsed, err := c.parser.Parse(ctx, raw, post.APIVersion)
	if err != nil {
		return failure(ctx, err)
	}
	if len(parsed) == 0 {
		c.metrics.IncProcessed("empty")
		c.archive(ctx, post, time.Now().UTC())
		return queue.Success()
	}

	stat := analytics.IngestStat{
		ProjectID:      project.ID.String(),
		OrganizationID: project.OrganizationID.String(),
		OccurredAt:     time.Now().UTC(),
		PayloadBytes:   int64(len(raw)),
	}

	for _, ev := range parsed {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return queue.Cancelled(ctxErr)
		}
		created, err := c.processEvent(ctx, project, post, ev)
		if err != nil {
			return failure(ctx, err)
		}
		stat.EventsParsed++
		if created == outcomeDropped {
			stat.EventsDropped++
		}
		if created == outcomeNewStack {
			stat.StacksCreated++
		}
	}

	c.archive(ctx, post, parsed[0].Date)
	c.recordStats(ctx, stat)
	c.metrics.IncProcessed("success")
	return queue.Success()
}

type eventOutcome int

const (
	outcomeExisting eventOutcome = iota
	outcomeNewStack
	outcomeDropped
)

// processEvent runs enrichment, resolves or creates the stack, persists the
// event alongside its notification work item and merges the stack counters.
// A dropped event is not an error; repository failures are.
func (c *Consumer) processEvent(ctx context.Context, project *models.Project, post EventPost, ev *parser.Event) (eventOutcome, error) {
	started := time.Now()

	item := &EnrichmentContext{Project: project, UserAgent: post.UserAgent, Event: ev}
	if err := c.enrichment.Run(ctx, item); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcomeDropped, ctxErr
		}
		c.logg.Error(ctx, "enrichment aborted, dropping event", err)
		return outcomeDropped, nil
	}

	outcome := outcomeExisting
	stack, err := c.resolver.Resolve(ctx, project.ID, item.SignatureHash)
	switch {
	case err == nil:
	case errors.Is(err, stacks.ErrStackNotFound):
		stack, err = c.createStack(ctx, project, item)
		if err != nil {
			return outcomeDropped, err
		}
		// a lost creation race resolves to the winner's existing row
		if stack.TotalOccurrences == 0 {
			outcome = outcomeNewStack
		}
	default:
		return outcomeDropped, err
	}

	isNew := outcome == outcomeNewStack
	isRegression := false
	if !isNew && stack.IsFixed() {
		if err := c.counter.MarkRegressed(ctx, stack); err != nil {
			return outcomeDropped, err
		}
		isRegression = true
	}

	record := buildEventRecord(project, stack, ev)
	err = c.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := c.eventRepo.WithTx(tx).Create(ctx, record); err != nil {
			return err
		}
		return c.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventNotificationQueued,
			AggregateType: enums.AggregateEvent,
			AggregateID:   record.ID,
			Actor:         &outbox.ActorRef{Worker: "ingest-worker"},
			Data: payloads.NotificationQueuedEvent{
				EventID:          record.ID,
				StackID:          stack.ID,
				ProjectID:        record.ProjectID,
				OrganizationID:   record.OrganizationID,
				IsNew:            isNew,
				IsRegression:     isRegression,
				TotalOccurrences: stack.TotalOccurrences + 1,
			},
		})
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, eventReferenceConstraint) {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"reference_id": derefString(record.ReferenceID),
			}), "duplicate event reference, skipping")
			return outcomeDropped, nil
		}
		return outcomeDropped, err
	}

	if err := c.counter.Apply(ctx, stacks.Merge{
		Stack:         stack,
		SignatureHash: item.SignatureHash,
		MinUTC:        record.Date,
		MaxUTC:        record.Date,
		Count:         1,
	}); err != nil {
		c.logg.Error(c.logg.WithStackID(ctx, stack.ID.String()), "stack counter merge failed", err)
	}

	c.metrics.ObserveEventDuration(string(record.Type), time.Since(started))
	return outcome, nil
}

// createStack inserts a new stack for a first-seen signature. Two workers
// racing the same new signature may both create one; that is tolerated,
// logged and counted, and the rows converge through normal stack maintenance.
func (c *Consumer) createStack(ctx context.Context, project *models.Project, item *EnrichmentContext) (*models.Stack, error) {
	stack := &models.Stack{
		ID:              uuid.New(),
		OrganizationID:  project.OrganizationID,
		ProjectID:       project.ID,
		SignatureHash:   item.SignatureHash,
		StackingVersion: stacks.StackingVersion,
		Title:           item.Title,
	}
	if err := c.stackRepo.Create(ctx, stack); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_stacks_project_signature") {
			c.metrics.IncDuplicateStacks()
			c.logg.Warn(ctx, "concurrent stack creation detected, re-resolving")
			return c.resolver.Resolve(ctx, project.ID, item.SignatureHash)
		}
		return nil, err
	}
	c.metrics.IncStacksCreated()
	return stack, nil
}

func buildEventRecord(project *models.Project, stack *models.Stack, ev *parser.Event) *models.Event {
	return &models.Event{
		ID:             uuid.New(),
		OrganizationID: project.OrganizationID,
		ProjectID:      project.ID,
		StackID:        stack.ID,
		Type:           enums.EventType(ev.Type),
		Source:         ev.Source,
		Date:           ev.Date,
		Message:        ev.Message,
		Value:          ev.Value,
		Geo:            ev.Geo,
		ReferenceID:    ev.ReferenceID,
		Tags:           pq.StringArray(ev.Tags),
		Request:        ev.Request,
		Data:           ev.Data,
	}
}

func (c *Consumer) archive(ctx context.Context, post EventPost, createdUTC time.Time) {
	if err := c.blobs.Archive(ctx, post.BlobPath, post.ProjectID.String(), createdUTC); err != nil {
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"archive_error": err.Error()}),
			"archiving event post blob failed")
	}
}

func (c *Consumer) recordStats(ctx context.Context, stat analytics.IngestStat) {
	if c.stats == nil {
		return
	}
	if err := c.stats.RecordIngest(ctx, stat); err != nil {
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"stats_error": err.Error()}),
			"recording ingest stats failed")
	}
}

// decodeBody reverses the transfer encoding the client declared.
func decodeBody(raw []byte, contentEncoding, charSet string) ([]byte, error) {
	if strings.EqualFold(contentEncoding, "gzip") {
		reader, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("opening gzip payload: %w", err)
		}
		defer reader.Close()
		raw, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("decompressing payload: %w", err)
		}
	}
	if charSet != "" && !strings.EqualFold(charSet, "utf-8") && !strings.EqualFold(charSet, "utf8") {
		return nil, fmt.Errorf("unsupported charset %q", charSet)
	}
	// strip a UTF-8 BOM some clients prepend
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	return raw, nil
}

// failure classifies an error as cancellation or a redeliverable failure.
func failure(ctx context.Context, err error) queue.Result {
	if ctx.Err() != nil {
		return queue.Cancelled(ctx.Err())
	}
	return queue.Abandon(err)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
