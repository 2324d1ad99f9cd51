package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendance-service/internal/client"
	"attendance-service/internal/config"
	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

const analyticsFlushSize = 100

const insertVerdictAnalytics = `
    INSERT INTO verdict_events (
        verdict_id, attempt_id, user_id, risk_score, risk_level, action_taken,
        detection_methods, location_id, distance_meters, within_geofence,
        config_version, recorded_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// VerdictPublisher fans a recorded verdict out to the downstream consumers:
// a Kafka topic for the attendance workflow, ClickHouse for analytics, and an
// Elasticsearch review index for verdicts an admin has to look at. Publishing
// is best-effort; the verdict is already durable in Scylla before any of this
// runs.
type VerdictPublisher struct {
	producer *client.KafkaProducer
	analytic *client.ClickHouseClient
	search   *client.ESClient
	cfg      *config.Config
	logger   *zap.Logger

	mu     sync.Mutex
	buffer [][]interface{}
}

func NewVerdictPublisher(
	producer *client.KafkaProducer,
	analytic *client.ClickHouseClient,
	search *client.ESClient,
	cfg *config.Config,
	logger *zap.Logger,
) *VerdictPublisher {
	return &VerdictPublisher{
		producer: producer,
		analytic: analytic,
		search:   search,
		cfg:      cfg,
		logger:   logger,
	}
}

// Publish routes one verdict to every configured consumer concurrently.
func (p *VerdictPublisher) Publish(ctx context.Context, verdict *model.Verdict) {
	g, gctx := errgroup.WithContext(ctx)

	if p.producer != nil {
		g.Go(func() error { return p.publishEvent(gctx, verdict) })
	}
	if p.analytic != nil {
		g.Go(func() error { return p.bufferAnalytics(gctx, verdict) })
	}
	if p.search != nil && needsReview(verdict.ActionTaken) {
		g.Go(func() error { return p.indexForReview(verdict) })
	}

	if err := g.Wait(); err != nil {
		util.Warn("Verdict fan-out incomplete",
			zap.String("verdict_id", verdict.VerdictID),
			zap.Error(err))
	}
}

func needsReview(action model.Action) bool {
	return action == model.ActionFlag || action == model.ActionBlock
}

func (p *VerdictPublisher) publishEvent(ctx context.Context, verdict *model.Verdict) error {
	payload, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to serialize verdict event: %w", err)
	}

	headers := map[string]string{
		"event_type": "attendance.verdict",
		"action":     string(verdict.ActionTaken),
	}

	if err := p.producer.ProduceMessage(ctx, p.cfg.Kafka.VerdictTopic, []byte(verdict.UserID), payload, headers); err != nil {
		return fmt.Errorf("failed to publish verdict event: %w", err)
	}
	return nil
}

// bufferAnalytics appends the verdict to the in-memory batch and flushes when
// the batch is full. FlushAnalytics drains the remainder on a timer and at
// shutdown.
func (p *VerdictPublisher) bufferAnalytics(ctx context.Context, verdict *model.Verdict) error {
	row := []interface{}{
		verdict.VerdictID, verdict.AttemptID, verdict.UserID,
		verdict.RiskScore, string(verdict.RiskLevel), string(verdict.ActionTaken),
		verdict.DetectionMethods, verdict.LocationID, verdict.DistanceMeters,
		verdict.WithinGeofence, verdict.ConfigVersion, verdict.RecordedAt,
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, row)
	full := len(p.buffer) >= analyticsFlushSize
	p.mu.Unlock()

	if full {
		return p.FlushAnalytics(ctx)
	}
	return nil
}

// FlushAnalytics writes the buffered verdict rows to ClickHouse.
func (p *VerdictPublisher) FlushAnalytics(ctx context.Context) error {
	p.mu.Lock()
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := p.analytic.BatchInsert(ctx, insertVerdictAnalytics, batch); err != nil {
		util.Warn("Failed to flush verdict analytics batch",
			zap.Int("rows", len(batch)),
			zap.Error(err))
		return fmt.Errorf("failed to flush verdict analytics: %w", err)
	}

	util.Debug("Verdict analytics batch flushed", zap.Int("rows", len(batch)))
	return nil
}

func (p *VerdictPublisher) indexForReview(verdict *model.Verdict) error {
	res, err := p.search.IndexDocument(p.cfg.Elasticsearch.ReviewIndex, verdict.VerdictID, verdict)
	if err != nil {
		return fmt.Errorf("failed to index verdict for review: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("failed to index verdict for review: %s", res.Status())
	}
	return nil
}

// SearchReviewQueue returns verdicts from the review index, newest first,
// optionally filtered by action.
func (p *VerdictPublisher) SearchReviewQueue(ctx context.Context, action model.Action, limit int) ([]*model.Verdict, error) {
	if p.search == nil {
		return nil, fmt.Errorf("review search is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"recorded_at": map[string]interface{}{"order": "desc"}},
		},
	}
	if action != "" {
		query["query"] = map[string]interface{}{
			"term": map[string]interface{}{
				"action_taken": string(action),
			},
		}
	}

	res, err := p.search.Search(ctx, p.cfg.Elasticsearch.ReviewIndex, query)
	if err != nil {
		return nil, fmt.Errorf("review queue search failed: %w", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source model.Verdict `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := p.search.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse review queue response: %w", err)
	}

	verdicts := make([]*model.Verdict, 0, len(parsed.Hits.Hits))
	for i := range parsed.Hits.Hits {
		v := parsed.Hits.Hits[i].Source
		verdicts = append(verdicts, &v)
	}
	return verdicts, nil
}

// RunFlushLoop flushes buffered analytics rows on the given interval until
// the context is cancelled, then drains once more.
func (p *VerdictPublisher) RunFlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = p.FlushAnalytics(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = p.FlushAnalytics(flushCtx)
			cancel()
			return
		}
	}
}
