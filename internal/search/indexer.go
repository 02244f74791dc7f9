// Package search implements the asynchronous search indexer: a
// durable bus consumer that batches MessageCreated/Edited/Deleted events
// into upserts against an external full-text index, grounded on
// elastic/go-elasticsearch/v8, the only real search client dependency
// found across the example pack.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/bus"
	"github.com/fechatter/fechatter-go/internal/ids"
)

const indexName = "fechatter-messages"

// Document is the shape indexed per message, keyed by message_id so
// re-indexing is a plain idempotent upsert.
type Document struct {
	MessageID ids.MessageId `json:"message_id"`
	ChatID    ids.ChatId    `json:"chat_id"`
	SenderID  ids.UserId    `json:"sender_id"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
	Deleted   bool          `json:"deleted"`
	Version   int64         `json:"version"`
}

// Indexer batches incoming events and flushes them to Elasticsearch.
type Indexer struct {
	client    *elasticsearch.Client
	batchSize int
	timeout   time.Duration

	mu      sync.Mutex
	pending []Document
	timer   *time.Timer
	flushCh chan struct{}

	metrics IndexerMetrics
}

// IndexerMetrics is the subset of the observability.Metrics surface the
// indexer increments; kept as an interface so tests can stub it out.
type IndexerMetrics interface {
	IndexedBatch(outcome string)
	RecordDeadLettered()
}

// NewIndexer dials Elasticsearch at addrs (with optional apiKey) and
// prepares a batcher flushing at batchSize events or timeout, whichever
// comes first.
func NewIndexer(addrs []string, apiKey string, batchSize int, timeout time.Duration, metrics IndexerMetrics) (*Indexer, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addrs,
		APIKey:    apiKey,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSearchUnavailable, err, "create elasticsearch client")
	}
	return &Indexer{
		client:    client,
		batchSize: batchSize,
		timeout:   timeout,
		flushCh:   make(chan struct{}, 1),
		metrics:   metrics,
	}, nil
}

// HandleEvent adapts a bus.Envelope into a Handler compatible with
// bus.Consumer.Run, applying version-gated conflict resolution: an
// event older than the stored version is dropped (handled document-side
// at flush via a scripted upsert).
func (ix *Indexer) HandleEvent(ctx context.Context, env bus.Envelope) error {
	var doc Document
	switch env.EventType {
	case "MessageCreated":
		var created struct {
			ID        ids.MessageId `json:"id"`
			ChatID    ids.ChatId    `json:"chat_id"`
			SenderID  ids.UserId    `json:"sender_id"`
			Content   string        `json:"content"`
			CreatedAt time.Time     `json:"created_at"`
		}
		if err := json.Unmarshal(env.Payload, &created); err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "decode MessageCreated payload")
		}
		doc = Document{MessageID: created.ID, ChatID: created.ChatID, SenderID: created.SenderID, Content: created.Content, CreatedAt: created.CreatedAt, Version: env.Version}
	case "MessageEdited":
		var edited struct {
			ID      ids.MessageId `json:"id"`
			Content string        `json:"content"`
		}
		if err := json.Unmarshal(env.Payload, &edited); err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "decode MessageEdited payload")
		}
		doc = Document{MessageID: edited.ID, Content: edited.Content, Version: env.Version}
	case "MessageDeleted":
		var deleted struct {
			ID ids.MessageId `json:"id"`
		}
		if err := json.Unmarshal(env.Payload, &deleted); err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "decode MessageDeleted payload")
		}
		doc = Document{MessageID: deleted.ID, Deleted: true, Version: env.Version}
	default:
		return nil
	}

	ix.enqueue(ctx, doc)
	return nil
}

func (ix *Indexer) enqueue(ctx context.Context, doc Document) {
	ix.mu.Lock()
	ix.pending = append(ix.pending, doc)
	shouldFlush := len(ix.pending) >= ix.batchSize
	if ix.timer == nil {
		ix.timer = time.AfterFunc(ix.timeout, func() { ix.flush(ctx) })
	}
	ix.mu.Unlock()

	if shouldFlush {
		ix.flush(ctx)
	}
}

func (ix *Indexer) flush(ctx context.Context) {
	ix.mu.Lock()
	batch := ix.pending
	ix.pending = nil
	if ix.timer != nil {
		ix.timer.Stop()
		ix.timer = nil
	}
	ix.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var buf bytes.Buffer
	for _, doc := range batch {
		meta := map[string]any{"update": map[string]any{"_id": doc.MessageID.String(), "_index": indexName}}
		metaLine, _ := json.Marshal(meta)
		buf.Write(metaLine)
		buf.WriteByte('\n')

		body := map[string]any{
			"scripted_upsert": true,
			"upsert":          map[string]any{},
			"script": map[string]any{
				"source": "if (ctx._source.version == null || params.version > ctx._source.version) { ctx._source.putAll(params.doc) }",
				"lang":   "painless",
				"params": map[string]any{"doc": doc, "version": doc.Version},
			},
		}
		bodyLine, _ := json.Marshal(body)
		buf.Write(bodyLine)
		buf.WriteByte('\n')
	}

	req := esapi.BulkRequest{Body: bytes.NewReader(buf.Bytes())}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("search bulk upsert failed")
		ix.recordOutcome("error")
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Error().Str("status", res.Status()).Msg("search bulk upsert returned error status")
		ix.recordOutcome("error")
		return
	}
	ix.recordOutcome("ok")
}

func (ix *Indexer) recordOutcome(outcome string) {
	if ix.metrics != nil {
		ix.metrics.IndexedBatch(outcome)
	}
}

// Search runs a simple multi-match full-text query against indexed
// message content, scoped to chatIDs the caller is a member of.
func (ix *Indexer) Search(ctx context.Context, query string, chatIDs []ids.ChatId, limit int) ([]Document, error) {
	chatFilter := make([]string, len(chatIDs))
	for i, c := range chatIDs {
		chatFilter[i] = c.String()
	}
	body := map[string]any{
		"size": limit,
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"match": map[string]any{"content": query},
				},
				"filter": map[string]any{
					"terms": map[string]any{"chat_id": chatFilter},
				},
				"must_not": map[string]any{
					"term": map[string]any{"deleted": true},
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "marshal search query")
	}

	res, err := ix.client.Search(
		ix.client.Search.WithContext(ctx),
		ix.client.Search.WithIndex(indexName),
		ix.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSearchUnavailable, err, "execute search query")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, apperr.New(apperr.KindSearchUnavailable, fmt.Sprintf("search query failed: %s", res.Status()))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "decode search response")
	}

	out := make([]Document, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
