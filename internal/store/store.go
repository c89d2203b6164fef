// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/metrics"
	"github.com/Badareenadh/sip-event-processor/internal/result"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
)

type opKind uint8

const (
	opUpsert opKind = iota
	opDelete
)

// flushConcurrency caps in-flight Mongo ops per flush pass.
const flushConcurrency = 4

// pendingOp carries a snapshotted document (never a live record) so the
// sync goroutine reads nothing the owning worker still mutates.
type pendingOp struct {
	kind     opKind
	dialogID sipevent.DialogID
	doc      *subscriptionDocument
}

// StoreStats is a counter snapshot for the stats surface.
type StoreStats struct {
	Enabled    bool   `json:"enabled"`
	Upserts    uint64 `json:"upserts"`
	Deletes    uint64 `json:"deletes"`
	Errors     uint64 `json:"errors"`
	Flushes    uint64 `json:"flushes"`
	QueueDepth int    `json:"queue_depth"`
}

// SubscriptionStore writes records through two paths: lifecycle edges go
// out synchronously (SaveImmediately), routine mutations are queued and
// flushed in batches by a sync goroutine. With persistence disabled every
// method is a cheap no-op, which keeps the hot path free of branches at
// the call sites.
type SubscriptionStore struct {
	logger  zerolog.Logger
	cfg     *config.AppConfig
	client  *Client
	enabled bool

	mu    sync.Mutex
	queue []pendingOp

	running atomic.Bool
	kick    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	upserts atomic.Uint64
	deletes atomic.Uint64
	errors  atomic.Uint64
	flushes atomic.Uint64
}

// NewSubscriptionStore builds the store. A nil client (persistence
// disabled, or Mongo unreachable in a deployment that tolerates it)
// yields a disabled store.
func NewSubscriptionStore(cfg *config.AppConfig, client *Client) *SubscriptionStore {
	return &SubscriptionStore{
		logger:  log.WithComponent("store"),
		cfg:     cfg,
		client:  client,
		enabled: cfg.EnablePersistence && client != nil,
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Enabled reports whether writes reach MongoDB.
func (s *SubscriptionStore) Enabled() bool { return s.enabled }

// Start launches the sync goroutine. Disabled stores start trivially.
func (s *SubscriptionStore) Start() result.Code {
	if !s.running.CompareAndSwap(false, true) {
		return result.AlreadyExists
	}
	if !s.enabled {
		return result.Ok
	}
	s.wg.Add(1)
	go s.syncLoop()
	s.logger.Info().
		Dur("sync_interval", s.cfg.MongoSyncInterval).
		Int("batch_size", s.cfg.MongoBatchSize).
		Msg("store started")
	return result.Ok
}

// Stop flushes whatever is queued and joins the sync goroutine.
func (s *SubscriptionStore) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if !s.enabled {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
	s.flush()
	s.logger.Info().Msg("store stopped")
}

// QueueUpsert snapshots the record and schedules a batched write.
func (s *SubscriptionStore) QueueUpsert(rec *subscription.Record) {
	if !s.enabled {
		return
	}
	s.enqueue(pendingOp{kind: opUpsert, dialogID: rec.DialogID, doc: newDocument(rec, s.cfg.ServiceID)})
}

// QueueDelete schedules a batched delete.
func (s *SubscriptionStore) QueueDelete(dialogID sipevent.DialogID) {
	if !s.enabled {
		return
	}
	s.enqueue(pendingOp{kind: opDelete, dialogID: dialogID})
}

func (s *SubscriptionStore) enqueue(op pendingOp) {
	s.mu.Lock()
	s.queue = append(s.queue, op)
	depth := len(s.queue)
	s.mu.Unlock()

	metrics.SetStoreQueueDepth(depth)
	if depth >= s.cfg.MongoBatchSize {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// SaveImmediately writes one record synchronously. Used on lifecycle
// edges (created, activated, terminated) where losing the write across a
// crash would strand or resurrect a dialog.
func (s *SubscriptionStore) SaveImmediately(rec *subscription.Record) {
	if !s.enabled {
		return
	}
	err := s.replaceOne(newDocument(rec, s.cfg.ServiceID))
	metrics.IncStoreWrite("upsert", err)
	if err != nil {
		s.errors.Add(1)
		s.logger.Error().Err(err).
			Str(log.FieldDialogID, string(rec.DialogID)).
			Msg("immediate save failed")
		return
	}
	s.upserts.Add(1)
}

// recoveryFilter matches every resumable document regardless of which
// instance wrote it. service_id is provenance, not a partition key: a
// peer with its own id must still pick up a failed instance's dialogs.
func recoveryFilter() bson.M {
	return bson.M{"lifecycle": bson.M{"$in": []string{"Active", "Pending"}}}
}

// LoadActiveSubscriptions reads every persisted record in a resumable
// lifecycle. Each returned record is flagged for a full-state NOTIFY so
// the first trigger after takeover resynchronises the watcher regardless
// of change detection.
func (s *SubscriptionStore) LoadActiveSubscriptions(ctx context.Context) ([]*subscription.Record, error) {
	if !s.enabled {
		return nil, nil
	}
	cur, err := s.collection().Find(ctx, recoveryFilter())
	if err != nil {
		metrics.IncStoreWrite("find", err)
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*subscription.Record
	for cur.Next(ctx) {
		var doc subscriptionDocument
		if err := cur.Decode(&doc); err != nil {
			s.errors.Add(1)
			s.logger.Error().Err(err).Msg("skipping undecodable subscription document")
			continue
		}
		rec := doc.toRecord()
		rec.NeedsFullStateNotify = true
		out = append(out, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	metrics.AddRecoveredSubscriptions(len(out))
	s.logger.Info().Int("count", len(out)).Msg("subscriptions recovered")
	return out, nil
}

// LoadSubscription fetches one persisted record by dialog id. Nil without
// error when the document does not exist or persistence is disabled.
func (s *SubscriptionStore) LoadSubscription(ctx context.Context, dialogID sipevent.DialogID) (*subscription.Record, error) {
	if !s.enabled {
		return nil, nil
	}
	var doc subscriptionDocument
	err := s.collection().FindOne(ctx, bson.M{"_id": string(dialogID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		metrics.IncStoreWrite("find", err)
		return nil, err
	}
	return doc.toRecord(), nil
}

// Stats returns a counter snapshot.
func (s *SubscriptionStore) Stats() StoreStats {
	s.mu.Lock()
	depth := len(s.queue)
	s.mu.Unlock()
	return StoreStats{
		Enabled:    s.enabled,
		Upserts:    s.upserts.Load(),
		Deletes:    s.deletes.Load(),
		Errors:     s.errors.Load(),
		Flushes:    s.flushes.Load(),
		QueueDepth: depth,
	}
}

func (s *SubscriptionStore) syncLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.MongoSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.flush()
		case <-s.kick:
			s.flush()
		}
	}
}

// flush drains the queue and replays it against Mongo. Ops are coalesced
// to the last one per dialog first; upserts are full document
// replacements, so intermediate snapshots carry no information. After
// coalescing every surviving op targets a distinct dialog, so the replay
// fans out over a bounded worker group.
func (s *SubscriptionStore) flush() {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()
	metrics.SetStoreQueueDepth(0)

	if len(pending) == 0 {
		return
	}
	start := time.Now()

	last := make(map[sipevent.DialogID]int, len(pending))
	for i, op := range pending {
		last[op.dialogID] = i
	}

	var g errgroup.Group
	g.SetLimit(flushConcurrency)
	for i, op := range pending {
		if last[op.dialogID] != i {
			continue
		}
		g.Go(func() error {
			s.replay(op)
			return nil
		})
	}
	_ = g.Wait()

	s.flushes.Add(1)
	metrics.ObserveStoreFlush(time.Since(start))
}

func (s *SubscriptionStore) replay(op pendingOp) {
	switch op.kind {
	case opUpsert:
		err := s.replaceOne(op.doc)
		metrics.IncStoreWrite("upsert", err)
		if err != nil {
			s.errors.Add(1)
			s.logger.Error().Err(err).
				Str(log.FieldDialogID, string(op.dialogID)).
				Msg("batched upsert failed")
			return
		}
		s.upserts.Add(1)
	case opDelete:
		err := s.deleteOne(op.dialogID)
		metrics.IncStoreWrite("delete", err)
		if err != nil {
			s.errors.Add(1)
			s.logger.Error().Err(err).
				Str(log.FieldDialogID, string(op.dialogID)).
				Msg("batched delete failed")
			return
		}
		s.deletes.Add(1)
	}
}

func (s *SubscriptionStore) replaceOne(doc *subscriptionDocument) error {
	ctx, cancel := s.opContext()
	defer cancel()
	_, err := s.collection().ReplaceOne(ctx,
		bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *SubscriptionStore) deleteOne(dialogID sipevent.DialogID) error {
	ctx, cancel := s.opContext()
	defer cancel()
	_, err := s.collection().DeleteOne(ctx, bson.M{"_id": string(dialogID)})
	return err
}

func (s *SubscriptionStore) collection() *mongo.Collection {
	return s.client.Collection(s.cfg.MongoCollection)
}

func (s *SubscriptionStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.MongoSocketTimeout)
}
