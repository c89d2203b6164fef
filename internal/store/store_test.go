// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/goleak"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
)

func disabledConfig() *config.AppConfig {
	return &config.AppConfig{
		ServiceID:          "svc-test",
		EnablePersistence:  false,
		MongoCollection:    "subscriptions",
		MongoSyncInterval:  time.Second,
		MongoBatchSize:     100,
		MongoSocketTimeout: time.Second,
	}
}

func sampleRecord() *subscription.Record {
	rec := subscription.NewRecord("dlg-42", "tenant-a", sipevent.KindBLF)
	rec.Lifecycle = subscription.LifecycleActive
	rec.CSeq = 12
	rec.NotifyCSeq = 4
	rec.NotifyVersion = 7
	rec.BLFMonitoredURI = "sip:200@example.com"
	rec.BLFLastState = "confirmed"
	rec.BLFLastDirection = "initiator"
	rec.BLFPresenceCallID = "pc-1"
	rec.BLFLastNotifyBody = "<dialog-info/>"
	rec.FromURI = "sip:watcher@example.com"
	rec.FromTag = "ft"
	rec.ToURI = "sip:200@example.com"
	rec.ToTag = "tt"
	rec.CallID = "cid-1"
	rec.ContactURI = "sip:watcher@10.0.0.5:5060"
	rec.ExpiresAt = time.Now().Add(time.Hour).Truncate(time.Second)
	rec.CreatedAt = rec.CreatedAt.Truncate(time.Second)
	return rec
}

func TestDisabledStoreIsNoOp(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewSubscriptionStore(disabledConfig(), nil)
	require.False(t, s.Enabled())
	require.True(t, s.Start().IsOk())

	s.QueueUpsert(sampleRecord())
	s.SaveImmediately(sampleRecord())
	s.QueueDelete("dlg-42")

	recs, err := s.LoadActiveSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)

	stats := s.Stats()
	assert.False(t, stats.Enabled)
	assert.Zero(t, stats.Upserts)
	assert.Zero(t, stats.QueueDepth)

	s.Stop()
	s.Stop()
}

func TestStartTwice(t *testing.T) {
	s := NewSubscriptionStore(disabledConfig(), nil)
	require.True(t, s.Start().IsOk())
	assert.False(t, s.Start().IsOk())
	s.Stop()
}

// Persist then load must preserve every field a takeover needs. Live
// processing state is process-local and intentionally dropped.
func TestDocumentRoundTrip(t *testing.T) {
	rec := sampleRecord()
	rec.MWINewMessages = 3
	rec.MWIOldMessages = 9
	rec.MWIAccountURI = "sip:vm@example.com"
	rec.MWILastNotifyBody = "Messages-Waiting: yes\r\n"

	doc := newDocument(rec, "svc-test")
	assert.Equal(t, "dlg-42", doc.ID)
	assert.Equal(t, doc.ID, doc.DialogID)
	assert.Equal(t, "svc-test", doc.ServiceID)
	assert.Equal(t, "BLF", doc.Type)
	assert.Equal(t, "Active", doc.Lifecycle)

	got := doc.toRecord()
	ignored := cmpopts.IgnoreFields(subscription.Record{},
		"LastActivity", "Dirty", "IsProcessing", "ProcessingStartedAt",
		"EventsProcessed", "NotifyErrors", "NeedsFullStateNotify")
	if diff := cmp.Diff(rec, got, ignored); diff != "" {
		t.Fatalf("record mismatch after round trip (-want +got):\n%s", diff)
	}
}

func TestDocumentZeroExpiry(t *testing.T) {
	rec := subscription.NewRecord("dlg-z", "t", sipevent.KindMWI)
	doc := newDocument(rec, "svc")
	assert.Zero(t, doc.ExpiresAt)
	assert.True(t, doc.toRecord().ExpiresAt.IsZero())
}

func TestCorruptLifecycleMapsToTerminated(t *testing.T) {
	doc := &subscriptionDocument{ID: "dlg-c", DialogID: "dlg-c", Type: "BLF", Lifecycle: "Zombie"}
	assert.Equal(t, subscription.LifecycleTerminated, doc.toRecord().Lifecycle)
}

// A peer taking over recovers by lifecycle alone. Filtering on the
// writer's service id would leave a fresh instance with nothing to
// resume.
func TestRecoveryFilterIgnoresProvenance(t *testing.T) {
	filter := recoveryFilter()
	assert.NotContains(t, filter, "service_id")
	assert.Equal(t, bson.M{"$in": []string{"Active", "Pending"}}, filter["lifecycle"])
}

func TestDisabledStoreLoadSubscription(t *testing.T) {
	s := NewSubscriptionStore(disabledConfig(), nil)
	rec, err := s.LoadSubscription(context.Background(), "dlg-1")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}
