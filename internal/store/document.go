// SPDX-License-Identifier: MIT
package store

import (
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
)

// subscriptionDocument is the persisted shape of a subscription record.
// Field names are part of the deployed schema shared with older instances;
// keep them stable. The dialog id doubles as _id so upserts are a single
// ReplaceOne, and is repeated under dialog_id for legacy readers that
// query by that field.
type subscriptionDocument struct {
	ID       string `bson:"_id"`
	DialogID string `bson:"dialog_id"`
	TenantID string `bson:"tenant_id"`
	Type     string `bson:"type"`

	Lifecycle string `bson:"lifecycle"`
	CSeq      int64  `bson:"cseq"`

	BLFMonitoredURI   string `bson:"blf_monitored_uri"`
	BLFLastState      string `bson:"blf_last_state"`
	BLFLastDirection  string `bson:"blf_last_direction"`
	BLFPresenceCallID string `bson:"blf_presence_call_id"`
	BLFLastNotifyBody string `bson:"blf_last_notify_body"`
	BLFNotifyVersion  int64  `bson:"blf_notify_version"`

	MWINewMessages    int    `bson:"mwi_new_messages"`
	MWIOldMessages    int    `bson:"mwi_old_messages"`
	MWIAccountURI     string `bson:"mwi_account_uri"`
	MWILastNotifyBody string `bson:"mwi_last_notify_body"`

	FromURI    string `bson:"from_uri"`
	FromTag    string `bson:"from_tag"`
	ToURI      string `bson:"to_uri"`
	ToTag      string `bson:"to_tag"`
	CallID     string `bson:"call_id"`
	ContactURI string `bson:"contact_uri"`

	NotifyCSeq int64 `bson:"notify_cseq"`

	// Epoch seconds. Zero expires_at means the subscription never expires.
	UpdatedAt int64 `bson:"updated_at"`
	ExpiresAt int64 `bson:"expires_at"`
	CreatedAt int64 `bson:"created_at"`

	ServiceID string `bson:"service_id"`
}

// newDocument snapshots a record for persistence. Live processing state
// (handle, is_processing, dirty, last_activity) deliberately does not
// survive a restart.
func newDocument(rec *subscription.Record, serviceID string) *subscriptionDocument {
	d := &subscriptionDocument{
		ID:       string(rec.DialogID),
		DialogID: string(rec.DialogID),
		TenantID: rec.TenantID,
		Type:     rec.Kind.String(),

		Lifecycle: rec.Lifecycle.String(),
		CSeq:      int64(rec.CSeq),

		BLFMonitoredURI:   rec.BLFMonitoredURI,
		BLFLastState:      rec.BLFLastState,
		BLFLastDirection:  rec.BLFLastDirection,
		BLFPresenceCallID: rec.BLFPresenceCallID,
		BLFLastNotifyBody: rec.BLFLastNotifyBody,
		BLFNotifyVersion:  int64(rec.NotifyVersion),

		MWINewMessages:    rec.MWINewMessages,
		MWIOldMessages:    rec.MWIOldMessages,
		MWIAccountURI:     rec.MWIAccountURI,
		MWILastNotifyBody: rec.MWILastNotifyBody,

		FromURI:    rec.FromURI,
		FromTag:    rec.FromTag,
		ToURI:      rec.ToURI,
		ToTag:      rec.ToTag,
		CallID:     rec.CallID,
		ContactURI: rec.ContactURI,

		NotifyCSeq: int64(rec.NotifyCSeq),

		UpdatedAt: time.Now().Unix(),
		ServiceID: serviceID,
	}
	if !rec.ExpiresAt.IsZero() {
		d.ExpiresAt = rec.ExpiresAt.Unix()
	}
	if !rec.CreatedAt.IsZero() {
		d.CreatedAt = rec.CreatedAt.Unix()
	}
	return d
}

// toRecord restores the record. The caller decides recovery policy
// (version bump, full-state flag); this is a plain field mapping.
func (d *subscriptionDocument) toRecord() *subscription.Record {
	rec := &subscription.Record{
		DialogID: sipevent.DialogID(d.DialogID),
		TenantID: d.TenantID,
		Kind:     sipevent.KindFromString(d.Type),

		Lifecycle: subscription.LifecycleFromString(d.Lifecycle),

		CSeq:          uint32(d.CSeq),
		NotifyCSeq:    uint32(d.NotifyCSeq),
		NotifyVersion: uint32(d.BLFNotifyVersion),

		BLFMonitoredURI:   d.BLFMonitoredURI,
		BLFLastState:      d.BLFLastState,
		BLFLastDirection:  d.BLFLastDirection,
		BLFPresenceCallID: d.BLFPresenceCallID,
		BLFLastNotifyBody: d.BLFLastNotifyBody,

		MWINewMessages:    d.MWINewMessages,
		MWIOldMessages:    d.MWIOldMessages,
		MWIAccountURI:     d.MWIAccountURI,
		MWILastNotifyBody: d.MWILastNotifyBody,

		FromURI:    d.FromURI,
		FromTag:    d.FromTag,
		ToURI:      d.ToURI,
		ToTag:      d.ToTag,
		CallID:     d.CallID,
		ContactURI: d.ContactURI,
	}
	if d.ExpiresAt > 0 {
		rec.ExpiresAt = time.Unix(d.ExpiresAt, 0)
	}
	if d.CreatedAt > 0 {
		rec.CreatedAt = time.Unix(d.CreatedAt, 0)
	}
	rec.LastActivity = time.Now()
	return rec
}
