// SPDX-License-Identifier: MIT
package sipstack

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/metrics"
	"github.com/Badareenadh/sip-event-processor/internal/result"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
)

// notifyTimeout bounds one NOTIFY transaction, matching Timer F for
// unreliable transports.
const notifyTimeout = 32 * time.Second

// DispatchFunc hands a converted event to the dispatcher. Bound at
// construction; the stack never reaches through a global.
type DispatchFunc func(*sipevent.Event) result.Code

// RateLimiter gates inbound SUBSCRIBE admission per tenant. Implemented
// by ratelimit.Limiter; nil means unlimited.
type RateLimiter interface {
	Allow(tenantID string) bool
}

// KnownDialogFunc reports whether a dialog is live. Bound to the
// registry by main; nil skips the check.
type KnownDialogFunc func(sipevent.DialogID) bool

// Stats is a counter snapshot for the stats surface.
type Stats struct {
	Running         bool   `json:"running"`
	EventsIn        uint64 `json:"events_in"`
	Responses       uint64 `json:"responses"`
	NotifiesSent    uint64 `json:"notifies_sent"`
	TransportErrors uint64 `json:"transport_errors"`
}

// Stack owns the sipgo user agent, server and client. Inbound SUBSCRIBE,
// NOTIFY and PUBLISH become dispatch events; everything else is sipgo's
// problem.
type Stack struct {
	logger      zerolog.Logger
	cfg         *config.AppConfig
	dispatch    DispatchFunc
	limiter     RateLimiter
	knownDialog KnownDialogFunc

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	network string
	addr    string
	contact string

	running atomic.Bool
	runCtx  context.Context
	cancel  context.CancelFunc
	errCh   chan error
	wg      sync.WaitGroup

	eventsIn        atomic.Uint64
	responses       atomic.Uint64
	notifiesSent    atomic.Uint64
	transportErrors atomic.Uint64
}

// New builds the stack from the bind URL in config. The dispatch callback
// must be non-nil; there is no default sink.
func New(cfg *config.AppConfig, dispatch DispatchFunc) (*Stack, error) {
	if dispatch == nil {
		return nil, fmt.Errorf("sipstack: nil dispatch callback")
	}

	var bind sip.Uri
	if err := sip.ParseUri(cfg.SIPBindURL, &bind); err != nil {
		return nil, fmt.Errorf("parse bind url %q: %w", cfg.SIPBindURL, err)
	}
	network := cfg.SIPTransport
	if t, ok := bind.UriParams.Get("transport"); ok && t != "" {
		network = t
	}
	if network == "" {
		network = "udp"
	}
	port := bind.Port
	if port == 0 {
		port = 5060
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.SIPUserAgent))
	if err != nil {
		return nil, fmt.Errorf("new user agent: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		_ = ua.Close()
		return nil, fmt.Errorf("new server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		_ = ua.Close()
		return nil, fmt.Errorf("new client: %w", err)
	}

	s := &Stack{
		logger:   log.WithComponent("sipstack"),
		cfg:      cfg,
		dispatch: dispatch,
		ua:       ua,
		server:   server,
		client:   client,
		network:  strings.ToLower(network),
		addr:     fmt.Sprintf("%s:%d", bind.Host, port),
		contact:  fmt.Sprintf("<sip:%s:%d>", bind.Host, port),
		errCh:    make(chan error, 1),
	}

	server.OnSubscribe(s.onSubscribe)
	server.OnNotify(s.onNotify)
	server.OnPublish(s.onPublish)
	return s, nil
}

// SetRateLimiter installs the ingress limiter. Must be called before
// Start; nil leaves admission unlimited.
func (s *Stack) SetRateLimiter(l RateLimiter) { s.limiter = l }

// SetDialogChecker installs the live-dialog lookup used to answer 481 on
// PUBLISH for dialogs this process does not hold. Must be called before
// Start.
func (s *Stack) SetDialogChecker(f KnownDialogFunc) { s.knownDialog = f }

// Start launches the listener. Transport failures after a successful start
// surface on Errors.
func (s *Stack) Start(ctx context.Context) result.Code {
	if !s.running.CompareAndSwap(false, true) {
		return result.AlreadyExists
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.server.ListenAndServe(s.runCtx, s.network, s.addr)
		if err != nil && s.runCtx.Err() == nil {
			s.logger.Error().Err(err).Msg("sip listener failed")
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()

	s.logger.Info().
		Str("network", s.network).
		Str("address", s.addr).
		Msg("sip stack started")
	return result.Ok
}

// Errors delivers a fatal listener error, at most one.
func (s *Stack) Errors() <-chan error { return s.errCh }

// Stop tears the listener down and waits for in-flight NOTIFY
// transactions to settle.
func (s *Stack) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	_ = s.server.Close()
	_ = s.client.Close()
	_ = s.ua.Close()
	s.wg.Wait()
	s.logger.Info().Msg("sip stack stopped")
}

// Stats returns a counter snapshot.
func (s *Stack) Stats() Stats {
	return Stats{
		Running:         s.running.Load(),
		EventsIn:        s.eventsIn.Load(),
		Responses:       s.responses.Load(),
		NotifiesSent:    s.notifiesSent.Load(),
		TransportErrors: s.transportErrors.Load(),
	}
}

func (s *Stack) onSubscribe(req *sip.Request, tx sip.ServerTransaction) {
	s.eventsIn.Add(1)
	metrics.IncSipEvent("subscribe_in")

	ev := s.eventFromRequest(sipevent.CategorySubscribe, req)
	if ev == nil {
		s.respondDirect(req, tx, 400, "Bad Request")
		return
	}

	if s.limiter != nil && !s.limiter.Allow(ev.TenantID) {
		s.logger.Warn().
			Str(log.FieldTenantID, ev.TenantID).
			Msg("subscribe rejected by rate limiter")
		s.respondDirect(req, tx, 503, "Service Unavailable")
		return
	}

	h := &DialogHandle{req: req, tx: tx, localTag: ev.ToTag}
	if contact := req.Contact(); contact != nil {
		h.remoteTarget = contact.Address
		h.hasTarget = true
	}
	ev.Handle = h

	if code := s.dispatch(ev); !code.IsOk() {
		status, phrase := statusForCode(code)
		s.respondDirect(req, tx, status, phrase)
	}
}

func (s *Stack) onNotify(req *sip.Request, tx sip.ServerTransaction) {
	s.eventsIn.Add(1)
	metrics.IncSipEvent("notify_in")
	s.handleStateless(sipevent.CategoryNotify, req, tx)
}

func (s *Stack) onPublish(req *sip.Request, tx sip.ServerTransaction) {
	s.eventsIn.Add(1)
	metrics.IncSipEvent("publish_in")

	ev := s.eventFromRequest(sipevent.CategoryPublish, req)
	if ev == nil {
		s.respondDirect(req, tx, 400, "Bad Request")
		return
	}
	if s.knownDialog != nil && !s.knownDialog(ev.DialogID) {
		s.respondDirect(req, tx, 481, "Call/Transaction Does Not Exist")
		return
	}
	if code := s.dispatch(ev); !code.IsOk() {
		status, phrase := statusForCode(code)
		s.respondDirect(req, tx, status, phrase)
		return
	}
	s.respondDirect(req, tx, 200, "OK")
}

// handleStateless answers the transaction right here; the event
// continues to the worker without a handle.
func (s *Stack) handleStateless(cat sipevent.Category, req *sip.Request, tx sip.ServerTransaction) {
	ev := s.eventFromRequest(cat, req)
	if ev == nil {
		s.respondDirect(req, tx, 400, "Bad Request")
		return
	}
	if code := s.dispatch(ev); !code.IsOk() {
		status, phrase := statusForCode(code)
		s.respondDirect(req, tx, status, phrase)
		return
	}
	s.respondDirect(req, tx, 200, "OK")
}

// RespondSubscribe answers the SUBSCRIBE transaction pinned by the handle.
// Part of the dispatch.Sender contract.
func (s *Stack) RespondSubscribe(h sipevent.Handle, status int, phrase string, expires int) result.Code {
	dh, ok := h.(*DialogHandle)
	if !ok || dh == nil {
		return result.InvalidArgument
	}
	if dh.released.Load() {
		return result.InvalidArgument
	}

	res := sip.NewResponseFromRequest(dh.req, status, phrase, nil)
	ensureToTag(res, dh.localTag)
	if status >= 200 && status < 300 {
		if expires >= 0 {
			res.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expires)))
		}
		res.AppendHeader(sip.NewHeader("Contact", s.contact))
	}

	s.responses.Add(1)
	metrics.IncSipResponse(status)
	if err := dh.tx.Respond(res); err != nil {
		s.transportErrors.Add(1)
		s.logger.Error().Err(err).Int("status", status).Msg("subscribe response failed")
		return result.Error
	}
	return result.Ok
}

// SendNotify builds an in-dialog NOTIFY from the record and fires it on a
// client transaction. The worker never blocks on SIP I/O: the final
// response comes back through the dispatcher as an outgoing-NOTIFY event.
// Part of the dispatch.Sender contract.
func (s *Stack) SendNotify(rec *subscription.Record, h sipevent.Handle, contentType, body, subscriptionState string) result.Code {
	if !s.running.Load() {
		return result.ShuttingDown
	}

	recipient, code := s.notifyTarget(rec, h)
	if !code.IsOk() {
		return code
	}

	req := sip.NewRequest(sip.NOTIFY, recipient)
	req.ReplaceHeader(sip.NewHeader("From", nameAddr(rec.ToURI, rec.ToTag)))
	req.ReplaceHeader(sip.NewHeader("To", nameAddr(rec.FromURI, rec.FromTag)))
	req.ReplaceHeader(sip.NewHeader("Call-ID", rec.CallID))
	req.ReplaceHeader(sip.NewHeader("CSeq", fmt.Sprintf("%d NOTIFY", rec.NotifyCSeq)))
	req.ReplaceHeader(sip.NewHeader("Contact", s.contact))
	req.ReplaceHeader(sip.NewHeader("Max-Forwards", "70"))
	req.AppendHeader(sip.NewHeader("Event", rec.Kind.EventPackage()))
	req.AppendHeader(sip.NewHeader("Subscription-State", subscriptionState))
	if body != "" {
		req.AppendHeader(sip.NewHeader("Content-Type", contentType))
	}
	req.SetBody([]byte(body))

	s.notifiesSent.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.transactNotify(rec.DialogID, rec.TenantID, rec.Kind, req)
	}()
	return result.Ok
}

// transactNotify runs one NOTIFY transaction to completion and feeds the
// final response back into the dispatcher. Transport failure is reported
// as a 503, a transaction that never completes as a 408, so the worker's
// response handling sees one uniform shape.
func (s *Stack) transactNotify(dialogID sipevent.DialogID, tenantID string, kind sipevent.SubscriptionKind, req *sip.Request) {
	ctx, cancel := context.WithTimeout(s.runCtx, notifyTimeout)
	defer cancel()

	tx, err := s.client.TransactionRequest(ctx, req)
	if err != nil {
		s.transportErrors.Add(1)
		s.logger.Warn().Err(err).
			Str(log.FieldDialogID, string(dialogID)).
			Msg("notify send failed")
		s.feedNotifyResponse(dialogID, tenantID, kind, 503, "Service Unavailable")
		return
	}
	defer tx.Terminate()

	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				s.feedNotifyResponse(dialogID, tenantID, kind, 408, "Request Timeout")
				return
			}
			if res.StatusCode < 200 {
				continue
			}
			s.feedNotifyResponse(dialogID, tenantID, kind, int(res.StatusCode), res.Reason)
			return
		case <-tx.Done():
			s.feedNotifyResponse(dialogID, tenantID, kind, 408, "Request Timeout")
			return
		case <-ctx.Done():
			s.feedNotifyResponse(dialogID, tenantID, kind, 408, "Request Timeout")
			return
		}
	}
}

func (s *Stack) feedNotifyResponse(dialogID sipevent.DialogID, tenantID string, kind sipevent.SubscriptionKind, status int, phrase string) {
	metrics.IncSipEvent("notify_response")
	ev := sipevent.New(sipevent.CategoryNotify, sipevent.DirectionOutgoing, sipevent.SourceSIPStack)
	ev.DialogID = dialogID
	ev.TenantID = tenantID
	ev.Kind = kind
	ev.Status = status
	ev.SetPhrase(phrase)
	if code := s.dispatch(ev); !code.IsOk() {
		s.logger.Warn().
			Str(log.FieldDialogID, string(dialogID)).
			Int("status", status).
			Str("code", code.String()).
			Msg("notify response dropped")
	}
}

// notifyTarget picks the request URI: the live handle's contact first,
// then the persisted contact, then the subscriber's address of record.
func (s *Stack) notifyTarget(rec *subscription.Record, h sipevent.Handle) (sip.Uri, result.Code) {
	if dh, ok := h.(*DialogHandle); ok && dh != nil && dh.hasTarget {
		return dh.remoteTarget, result.Ok
	}
	var uri sip.Uri
	for _, raw := range []string{rec.ContactURI, rec.FromURI} {
		if raw == "" {
			continue
		}
		if err := sip.ParseUri(strings.Trim(raw, "<>"), &uri); err == nil {
			return uri, result.Ok
		}
	}
	s.logger.Warn().
		Str(log.FieldDialogID, string(rec.DialogID)).
		Msg("no routable notify target")
	return uri, result.InvalidArgument
}

func (s *Stack) respondDirect(req *sip.Request, tx sip.ServerTransaction, status int, phrase string) {
	s.responses.Add(1)
	metrics.IncSipResponse(status)
	res := sip.NewResponseFromRequest(req, status, phrase, nil)
	if err := tx.Respond(res); err != nil {
		s.transportErrors.Add(1)
		s.logger.Warn().Err(err).Int("status", status).Msg("direct response failed")
	}
}

// eventFromRequest converts a request into a dispatch event. Returns nil
// when no dialog id can be formed, which the callers answer with 400.
func (s *Stack) eventFromRequest(cat sipevent.Category, req *sip.Request) *sipevent.Event {
	ev := sipevent.New(cat, sipevent.DirectionIncoming, sipevent.SourceSIPStack)

	var callID, fromTag, toTag string
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	if from := req.From(); from != nil {
		ev.FromURI = addressOfRecord(from.Address)
		fromTag, _ = from.Params.Get("tag")
	}
	if to := req.To(); to != nil {
		ev.ToURI = addressOfRecord(to.Address)
		toTag, _ = to.Params.Get("tag")
	}

	// The dialog id keys on the tags as received; the local tag minted
	// below never participates, so refreshes hash to the same worker.
	ev.DialogID = sipevent.BuildDialogID(callID, fromTag, toTag)
	if !ev.DialogID.Valid() {
		s.logger.Warn().Str("method", string(req.Method)).Msg("request without usable dialog id")
		return nil
	}
	ev.CallID = callID
	if cat == sipevent.CategorySubscribe && toTag == "" {
		toTag = uuid.NewString()
	}
	ev.SetTags(fromTag, toTag)

	ev.TenantID = tenantFrom(req)
	if h := req.GetHeader("Event"); h != nil {
		ev.SetEventHeader(h.Value())
	}
	if cs := req.CSeq(); cs != nil {
		ev.CSeq = cs.SeqNo
	}
	if h := req.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(h.Value())); err == nil && n >= 0 {
			ev.Expires = n
		}
	}
	if contact := req.Contact(); contact != nil {
		ev.ContactURI = contact.Address.String()
	}
	if ct := req.ContentType(); ct != nil {
		ev.SetContentType(ct.Value())
	}
	ev.SetBody(req.Body())
	if h := req.GetHeader("Subscription-State"); h != nil {
		state, reason := parseSubscriptionState(h.Value())
		ev.SubscriptionState = state
		ev.TerminationReason = reason
	}
	return ev
}

// statusForCode maps a dispatch refusal to the inline SIP answer.
func statusForCode(code result.Code) (int, string) {
	switch code {
	case result.InvalidArgument:
		return 400, "Bad Request"
	case result.CapacityExceeded, result.ShuttingDown:
		return 503, "Service Unavailable"
	default:
		return 500, "Server Internal Error"
	}
}

// tenantFrom derives the tenant from the To domain, falling back to the
// From domain. "unknown" keeps the event routable for logging.
func tenantFrom(req *sip.Request) string {
	if to := req.To(); to != nil && to.Address.Host != "" {
		return to.Address.Host
	}
	if from := req.From(); from != nil && from.Address.Host != "" {
		return from.Address.Host
	}
	return "unknown"
}

// addressOfRecord reduces a URI to "sip:user@host", dropping ports and
// parameters so stored URIs compare equal across hops.
func addressOfRecord(u sip.Uri) string {
	if u.Host == "" {
		return ""
	}
	if u.User != "" {
		return "sip:" + u.User + "@" + u.Host
	}
	return "sip:" + u.Host
}

// nameAddr renders "<uri>;tag=x" for From/To header values.
func nameAddr(uri, tag string) string {
	v := "<" + uri + ">"
	if tag != "" {
		v += ";tag=" + tag
	}
	return v
}

// ensureToTag stamps our minted tag on a dialog-forming response that does
// not carry one yet.
func ensureToTag(res *sip.Response, tag string) {
	to := res.To()
	if to == nil || tag == "" {
		return
	}
	if _, ok := to.Params.Get("tag"); ok {
		return
	}
	if to.Params == nil {
		to.Params = sip.HeaderParams{}
	}
	to.Params.Add("tag", tag)
}

func parseSubscriptionState(v string) (state, reason string) {
	parts := strings.Split(v, ";")
	state = strings.ToLower(strings.TrimSpace(parts[0]))
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if rest, ok := strings.CutPrefix(p, "reason="); ok {
			reason = strings.ToLower(rest)
		}
	}
	return state, reason
}
