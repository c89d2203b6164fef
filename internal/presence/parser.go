// SPDX-License-Identifier: MIT
package presence

import (
	"encoding/xml"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/metrics"
)

// maxParserBuffer caps the reassembly buffer. A feed that never closes an
// element is broken; we reset rather than grow without bound.
const maxParserBuffer = 1 << 20

// ParseResult is the outcome of one Feed call.
type ParseResult struct {
	Events    []CallStateEvent
	Heartbeat bool
	Err       error
}

// ErrBufferOverflow is reported when the reassembly buffer filled up
// without a complete element.
type overflowError struct{}

func (overflowError) Error() string { return "presence parser buffer overflow" }

var ErrBufferOverflow error = overflowError{}

// StreamParser reassembles CallStateEvent and Heartbeat elements from a TCP
// byte stream. Not goroutine-safe; owned by the client's read loop.
type StreamParser struct {
	buf    strings.Builder
	logger zerolog.Logger

	totalParsed atomic.Uint64
	totalErrors atomic.Uint64
}

func NewStreamParser() *StreamParser {
	return &StreamParser{logger: log.WithComponent("presence_parser")}
}

// Reset discards buffered partial data, called on every reconnect so a
// truncated element from the old connection cannot corrupt the new stream.
func (p *StreamParser) Reset() { p.buf.Reset() }

// Parsed returns the number of valid events parsed so far.
func (p *StreamParser) Parsed() uint64 { return p.totalParsed.Load() }

// Errors returns the number of invalid events and overflows so far.
func (p *StreamParser) Errors() uint64 { return p.totalErrors.Load() }

// Feed appends a chunk and extracts every complete element. Partial
// elements stay buffered for the next chunk.
func (p *StreamParser) Feed(data []byte) ParseResult {
	var res ParseResult
	if len(data) == 0 {
		return res
	}

	if p.buf.Len()+len(data) > maxParserBuffer {
		p.logger.Error().Int("buffered", p.buf.Len()).Msg("buffer overflow, resetting")
		p.buf.Reset()
		p.totalErrors.Add(1)
		metrics.IncPresenceParseError()
		res.Err = ErrBufferOverflow
		return res
	}

	p.buf.Write(data)
	work := p.buf.String()

	const openTag, closeTag = "<CallStateEvent>", "</CallStateEvent>"
	pos := 0
	for {
		s := strings.Index(work[pos:], openTag)
		if s < 0 {
			break
		}
		s += pos
		e := strings.Index(work[s:], closeTag)
		if e < 0 {
			break
		}
		e += s + len(closeTag)

		ev := p.parseSingle(work[s:e])
		if ev.Valid {
			res.Events = append(res.Events, ev)
			p.totalParsed.Add(1)
		} else {
			p.totalErrors.Add(1)
			metrics.IncPresenceParseError()
		}
		pos = e
	}

	// Heartbeats can land anywhere in the chunk, including ahead of an
	// event, so scan the whole buffered region rather than the tail.
	hbScan := 0
	for {
		hb := strings.Index(work[hbScan:], "<Heartbeat>")
		if hb < 0 {
			break
		}
		hb += hbScan
		hbEnd := strings.Index(work[hb:], "</Heartbeat>")
		if hbEnd < 0 {
			break
		}
		res.Heartbeat = true
		hbScan = hb + hbEnd + len("</Heartbeat>")
	}
	if hbScan > pos {
		pos = hbScan
	}

	// Compact: drop consumed bytes and any junk before the next '<'.
	rest := work[pos:]
	if lt := strings.IndexByte(rest, '<'); lt > 0 {
		rest = rest[lt:]
	} else if lt < 0 {
		rest = ""
	}
	p.buf.Reset()
	p.buf.WriteString(rest)

	return res
}

// callStateElement is the wire shape of one feed element.
type callStateElement struct {
	XMLName   xml.Name `xml:"CallStateEvent"`
	CallID    string   `xml:"CallId"`
	CallerURI string   `xml:"CallerUri"`
	CalleeURI string   `xml:"CalleeUri"`
	State     string   `xml:"State"`
	Direction string   `xml:"Direction"`
	TenantID  string   `xml:"TenantId"`
	Timestamp string   `xml:"Timestamp"`
}

func (p *StreamParser) parseSingle(fragment string) CallStateEvent {
	ev := CallStateEvent{
		ID:         nextCallStateEventID(),
		ReceivedAt: time.Now(),
	}

	var el callStateElement
	if err := xml.Unmarshal([]byte(fragment), &el); err != nil {
		p.logger.Warn().Err(err).Msg("undecodable call state element")
		return ev
	}
	ev.CallID = strings.TrimSpace(el.CallID)
	ev.CallerURI = strings.TrimSpace(el.CallerURI)
	ev.CalleeURI = strings.TrimSpace(el.CalleeURI)
	ev.Direction = strings.TrimSpace(el.Direction)
	ev.TenantID = strings.TrimSpace(el.TenantID)
	ev.Timestamp = strings.TrimSpace(el.Timestamp)
	ev.State = ParseCallState(strings.TrimSpace(el.State))

	ev.Valid = ev.CallID != "" &&
		(ev.CalleeURI != "" || ev.CallerURI != "") &&
		ev.State != CallStateUnknown

	if !ev.Valid {
		p.logger.Warn().Str(log.FieldCallID, ev.CallID).Msg("invalid call state event")
	}
	return ev
}
