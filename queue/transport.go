package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	registerPath    = "/api/v1/queue/register"
	statusPath      = "/api/v1/queue/status"
	streamPath      = "/api/v1/queue/stream"
	reservationPath = "/api/v1/queue/reservation"
	entryPath       = "/api/v1/queue/entry"

	participantHeader = "X-Participant-Id"
)

// ErrRegistrationFailed marks a register call the backend refused,
// including "already registered". Fatal for the activation; callers do
// not retry.
var ErrRegistrationFailed = errors.New("queue: registration failed")

// Transport wraps the queue service's HTTP surface: the one-shot register
// call, the pull-based status poll, the credentialed event stream, and the
// two best-effort cleanup calls. The session cookie issued on register is
// carried by the client's jar, so the same Transport must be used for the
// whole activation.
type Transport struct {
	baseURL       string
	hc            *http.Client
	participantID string
}

// NewTransport builds a Transport for the backend at baseURL. When hc is
// nil a client with a fresh cookie jar is used; a caller-provided client
// must carry a jar or the stream will not be credentialed.
func NewTransport(baseURL string, hc *http.Client) *Transport {
	if hc == nil {
		jar, _ := cookiejar.New(nil)
		hc = &http.Client{Jar: jar, Timeout: 15 * time.Second}
	}
	return &Transport{
		baseURL:       baseURL,
		hc:            hc,
		participantID: uuid.NewString(),
	}
}

// ParticipantID is the correlation id attached to every request of this
// activation.
func (t *Transport) ParticipantID() string {
	return t.participantID
}

func (t *Transport) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(participantHeader, t.participantID)
	return req, nil
}

// Register claims a waiting-room slot. Safe to call once per activation;
// any failure surfaces as ErrRegistrationFailed.
func (t *Transport) Register(ctx context.Context) error {
	req, err := t.newRequest(ctx, http.MethodPost, registerPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	resp, err := t.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Error().Int("status", resp.StatusCode).Str("participantId", t.participantID).Str("body", string(body)).Msg("transport: register rejected")
		return fmt.Errorf("%w: status %d", ErrRegistrationFailed, resp.StatusCode)
	}
	log.Info().Str("participantId", t.participantID).Msg("transport: registered in waiting room")
	return nil
}

// PollStatus fetches the participant's current standing. A success
// response without a snapshot payload means the participant is admitted.
func (t *Transport) PollStatus(ctx context.Context) (PollOutcome, error) {
	req, err := t.newRequest(ctx, http.MethodGet, statusPath)
	if err != nil {
		return PollOutcome{}, err
	}
	resp, err := t.hc.Do(req)
	if err != nil {
		return PollOutcome{}, fmt.Errorf("queue: status poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return PollOutcome{}, fmt.Errorf("queue: status poll: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return PollOutcome{}, fmt.Errorf("queue: status poll: %w", err)
	}
	env, err := parseEnvelope(body)
	if err != nil {
		return PollOutcome{}, fmt.Errorf("queue: status poll: %w", err)
	}
	return env.outcome()
}

// Stream is an open event-stream subscription. Events are delivered on
// Events until the stream ends; Err reports why it ended (nil for a clean
// close). Close is idempotent.
type Stream struct {
	events chan Event
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func (s *Stream) Events() <-chan Event {
	return s.events
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// OpenStream subscribes to the live status channel. The stream carries
// the session credentials and stays open until the server closes it, the
// context is cancelled, or Close is called.
func (t *Transport) OpenStream(ctx context.Context) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := t.newRequest(ctx, http.MethodGet, streamPath)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.hc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("queue: open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("queue: open stream: status %d", resp.StatusCode)
	}

	st := &Stream{events: make(chan Event), cancel: cancel}
	go t.consume(ctx, resp.Body, st)
	return st, nil
}

// consume decodes SSE frames into Events until the body ends. Invalid
// snapshots and unknown event names are dropped with a log line rather
// than failing the stream.
func (t *Transport) consume(ctx context.Context, body io.ReadCloser, st *Stream) {
	defer close(st.events)
	defer body.Close()

	sc := newSSEScanner(body)
	for sc.Next() {
		ev, ok := decodeStreamEvent(sc.Event())
		if !ok {
			continue
		}
		select {
		case st.events <- ev:
		case <-ctx.Done():
			st.setErr(ctx.Err())
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("participantId", t.participantID).Msg("transport: event stream broke")
		st.setErr(err)
		return
	}
	st.setErr(ctx.Err())
}

func decodeStreamEvent(raw sseEvent) (Event, bool) {
	switch EventKind(raw.Name) {
	case EventHeartbeat:
		return Event{Kind: EventHeartbeat}, true
	case EventAllowedIn:
		return Event{Kind: EventAllowedIn}, true
	case EventStatus:
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw.Data), &snap); err != nil {
			log.Warn().Err(err).Str("data", raw.Data).Msg("transport: undecodable status event dropped")
			return Event{}, false
		}
		if err := snap.Validate(); err != nil {
			log.Warn().Err(err).Msg("transport: invalid snapshot dropped")
			return Event{}, false
		}
		return Event{Kind: EventStatus, Snapshot: &snap}, true
	case EventServerError:
		var se ServerError
		if err := json.Unmarshal([]byte(raw.Data), &se); err != nil {
			se = ServerError{Code: "UNKNOWN", Message: raw.Data}
		}
		return Event{Kind: EventServerError, Err: &se}, true
	default:
		log.Debug().Str("event", raw.Name).Msg("transport: unknown stream event ignored")
		return Event{}, false
	}
}

// ReleaseReservation invalidates the pre-admission waiting-room slot.
// Best effort: errors are logged and returned, but callers fire and
// forget on teardown.
func (t *Transport) ReleaseReservation(ctx context.Context) error {
	return t.release(ctx, reservationPath, "reservation")
}

// ReleaseEntry invalidates the post-admission entry token.
func (t *Transport) ReleaseEntry(ctx context.Context) error {
	return t.release(ctx, entryPath, "entry")
}

func (t *Transport) release(ctx context.Context, path, what string) error {
	req, err := t.newRequest(ctx, http.MethodDelete, path)
	if err != nil {
		return err
	}
	resp, err := t.hc.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("participantId", t.participantID).Msgf("transport: %s release failed", what)
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Int("status", resp.StatusCode).Str("participantId", t.participantID).Msgf("transport: %s release rejected", what)
		return fmt.Errorf("queue: release %s: status %d", what, resp.StatusCode)
	}
	log.Debug().Str("participantId", t.participantID).Msgf("transport: %s released", what)
	return nil
}
