package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/antoniostano/aria/internal/conversation"
	"github.com/antoniostano/aria/internal/dispatch"
	"github.com/antoniostano/aria/internal/memory"
	"github.com/antoniostano/aria/internal/observability"
	"github.com/antoniostano/aria/internal/policy"
	"github.com/antoniostano/aria/internal/protocol"
	"github.com/antoniostano/aria/internal/reliability"
	"github.com/antoniostano/aria/internal/tools"
)

// Transport is the slice of the websocket client the engine drives.
type Transport interface {
	Send(ctx context.Context, msg any) error
	AppendAudio(frameBase64 string) bool
	CommitInput(ctx context.Context) error
	CreateResponse(ctx context.Context) error
	CancelResponse(ctx context.Context, responseID string) error
}

// Sink is the playback side of the audio pipeline.
type Sink interface {
	Write(responseID string, pcm []byte)
	CancelResponse(responseID string)
	ClearCanceled(responseID string)
	Flush()
}

// FrameSource yields captured PCM frames.
type FrameSource interface {
	Frames() <-chan []byte
}

type Config struct {
	SessionID           string
	TranscriptRetryMax  int
	TranscriptRetryBase time.Duration
	// Redact runs over every transcript before it reaches the store.
	Redact policy.Redactor
}

// responseContext tracks the single in-flight response. Exactly one
// response is active at a time; all mutation happens under the engine mutex
// on the dispatch goroutine.
type responseContext struct {
	id         string
	active     bool
	canceled   bool
	firstDelta bool
}

// Engine owns the conversation loop: it pumps captured audio to the
// transport, routes inbound events into playback and conversation state,
// interrupts playback on barge-in and compacts the context after completed
// responses.
type Engine struct {
	cfg       Config
	transport Transport
	sink      Sink
	state     *conversation.State
	compactor *conversation.Compactor
	registry  *tools.Registry
	store     memory.Store
	metrics   *observability.Metrics
	stages    *observability.StageWindow

	mu          sync.Mutex
	resp        responseContext
	committedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(
	cfg Config,
	transport Transport,
	sink Sink,
	state *conversation.State,
	compactor *conversation.Compactor,
	registry *tools.Registry,
	store memory.Store,
	metrics *observability.Metrics,
	stages *observability.StageWindow,
) *Engine {
	if cfg.TranscriptRetryMax <= 0 {
		cfg.TranscriptRetryMax = 5
	}
	if cfg.TranscriptRetryBase <= 0 {
		cfg.TranscriptRetryBase = 200 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		transport: transport,
		sink:      sink,
		state:     state,
		compactor: compactor,
		registry:  registry,
		store:     store,
		metrics:   metrics,
		stages:    stages,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RegisterHandlers wires the engine into the event dispatcher.
func (e *Engine) RegisterHandlers(d *dispatch.Dispatcher) {
	d.Register(protocol.TypeSessionCreated, e.handleSessionCreated)
	d.Register(protocol.TypeItemCreated, e.handleItemCreated)
	d.Register(protocol.TypeItemRetrieved, e.handleItemRetrieved)
	d.Register(protocol.TypeResponseCreated, e.handleResponseCreated)
	d.Register(protocol.TypeResponseAudioDelta, e.handleAudioDelta)
	d.Register(protocol.TypeResponseDone, e.handleResponseDone)
	d.Register(protocol.TypeResponseError, e.handleResponseError)
	d.Register(protocol.TypeToolCall, e.handleToolCall)
}

// PumpAudio forwards captured frames to the transport until the source
// closes or the engine stops. Encoding happens here so the capture callback
// stays allocation-light.
func (e *Engine) PumpAudio(source FrameSource) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.ctx.Done():
				return
			case frame, ok := <-source.Frames():
				if !ok {
					return
				}
				e.transport.AppendAudio(base64.StdEncoding.EncodeToString(frame))
			}
		}
	}()
}

// CommitTurn ends the user's turn: commit the input buffer and request a
// response. The commit timestamp feeds the first-delta latency metric.
func (e *Engine) CommitTurn(ctx context.Context) error {
	e.mu.Lock()
	e.committedAt = time.Now()
	e.mu.Unlock()

	if err := e.transport.CommitInput(ctx); err != nil {
		return err
	}
	return e.transport.CreateResponse(ctx)
}

// Stop halts background work. It does not close the transport; the caller
// owns that ordering.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) handleSessionCreated(ctx context.Context, event any) error {
	_ = ctx
	_ = event.(protocol.SessionCreated)
	return nil
}

func (e *Engine) handleItemCreated(ctx context.Context, event any) error {
	ev := event.(protocol.ItemCreated)
	item := ev.Item
	if item.Role == "assistant" || item.Type == "tool_result" {
		return nil
	}
	role := conversation.RoleUser
	if item.Role == "system" {
		role = conversation.RoleSystem
	}
	e.state.BeginTurn(item.ID, role, item.TranscriptText())
	if text := item.TranscriptText(); text != "" && role == conversation.RoleUser {
		e.persistTurn(ctx, item.ID, string(role), text, false)
	}

	if role == conversation.RoleUser {
		e.bargeIn(ctx)
	}
	return nil
}

// bargeIn interrupts the active response: cancel upstream generation, mark
// its audio as stale, then flush whatever is already buffered.
func (e *Engine) bargeIn(ctx context.Context) {
	e.mu.Lock()
	if !e.resp.active || e.resp.canceled {
		e.mu.Unlock()
		return
	}
	e.resp.canceled = true
	responseID := e.resp.id
	e.mu.Unlock()

	e.sink.CancelResponse(responseID)
	_ = e.transport.CancelResponse(ctx, responseID)
	e.sink.Flush()
	if e.metrics != nil {
		e.metrics.BargeIns.Inc()
	}
	if e.stages != nil {
		e.stages.ObserveIndicator("barge_in")
	}
}

func (e *Engine) handleItemRetrieved(ctx context.Context, event any) error {
	ev := event.(protocol.ItemRetrieved)
	text := ev.Item.TranscriptText()
	if text == "" {
		return nil
	}
	if e.state.BackfillTranscript(ev.Item.ID, text) {
		e.persistTurn(ctx, ev.Item.ID, ev.Item.Role, text, false)
	}
	return nil
}

func (e *Engine) handleResponseCreated(ctx context.Context, event any) error {
	_ = ctx
	ev := event.(protocol.ResponseCreated)
	e.mu.Lock()
	e.resp = responseContext{id: ev.Response.ID, active: true}
	e.mu.Unlock()
	e.sink.ClearCanceled(ev.Response.ID)
	return nil
}

func (e *Engine) handleAudioDelta(ctx context.Context, event any) error {
	_ = ctx
	ev := event.(protocol.ResponseAudioDelta)

	e.mu.Lock()
	stale := e.resp.id != ev.ResponseID || e.resp.canceled
	first := !stale && !e.resp.firstDelta
	if first {
		e.resp.firstDelta = true
	}
	committedAt := e.committedAt
	e.mu.Unlock()

	if stale {
		return nil
	}
	if first && !committedAt.IsZero() {
		elapsed := time.Since(committedAt)
		if e.metrics != nil {
			e.metrics.ObserveFirstDeltaLatency(elapsed)
		}
		if e.stages != nil {
			e.stages.Observe("commit_to_first_delta", float64(elapsed.Milliseconds()))
		}
	}

	pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		return err
	}
	e.sink.Write(ev.ResponseID, pcm)
	return nil
}

func (e *Engine) handleResponseDone(ctx context.Context, event any) error {
	ev := event.(protocol.ResponseDone)
	responseID := ev.Response.ID

	if e.state.IsCompleted(responseID) {
		return nil
	}

	e.mu.Lock()
	canceled := e.resp.id == responseID && e.resp.canceled
	if e.resp.id == responseID {
		e.resp = responseContext{}
	}
	e.mu.Unlock()

	if !canceled {
		for _, item := range ev.Response.Output {
			if item.Role != "assistant" {
				continue
			}
			if text := item.TranscriptText(); text != "" {
				e.state.AppendAssistant(item.ID, text)
				e.persistTurn(ctx, item.ID, "assistant", text, false)
			}
		}
	}
	if !e.state.CompleteResponse(responseID, ev.Response.Usage.TotalTokens) {
		return nil
	}

	e.afterResponse()
	return nil
}

// afterResponse runs transcript retrieval and compaction off the dispatch
// goroutine so slow summarizer calls never stall inbound events.
func (e *Engine) afterResponse() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.retrievePendingTranscripts()
		if e.compactor == nil {
			return
		}
		before := e.state.SummaryCount()
		started := time.Now()
		err := e.compactor.MaybeCompact(e.ctx)
		switch {
		case err == nil && e.state.SummaryCount() > before:
			if e.metrics != nil {
				e.metrics.Summaries.Inc()
			}
			if e.stages != nil {
				e.stages.Observe("summarize", float64(time.Since(started).Milliseconds()))
			}
			if turns := e.state.Snapshot(); len(turns) > 0 && turns[0].Role == conversation.RoleSystem {
				e.persistTurn(e.ctx, turns[0].ID, "system", turns[0].Text, true)
			}
		case err != nil && !errors.Is(err, conversation.ErrTranscriptsPending):
			// Deferred windows retry on the next completed response;
			// everything else is a real failure.
			if e.metrics != nil {
				e.metrics.SummaryFailures.Inc()
			}
		}
	}()
}

// retrievePendingTranscripts asks the server for transcripts that have not
// arrived yet, with a bounded growing delay between rounds.
func (e *Engine) retrievePendingTranscripts() {
	for attempt := 1; attempt <= e.cfg.TranscriptRetryMax; attempt++ {
		ids := e.state.PendingIDs()
		if len(ids) == 0 {
			return
		}
		for _, id := range ids {
			if err := e.transport.Send(e.ctx, protocol.NewItemRetrieve(id)); err != nil {
				return
			}
		}
		select {
		case <-e.ctx.Done():
			return
		case <-time.After(e.cfg.TranscriptRetryBase * time.Duration(attempt)):
		}
	}
}

func (e *Engine) handleResponseError(ctx context.Context, event any) error {
	_ = ctx
	ev := event.(protocol.ResponseError)

	// Errors for a response we already canceled or finalized are expected
	// races, not faults.
	if ev.ResponseID != "" && e.state.IsCompleted(ev.ResponseID) {
		return nil
	}
	e.mu.Lock()
	locallyCanceled := ev.ResponseID != "" && e.resp.id == ev.ResponseID && e.resp.canceled
	if ev.ResponseID != "" && e.resp.id == ev.ResponseID {
		e.resp = responseContext{}
	}
	e.mu.Unlock()
	if locallyCanceled {
		return nil
	}

	class := reliability.ClassifyResponseError(ev.Error.Code)
	if e.metrics != nil {
		e.metrics.ResponseErrors.WithLabelValues(string(class)).Inc()
	}
	if !class.Retryable() {
		return &ResponseFault{Code: ev.Error.Code, Message: ev.Error.Message}
	}
	return nil
}

// ResponseFault is a non-retryable backend rejection surfaced to the
// dispatcher's error path.
type ResponseFault struct {
	Code    string
	Message string
}

func (f *ResponseFault) Error() string {
	return "response rejected: " + f.Code + ": " + f.Message
}

func (e *Engine) handleToolCall(ctx context.Context, event any) error {
	_ = ctx
	ev := event.(protocol.ToolCall)
	if e.registry == nil {
		return nil
	}

	name := ev.Item.Name
	callID := ev.Item.CallID
	responseID := ev.ResponseID
	args := ev.Item.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		text, err := e.registry.Invoke(e.ctx, name, args)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			text = "The tool call failed: " + err.Error()
		}
		if e.metrics != nil {
			e.metrics.ToolCalls.WithLabelValues(name, outcome).Inc()
		}
		_ = e.transport.Send(e.ctx, protocol.NewToolResult(responseID, callID, text))
	}()
	return nil
}

func (e *Engine) persistTurn(ctx context.Context, itemID, role, text string, isSummary bool) {
	if e.store == nil {
		return
	}
	if e.cfg.Redact != nil {
		text = e.cfg.Redact(text)
	}
	_ = e.store.SaveTurn(ctx, memory.TranscriptRecord{
		SessionID:   e.cfg.SessionID,
		ItemID:      itemID,
		Role:        role,
		Text:        text,
		IsSummary:   isSummary,
		PIIRedacted: e.cfg.Redact != nil,
	})
}
