package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gabrielpreston/voxfabric/internal/agent"
	"github.com/gabrielpreston/voxfabric/internal/audio"
	"github.com/gabrielpreston/voxfabric/internal/denoise"
	"github.com/gabrielpreston/voxfabric/internal/errs"
	"github.com/gabrielpreston/voxfabric/internal/ioadapter"
	"github.com/gabrielpreston/voxfabric/internal/jitter"
	"github.com/gabrielpreston/voxfabric/internal/metrics"
	"github.com/gabrielpreston/voxfabric/internal/session"
	"github.com/gabrielpreston/voxfabric/internal/tool"
	voxtrace "github.com/gabrielpreston/voxfabric/internal/trace"
	"github.com/gabrielpreston/voxfabric/internal/vad"

	"github.com/google/uuid"
)

const segmentQueueDepth = 8
const playbackQueueDepth = 4

// sessionLoop holds the per-session state for the four concurrent tasks in
// §5: the adapter-input consumer, the jitter->VAD pipeline worker, the
// per-segment transcription+routing task, and the playback writer.
type sessionLoop struct {
	id  string
	cfg Config

	input  ioadapter.InputAdapter
	output ioadapter.OutputAdapter

	jitterBuf *jitter.Buffer
	seg       *vad.Segmenter
	denoiser  *denoise.Denoiser
	tracer    *voxtrace.Tracer

	segments chan audio.Segment
	playback chan playbackJob

	playing atomic.Bool
	bargeIn chan struct{}
}

type playbackJob struct {
	samples       []float32
	correlationID string
}

func newSessionLoop(id string, input ioadapter.InputAdapter, output ioadapter.OutputAdapter, cfg Config) *sessionLoop {
	l := &sessionLoop{
		id:        id,
		cfg:       cfg,
		input:     input,
		output:    output,
		jitterBuf: jitter.New(cfg.Jitter),
		seg:       vad.New(cfg.VAD),
		segments:  make(chan audio.Segment, segmentQueueDepth),
		playback:  make(chan playbackJob, playbackQueueDepth),
		bargeIn:   make(chan struct{}, 1),
	}
	if cfg.DenoiseEnabled {
		l.denoiser = denoise.New()
	}
	if cfg.TraceStore != nil {
		_ = cfg.TraceStore.CreateCallSession(id, "")
		l.tracer = voxtrace.NewTracer(cfg.TraceStore, id)
	}
	return l
}

// startAdapters brings up the input and output adapters before the loop's
// tasks are launched, so Start can fail fast on adapter errors.
func (l *sessionLoop) startAdapters(ctx context.Context) error {
	if err := l.input.Start(ctx); err != nil {
		return errs.Wrap(errs.KindAdapterFatal, "start input adapter", err)
	}
	if err := l.output.Start(ctx); err != nil {
		_ = l.input.Stop()
		return errs.Wrap(errs.KindAdapterFatal, "start output adapter", err)
	}
	return nil
}

// run executes the four concurrent tasks bound to ctx; it returns once all
// four tasks have returned, which includes finishing every queued segment
// and playback job (no grace period cuts that work short). Step 1 of §4.9 (adapter start) already
// happened in startAdapters.
func (l *sessionLoop) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsTotal.Inc()
			slog.Error("session loop panic", "session_id", l.id, "panic", r)
		}
		_ = l.input.Stop()
		_ = l.output.Stop()
		if l.denoiser != nil {
			l.denoiser.Close()
		}
		if l.tracer != nil {
			_ = l.cfg.TraceStore.EndCallSession(l.id)
			l.tracer.Close()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return l.runAdapterConsumer(gctx) })
	g.Go(func() error { return l.runPipelineWorker(gctx) })
	g.Go(func() error { return l.runTranscriptionRouter(gctx) })
	g.Go(func() error { return l.runPlaybackWriter(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Warn("session loop task exited", "session_id", l.id, "error", err)
	}

	l.drain()
}

// drain waits up to DrainGrace for the segment and playback queues to
// empty. run calls it after every task has returned, when both queues have
// already been read to the end, so in that call it returns at once.
func (l *sessionLoop) drain() {
	deadline := time.After(l.cfg.DrainGrace)
	for {
		select {
		case <-deadline:
			return
		default:
		}
		if len(l.segments) == 0 && len(l.playback) == 0 {
			return
		}
		select {
		case <-deadline:
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// runAdapterConsumer is task (a): pulls frames off the input adapter's
// stream and pushes them into the jitter buffer, counting overflow drops.
func (l *sessionLoop) runAdapterConsumer(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsTotal.Inc()
			slog.Error("adapter consumer panic", "session_id", l.id, "panic", r)
		}
	}()

	stream := l.input.Stream()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-stream:
			if !ok {
				// Give the pipeline worker up to DrainGrace to pop the frames
				// still buffered before the stream's end cancels the session.
				deadline := time.After(l.cfg.DrainGrace)
				for l.jitterBuf.Depth() > 0 && ctx.Err() == nil {
					select {
					case <-deadline:
						return errs.New(errs.KindAdapterFatal, "input stream closed")
					case <-ctx.Done():
					case <-time.After(time.Duration(audio.FrameMS) * time.Millisecond):
					}
				}
				return errs.New(errs.KindAdapterFatal, "input stream closed")
			}
			before := l.jitterBuf.Dropped()
			l.jitterBuf.Push(f)
			if l.jitterBuf.Dropped() > before {
				metrics.FramesDropped.WithLabelValues("overflow").Inc()
			}
			metrics.FramesProcessed.Inc()
			metrics.JitterDepth.WithLabelValues(l.id).Set(float64(l.jitterBuf.Depth()))
		}
	}
}

// runPipelineWorker is task (b): pulls frames from the jitter buffer at
// frame cadence, feeds the VAD segmenter, and submits completed segments
// (or the tail segment on cancellation) to the transcription task. It also
// owns barge-in detection: a new speech burst starting while output is
// playing signals the playback writer, which stops handing that response's
// frames to the output adapter; Config.BargeInWindow is not read.
func (l *sessionLoop) runPipelineWorker(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsTotal.Inc()
			slog.Error("pipeline worker panic", "session_id", l.id, "panic", r)
		}
	}()

	ticker := time.NewTicker(time.Duration(audio.FrameMS) * time.Millisecond)
	defer ticker.Stop()

	var seq uint64
	wasSpeaking := false
	for {
		select {
		case <-ctx.Done():
			if tail := l.seg.Flush(l.id, uuid.NewString()); tail != nil {
				l.submitSegment(ctx, *tail)
			}
			close(l.segments)
			return nil
		case <-ticker.C:
			f := l.jitterBuf.Pop(seq)
			seq++

			if l.denoiser != nil {
				if cleaned, err := audio.NewFrame(l.denoiser.Denoise(f.Samples()), f.Seq(), f.IngressAt()); err == nil {
					f = cleaned
				}
			}

			if l.seg.IsSpeaking() && !wasSpeaking && l.playing.Load() {
				select {
				case l.bargeIn <- struct{}{}:
					metrics.BargeIns.Inc()
				default:
				}
			}
			wasSpeaking = l.seg.IsSpeaking()

			result := l.seg.Process(l.id, uuid.NewString(), f)
			if result.Err != nil {
				if errs.Is(result.Err, errs.KindVAD) {
					l.seg.Degrade()
				}
				slog.Warn("vad error", "session_id", l.id, "error", result.Err)
				continue
			}
			if result.Segment != nil {
				metrics.SegmentsCreated.Inc()
				l.submitSegment(ctx, *result.Segment)
			}
		}
	}
}

func (l *sessionLoop) submitSegment(ctx context.Context, seg audio.Segment) {
	select {
	case l.segments <- seg:
	case <-ctx.Done():
	}
}

// runTranscriptionRouter is task (c): drains segments strictly FIFO,
// running STT, guardrail, agent routing, history persistence, tool
// dispatch, output guardrail, and TTS synthesis per §4.9 steps 3-8.
func (l *sessionLoop) runTranscriptionRouter(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsTotal.Inc()
			slog.Error("transcription router panic", "session_id", l.id, "panic", r)
		}
		close(l.playback)
	}()

	// Segments already enqueued (including the tail flushed at shutdown)
	// are drained to completion even after ctx is cancelled: downstream
	// calls bound their own per-operation timeouts against a background
	// context rather than the session's, so a stop signal does not abort
	// work already in flight. Nothing bounds the total time this takes;
	// Manager.Stop stops waiting after DrainGrace plus one second while
	// this keeps going.
	for seg := range l.segments {
		l.handleSegment(context.Background(), seg)
	}
	return nil
}

func (l *sessionLoop) handleSegment(ctx context.Context, seg audio.Segment) {
	turnID := l.tracer.StartTurn()
	turnStart := time.Now()
	status := "ok"
	var transcript, responseText string
	defer func() {
		l.tracer.EndTurn(turnID, float64(time.Since(turnStart).Milliseconds()), transcript, responseText, status)
	}()

	sttStart := time.Now()
	sttCtx, cancel := context.WithTimeout(ctx, l.cfg.STTTimeout)
	processed, err := l.cfg.STT.Transcribe(sttCtx, seg)
	cancel()
	l.tracer.RecordStageSpan(turnID, "stt", sttStart, msSince(sttStart), "", "", spanStatus(err), errString(err))
	if err != nil {
		status = "error"
		slog.Error("stt failed", "session_id", l.id, "correlation_id", seg.CorrelationID, "error", err)
		l.enqueueApology(ctx, turnID, seg.CorrelationID)
		return
	}
	if processed.Status == audio.StatusEmpty {
		return
	}
	if processed.Status == audio.StatusFailed {
		status = "error"
		l.enqueueApology(ctx, turnID, seg.CorrelationID)
		return
	}

	transcript = processed.Transcript
	var ok bool
	responseText, ok = l.respondTo(ctx, turnID, seg.CorrelationID, transcript)
	if !ok {
		return
	}

	l.enqueuePlayback(ctx, turnID, responseText, seg.CorrelationID)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

func spanStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// respondTo runs steps 4-7 of §4.9 over one transcript: input guard, agent
// routing, history persistence, tool dispatch, and output guard. It
// returns the final response text and false when nothing should be played
// back (guardrail block still yields a canned response to play).
func (l *sessionLoop) respondTo(ctx context.Context, turnID, correlationID, transcript string) (string, bool) {
	if l.cfg.Guardrail != nil {
		in, err := l.cfg.Guardrail.ValidateInput(ctx, transcript)
		if err != nil {
			slog.Error("guardrail input check failed", "session_id", l.id, "error", err)
		} else if !in.Safe {
			metrics.GuardrailBlocks.WithLabelValues(string(in.Reason)).Inc()
			l.persistTurn(ctx, transcript, guardrailCannedResponse)
			return guardrailCannedResponse, true
		}
	}

	convCtx, err := l.cfg.Sessions.GetContext(ctx, l.id)
	if err != nil {
		slog.Error("get context failed", "session_id", l.id, "error", err)
		convCtx = &session.ConversationContext{SessionID: l.id}
	}

	agentStart := time.Now()
	resp, err := l.cfg.Agents.Route(ctx, convCtx, transcript)
	l.tracer.RecordStageSpan(turnID, "agent", agentStart, msSince(agentStart), transcript, "", spanStatus(err), errString(err))
	if err != nil {
		slog.Error("agent routing failed", "session_id", l.id, "correlation_id", correlationID, "error", err)
		l.persistTurn(ctx, transcript, apologyPhrase)
		return apologyPhrase, true
	}
	metrics.AgentInvocations.WithLabelValues(agentLabel(resp)).Inc()

	l.persistTurn(ctx, transcript, resp.Text)
	l.executeActions(ctx, resp)

	responseText := resp.Text
	if l.cfg.Guardrail != nil {
		out, err := l.cfg.Guardrail.ValidateOutput(ctx, responseText)
		if err != nil {
			slog.Error("guardrail output check failed", "session_id", l.id, "error", err)
		} else if !out.Safe {
			metrics.GuardrailBlocks.WithLabelValues(string(out.Reason)).Inc()
			if out.Filtered != "" {
				responseText = out.Filtered
			} else {
				responseText = guardrailCannedResponse
			}
		}
	}

	return responseText, true
}

// agentLabel derives the metrics label for an agent response. Response
// does not carry the winning agent's name directly; ConversationalAgent
// stamps it into Metadata["served_by"] (the LLM backend actually used),
// which is the closest available attribution.
func agentLabel(resp *agent.Response) string {
	if resp == nil {
		return "unknown"
	}
	if name, ok := resp.Metadata["served_by"]; ok && name != "" {
		return name
	}
	return "unknown"
}

func (l *sessionLoop) persistTurn(ctx context.Context, transcript, response string) {
	convCtx, err := l.cfg.Sessions.GetContext(ctx, l.id)
	if err != nil {
		convCtx = &session.ConversationContext{SessionID: l.id}
	}
	convCtx.History = append(convCtx.History, session.HistoryEntry{UserUtterance: transcript, AgentResponse: response})
	if err := l.cfg.Sessions.SaveContext(ctx, convCtx); err != nil {
		slog.Error("save context failed", "session_id", l.id, "error", err)
	}
	if err := l.cfg.Sessions.LogExecution(ctx, session.ExecutionLogEntry{
		SessionID:  l.id,
		Transcript: transcript,
		Response:   response,
		Timestamp:  time.Now(),
	}); err != nil {
		slog.Error("log execution failed", "session_id", l.id, "error", err)
	}
}

func (l *sessionLoop) executeActions(ctx context.Context, resp *agent.Response) {
	if l.cfg.Tools == nil {
		return
	}
	for _, action := range resp.PendingActions {
		result, err := l.cfg.Tools.Invoke(ctx, tool.Action{
			ToolName:       action.ToolName,
			Arguments:      action.Arguments,
			Deadline:       action.Deadline,
			IdempotencyKey: action.IdempotencyKey,
		})
		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
			slog.Error("tool invocation failed", "session_id", l.id, "tool", action.ToolName, "error", err)
		}
		metrics.ToolInvocations.WithLabelValues(action.ToolName, status).Inc()
	}
}

func (l *sessionLoop) enqueueApology(ctx context.Context, turnID, correlationID string) {
	l.enqueuePlayback(ctx, turnID, apologyPhrase, correlationID)
}

func (l *sessionLoop) enqueuePlayback(ctx context.Context, turnID, text, correlationID string) {
	ttsStart := time.Now()
	ttsCtx, cancel := context.WithTimeout(ctx, l.cfg.TTSTimeout)
	samples, err := l.cfg.TTS.Synthesize(ttsCtx, text, l.cfg.TTSVoiceID)
	cancel()
	l.tracer.RecordStageSpan(turnID, "tts", ttsStart, msSince(ttsStart), text, "", spanStatus(err), errString(err))
	if err != nil {
		slog.Error("tts synthesis failed", "session_id", l.id, "correlation_id", correlationID, "error", err)
		return
	}

	select {
	case l.playback <- playbackJob{samples: samples, correlationID: correlationID}:
	case <-ctx.Done():
	}
}

// runPlaybackWriter is task (d): converts each synthesized response into
// CanonicalFrames and streams them to the output adapter, honoring
// barge-in by closing the in-flight frame channel early.
func (l *sessionLoop) runPlaybackWriter(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsTotal.Inc()
			slog.Error("playback writer panic", "session_id", l.id, "panic", r)
		}
	}()

	for job := range l.playback {
		l.playOne(context.Background(), job)
	}
	return nil
}

func (l *sessionLoop) playOne(ctx context.Context, job playbackJob) {
	framer := audio.NewFramer()
	frames, err := framer.Push(job.samples)
	if err != nil {
		slog.Error("frame synthesized audio failed", "session_id", l.id, "error", err)
		return
	}
	if tail, err := framer.Flush(); err == nil && tail != nil {
		frames = append(frames, *tail)
	}

	frameCh := make(chan audio.CanonicalFrame)
	if err := l.output.Play(frameCh); err != nil {
		slog.Error("output play failed", "session_id", l.id, "error", err)
		close(frameCh)
		return
	}
	l.playing.Store(true)
	defer l.playing.Store(false)

	for _, f := range frames {
		select {
		case frameCh <- f:
		case <-l.bargeIn:
			close(frameCh)
			return
		case <-ctx.Done():
			close(frameCh)
			return
		}
	}
	close(frameCh)
}
