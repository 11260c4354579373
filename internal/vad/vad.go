// Package vad converts a continuous CanonicalFrame stream into discrete
// speech AudioSegments, grounded on the teacher's energy-based adaptive
// detector and extended with the aggressiveness levels, padding, and
// max-segment cap §4.3 requires.
package vad

import (
	"math"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/audio"
	"github.com/gabrielpreston/voxfabric/internal/errs"
)

// Config controls segmentation behavior.
type Config struct {
	// Aggressiveness in [0,3]; higher values raise the speech threshold,
	// making the detector stricter about what counts as speech.
	Aggressiveness int
	PaddingMS      int
	MinSegmentMS   int
	MaxSegmentMS   int
	// DegradedForwardRaw, when true, forwards raw frames to STT as whole
	// segments if the VAD backend itself becomes unavailable, rather than
	// dropping audio outright. Only takes effect via Degrade().
	DegradedForwardRaw bool

	SampleRate          int
	CalibrationDuration time.Duration
}

// DefaultConfig matches the spec's configuration defaults.
func DefaultConfig() Config {
	return Config{
		Aggressiveness:      1,
		PaddingMS:           200,
		MinSegmentMS:        300,
		MaxSegmentMS:        30000,
		SampleRate:          16000,
		CalibrationDuration: 500 * time.Millisecond,
	}
}

// aggressivenessMargins maps the 0-3 aggressiveness dial onto a dB margin
// above the calibrated noise floor; 0 is lenient (catches soft speech), 3 is
// strict (rejects all but clearly loud speech).
var aggressivenessMargins = [4]float64{6, 10, 16, 24}

// Segmenter holds per-stream VAD state. One Segmenter belongs to exactly one
// session's input stream; it is not safe for concurrent use.
type Segmenter struct {
	cfg Config

	isSpeech       bool
	speechStartMS  int64
	lastSpeechMS   int64
	frames         []audio.CanonicalFrame
	preRoll        []audio.CanonicalFrame
	preRollLen     int

	calibrating         bool
	calibrationStart    time.Time
	calibrationReadings []float64
	threshold           float64

	segmentsDiscarded int
	degraded          bool
}

// New constructs a Segmenter for one session stream.
func New(cfg Config) *Segmenter {
	preRollFrames := cfg.PaddingMS / audio.FrameMS
	return &Segmenter{
		cfg:         cfg,
		preRollLen:  preRollFrames,
		preRoll:     make([]audio.CanonicalFrame, 0, preRollFrames),
		calibrating: cfg.CalibrationDuration > 0,
		threshold:   -30 + aggressivenessMargins[clampAggr(cfg.Aggressiveness)],
	}
}

func clampAggr(a int) int {
	if a < 0 {
		return 0
	}
	if a > 3 {
		return 3
	}
	return a
}

// Degrade puts the segmenter into degraded mode: every subsequent frame is
// wrapped as its own one-frame segment rather than VAD-gated, matching
// §4.3's "forward raw frames to STT as a degraded mode only if explicitly
// configured" failure behavior for a VADError upstream.
func (s *Segmenter) Degrade() {
	if !s.cfg.DegradedForwardRaw {
		return
	}
	s.degraded = true
}

// Result is what Process returns for one input frame.
type Result struct {
	Segment *audio.Segment
	Err     error
}

// Process feeds one CanonicalFrame into the segmenter. It returns a non-nil
// Segment exactly when a speech burst just closed (hysteresis silence
// elapsed, or the max-segment cap was hit).
func (s *Segmenter) Process(sessionID, correlationID string, f audio.CanonicalFrame) Result {
	if s.degraded {
		seg, err := audio.NewSegment(sessionID, correlationID, int64(f.Seq())*audio.FrameMS, []audio.CanonicalFrame{f})
		return Result{Segment: &seg, Err: err}
	}

	energyDB := computeEnergyDB(f.Samples())
	nowMS := int64(f.Seq()) * audio.FrameMS

	if s.calibrating {
		s.calibrate(energyDB, nowMS)
	}

	if energyDB >= s.threshold {
		return s.handleSpeech(sessionID, correlationID, f, nowMS)
	}
	return s.handleSilence(sessionID, correlationID, f, nowMS)
}

func (s *Segmenter) calibrate(energyDB float64, nowMS int64) {
	if s.calibrationStart.IsZero() {
		s.calibrationStart = time.Now()
	}
	s.calibrationReadings = append(s.calibrationReadings, energyDB)

	elapsed := time.Duration(len(s.calibrationReadings)) * audio.FrameMS * time.Millisecond
	if elapsed < s.cfg.CalibrationDuration {
		return
	}

	var sum float64
	for _, e := range s.calibrationReadings {
		sum += e
	}
	noiseFloor := sum / float64(len(s.calibrationReadings))
	adaptive := noiseFloor + aggressivenessMargins[clampAggr(s.cfg.Aggressiveness)]
	if adaptive > s.threshold {
		s.threshold = adaptive
	}

	s.calibrating = false
	s.calibrationReadings = nil
}

func (s *Segmenter) handleSpeech(sessionID, correlationID string, f audio.CanonicalFrame, nowMS int64) Result {
	if !s.isSpeech {
		s.isSpeech = true
		s.speechStartMS = nowMS
		s.frames = append(s.frames, s.preRoll...)
	}
	s.lastSpeechMS = nowMS
	s.frames = append(s.frames, f)
	s.preRoll = s.preRoll[:0]

	if int64(len(s.frames)*audio.FrameMS) >= int64(s.cfg.MaxSegmentMS) {
		return s.closeSegment(sessionID, correlationID)
	}
	return Result{}
}

func (s *Segmenter) handleSilence(sessionID, correlationID string, f audio.CanonicalFrame, nowMS int64) Result {
	s.updatePreRoll(f)

	if !s.isSpeech {
		return Result{}
	}

	s.frames = append(s.frames, f)

	silenceMS := nowMS - s.lastSpeechMS
	if silenceMS < int64(s.cfg.PaddingMS) {
		return Result{}
	}

	return s.closeSegment(sessionID, correlationID)
}

func (s *Segmenter) closeSegment(sessionID, correlationID string) Result {
	s.isSpeech = false
	frames := s.frames
	s.frames = nil

	durationMS := int64(len(frames) * audio.FrameMS)
	if durationMS < int64(s.cfg.MinSegmentMS) {
		s.segmentsDiscarded++
		return Result{}
	}

	startMS := frames[0].Seq() * audio.FrameMS
	seg, err := audio.NewSegment(sessionID, correlationID, int64(startMS), frames)
	if err != nil {
		return Result{Err: errs.Wrap(errs.KindVAD, "build segment", err)}
	}
	return Result{Segment: &seg}
}

func (s *Segmenter) updatePreRoll(f audio.CanonicalFrame) {
	s.preRoll = append(s.preRoll, f)
	if len(s.preRoll) > s.preRollLen {
		s.preRoll = s.preRoll[len(s.preRoll)-s.preRollLen:]
	}
}

// Flush closes and returns any in-progress segment as a terminal segment,
// bypassing the minimum-duration discard (the tail of a stream is always
// emitted per §4.3).
func (s *Segmenter) Flush(sessionID, correlationID string) *audio.Segment {
	if len(s.frames) == 0 {
		return nil
	}
	frames := s.frames
	s.frames = nil
	s.isSpeech = false

	startMS := frames[0].Seq() * audio.FrameMS
	seg, err := audio.NewSegment(sessionID, correlationID, int64(startMS), frames)
	if err != nil {
		return nil
	}
	return &seg
}

// DiscardedCount reports segments dropped for falling under MinSegmentMS.
func (s *Segmenter) DiscardedCount() int { return s.segmentsDiscarded }

// IsSpeaking reports whether the segmenter is currently inside a speech
// burst, for callers (the orchestrator's barge-in detection) that need the
// state before the segment closes.
func (s *Segmenter) IsSpeaking() bool { return s.isSpeech }

func computeEnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
