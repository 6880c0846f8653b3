package live

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

// manualScheduler fires tasks only when the test advances its clock
type manualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	seq       int
	next      time.Duration
	period    time.Duration
	fn        func()
	cancelled bool
}

func (s *manualScheduler) add(d, period time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	task := &manualTask{seq: s.seq, next: s.now + d, period: period, fn: fn}
	s.tasks = append(s.tasks, task)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		task.cancelled = true
	}
}

func (s *manualScheduler) Every(d time.Duration, fn func()) func() { return s.add(d, d, fn) }
func (s *manualScheduler) After(d time.Duration, fn func()) func() { return s.add(d, 0, fn) }

// Advance moves the clock forward, running due tasks in time order
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	for {
		var due []*manualTask
		for _, t := range s.tasks {
			if !t.cancelled && t.next <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].next == due[j].next {
				return due[i].seq < due[j].seq
			}
			return due[i].next < due[j].next
		})
		task := due[0]
		s.now = task.next
		if task.period > 0 {
			task.next += task.period
		} else {
			task.cancelled = true
		}
		s.mu.Unlock()
		task.fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// Pending counts live tasks
func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

type fakeScreen struct {
	mu      sync.Mutex
	err     error
	frame   image.Image
	streams []*fakeScreenStream
}

func (f *fakeScreen) AcquireScreen(_ context.Context, _ repositories.CaptureConstraints) (repositories.ScreenStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	stream := &fakeScreenStream{frame: f.frame, ended: make(chan struct{})}
	f.streams = append(f.streams, stream)
	return stream, nil
}

func (f *fakeScreen) last() *fakeScreenStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

type fakeScreenStream struct {
	mu       sync.Mutex
	frame    image.Image
	count    atomic.Uint64
	ended    chan struct{}
	endOnce  sync.Once
	closes   atomic.Int32
}

func (s *fakeScreenStream) LatestFrame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *fakeScreenStream) FrameCount() uint64     { return s.count.Load() }
func (s *fakeScreenStream) Ended() <-chan struct{} { return s.ended }
func (s *fakeScreenStream) end()                   { s.endOnce.Do(func() { close(s.ended) }) }

func (s *fakeScreenStream) Close() error {
	s.closes.Add(1)
	return nil
}

func testFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	return img
}

type fakeMic struct {
	mu       sync.Mutex
	err      error
	audio    []byte
	startErr error
	streams  []*fakeMicStream
	// onAcquire runs while the acquisition is pending
	onAcquire func()
}

func (f *fakeMic) AcquireMicrophone(_ context.Context, c repositories.MicConstraints) (repositories.MicStream, error) {
	if f.onAcquire != nil {
		f.onAcquire()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	stream := &fakeMicStream{audio: f.audio, startErr: f.startErr, constraints: c}
	f.streams = append(f.streams, stream)
	return stream, nil
}

func (f *fakeMic) acquired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeMic) last() *fakeMicStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

type fakeMicStream struct {
	audio       []byte
	startErr    error
	constraints repositories.MicConstraints
	recording   atomic.Bool
	closes      atomic.Int32
}

func (s *fakeMicStream) StartRecording() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.recording.Store(true)
	return nil
}

func (s *fakeMicStream) StopRecording() ([]byte, error) {
	s.recording.Store(false)
	return s.audio, nil
}

func (s *fakeMicStream) Format() repositories.AudioConfig {
	return repositories.AudioConfig{SampleRate: 16000, Encoding: "LINEAR16", Language: "en-US"}
}

func (s *fakeMicStream) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeOutput struct {
	mu      sync.Mutex
	err     error
	handles []*fakeHandle
}

func (f *fakeOutput) Open(messageID string, speech *repositories.Speech, volume float64) (repositories.PlaybackHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	h := &fakeHandle{messageID: messageID, volume: volume, done: make(chan struct{})}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeOutput) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeOutput) last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[len(f.handles)-1]
}

// advancing counts handles that are playing and not released
func (f *fakeOutput) advancing() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.handles {
		if h.isPlaying() {
			n++
		}
	}
	return n
}

func (f *fakeOutput) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.handles {
		if !h.isClosed() {
			n++
		}
	}
	return n
}

type fakeHandle struct {
	messageID string
	volume    float64

	mu       sync.Mutex
	playing  bool
	closed   bool
	pos      time.Duration
	lastFrom time.Duration
	plays    int
	done     chan struct{}
}

func (h *fakeHandle) Play(from time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("closed")
	}
	h.playing = true
	h.pos = from
	h.lastFrom = from
	h.plays++
	return nil
}

func (h *fakeHandle) Pause() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	return h.pos
}

func (h *fakeHandle) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	h.closed = true
	return nil
}

// advance simulates audio time passing
func (h *fakeHandle) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playing {
		h.pos += d
	}
}

// finish simulates natural end of audio
func (h *fakeHandle) finish() {
	h.mu.Lock()
	h.playing = false
	h.mu.Unlock()
	close(h.done)
}

func (h *fakeHandle) isPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing && !h.closed
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type fakeSynth struct {
	mu    sync.Mutex
	err   error
	gate  chan struct{}
	calls []string
	last  entities.AudioSettings
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, settings entities.AudioSettings) (*repositories.Speech, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.last = settings
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &repositories.Speech{Data: make([]byte, 4800), Format: repositories.PCM24kMono}, nil
}

type fakeAnalyzer struct {
	mu          sync.Mutex
	outcome     entities.AnalysisOutcome
	gate        chan struct{}
	calls       int
	inflight    int
	maxInflight int
	lastRecent  []entities.Message
	lastSens    entities.Sensitivity
}

func (f *fakeAnalyzer) AnalyzeFrame(_ context.Context, _ repositories.Image, recent []entities.Message, sensitivity entities.Sensitivity) entities.AnalysisOutcome {
	f.mu.Lock()
	f.calls++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.lastRecent = recent
	f.lastSens = sensitivity
	gate, outcome := f.gate, f.outcome
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	return outcome
}

func (f *fakeAnalyzer) stats() (calls, maxInflight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.maxInflight
}

type fakeResponder struct {
	mu            sync.Mutex
	transcript    string
	transcribeErr error
	reply         string
	replyErr      error
	gotFrame      *repositories.Image
	gotRecent     []entities.Message
	transcribed   int
}

func (f *fakeResponder) Transcribe(_ context.Context, _ []byte, _ repositories.AudioConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcribed++
	return f.transcript, f.transcribeErr
}

func (f *fakeResponder) Reply(_ context.Context, _ string, frame *repositories.Image, recent []entities.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotFrame = frame
	f.gotRecent = recent
	return f.reply, f.replyErr
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var codes []string
	for _, e := range r.events {
		if e.Type == EventNotice {
			codes = append(codes, e.Notice.Code)
		}
	}
	return codes
}

func (r *eventRecorder) callStates() []CallState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []CallState
	for _, e := range r.events {
		if e.Type == EventCallState {
			states = append(states, e.CallState)
		}
	}
	return states
}

func (r *eventRecorder) hasNotice(code string) bool {
	for _, c := range r.notices() {
		if c == code {
			return true
		}
	}
	return false
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
