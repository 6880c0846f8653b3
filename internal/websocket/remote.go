package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

const (
	// acquireTimeout bounds how long the user may take in the share picker
	acquireTimeout = 60 * time.Second
	// flushGrace is how long a server-side stop waits for trailing audio
	flushGrace = 500 * time.Millisecond
)

// controlSender delivers control messages to the remote device
type controlSender interface {
	sendJSON(v interface{}) bool
}

type acquireResult struct {
	err  error
	info *MicReadyMessage
}

func deniedError(reason string) error {
	if reason == "denied" {
		return entities.ErrPermissionDenied
	}
	return fmt.Errorf("%w: %s", entities.ErrDeviceUnavailable, reason)
}

// RemoteScreen is a ScreenSource backed by the client's screen share
type RemoteScreen struct {
	out    controlSender
	logger *zap.Logger

	mu      sync.Mutex
	pending chan acquireResult
	active  *remoteScreenStream
	gone    chan struct{}
	goneSet bool
}

var _ repositories.ScreenSource = (*RemoteScreen)(nil)

// NewRemoteScreen creates a screen source that talks through out
func NewRemoteScreen(out controlSender, logger *zap.Logger) *RemoteScreen {
	return &RemoteScreen{out: out, logger: logger, gone: make(chan struct{})}
}

// AcquireScreen asks the client to share its screen and waits for the answer
func (r *RemoteScreen) AcquireScreen(ctx context.Context, constraints repositories.CaptureConstraints) (repositories.ScreenStream, error) {
	reply := make(chan acquireResult, 1)

	r.mu.Lock()
	if r.goneSet {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: client disconnected", entities.ErrDeviceUnavailable)
	}
	if r.pending != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: screen request already pending", entities.ErrDeviceUnavailable)
	}
	r.pending = reply
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.pending == reply {
			r.pending = nil
		}
		r.mu.Unlock()
	}()

	if !r.out.sendJSON(&AcquireMessage{BaseMessage: newBase(MessageTypeScreenAcquire), Constraints: constraints}) {
		return nil, fmt.Errorf("%w: client not reachable", entities.ErrDeviceUnavailable)
	}

	timer := time.NewTimer(acquireTimeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		if res.err != nil {
			return nil, res.err
		}
	case <-timer.C:
		return nil, fmt.Errorf("%w: no answer from client", entities.ErrDeviceUnavailable)
	case <-r.gone:
		return nil, fmt.Errorf("%w: client disconnected", entities.ErrDeviceUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stream := &remoteScreenStream{owner: r, ended: make(chan struct{})}
	r.mu.Lock()
	r.active = stream
	r.mu.Unlock()

	r.logger.Info("Screen share acquired")
	return stream, nil
}

// Ready resolves a pending acquisition
func (r *RemoteScreen) Ready() {
	r.resolve(acquireResult{})
}

// Denied fails a pending acquisition
func (r *RemoteScreen) Denied(reason string) {
	r.resolve(acquireResult{err: deniedError(reason)})
}

func (r *RemoteScreen) resolve(res acquireResult) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	if pending == nil {
		r.logger.Warn("Screen answer without a pending request")
		return
	}
	pending <- res
}

// Frame stores an encoded frame for the active stream
func (r *RemoteScreen) Frame(data []byte) {
	r.mu.Lock()
	stream := r.active
	r.mu.Unlock()

	if stream == nil {
		return
	}
	stream.push(data)
}

// Ended marks the active share as revoked by the client
func (r *RemoteScreen) Ended() {
	r.mu.Lock()
	stream := r.active
	r.mu.Unlock()

	if stream != nil {
		stream.end()
	}
}

// Disconnect fails pending requests and ends the active stream
func (r *RemoteScreen) Disconnect() {
	r.mu.Lock()
	if !r.goneSet {
		r.goneSet = true
		close(r.gone)
	}
	stream := r.active
	r.mu.Unlock()

	if stream != nil {
		stream.end()
	}
}

func (r *RemoteScreen) release(stream *remoteScreenStream) {
	r.mu.Lock()
	wasActive := r.active == stream
	if wasActive {
		r.active = nil
	}
	gone := r.goneSet
	r.mu.Unlock()

	if wasActive && !gone {
		r.out.sendJSON(&ControlMessage{BaseMessage: newBase(MessageTypeScreenRelease)})
	}
}

type remoteScreenStream struct {
	owner *RemoteScreen

	mu      sync.Mutex
	raw     []byte
	seq     uint64
	decoded image.Image
	decSeq  uint64

	ended     chan struct{}
	endOnce   sync.Once
	closeOnce sync.Once
}

func (s *remoteScreenStream) push(data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)

	s.mu.Lock()
	s.raw = frame
	s.seq++
	s.mu.Unlock()
}

// LatestFrame decodes the newest frame on demand
func (s *remoteScreenStream) LatestFrame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq == 0 || s.decSeq == s.seq {
		return s.decoded
	}

	img, _, err := image.Decode(bytes.NewReader(s.raw))
	if err != nil {
		s.owner.logger.Warn("Failed to decode screen frame", zap.Uint64("seq", s.seq), zap.Error(err))
		return s.decoded
	}
	s.decoded = img
	s.decSeq = s.seq
	return img
}

func (s *remoteScreenStream) FrameCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *remoteScreenStream) Ended() <-chan struct{} {
	return s.ended
}

func (s *remoteScreenStream) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

func (s *remoteScreenStream) Close() error {
	s.closeOnce.Do(func() { s.owner.release(s) })
	return nil
}

// RemoteMicrophone is a Microphone backed by the client's microphone
type RemoteMicrophone struct {
	out      controlSender
	language string
	logger   *zap.Logger

	mu      sync.Mutex
	pending chan acquireResult
	active  *remoteMicStream
	gone    chan struct{}
	goneSet bool
}

var _ repositories.Microphone = (*RemoteMicrophone)(nil)

// NewRemoteMicrophone creates a microphone that talks through out.
// language is used when the client does not announce one.
func NewRemoteMicrophone(out controlSender, language string, logger *zap.Logger) *RemoteMicrophone {
	return &RemoteMicrophone{out: out, language: language, logger: logger, gone: make(chan struct{})}
}

// AcquireMicrophone asks the client for its microphone and waits for the answer
func (r *RemoteMicrophone) AcquireMicrophone(ctx context.Context, constraints repositories.MicConstraints) (repositories.MicStream, error) {
	reply := make(chan acquireResult, 1)

	r.mu.Lock()
	if r.goneSet {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: client disconnected", entities.ErrDeviceUnavailable)
	}
	if r.pending != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: microphone request already pending", entities.ErrDeviceUnavailable)
	}
	r.pending = reply
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.pending == reply {
			r.pending = nil
		}
		r.mu.Unlock()
	}()

	if !r.out.sendJSON(&AcquireMessage{BaseMessage: newBase(MessageTypeMicAcquire), Constraints: constraints}) {
		return nil, fmt.Errorf("%w: client not reachable", entities.ErrDeviceUnavailable)
	}

	timer := time.NewTimer(acquireTimeout)
	defer timer.Stop()

	var info *MicReadyMessage
	select {
	case res := <-reply:
		if res.err != nil {
			return nil, res.err
		}
		info = res.info
	case <-timer.C:
		return nil, fmt.Errorf("%w: no answer from client", entities.ErrDeviceUnavailable)
	case <-r.gone:
		return nil, fmt.Errorf("%w: client disconnected", entities.ErrDeviceUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	format := repositories.AudioConfig{
		SampleRate: info.SampleRate,
		Encoding:   info.Encoding,
		Language:   info.Language,
	}
	if format.Language == "" {
		format.Language = r.language
	}

	stream := &remoteMicStream{owner: r, format: format}
	r.mu.Lock()
	r.active = stream
	r.mu.Unlock()

	r.logger.Info("Microphone acquired",
		zap.Int("sampleRate", format.SampleRate),
		zap.String("encoding", format.Encoding))
	return stream, nil
}

// Ready resolves a pending acquisition with the announced format
func (r *RemoteMicrophone) Ready(info *MicReadyMessage) {
	r.resolve(acquireResult{info: info})
}

// Denied fails a pending acquisition
func (r *RemoteMicrophone) Denied(reason string) {
	r.resolve(acquireResult{err: deniedError(reason)})
}

func (r *RemoteMicrophone) resolve(res acquireResult) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	if pending == nil {
		r.logger.Warn("Microphone answer without a pending request")
		return
	}
	pending <- res
}

// Audio appends a chunk to the active recording
func (r *RemoteMicrophone) Audio(data []byte) {
	r.mu.Lock()
	stream := r.active
	r.mu.Unlock()

	if stream != nil {
		stream.append(data)
	}
}

// Flushed marks that the client sent its last chunk of the recording
func (r *RemoteMicrophone) Flushed() {
	r.mu.Lock()
	stream := r.active
	r.mu.Unlock()

	if stream != nil {
		stream.flushed()
	}
}

// Disconnect fails pending requests and unblocks the active recording
func (r *RemoteMicrophone) Disconnect() {
	r.mu.Lock()
	if !r.goneSet {
		r.goneSet = true
		close(r.gone)
	}
	stream := r.active
	r.mu.Unlock()

	if stream != nil {
		stream.flushed()
	}
}

func (r *RemoteMicrophone) release(stream *remoteMicStream) {
	r.mu.Lock()
	wasActive := r.active == stream
	if wasActive {
		r.active = nil
	}
	gone := r.goneSet
	r.mu.Unlock()

	if wasActive && !gone {
		r.out.sendJSON(&ControlMessage{BaseMessage: newBase(MessageTypeMicRelease)})
	}
}

type remoteMicStream struct {
	owner  *RemoteMicrophone
	format repositories.AudioConfig

	mu        sync.Mutex
	recording bool
	buf       bytes.Buffer
	flush     chan struct{}
	flushOnce *sync.Once
	closed    bool
}

var errMicClosed = errors.New("microphone released")

func (s *remoteMicStream) StartRecording() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errMicClosed
	}
	if s.recording {
		s.mu.Unlock()
		return errors.New("already recording")
	}
	s.recording = true
	s.buf.Reset()
	s.flush = make(chan struct{})
	s.flushOnce = &sync.Once{}
	s.mu.Unlock()

	if !s.owner.out.sendJSON(&ControlMessage{BaseMessage: newBase(MessageTypeRecordStart)}) {
		s.mu.Lock()
		s.recording = false
		s.mu.Unlock()
		return fmt.Errorf("%w: client not reachable", entities.ErrDeviceUnavailable)
	}
	return nil
}

// StopRecording asks the client to stop, waits briefly for trailing chunks,
// and returns the recording
func (s *remoteMicStream) StopRecording() ([]byte, error) {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return nil, errors.New("not recording")
	}
	flush := s.flush
	s.mu.Unlock()

	select {
	case <-flush:
	default:
		s.owner.out.sendJSON(&ControlMessage{BaseMessage: newBase(MessageTypeRecordStop)})
		timer := time.NewTimer(flushGrace)
		select {
		case <-flush:
		case <-timer.C:
			s.owner.logger.Debug("Recording flush timed out")
		}
		timer.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = false
	audio := make([]byte, s.buf.Len())
	copy(audio, s.buf.Bytes())
	s.buf.Reset()
	return audio, nil
}

func (s *remoteMicStream) Format() repositories.AudioConfig {
	return s.format
}

func (s *remoteMicStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.recording = false
	s.buf.Reset()
	s.mu.Unlock()

	s.owner.release(s)
	return nil
}

func (s *remoteMicStream) append(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording {
		s.buf.Write(data)
	}
}

func (s *remoteMicStream) flushed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushOnce != nil {
		flush := s.flush
		s.flushOnce.Do(func() { close(flush) })
	}
}
