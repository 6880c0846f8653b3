package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

// MockTTS renders a soft tone whose length follows the text
type MockTTS struct {
	perWord time.Duration
	logger  *zap.Logger
}

var (
	_ repositories.TextToSpeech = (*MockTTS)(nil)
	_ repositories.VoiceLister  = (*MockTTS)(nil)
)

// NewMockTTS creates a new offline synthesizer
func NewMockTTS(logger *zap.Logger) *MockTTS {
	return &MockTTS{perWord: 250 * time.Millisecond, logger: logger}
}

// SynthesizeAudio returns a 440Hz tone, one beat per word, scaled by speed
func (m *MockTTS) SynthesizeAudio(ctx context.Context, text string, config repositories.VoiceConfig) (*repositories.Speech, error) {
	words := len(strings.Fields(text))
	if words == 0 {
		return nil, fmt.Errorf("text cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	speed := config.Speed
	if speed <= 0 {
		speed = 1
	}
	duration := time.Duration(float64(time.Duration(words)*m.perWord) / speed)

	format := repositories.PCM24kMono
	samples := int(duration.Seconds() * float64(format.SampleRate))
	data := make([]byte, samples*format.BytesPerSample)
	for i := 0; i < samples; i++ {
		v := 0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(format.SampleRate))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(v*math.MaxInt16)))
	}

	m.logger.Debug("Mock synthesized audio",
		zap.Int("words", words),
		zap.Duration("duration", duration))
	return &repositories.Speech{Data: data, Format: format}, nil
}

// ListVoices returns the built-in voice names
func (m *MockTTS) ListVoices(ctx context.Context) ([]repositories.Voice, error) {
	return BuiltinVoices(), nil
}

// BuiltinVoices lists the voices every provider accepts
func BuiltinVoices() []repositories.Voice {
	voices := make([]repositories.Voice, 0, len(entities.Voices))
	for _, v := range entities.Voices {
		voices = append(voices, repositories.Voice{ID: v, Name: strings.ToUpper(v[:1]) + v[1:]})
	}
	return voices
}
