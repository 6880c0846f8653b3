package repositories

import "context"

// TextToSpeech abstracts text-to-speech services
type TextToSpeech interface {
	// SynthesizeAudio converts text to playable audio
	SynthesizeAudio(ctx context.Context, text string, config VoiceConfig) (*Speech, error)
}

// VoiceLister is implemented by providers that can enumerate their voices
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}

// VoiceConfig represents voice configuration for TTS
type VoiceConfig struct {
	Voice    string  `json:"voice"`
	Speed    float64 `json:"speed"`
	Language string  `json:"language"`
}

// Voice describes one selectable voice
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AudioFormat describes raw PCM audio
type AudioFormat struct {
	SampleRate     int `json:"sample_rate"`
	Channels       int `json:"channels"`
	BytesPerSample int `json:"bytes_per_sample"`
}

// PCM24kMono is signed 16-bit little-endian mono at 24kHz
var PCM24kMono = AudioFormat{SampleRate: 24000, Channels: 1, BytesPerSample: 2}

// BytesPerSecond returns the byte rate of the format
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BytesPerSample
}

// Speech is synthesized audio ready for playback
type Speech struct {
	Data   []byte
	Format AudioFormat
}
