package entities

import "time"

// StreamStats holds aggregate counters for one capture session
type StreamStats struct {
	IsLive                bool      `json:"is_live" bson:"is_live"`
	FPS                   int       `json:"fps" bson:"fps"`
	FramesAnalyzed        int       `json:"frames_analyzed" bson:"frames_analyzed"`
	TotalFramesCaptured   int       `json:"total_frames_captured" bson:"total_frames_captured"`
	AnalysisSuccessRate   float64   `json:"analysis_success_rate" bson:"analysis_success_rate"`
	LastAnalysisTimestamp time.Time `json:"last_analysis_timestamp,omitempty" bson:"last_analysis_timestamp,omitempty"`
}

// Recompute derives the success rate from the frame counters
func (s *StreamStats) Recompute() {
	if s.TotalFramesCaptured == 0 {
		s.AnalysisSuccessRate = 0
		return
	}
	s.AnalysisSuccessRate = float64(s.FramesAnalyzed) / float64(s.TotalFramesCaptured) * 100
}
