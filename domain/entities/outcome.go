package entities

// OutcomeKind classifies the result of a frame analysis call
type OutcomeKind string

const (
	OutcomeNoComment OutcomeKind = "no_comment"
	OutcomeComment   OutcomeKind = "comment"
	OutcomeFailed    OutcomeKind = "failed"
)

// AnalysisOutcome is the typed result of analyzing one sampled frame
type AnalysisOutcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}

// NoComment builds an outcome for a frame that needs no remark
func NoComment() AnalysisOutcome {
	return AnalysisOutcome{Kind: OutcomeNoComment}
}

// Comment builds an outcome carrying assistant text
func Comment(text string) AnalysisOutcome {
	return AnalysisOutcome{Kind: OutcomeComment, Text: text}
}

// Failed builds an outcome for an analysis call that did not complete
func Failed(err error) AnalysisOutcome {
	return AnalysisOutcome{Kind: OutcomeFailed, Err: err}
}

// CallOutcome classifies the end of a voice call
type CallOutcome string

const (
	// CallNoSpeech covers recordings that were too short and empty transcripts
	CallNoSpeech CallOutcome = "no_speech"
	CallReplied  CallOutcome = "replied"
)

// CallResult is returned by a finished voice call
type CallResult struct {
	Outcome    CallOutcome `json:"outcome"`
	Reason     string      `json:"reason,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	UserID     string      `json:"user_message_id,omitempty"`
	ReplyID    string      `json:"reply_message_id,omitempty"`
}

// NoticeLevel grades notices shown to the user
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible, non-fatal report
type Notice struct {
	Level NoticeLevel `json:"level"`
	Code  string      `json:"code"`
	Text  string      `json:"text"`
}
