package models

// RequestType is the coarse genre assigned to each user request.
type RequestType string

const (
	RequestConversation        RequestType = "conversation"
	RequestCreativeWriting     RequestType = "creative_writing"
	RequestDataScience         RequestType = "data_science"
	RequestMathematics         RequestType = "mathematics"
	RequestAccounting          RequestType = "accounting"
	RequestLegal               RequestType = "legal"
	RequestMedical             RequestType = "medical"
	RequestGeneralProgramming  RequestType = "general_programming"
	RequestSoftwareDevelopment RequestType = "software_development"
	RequestFinance             RequestType = "finance"
	RequestNewsReport          RequestType = "news_report"
	RequestConsoleCommand      RequestType = "console_command"
	RequestPersonalAssistance  RequestType = "personal_assistance"
	RequestTranslation         RequestType = "translation"
	RequestEducation           RequestType = "education"
	RequestResearch            RequestType = "research"
	RequestDeepResearch        RequestType = "deep_research"
	RequestMedia               RequestType = "media"
	RequestCompetitiveCoding   RequestType = "competitive_coding"
	RequestOther               RequestType = "other"
)

// Valid reports whether the type is one of the known genres.
func (t RequestType) Valid() bool {
	switch t {
	case RequestConversation, RequestCreativeWriting, RequestDataScience,
		RequestMathematics, RequestAccounting, RequestLegal, RequestMedical,
		RequestGeneralProgramming, RequestSoftwareDevelopment, RequestFinance,
		RequestNewsReport, RequestConsoleCommand, RequestPersonalAssistance,
		RequestTranslation, RequestEducation, RequestResearch,
		RequestDeepResearch, RequestMedia, RequestCompetitiveCoding,
		RequestOther:
		return true
	}
	return false
}

// EffortLevel grades how much work a request is expected to take.
type EffortLevel string

const (
	EffortLow    EffortLevel = "low"
	EffortMedium EffortLevel = "medium"
	EffortHigh   EffortLevel = "high"
)

// Classification is the executor's triage of one user request.
type Classification struct {
	Type             RequestType `json:"type"`
	PlanningRequired bool        `json:"planning_required"`
	RelativeEffort   EffortLevel `json:"relative_effort"`
	SubjectChange    bool        `json:"subject_change"`
}

// DefaultClassification is the fallback when the model's triage output
// cannot be parsed.
func DefaultClassification() Classification {
	return Classification{
		Type:             RequestOther,
		PlanningRequired: false,
		RelativeEffort:   EffortMedium,
		SubjectChange:    false,
	}
}
