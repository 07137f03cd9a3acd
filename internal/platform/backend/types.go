package backend

import "encoding/json"

// Wire types for the analysis backend. Field names follow the backend's JSON
// contract exactly; nothing here is interpreted beyond decoding.

// Sentence is one transcript sentence with its sentiment annotation.
type Sentence struct {
	Index          int     `json:"index"`
	Text           string  `json:"text"`
	FinalSentiment string  `json:"final_sentiment"`
	StartTime      float64 `json:"start_time"`
	EndTime        float64 `json:"end_time"`
}

// TimelinePoint is one smoothed sentiment sample, one per second of video.
type TimelinePoint struct {
	Time     int     `json:"time"`
	Positive float64 `json:"Positive"`
	Negative float64 `json:"Negative"`
	Neutral  float64 `json:"Neutral"`
}

type SummaryBucket struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// SentimentSummary buckets sentences by sentiment class.
type SentimentSummary struct {
	Positive *SummaryBucket `json:"Positive,omitempty"`
	Negative *SummaryBucket `json:"Negative,omitempty"`
	Neutral  *SummaryBucket `json:"Neutral,omitempty"`
}

// AnalysisResult is the authoritative completed analysis.
type AnalysisResult struct {
	UserID           string           `json:"user_id,omitempty"`
	VideoURL         string           `json:"video_url,omitempty"`
	Transcription    string           `json:"transcription"`
	Sentences        []Sentence       `json:"sentences"`
	Summary          SentimentSummary `json:"summary"`
	OverallSentiment string           `json:"overall_sentiment,omitempty"`
	TimelineData     []TimelinePoint  `json:"timeline_data"`
	OriginalText     string           `json:"original_text,omitempty"`
	TranslatedText   string           `json:"translated_text,omitempty"`
	DetectedLanguage string           `json:"detected_language,omitempty"`
}

// AnalyzeResponse is what POST /analyze returns: either the full result when
// the backend already has it cached, or an acknowledgement that asynchronous
// processing started.
type AnalyzeResponse struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	AnalysisResult
}

// Complete reports whether the trigger response itself carries a finished
// analysis. A cached document may omit the status field entirely, so a
// populated transcription also counts.
func (r *AnalyzeResponse) Complete() bool {
	return r.Status == "complete" || (r.Status == "" && r.Transcription != "")
}

// ProgressResponse is the shape of the progress-by-locator endpoints.
type ProgressResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// EmotionStat aggregates one emotion across the whole video.
type EmotionStat struct {
	AverageScore float64 `json:"average_score"`
	Occurrences  int     `json:"occurrences"`
}

// EmotionTimelinePoint carries a timestamp plus a dynamic set of emotion
// intensities (0..1). The backend flattens emotions into the object itself,
// so marshalling is hand-rolled.
type EmotionTimelinePoint struct {
	Time     float64
	Emotions map[string]float64
}

func (p EmotionTimelinePoint) MarshalJSON() ([]byte, error) {
	flat := make(map[string]float64, len(p.Emotions)+1)
	for k, v := range p.Emotions {
		flat[k] = v
	}
	flat["time"] = p.Time
	return json.Marshal(flat)
}

func (p *EmotionTimelinePoint) UnmarshalJSON(data []byte) error {
	flat := map[string]float64{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	p.Time = flat["time"]
	delete(flat, "time")
	p.Emotions = flat
	return nil
}

type EmotionScore struct {
	Emotion string  `json:"emotion"`
	Score   float64 `json:"score"`
}

type SentenceEmotion struct {
	Text      string         `json:"text"`
	StartTime float64        `json:"start_time"`
	EndTime   float64        `json:"end_time"`
	Emotions  []EmotionScore `json:"emotions"`
}

// AdvancedResult is the completed advanced-emotion analysis.
type AdvancedResult struct {
	UserID           string                 `json:"user_id,omitempty"`
	VideoURL         string                 `json:"video_url,omitempty"`
	EmotionSummary   map[string]EmotionStat `json:"emotion_summary"`
	EmotionTimeline  []EmotionTimelinePoint `json:"emotion_timeline"`
	SentenceEmotions []SentenceEmotion      `json:"sentence_emotions"`
}

// AdvancedResponse is the trigger response for the advanced pipeline.
type AdvancedResponse struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	AdvancedResult
}

func (r *AdvancedResponse) Complete() bool {
	return r.Status == "complete" || len(r.EmotionTimeline) > 0
}
