package request

import (
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Note records a component failure. Once a request carries a note every
// later stage is skipped, only the response is still rendered.
type Note struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

type AudioInfo struct {
	DurationS      float64 `json:"duration_s"`
	AudioTruncated bool    `json:"audio_truncated"`
	MimeType       string  `json:"mime_type,omitempty"`
	ReceivedBytes  int     `json:"received_bytes"`
}

type Metadata struct {
	ExternalReference       string                    `json:"external_reference,omitempty"`
	Language                string                    `json:"language"`
	RequestedLanguages      []string                  `json:"requested_languages"`
	LanguageConfiguration   map[string]map[string]any `json:"language_configuration,omitempty"`
	LIDEnabled              bool                      `json:"lid_enabled"`
	MinConfidencePercentage int                       `json:"min_confidence_percentage"`
	MaxAudioLengthSecs      int                       `json:"max_audio_length_secs"`
	ACSClient               map[string]any            `json:"acs_client,omitempty"`
	AudioInfo               *AudioInfo                `json:"audio_info,omitempty"`
	PassThroughData         map[string]any            `json:"pass_through_data,omitempty"`
}

type RecognitionResult struct {
	Text                  string   `json:"text"`
	DisplayText           string   `json:"display_text"`
	ITNText               string   `json:"itn_text"`
	GlobalConfidenceScore *int     `json:"global_confidence_score"`
	FinalAudioLengthSecs  float64  `json:"final_audio_length_secs"`
	DetectedLanguages     []string `json:"detected_languages,omitempty"`
	DetectedLanguage      string   `json:"detected_language,omitempty"`
	LIDEnabled            bool     `json:"lid_enabled"`
	AudioTruncated        bool     `json:"audio_truncated"`
	ConversionStatus      string   `json:"conversion_status,omitempty"`
	RTF                   float64  `json:"rtf"`
}

// Request is owned by exactly one pipeline task after ingestion.
// The mutex only guards status reads coming from other goroutines (metrics, shutdown logs).
type Request struct {
	Scrid        string
	DepositTime  time.Time
	DeliveryType string
	Headers      Headers
	Metadata     Metadata
	Audio        []byte
	MailFrom     string
	RcptTo       []string

	RecognitionResult *RecognitionResult

	mu        sync.RWMutex
	status    Status
	notes     []Note
	finalized bool
}

func New(scrid string, depositTime time.Time, deliveryType string, headers Headers) *Request {
	return &Request{
		Scrid:        scrid,
		DepositTime:  depositTime.UTC(),
		DeliveryType: deliveryType,
		Headers:      headers,
		status:       StatusPending,
	}
}

func (r *Request) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// AddNote records a failure for component. Ignored after Finalize.
func (r *Request) AddNote(component, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.notes = append(r.notes, Note{Component: component, Message: message})
}

func (r *Request) HasNotes() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notes) > 0
}

func (r *Request) Notes() []Note {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Note, len(r.notes))
	copy(out, r.notes)
	return out
}

// Finalize moves a pending request to SUCCESS or FAILED depending on notes.
// The first call wins, later calls return the settled status.
func (r *Request) Finalize() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finalized {
		r.finalized = true
		if len(r.notes) > 0 {
			r.status = StatusFailed
		} else {
			r.status = StatusSuccess
		}
	}
	return r.status
}

// Release drops the audio buffer once the request no longer needs it.
func (r *Request) Release() {
	r.Audio = nil
}

// Context returns the snake_case view of the request handed to templates.
func (r *Request) Context() map[string]any {
	notes := make(map[string]any)
	noteList := make([]any, 0)
	for _, n := range r.Notes() {
		notes[n.Component] = n.Message
		noteList = append(noteList, map[string]any{"component": n.Component, "message": n.Message})
	}

	ctx := map[string]any{
		"scrid":          r.Scrid,
		"deposit_time":   r.DepositTime.Format(time.RFC3339Nano),
		"delivery_type":  r.DeliveryType,
		"status":         string(r.Status()),
		"headers":        r.Headers.Map(),
		"header":         r.Headers.Get,
		"metadata":       ToMap(r.Metadata),
		"notes":          notes,
		"notes_list":     noteList,
		"mail_from":      r.MailFrom,
		"rcpt_to":        toAnySlice(r.RcptTo),
		"audio_bytes":    len(r.Audio),
		"has_recognized": r.RecognitionResult != nil,
	}
	if r.RecognitionResult != nil {
		ctx["recognition_result"] = ToMap(r.RecognitionResult)
	} else {
		ctx["recognition_result"] = map[string]any{}
	}
	return ctx
}

// ToMap converts a json-tagged struct into a generic map.
func ToMap(v any) map[string]any {
	out := make(map[string]any)
	b, err := json.Marshal(v)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// Headers keeps the ingress header names as received; lookups are case-insensitive.
type Headers map[string]string

func (h Headers) Get(name string) string {
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (h Headers) Has(name string) bool {
	if _, ok := h[name]; ok {
		return true
	}
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// Add appends value to an existing header, joining with ", ".
func (h Headers) Add(name, value string) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			h[k] = v + ", " + value
			return
		}
	}
	h[name] = value
}

func (h Headers) Map() map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
