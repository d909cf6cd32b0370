package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/observability/metrics"
	"interview-realtime-gateway/internal/transcript"
)

const (
	openAIRealtimeURL = "wss://api.openai.com/v1/realtime?model=gpt-realtime"
	openAIBetaHeader  = "realtime=v1"
	openAIModel       = "gpt-realtime"
	openAIVoice       = "alloy"
)

// OpenAI bridges a session to the OpenAI realtime API. Client frames
// pass through unchanged; both directions already speak the canonical
// event shapes.
type OpenAI struct {
	*bridge
}

// NewOpenAI connects a session to OpenAI. The returned handle is live
// immediately; connection setup continues in the background.
func NewOpenAI(apiKey, sessionID, instructions string, transcripts *transcript.Buffer, dir directory.Directory, cb Callbacks) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai api key not configured")
	}

	b := &bridge{
		provider:    "openai",
		sessionID:   sessionID,
		callbacks:   cb,
		log:         logging.WithProvider(sessionID, "openai"),
		transcripts: transcripts,
		dir:         dir,
		metrics:     metrics.DefaultMetrics,
	}
	o := &OpenAI{bridge: b}

	b.dial = func() (*websocket.Conn, error) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+strings.TrimSpace(apiKey))
		header.Set("OpenAI-Beta", openAIBetaHeader)
		conn, _, err := websocket.DefaultDialer.Dial(openAIRealtimeURL, header)
		return conn, err
	}
	b.configure = func(write func(v interface{}) error) error {
		return write(openAISessionConfig(instructions))
	}
	b.handleRaw = o.handleRaw

	b.start()
	return o, nil
}

func openAISessionConfig(instructions string) map[string]interface{} {
	return map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"type":              "realtime",
			"model":             openAIModel,
			"instructions":      instructions,
			"output_modalities": []string{"audio"},
			"audio": map[string]interface{}{
				"input": map[string]interface{}{
					"format": map[string]interface{}{"type": "audio/pcm", "rate": 24000},
					"turn_detection": map[string]interface{}{
						"type":                "server_vad",
						"threshold":           0.5,
						"prefix_padding_ms":   300,
						"silence_duration_ms": 500,
						"create_response":     true,
						"interrupt_response":  true,
					},
				},
				"output": map[string]interface{}{
					"format": map[string]interface{}{"type": "audio/pcm", "rate": 24000},
					"voice":  openAIVoice,
				},
			},
		},
	}
}

func (o *OpenAI) handleRaw(data []byte) {
	for _, frag := range extractOpenAIFragments(o.sessionID, data, time.Now().UnixMilli()) {
		o.transcripts.Add(frag)
	}
	if code, message, ok := openAIRateLimit(data); ok {
		o.callbacks.OnError(code, message)
		return
	}
	o.callbacks.OnMessage(data)
}

// Send forwards a client frame upstream unchanged.
func (o *OpenAI) Send(data []byte) {
	if err := o.writeRaw(data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			o.log.Error().Err(err).Msg("Send failed")
			o.callbacks.OnError(CodeProviderUnavailable, "")
		}
	}
}

// InjectTimeWarning primes the interviewer with a time reminder.
func (o *OpenAI) InjectTimeWarning(text string) {
	o.injectSystemText("Naturally mention to the candidate: " + text + ". Say it conversationally as part of the interview flow, don't make it sound like a robotic announcement.")
}

// InjectObserverInsight feeds code observations into the conversation.
func (o *OpenAI) InjectObserverInsight(text string) {
	o.injectSystemText(`Background context about the candidate's code (use naturally in conversation, don't announce "my observer says", just weave it in naturally): ` + text)
}

func (o *OpenAI) injectSystemText(text string) {
	event := map[string]interface{}{
		"type": "response.create",
		"response": map[string]interface{}{
			"input": []map[string]interface{}{
				{
					"type": "message",
					"role": "system",
					"content": []map[string]interface{}{
						{"type": "input_text", "text": text},
					},
				},
			},
			"conversation": "auto",
		},
	}
	if err := o.writeJSON(event); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		o.log.Error().Err(err).Msg("Inject failed")
	}
}

type openAIContentPart struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
}

type openAIItem struct {
	ID      string              `json:"id"`
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIEvent struct {
	Type       string      `json:"type"`
	Item       *openAIItem `json:"item"`
	ItemID     string      `json:"item_id"`
	Transcript string      `json:"transcript"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// speakerForRole maps upstream conversation roles onto transcript
// speakers.
func speakerForRole(role string) string {
	switch role {
	case "user":
		return transcript.SpeakerCandidate
	case "assistant":
		return transcript.SpeakerInterviewer
	default:
		return transcript.SpeakerSystem
	}
}

// extractOpenAIFragments pulls transcript fragments out of an upstream
// event. Unparseable or irrelevant frames yield nothing.
func extractOpenAIFragments(sessionID string, data []byte, ts int64) []transcript.Fragment {
	var msg openAIEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}

	var frags []transcript.Fragment
	switch msg.Type {
	case "conversation.item.created", "conversation.item.done":
		if msg.Item == nil {
			return nil
		}
		speaker := speakerForRole(msg.Item.Role)
		for _, part := range msg.Item.Content {
			text := part.Transcript
			if text == "" {
				text = part.Text
			}
			if text == "" {
				continue
			}
			frags = append(frags, transcript.Fragment{
				SessionID:      sessionID,
				Speaker:        speaker,
				Content:        text,
				TimestampMs:    ts,
				ProviderItemID: msg.Item.ID,
			})
		}
	case "conversation.item.input_audio_transcription.completed":
		if msg.Transcript != "" {
			frags = append(frags, transcript.Fragment{
				SessionID:      sessionID,
				Speaker:        transcript.SpeakerCandidate,
				Content:        msg.Transcript,
				TimestampMs:    ts,
				ProviderItemID: msg.ItemID,
			})
		}
	case "response.output_audio_transcript.done":
		if msg.Transcript != "" {
			frags = append(frags, transcript.Fragment{
				SessionID:      sessionID,
				Speaker:        transcript.SpeakerInterviewer,
				Content:        msg.Transcript,
				TimestampMs:    ts,
				ProviderItemID: msg.ItemID,
			})
		}
	}
	return frags
}

// openAIRateLimit reports whether an upstream error frame is a rate
// limit, mapping it to the client-facing code.
func openAIRateLimit(data []byte) (code, message string, ok bool) {
	var msg openAIEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", "", false
	}
	if msg.Type != "error" || msg.Error == nil {
		return "", "", false
	}
	if msg.Error.Code == "rate_limit_exceeded" || strings.Contains(msg.Error.Message, "429") {
		return CodeRateLimited, "Too many requests. Please wait a moment.", true
	}
	return "", "", false
}
