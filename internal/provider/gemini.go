package provider

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"interview-realtime-gateway/internal/audio"
	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/observability/metrics"
	"interview-realtime-gateway/internal/transcript"
)

const (
	geminiModel  = "gemini-2.5-flash-preview-native-audio"
	geminiWSBase = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	geminiVoice  = "Puck"
)

// apiKeyPattern matches key query parameters so error text never leaks
// the credential into logs.
var apiKeyPattern = regexp.MustCompile(`(?i)key=[^&\s]+`)

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return apiKeyPattern.ReplaceAllString(err.Error(), "key=***")
}

// Gemini bridges a session to the Gemini Live API, translating between
// the canonical event shapes and Gemini's bidirectional protocol. Client
// audio arrives as 24kHz PCM and is resampled to the 16kHz Gemini
// expects.
type Gemini struct {
	*bridge
}

// NewGemini connects a session to Gemini. The returned handle is live
// immediately; connection setup continues in the background.
func NewGemini(apiKey, sessionID, instructions string, transcripts *transcript.Buffer, dir directory.Directory, cb Callbacks) (*Gemini, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, errors.New("gemini api key not configured")
	}

	b := &bridge{
		provider:    "gemini",
		sessionID:   sessionID,
		callbacks:   cb,
		log:         logging.WithProvider(sessionID, "gemini"),
		transcripts: transcripts,
		dir:         dir,
		metrics:     metrics.DefaultMetrics,
	}
	g := &Gemini{bridge: b}

	wsURL := geminiWSBase + "?key=" + url.QueryEscape(key)
	b.dial = func() (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		return conn, err
	}
	b.configure = func(write func(v interface{}) error) error {
		return write(geminiSetupFrame(instructions))
	}
	b.handleRaw = g.handleRaw

	b.start()
	return g, nil
}

func geminiSetupFrame(instructions string) map[string]interface{} {
	return map[string]interface{}{
		"setup": map[string]interface{}{
			"model": geminiModel,
			"systemInstruction": map[string]interface{}{
				"parts": []map[string]interface{}{{"text": instructions}},
			},
			"generationConfig": map[string]interface{}{
				"responseModalities": []string{"AUDIO"},
				"speechConfig": map[string]interface{}{
					"voiceConfig": map[string]interface{}{
						"prebuiltVoiceConfig": map[string]interface{}{
							"voiceName": geminiVoice,
						},
					},
				},
			},
		},
	}
}

func (g *Gemini) handleRaw(data []byte) {
	for _, frag := range extractGeminiFragments(g.sessionID, data, time.Now().UnixMilli()) {
		g.transcripts.Add(frag)
	}
	frames, parsed := canonicalGeminiFrames(data)
	if !parsed {
		// Not JSON we understand; pass through like any other frame.
		g.callbacks.OnMessage(data)
		return
	}
	for _, frame := range frames {
		g.callbacks.OnMessage(frame)
	}
}

// Send translates a client audio-plane frame into Gemini's protocol.
// Frames with no Gemini counterpart are dropped.
func (g *Gemini) Send(data []byte) {
	frame, ok := translateToGemini(data)
	if !ok {
		return
	}
	if err := g.writeRaw(frame); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			g.log.Error().Str("error", sanitizeError(err)).Msg("Send failed")
			g.callbacks.OnError(CodeProviderUnavailable, "")
		}
	}
}

// InjectTimeWarning primes the interviewer with a time reminder. Sent
// as a model turn so it cannot be mistaken for candidate speech.
func (g *Gemini) InjectTimeWarning(text string) {
	g.injectModelTurn("Naturally mention to the candidate: " + text + ". Say it conversationally as part of the interview flow.")
}

// InjectObserverInsight feeds code observations into the conversation.
func (g *Gemini) InjectObserverInsight(text string) {
	g.injectModelTurn(`Background context about the candidate's code (use naturally in conversation, don't announce it): ` + text)
}

func (g *Gemini) injectModelTurn(text string) {
	frame := map[string]interface{}{
		"clientContent": map[string]interface{}{
			"turns": []map[string]interface{}{
				{
					"role":  "model",
					"parts": []map[string]interface{}{{"text": text}},
				},
			},
			"turnComplete": true,
		},
	}
	if err := g.writeJSON(frame); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		g.log.Error().Str("error", sanitizeError(err)).Msg("Inject failed")
	}
}

// Gemini sends both camelCase and snake_case field names depending on
// the serving path; parsing accepts either.
type geminiTextPart struct {
	Text       string `json:"text"`
	InlineData *struct {
		Data string `json:"data"`
	} `json:"inlineData"`
	InlineDataSnake *struct {
		Data string `json:"data"`
	} `json:"inline_data"`
}

type geminiTurn struct {
	Parts []geminiTextPart `json:"parts"`
}

type geminiServerContent struct {
	ModelTurn         *geminiTurn `json:"modelTurn"`
	ModelTurnSnake    *geminiTurn `json:"model_turn"`
	InterpolatedTrans *struct {
		Transcript string `json:"transcript"`
	} `json:"interpolatedTranscript"`
	InterpolatedTransSnake *struct {
		Transcript string `json:"transcript"`
	} `json:"interpolated_transcript"`
}

type geminiServerMessage struct {
	ServerContent      *geminiServerContent `json:"serverContent"`
	ServerContentSnake *geminiServerContent `json:"server_content"`
	SetupComplete      json.RawMessage      `json:"setupComplete"`
	SetupCompleteSnake json.RawMessage      `json:"setup_complete"`
}

func (m *geminiServerMessage) content() *geminiServerContent {
	if m.ServerContent != nil {
		return m.ServerContent
	}
	return m.ServerContentSnake
}

func (c *geminiServerContent) turn() *geminiTurn {
	if c.ModelTurn != nil {
		return c.ModelTurn
	}
	return c.ModelTurnSnake
}

// extractGeminiFragments pulls transcript fragments out of a Gemini
// server frame. Gemini assigns no item ids, so fragments append rather
// than replace.
func extractGeminiFragments(sessionID string, data []byte, ts int64) []transcript.Fragment {
	var msg geminiServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}
	content := msg.content()
	if content == nil {
		return nil
	}

	var frags []transcript.Fragment
	interp := content.InterpolatedTrans
	if interp == nil {
		interp = content.InterpolatedTransSnake
	}
	if interp != nil && interp.Transcript != "" {
		frags = append(frags, transcript.Fragment{
			SessionID:   sessionID,
			Speaker:     transcript.SpeakerCandidate,
			Content:     interp.Transcript,
			TimestampMs: ts,
		})
	}

	if turn := content.turn(); turn != nil {
		for _, part := range turn.Parts {
			if part.Text == "" {
				continue
			}
			frags = append(frags, transcript.Fragment{
				SessionID:   sessionID,
				Speaker:     transcript.SpeakerInterviewer,
				Content:     part.Text,
				TimestampMs: ts,
			})
		}
	}
	return frags
}

// canonicalGeminiFrames translates a Gemini server frame into canonical
// client events: inline audio becomes response.output_audio.delta and
// setup completion becomes session.updated. parsed is false when the
// frame is not JSON.
func canonicalGeminiFrames(data []byte) (frames [][]byte, parsed bool) {
	var msg geminiServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false
	}

	if content := msg.content(); content != nil {
		if turn := content.turn(); turn != nil {
			for _, part := range turn.Parts {
				inline := part.InlineData
				if inline == nil {
					inline = part.InlineDataSnake
				}
				if inline == nil || inline.Data == "" {
					continue
				}
				frame, _ := json.Marshal(map[string]string{
					"type":  "response.output_audio.delta",
					"delta": inline.Data,
				})
				frames = append(frames, frame)
			}
		}
	}

	if len(msg.SetupComplete) > 0 || len(msg.SetupCompleteSnake) > 0 {
		frame, _ := json.Marshal(map[string]string{"type": "session.updated"})
		frames = append(frames, frame)
	}
	return frames, true
}

type clientAudioFrame struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// translateToGemini maps a canonical client frame onto Gemini's
// realtimeInput protocol. Audio is resampled from 24kHz to 16kHz.
func translateToGemini(data []byte) ([]byte, bool) {
	var msg clientAudioFrame
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false
	}

	switch msg.Type {
	case "input_audio_buffer.append":
		if msg.Audio == "" {
			return nil, false
		}
		raw, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return nil, false
		}
		resampled := audio.Resample24kTo16k(raw)
		frame, _ := json.Marshal(map[string]interface{}{
			"realtimeInput": map[string]interface{}{
				"mediaChunks": []map[string]string{
					{
						"mimeType": "audio/pcm;rate=16000",
						"data":     base64.StdEncoding.EncodeToString(resampled),
					},
				},
			},
		})
		return frame, true
	case "input_audio_buffer.commit":
		frame, _ := json.Marshal(map[string]interface{}{
			"realtimeInput": map[string]interface{}{
				"mediaChunks":  []map[string]string{},
				"turnComplete": true,
			},
		})
		return frame, true
	case "response.cancel":
		frame, _ := json.Marshal(map[string]interface{}{
			"realtimeInput": map[string]interface{}{"turnComplete": true},
		})
		return frame, true
	}
	return nil, false
}
