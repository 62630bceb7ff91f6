package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lead_waterfall_backend/platform/config"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ttsTokenTTL       = 10 * time.Minute
	ttsMaxTextRunes   = 600
	elevenLabsBaseURL = "https://api.elevenlabs.io"
	elevenLabsModel   = "eleven_multilingual_v2"
	maxAudioBytes     = 8 << 20
)

type ttsClaims struct {
	Text string `json:"txt"`
	jwt.RegisteredClaims
}

// TTSSigner issues short-lived URLs for prompt audio so the proxy only
// speaks text this server produced.
type TTSSigner struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

func NewTTSSigner(secret, publicBaseURL string) *TTSSigner {
	return &TTSSigner{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}
}

// URL returns the absolute audio URL for text.
func (s *TTSSigner) URL(text string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ttsClaims{
		Text: text,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttsTokenTTL)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign tts token: %w", err)
	}
	return s.baseURL + "/voice/tts?token=" + url.QueryEscape(signed), nil
}

// Parse validates a token and returns the text it carries.
func (s *TTSSigner) Parse(tokenString string) (string, error) {
	claims := &ttsClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid tts token")
	}
	text := strings.TrimSpace(claims.Text)
	if text == "" {
		return "", errors.New("empty tts text")
	}
	if len([]rune(text)) > ttsMaxTextRunes {
		return "", errors.New("tts text too long")
	}
	return text, nil
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ElevenLabsClient calls the ElevenLabs text-to-speech API.
type ElevenLabsClient struct {
	apiKey   string
	voiceID  string
	endpoint string
	client   *http.Client
}

func NewElevenLabsClient(cfg config.TTSConfig) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:   cfg.GetElevenAPIKey(),
		voiceID:  cfg.GetElevenVoiceID(),
		endpoint: elevenLabsBaseURL,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: elevenLabsModel,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.8,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := c.endpoint + "/v1/text-to-speech/" + url.PathEscape(c.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
}
