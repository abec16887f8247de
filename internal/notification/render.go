package notification

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/protocol"
)

const pushIcon = "/logo192.png"

// Channel identifies a notification channel.
type Channel string

const (
	ChannelPush   Channel = "push"
	ChannelSpeech Channel = "speech"
)

// ParseChannel accepts "push" or "speech".
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelPush:
		return ChannelPush, nil
	case ChannelSpeech:
		return ChannelSpeech, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// TemplateData provides fields for rendering titles and messages.
type TemplateData struct {
	Location string
	Name     string
	AQI      int
	Label    string
	Advice   string
	// Icon is the band emoji plus a trailing space on rich channels, and
	// empty for speech.
	Icon string
}

// Message is an alert rendered for every channel from one template.
type Message struct {
	Location string                 `json:"location"`
	Name     string                 `json:"name"`
	AQI      int                    `json:"aqi"`
	Band     aqi.Band               `json:"band"`
	Label    string                 `json:"label"`
	Advice   string                 `json:"advice"`
	Language string                 `json:"language"`
	Push     protocol.PushPayload   `json:"push"`
	Speech   protocol.SpeechPayload `json:"speech"`
}

// Renderer turns classified readings into channel payloads.
type Renderer struct {
	catalog *Catalog
}

// NewRenderer creates a renderer bound to an immutable catalog.
func NewRenderer(catalog *Catalog) *Renderer {
	return &Renderer{catalog: catalog}
}

// Catalog returns the catalog the renderer was built with.
func (r *Renderer) Catalog() *Catalog { return r.catalog }

// Render builds the push and speech payloads for cr in the given language.
func (r *Renderer) Render(cr aqi.ClassifiedReading, code string) (*Message, error) {
	lang, err := r.catalog.lookup(code)
	if err != nil {
		return nil, err
	}
	if code == "" {
		code = r.catalog.defaultLang
	}

	data := TemplateData{
		Location: cr.Location,
		Name:     aqi.DisplayName(cr.Location),
		AQI:      cr.AQI,
		Label:    lang.Labels[cr.Band.String()],
		Advice:   lang.Advice[cr.Band.String()],
	}

	title, err := execute(lang.title, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render title: %w", err)
	}

	rich := data
	rich.Icon = cr.Band.Icon() + " "
	body, err := execute(lang.message, rich)
	if err != nil {
		return nil, fmt.Errorf("failed to render push body: %w", err)
	}

	utterance, err := execute(lang.message, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render utterance: %w", err)
	}

	return &Message{
		Location: cr.Location,
		Name:     data.Name,
		AQI:      cr.AQI,
		Band:     cr.Band,
		Label:    data.Label,
		Advice:   data.Advice,
		Language: code,
		Push: protocol.PushPayload{
			Title:              title,
			Body:               body,
			Tag:                "aqi-" + cr.Location,
			Icon:               pushIcon,
			RequireInteraction: true,
		},
		Speech: protocol.SpeechPayload{
			UtteranceText: stripSymbols(utterance),
			LanguageTag:   lang.SpeechTag,
		},
	}, nil
}

func execute(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// pictographs are the emoji and dingbat ranges speech engines would read
// out by name. Other symbols such as the degree sign are kept.
var pictographs = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200d, Hi: 0x200d, Stride: 1}, // zero width joiner
		{Lo: 0x20e3, Hi: 0x20e3, Stride: 1}, // combining keycap
		{Lo: 0x2300, Hi: 0x23ff, Stride: 1},
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1},
		{Lo: 0x2b00, Hi: 0x2bff, Stride: 1},
		{Lo: 0xfe00, Hi: 0xfe0f, Stride: 1}, // variation selectors
	},
	R32: []unicode.Range32{
		{Lo: 0x1f000, Hi: 0x1faff, Stride: 1},
		{Lo: 0xe0020, Hi: 0xe007f, Stride: 1}, // flag tag sequences
	},
}

// stripSymbols drops emoji so speech engines do not read them out, then
// collapses the whitespace they leave behind.
func stripSymbols(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.Is(pictographs, r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(cleaned), " ")
}
