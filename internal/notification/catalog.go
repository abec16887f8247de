package notification

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/smukkama/aqi-alerts/internal/aqi"
)

// ErrUnsupportedLanguage is returned for a language the catalog does not hold.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language is the translation table for one language.
type Language struct {
	// SpeechTag is the BCP 47 tag handed to the speech sink.
	SpeechTag string `yaml:"speech_tag"`
	// Title and Message are text/template sources rendered with TemplateData.
	Title   string `yaml:"title"`
	Message string `yaml:"message"`
	// Labels and Advice are keyed by band name (see aqi.Band.String).
	Labels map[string]string `yaml:"labels"`
	Advice map[string]string `yaml:"advice"`
	// ComparisonFallback replaces advisory text when the advisory service fails.
	ComparisonFallback string `yaml:"comparison_fallback"`
}

type catalogFile struct {
	Languages map[string]Language `yaml:"languages"`
}

type compiledLanguage struct {
	Language
	title   *template.Template
	message *template.Template
}

// Catalog is an immutable set of translation tables. Build it once and pass
// it to the Renderer; it is safe for concurrent use.
type Catalog struct {
	languages   map[string]*compiledLanguage
	defaultLang string
}

// DefaultLanguages returns the built-in az and en tables.
func DefaultLanguages() map[string]Language {
	return map[string]Language{
		"az": {
			SpeechTag: "tr-TR",
			Title:     "⚠️ DİQQƏT! {{.Name}}",
			Message:   "{{.Icon}}Bu gün {{.Name}} ərazisində hava keyfiyyəti göstəricisi {{.AQI}} səviyyəsindədir. {{.Label}}. {{.Advice}}",
			Labels: map[string]string{
				"good":                "Yaxşı",
				"moderate":            "Orta",
				"unhealthy_sensitive": "Həssaslar üçün pis",
				"unhealthy":           "Pis",
				"very_unhealthy":      "Çox pis",
				"hazardous":           "Təhlükəli",
			},
			Advice: map[string]string{
				"good":                "Hava təmizdir. Çöldə vaxt keçirə bilərsiniz.",
				"moderate":            "Ümumi əhali üçün problem yoxdur. Həssas insanlar ehtiyatlı olsun.",
				"unhealthy_sensitive": "Astmalılar və uşaqlar ehtiyatlı olsun. Uzun müddət çöldə qalmaq tövsiyə olunmur.",
				"unhealthy":           "Pis hava keyfiyyəti! Çöldə uzun müddət qalmayın.",
				"very_unhealthy":      "Xəbərdarlıq! Hava çirklənməsi yüksəkdir. Evdə qalın və maska taxın.",
				"hazardous":           "Ciddi sağlamlıq riski! Evdə qalın, pəncərələri bağlı saxlayın və çöldə maska taxın.",
			},
			ComparisonFallback: "⚠️ Texniki problem. Zəhmət olmasa yenidən cəhd edin.",
		},
		"en": {
			SpeechTag: "en-US",
			Title:     "⚠️ WARNING! {{.Name}}",
			Message:   "{{.Icon}}Today in {{.Name}}, the air quality index is {{.AQI}}. {{.Label}}. {{.Advice}}",
			Labels: map[string]string{
				"good":                "Good",
				"moderate":            "Moderate",
				"unhealthy_sensitive": "Unhealthy for Sensitive",
				"unhealthy":           "Unhealthy",
				"very_unhealthy":      "Very Unhealthy",
				"hazardous":           "Hazardous",
			},
			Advice: map[string]string{
				"good":                "Air is clean. Safe for outdoor activities.",
				"moderate":            "Generally safe. Sensitive individuals should be cautious.",
				"unhealthy_sensitive": "People with asthma and children should limit prolonged outdoor exposure.",
				"unhealthy":           "Poor air quality! Avoid prolonged outdoor activities.",
				"very_unhealthy":      "Warning! High air pollution. Stay indoors and wear a mask.",
				"hazardous":           "Serious health risk! Stay indoors, keep windows closed and wear a mask outside.",
			},
			ComparisonFallback: "⚠️ Technical issue. Please try again.",
		},
	}
}

// NewCatalog compiles the given tables. Every language in supported must be
// present and complete; defaultLang must be one of them.
func NewCatalog(languages map[string]Language, supported []string, defaultLang string) (*Catalog, error) {
	if len(supported) == 0 {
		return nil, fmt.Errorf("catalog: no supported languages")
	}

	c := &Catalog{
		languages:   make(map[string]*compiledLanguage, len(supported)),
		defaultLang: defaultLang,
	}

	for _, code := range supported {
		lang, ok := languages[code]
		if !ok {
			return nil, fmt.Errorf("catalog: %w: %q has no translation table", ErrUnsupportedLanguage, code)
		}
		compiled, err := compile(code, lang)
		if err != nil {
			return nil, err
		}
		c.languages[code] = compiled
	}

	if _, ok := c.languages[defaultLang]; !ok {
		return nil, fmt.Errorf("catalog: default language %q is not supported", defaultLang)
	}

	return c, nil
}

// LoadCatalog builds a catalog from the built-in tables, overridden field by
// field by the YAML file at path when path is non-empty.
func LoadCatalog(path string, supported []string, defaultLang string) (*Catalog, error) {
	languages := DefaultLanguages()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read messages file: %w", err)
		}

		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse messages file: %w", err)
		}

		for code, override := range file.Languages {
			languages[code] = merge(languages[code], override)
		}
	}

	return NewCatalog(languages, supported, defaultLang)
}

func merge(base, override Language) Language {
	out := base
	if override.SpeechTag != "" {
		out.SpeechTag = override.SpeechTag
	}
	if override.Title != "" {
		out.Title = override.Title
	}
	if override.Message != "" {
		out.Message = override.Message
	}
	if override.ComparisonFallback != "" {
		out.ComparisonFallback = override.ComparisonFallback
	}
	out.Labels = mergeMap(base.Labels, override.Labels)
	out.Advice = mergeMap(base.Advice, override.Advice)
	return out
}

func mergeMap(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func compile(code string, lang Language) (*compiledLanguage, error) {
	if lang.SpeechTag == "" {
		return nil, fmt.Errorf("catalog: %s: speech_tag is required", code)
	}
	if lang.ComparisonFallback == "" {
		return nil, fmt.Errorf("catalog: %s: comparison_fallback is required", code)
	}
	for _, band := range aqi.Bands() {
		if lang.Labels[band.String()] == "" {
			return nil, fmt.Errorf("catalog: %s: missing label for %s", code, band)
		}
		if lang.Advice[band.String()] == "" {
			return nil, fmt.Errorf("catalog: %s: missing advice for %s", code, band)
		}
	}

	title, err := template.New(code + "-title").Option("missingkey=error").Parse(lang.Title)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: invalid title template: %w", code, err)
	}
	message, err := template.New(code + "-message").Option("missingkey=error").Parse(lang.Message)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: invalid message template: %w", code, err)
	}

	return &compiledLanguage{Language: lang, title: title, message: message}, nil
}

func (c *Catalog) lookup(code string) (*compiledLanguage, error) {
	if code == "" {
		code = c.defaultLang
	}
	lang, ok := c.languages[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	return lang, nil
}

// Supports reports whether code is in the catalog.
func (c *Catalog) Supports(code string) bool {
	_, ok := c.languages[code]
	return ok
}

// Languages lists the supported language codes in sorted order.
func (c *Catalog) Languages() []string {
	codes := make([]string, 0, len(c.languages))
	for code := range c.languages {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// DefaultLanguage is used when a caller passes an empty language.
func (c *Catalog) DefaultLanguage() string { return c.defaultLang }

// Label returns the localized label of band.
func (c *Catalog) Label(band aqi.Band, code string) (string, error) {
	lang, err := c.lookup(code)
	if err != nil {
		return "", err
	}
	return lang.Labels[band.String()], nil
}

// Advice returns the localized advisory sentence of band.
func (c *Catalog) Advice(band aqi.Band, code string) (string, error) {
	lang, err := c.lookup(code)
	if err != nil {
		return "", err
	}
	return lang.Advice[band.String()], nil
}

// ComparisonFallback returns the advisory text used when the advisory
// service cannot answer.
func (c *Catalog) ComparisonFallback(code string) string {
	lang, err := c.lookup(code)
	if err != nil {
		lang = c.languages[c.defaultLang]
	}
	return lang.ComparisonFallback
}
