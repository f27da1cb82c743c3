// Package mail renders and dispatches alert emails.
package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/skycast/skycast/internal/models"
)

//go:embed templates/alert.html
var templateFS embed.FS

// Renderer builds a complete HTML document from a weather snapshot and an
// optional trigger list. Pure: no I/O at render time, and deterministic
// for a fixed clock (the clock only feeds the footer copyright year).
type Renderer struct {
	tmpl    *template.Template
	baseURL string
	now     func() time.Time
}

// templateData is the struct passed into the template.
type templateData struct {
	Subject     string
	City        string
	Country     string
	Temperature string
	FeelsLike   string
	Humidity    int
	WindSpeed   string
	Condition   string
	Description string
	Triggers    []string
	BaseURL     string
	Year        int
}

// NewRenderer parses the embedded template. baseURL feeds the footer link;
// now supplies the clock (nil means time.Now).
func NewRenderer(baseURL string, now func() time.Time) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, fmt.Errorf("mail: parse alert template: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Renderer{tmpl: tmpl, baseURL: baseURL, now: now}, nil
}

// Subject builds the email subject line for a snapshot and trigger list.
func (r *Renderer) Subject(snap models.WeatherSnapshot, triggers []string) string {
	if len(triggers) > 0 {
		return fmt.Sprintf("Weather Alert for %s", snap.City)
	}
	return fmt.Sprintf("Weather Update for %s", snap.City)
}

// Render produces the full HTML body.
func (r *Renderer) Render(snap models.WeatherSnapshot, triggers []string) (string, error) {
	data := templateData{
		Subject:     r.Subject(snap, triggers),
		City:        snap.City,
		Country:     snap.Country,
		Temperature: fmt.Sprintf("%.1f°C", snap.Temperature),
		FeelsLike:   fmt.Sprintf("%.1f°C", snap.FeelsLike),
		Humidity:    snap.Humidity,
		WindSpeed:   fmt.Sprintf("%.1f m/s", snap.WindSpeed),
		Condition:   snap.Condition,
		Description: snap.Description,
		Triggers:    triggers,
		BaseURL:     r.baseURL,
		Year:        r.now().Year(),
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("mail: render alert email: %w", err)
	}
	return buf.String(), nil
}
