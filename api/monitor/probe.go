// Package monitor probes monitored instance URLs on a schedule and records
// the results.
package monitor

import (
	"context"
	"net/http"
	"time"

	"ferry/api/model"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ColorOK          = "#4ff554"
	ColorRedirect    = "#21b4fa"
	ColorClientError = "#fa9921"
	ColorServerError = "#fa4521"
	ColorUnreachable = "red"

	ProbeTimeout = 5 * time.Second
)

// Classify maps an HTTP status code to a status and a display color.
func Classify(code int) (status, color string) {
	switch {
	case code >= 200 && code < 300:
		return StatusOnline, ColorOK
	case code >= 300 && code < 400:
		return StatusOffline, ColorRedirect
	case code >= 400 && code < 500:
		return StatusOffline, ColorClientError
	case code >= 500 && code < 600:
		return StatusOffline, ColorServerError
	}
	return StatusOffline, ColorUnreachable
}

// Prober issues one GET per probe. Redirects are followed and the final
// response is classified.
type Prober struct {
	Client *http.Client
	Now    func() time.Time
}

func NewProber() *Prober {
	return &Prober{
		Client: &http.Client{Timeout: ProbeTimeout},
		Now: time.Now,
	}
}

// Probe never fails: transport errors become an unreachable entry.
func (p *Prober) Probe(ctx context.Context, url string) model.StatusEntry {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	entry := func(code int, text string, date time.Time) model.StatusEntry {
		t := now()
		if date.IsZero() {
			date = t
		}
		status, color := Classify(code)
		return model.StatusEntry{
			Color:      color,
			Status:     status,
			StatusCode: code,
			StatusText: text,
			Date:       date,
			Timestamp:  t.UnixMilli(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return entry(0, err.Error(), time.Time{})
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return entry(0, err.Error(), time.Time{})
	}
	resp.Body.Close()
	// Date is the instance's own clock when it sends one.
	date, _ := http.ParseTime(resp.Header.Get("Date"))
	return entry(resp.StatusCode, http.StatusText(resp.StatusCode), date)
}
