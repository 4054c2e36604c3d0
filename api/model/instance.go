package model

import "time"

// MaxStatusHistory is how many probe results an instance keeps.
const MaxStatusHistory = 10

type StatusEntry struct {
	Color      string    `json:"color"`
	Status     string    `json:"status"`
	StatusCode int       `json:"statusCode"`
	StatusText string    `json:"statusText"`
	Date       time.Time `json:"date"`
	Timestamp  int64     `json:"timestamp"` // unix millis
}

// Instance is a monitored URL.
type Instance struct {
	ID            string        `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	URL           string        `json:"url" db:"url"`
	Interval      int           `json:"interval" db:"interval_seconds"` // seconds
	Status        string        `json:"status" db:"status"`
	StatusHistory []StatusEntry `json:"statusHistory" db:"status_history"`
	Color         string        `json:"color" db:"color"`
	StatusCode    int           `json:"statusCode" db:"status_code"`
	StatusText    string        `json:"statusText" db:"status_text"`
	Date          *time.Time    `json:"date,omitempty" db:"checked_at"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
}

type InstanceInput struct {
	Name     string `json:"name" validate:"required,max=128"`
	URL      string `json:"url" validate:"required,http_url"`
	Interval int    `json:"interval" validate:"omitempty,min=5,max=86400"`
}

// AppendStatus returns history with e appended, keeping only the newest
// MaxStatusHistory entries.
func AppendStatus(history []StatusEntry, e StatusEntry) []StatusEntry {
	out := make([]StatusEntry, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, e)
	if len(out) > MaxStatusHistory {
		out = out[len(out)-MaxStatusHistory:]
	}
	return out
}

// Record applies a probe result to the instance.
func (i *Instance) Record(e StatusEntry) {
	i.Status = e.Status
	i.Color = e.Color
	i.StatusCode = e.StatusCode
	i.StatusText = e.StatusText
	d := e.Date
	i.Date = &d
	i.StatusHistory = AppendStatus(i.StatusHistory, e)
}
