// Package jobs holds the job records read from listing cards and the file of
// jobs excluded from future runs.
package jobs

import (
	"encoding/json"
	"os"
	"strings"
	"time"
)

// Job is one posting found on a board.
type Job struct {
	Board       string `json:"board"`
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	// Applied is set when the board already marks the card as applied.
	Applied bool `json:"applied,omitempty"`
	// EasyApply is set when the application runs inside the board page.
	EasyApply bool `json:"easyApply,omitempty"`
	// ApplyURL is the destination of an application that leaves the board.
	ApplyURL string `json:"applyUrl,omitempty"`
}

// Key identifies a job across boards.
func (j *Job) Key() string {
	return j.Board + ":" + j.ID
}

// Excluded is the content of an exclude file.
type Excluded struct {
	Items []*ExcludedJob
}

// ExcludedJob is one entry of an exclude file.
type ExcludedJob struct {
	Board      string
	ID         string
	URL        string
	Company    string
	ExcludedAt time.Time
}

// ToExcluded converts jobs into exclude entries stamped with at.
func ToExcluded(list []*Job, at time.Time) *Excluded {
	excluded := &Excluded{}
	for _, job := range list {
		excluded.Items = append(excluded.Items, &ExcludedJob{
			Board:      job.Board,
			ID:         job.ID,
			URL:        job.URL,
			Company:    job.Company,
			ExcludedAt: at.UTC(),
		})
	}
	return excluded
}

// LoadExcluded reads an exclude file. An empty file holds no entries.
func LoadExcluded(path string) (*Excluded, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() == 0 {
		return &Excluded{}, nil
	}

	var excluded Excluded
	if err := json.NewDecoder(file).Decode(&excluded); err != nil {
		return nil, err
	}
	return &excluded, nil
}

func (e *Excluded) Append(s *Excluded) {
	e.Items = append(e.Items, s.Items...)
}

// Contains reports whether the job is excluded. Entries without a board match
// any board.
func (e *Excluded) Contains(job *Job) bool {
	for _, item := range e.Items {
		if item.ID != job.ID {
			continue
		}
		if item.Board == "" || strings.EqualFold(item.Board, job.Board) {
			return true
		}
	}
	return false
}

func (e *Excluded) IDs() []string {
	ids := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

// ToFile writes the entries to path, replacing its content.
func (e *Excluded) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}
