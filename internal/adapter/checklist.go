package adapter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"racesync/internal/model"
	"racesync/internal/timestamp"
)

// DefaultCheckLead is how long before the start the card check is assumed
// to happen when the checklist does not say otherwise.
const DefaultCheckLead = 2 * time.Minute

const (
	logLateStart = "Late start"
	logDNS       = "DNS"
	logNewCard   = "NewCard"
)

// ChangeSet is one document uploaded by the checklist app.
type ChangeSet struct {
	Version string            `yaml:"Version"`
	Creator string            `yaml:"Creator"`
	Created string            `yaml:"Created"`
	Event   string            `yaml:"Event,omitempty"`
	Data    []ChecklistChange `yaml:"Data"`
}

type ChecklistChange struct {
	Runner    ChecklistRunner   `yaml:"Runner"`
	ChangeLog map[string]string `yaml:"ChangeLog,omitempty"`
}

type ChecklistRunner struct {
	ID          string `yaml:"Id"`
	StartStatus string `yaml:"StartStatus"`
	Card        int64  `yaml:"Card"`
	NewCard     int64  `yaml:"NewCard,omitempty"`
	ClassName   string `yaml:"ClassName,omitempty"`
	Name        string `yaml:"Name"`
	StartTime   string `yaml:"StartTime,omitempty"`
	Comment     string `yaml:"Comment,omitempty"`
}

func ParseChecklist(data []byte) (*ChangeSet, error) {
	var cs ChangeSet
	if err := yaml.Unmarshal(data, &cs); err != nil {
		return nil, &model.ParseError{What: "checklist change set", Err: err}
	}
	return &cs, nil
}

// CreatedAt resolves the Created header against ref, the zero Timestamp if
// it is missing or unreadable.
func (cs *ChangeSet) CreatedAt(ref timestamp.Timestamp) timestamp.Timestamp {
	ts, err := timestamp.ParseWithReference(strings.TrimSpace(cs.Created), ref)
	if err != nil {
		return timestamp.Timestamp{}
	}
	return ts
}

type ChecklistOptions struct {
	// Reference resolves bare times of day and offset-less instants.
	Reference timestamp.Timestamp
	// CheckLead is subtracted from the start time to estimate the check time.
	CheckLead time.Duration
}

// FromChecklist translates one checklist entry into a run change proposal.
func FromChecklist(ch ChecklistChange, opts ChecklistOptions, log *zerolog.Logger) (model.RunChange, error) {
	if opts.CheckLead <= 0 {
		opts.CheckLead = DefaultCheckLead
	}
	runID, err := strconv.ParseInt(strings.TrimSpace(ch.Runner.ID), 10, 64)
	if err != nil || runID <= 0 {
		return model.RunChange{}, &model.TranslationError{
			Source: model.SourceChecklist,
			Err:    fmt.Errorf("runner id %q is not a positive number", ch.Runner.ID),
		}
	}
	change := model.RunChange{RunID: runID, Status: model.StatusPending.Ptr()}

	if st := strings.TrimSpace(ch.Runner.StartTime); st != "" {
		start, err := timestamp.ParseWithReference(st, opts.Reference)
		if err != nil {
			log.Warn().Err(err).Int64("run_id", runID).Str("start_time", st).Msg("checklist start time ignored")
		} else {
			change.CheckTime = model.Set(start.Add(-opts.CheckLead))
		}
	}

	if ch.Runner.NewCard > 0 {
		change.SIID = model.Set(ch.Runner.NewCard)
	}
	if _, ok := ch.ChangeLog[logNewCard]; ok && ch.Runner.Card > 0 && !change.SIID.Valid {
		change.SIID = model.Set(ch.Runner.Card)
	}

	if text, ok := ch.ChangeLog[logLateStart]; ok {
		late, err := timestamp.ParseWithReference(strings.TrimSpace(text), opts.Reference)
		if err != nil {
			log.Warn().Err(err).Int64("run_id", runID).Str("late_start", text).Msg("checklist late start ignored")
		} else {
			change.CheckTime = model.Set(late)
		}
	}
	if _, ok := ch.ChangeLog[logDNS]; ok {
		change.CheckTime = model.Field[timestamp.Timestamp]{}
	}
	return change, nil
}
