package adapter

import (
	"errors"
	"strings"

	"racesync/internal/model"
)

// TimingPush is a run change reported by the timing software. Those are
// facts, so any status carried along is dropped.
type TimingPush struct {
	model.RunChange
	Source string `json:"source,omitempty" validate:"omitempty,source"`
}

var errRunID = errors.New("run_id must be positive")

func FromTiming(push TimingPush) (model.RunChange, string, error) {
	source := strings.TrimSpace(push.Source)
	if source == "" {
		source = model.SourceTiming
	}
	if push.RunID <= 0 {
		return model.RunChange{}, source, &model.TranslationError{Source: source, Err: errRunID}
	}
	change := push.RunChange
	change.Status = nil
	return change, source, nil
}

// FromBrowser tags a browser edit as a proposal awaiting confirmation.
func FromBrowser(change model.RunChange) (model.RunChange, error) {
	if change.RunID <= 0 {
		return model.RunChange{}, &model.TranslationError{Source: model.SourceBrowser, Err: errRunID}
	}
	change.DropRecord = false
	change.Status = model.StatusPending.Ptr()
	return change, nil
}
