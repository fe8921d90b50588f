package adapter

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"racesync/internal/model"
	"racesync/internal/timestamp"
)

const changeSetYAML = `Version: 1.2.0
Creator: OCheckList
Created: 2025-03-05T08:30:12+01:00
Event: Spring cup
Data:
  - Runner:
      Id: "12"
      StartStatus: Started OK
      Card: 1234567
      ClassName: H21
      Name: Novak Jan
      StartTime: "10:20:00"
  - Runner:
      Id: "13"
      StartStatus: DNS
      Card: 2345678
      Name: Svoboda Petr
      StartTime: "10:22:00"
    ChangeLog:
      DNS: "08:31:00"
  - Runner:
      Id: "14"
      StartStatus: Late start
      Card: 3456789
      NewCard: 7654321
      Name: Dvorak Karel
      StartTime: 2025-03-05T10:24:00+01:00
      Comment: forgot the card
    ChangeLog:
      Late start: 2025-03-05T08:10:00+01:00
      NewCard: "7654321"
`

func ref(t *testing.T) timestamp.Timestamp {
	t.Helper()
	ts, err := timestamp.Parse("2025-03-05T10:00:00+01:00")
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestParseChecklist(t *testing.T) {
	cs, err := ParseChecklist([]byte(changeSetYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cs.Creator != "OCheckList" || cs.Event != "Spring cup" || len(cs.Data) != 3 {
		t.Fatalf("change set = %+v", cs)
	}
	if r := cs.Data[2].Runner; r.NewCard != 7654321 || r.Comment != "forgot the card" {
		t.Errorf("runner = %+v", r)
	}
	if got := cs.CreatedAt(timestamp.Timestamp{}); got.String() != "2025-03-05T08:30:12+01:00" {
		t.Errorf("created = %s", got)
	}

	var perr *model.ParseError
	if _, err := ParseChecklist([]byte("Data: [unterminated")); !errors.As(err, &perr) {
		t.Errorf("err = %v, want ParseError", err)
	}
}

// The two minute lead is a domain assumption about when the card check
// happens, not a measured value. These tests pin the configured behavior.
func TestFromChecklistAssumedCheckLead(t *testing.T) {
	log := zerolog.Nop()
	cs, _ := ParseChecklist([]byte(changeSetYAML))

	ch, err := FromChecklist(cs.Data[0], ChecklistOptions{Reference: ref(t)}, &log)
	if err != nil {
		t.Fatal(err)
	}
	if ch.RunID != 12 || ch.Status == nil || *ch.Status != model.StatusPending {
		t.Errorf("change = %+v", ch)
	}
	if !ch.CheckTime.Valid || ch.CheckTime.Value.String() != "2025-03-05T10:18:00+01:00" {
		t.Errorf("check time = %+v", ch.CheckTime)
	}
	if ch.StartTime.Valid || ch.SIID.Valid {
		t.Errorf("unexpected fields: %v", ch.ChangedFields())
	}

	ch, _ = FromChecklist(cs.Data[0], ChecklistOptions{Reference: ref(t), CheckLead: 5 * time.Minute}, &log)
	if ch.CheckTime.Value.String() != "2025-03-05T10:15:00+01:00" {
		t.Errorf("configured lead: check time = %s", ch.CheckTime.Value)
	}
}

func TestFromChecklistDNS(t *testing.T) {
	log := zerolog.Nop()
	cs, _ := ParseChecklist([]byte(changeSetYAML))
	ch, err := FromChecklist(cs.Data[1], ChecklistOptions{Reference: ref(t)}, &log)
	if err != nil {
		t.Fatal(err)
	}
	if ch.CheckTime.Valid {
		t.Errorf("DNS must leave check time absent, got %+v", ch.CheckTime)
	}
	b, _ := json.Marshal(ch)
	if string(b) != `{"run_id":13,"status":"Pending"}` {
		t.Errorf("json = %s", b)
	}
}

func TestFromChecklistLateStartAndNewCard(t *testing.T) {
	log := zerolog.Nop()
	cs, _ := ParseChecklist([]byte(changeSetYAML))
	ch, err := FromChecklist(cs.Data[2], ChecklistOptions{Reference: ref(t)}, &log)
	if err != nil {
		t.Fatal(err)
	}
	if ch.CheckTime.Value.String() != "2025-03-05T08:10:00+01:00" {
		t.Errorf("late start check time = %s", ch.CheckTime.Value)
	}
	if !ch.SIID.Valid || ch.SIID.Value != 7654321 {
		t.Errorf("si_id = %+v", ch.SIID)
	}
}

func TestFromChecklistNewCardLogUsesCard(t *testing.T) {
	log := zerolog.Nop()
	ch, err := FromChecklist(ChecklistChange{
		Runner:    ChecklistRunner{ID: "5", Card: 8800123},
		ChangeLog: map[string]string{"NewCard": "8800123"},
	}, ChecklistOptions{Reference: ref(t)}, &log)
	if err != nil {
		t.Fatal(err)
	}
	if !ch.SIID.Valid || ch.SIID.Value != 8800123 {
		t.Errorf("si_id = %+v", ch.SIID)
	}
}

func TestFromChecklistBadInput(t *testing.T) {
	log := zerolog.Nop()

	_, err := FromChecklist(ChecklistChange{Runner: ChecklistRunner{ID: "abc"}}, ChecklistOptions{}, &log)
	var terr *model.TranslationError
	if !errors.As(err, &terr) || terr.Source != model.SourceChecklist {
		t.Errorf("err = %v, want TranslationError", err)
	}

	ch, err := FromChecklist(ChecklistChange{
		Runner: ChecklistRunner{ID: "7", StartTime: "quarter past ten"},
	}, ChecklistOptions{Reference: ref(t)}, &log)
	if err != nil {
		t.Fatalf("malformed start time must not fail: %v", err)
	}
	if ch.RunID != 7 || len(ch.ChangedFields()) != 0 {
		t.Errorf("change = %+v", ch)
	}
}

func TestFromTiming(t *testing.T) {
	var push TimingPush
	body := `{"run_id":21,"source":"qe-radio","finish_time":"2025-03-05T11:02:03.450+01:00","check_time":null,"status":"Accepted"}`
	if err := json.Unmarshal([]byte(body), &push); err != nil {
		t.Fatal(err)
	}
	ch, source, err := FromTiming(push)
	if err != nil {
		t.Fatal(err)
	}
	if source != "qe-radio" {
		t.Errorf("source = %q", source)
	}
	if ch.Status != nil {
		t.Errorf("fact kept a status: %v", *ch.Status)
	}
	got := ch.ChangedFields()
	if len(got) != 2 || got[0] != "check_time" || got[1] != "finish_time" {
		t.Errorf("changed = %v", got)
	}
	if !ch.CheckTime.Null || ch.FinishTime.Value.String() != "2025-03-05T11:02:03.450+01:00" {
		t.Errorf("times = %+v %+v", ch.CheckTime, ch.FinishTime)
	}

	if _, source, _ := FromTiming(TimingPush{RunChange: model.RunChange{RunID: 1}}); source != model.SourceTiming {
		t.Errorf("default source = %q", source)
	}
	var terr *model.TranslationError
	if _, _, err := FromTiming(TimingPush{}); !errors.As(err, &terr) {
		t.Errorf("err = %v, want TranslationError", err)
	}
}

func TestFromBrowser(t *testing.T) {
	ch, err := FromBrowser(model.RunChange{RunID: 3, FirstName: model.Set("Jana")})
	if err != nil {
		t.Fatal(err)
	}
	if ch.Status == nil || *ch.Status != model.StatusPending {
		t.Errorf("status = %v", ch.Status)
	}
	var terr *model.TranslationError
	if _, err := FromBrowser(model.RunChange{}); !errors.As(err, &terr) {
		t.Errorf("err = %v, want TranslationError", err)
	}
}
