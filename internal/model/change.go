package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"racesync/internal/timestamp"
)

// Field is one optional member of a RunChange. The zero Field is absent,
// meaning "leave as is"; a Field with Null set clears the stored value.
type Field[T any] struct {
	Value T
	Valid bool
	Null  bool
}

func Set[T any](v T) Field[T] {
	return Field[T]{Value: v, Valid: true}
}

func Clear[T any]() Field[T] {
	return Field[T]{Valid: true, Null: true}
}

func (f Field[T]) IsZero() bool { return !f.Valid }

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.Null || !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// UnmarshalJSON is only invoked for keys present in the document,
// so reaching it always marks the field as set.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Valid = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		var zero T
		f.Value = zero
		f.Null = true
		return nil
	}
	f.Null = false
	return json.Unmarshal(b, &f.Value)
}

// RunChange is the partial update every change source is translated into.
type RunChange struct {
	RunID        int64                      `json:"run_id" validate:"positive"`
	DropRecord   bool                       `json:"drop_record,omitempty"`
	ClassName    Field[string]              `json:"class_name,omitzero"`
	Registration Field[string]              `json:"registration,omitzero"`
	FirstName    Field[string]              `json:"first_name,omitzero"`
	LastName     Field[string]              `json:"last_name,omitzero"`
	SIID         Field[int64]               `json:"si_id,omitzero"`
	StartTime    Field[timestamp.Timestamp] `json:"start_time,omitzero"`
	CheckTime    Field[timestamp.Timestamp] `json:"check_time,omitzero"`
	FinishTime   Field[timestamp.Timestamp] `json:"finish_time,omitzero"`
	Status       *ChangeStatus              `json:"status,omitempty"`
}

// ChangedFields lists the run columns this change touches, in column order.
func (c RunChange) ChangedFields() []string {
	var ret []string
	if c.ClassName.Valid {
		ret = append(ret, "class_name")
	}
	if c.Registration.Valid {
		ret = append(ret, "registration")
	}
	if c.FirstName.Valid {
		ret = append(ret, "first_name")
	}
	if c.LastName.Valid {
		ret = append(ret, "last_name")
	}
	if c.SIID.Valid {
		ret = append(ret, "si_id")
	}
	if c.StartTime.Valid {
		ret = append(ret, "start_time")
	}
	if c.CheckTime.Valid {
		ret = append(ret, "check_time")
	}
	if c.FinishTime.Valid {
		ret = append(ret, "finish_time")
	}
	return ret
}

// ColumnValue returns the value stored into the runs column named by one of
// ChangedFields. Cleared text columns become empty, cleared instants NULL.
func (c RunChange) ColumnValue(column string) any {
	switch column {
	case "class_name":
		return c.ClassName.Value
	case "registration":
		return c.Registration.Value
	case "first_name":
		return c.FirstName.Value
	case "last_name":
		return c.LastName.Value
	case "si_id":
		return c.SIID.Value
	case "start_time":
		return instantColumn(c.StartTime)
	case "check_time":
		return instantColumn(c.CheckTime)
	case "finish_time":
		return instantColumn(c.FinishTime)
	}
	return nil
}

func instantColumn(f Field[timestamp.Timestamp]) any {
	if f.Null || !f.Valid {
		return nil
	}
	return f.Value
}

func instantValue(f Field[timestamp.Timestamp]) *timestamp.Timestamp {
	if f.Null || !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// NewRun builds the record inserted when the change targets an unknown run.
func (c RunChange) NewRun() Run {
	return Run{
		RunID:        c.RunID,
		ClassName:    c.ClassName.Value,
		FirstName:    c.FirstName.Value,
		LastName:     c.LastName.Value,
		Registration: c.Registration.Value,
		SIID:         c.SIID.Value,
		StartTime:    instantValue(c.StartTime),
		CheckTime:    instantValue(c.CheckTime),
		FinishTime:   instantValue(c.FinishTime),
	}
}

// Value stores the change as a JSON document.
func (c RunChange) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *RunChange) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), c)
	case []byte:
		return json.Unmarshal(v, c)
	case nil:
		*c = RunChange{}
		return nil
	}
	return fmt.Errorf("run change: unsupported scan type %T", src)
}

type ChangeStatus int

const (
	StatusPending ChangeStatus = iota + 1
	StatusAccepted
	StatusRejected
)

var changeStatusNames = map[ChangeStatus]string{
	StatusPending:  "Pending",
	StatusAccepted: "Accepted",
	StatusRejected: "Rejected",
}

func ParseChangeStatus(s string) (ChangeStatus, error) {
	for st, name := range changeStatusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown change status %q", s)
}

func (s ChangeStatus) String() string {
	if name, ok := changeStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ChangeStatus(%d)", int(s))
}

func (s ChangeStatus) Ptr() *ChangeStatus { return &s }

func (s ChangeStatus) MarshalText() ([]byte, error) {
	if _, ok := changeStatusNames[s]; !ok {
		return nil, fmt.Errorf("invalid change status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *ChangeStatus) UnmarshalText(b []byte) error {
	st, err := ParseChangeStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s ChangeStatus) Value() (driver.Value, error) {
	b, err := s.MarshalText()
	return string(b), err
}

func (s *ChangeStatus) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	}
	return fmt.Errorf("change status: unsupported scan type %T", src)
}

// DataType tells a proposal from a fact.
type DataType int

const (
	DataRunUpdateRequest DataType = iota + 1
	DataRunUpdated
)

var dataTypeNames = map[DataType]string{
	DataRunUpdateRequest: "RunUpdateRequest",
	DataRunUpdated:       "RunUpdated",
}

func ParseDataType(s string) (DataType, error) {
	for dt, name := range dataTypeNames {
		if name == s {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

func (d DataType) MarshalText() ([]byte, error) {
	if _, ok := dataTypeNames[d]; !ok {
		return nil, fmt.Errorf("invalid data type %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *DataType) UnmarshalText(b []byte) error {
	dt, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*d = dt
	return nil
}

func (d DataType) Value() (driver.Value, error) {
	b, err := d.MarshalText()
	return string(b), err
}

func (d *DataType) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	}
	return fmt.Errorf("data type: unsupported scan type %T", src)
}

const (
	SourceChecklist = "oc"
	SourceTiming    = "qe"
	SourceBrowser   = "www"
)

// JournalEntry is one row of the per-event change journal.
type JournalEntry struct {
	bun.BaseModel `bun:"table:changes,alias:ch"`

	ID       int64               `bun:"id,pk,autoincrement" json:"id"`
	Source   string              `bun:"source,notnull" json:"source"`
	DataType DataType            `bun:"data_type,notnull" json:"data_type"`
	Change   RunChange           `bun:"data,notnull" json:"change"`
	RunID    int64               `bun:"run_id,notnull" json:"run_id"`
	UserID   *string             `bun:"user_id" json:"user_id,omitempty"`
	Status   *ChangeStatus       `bun:"status" json:"status,omitempty"`
	Created  timestamp.Timestamp `bun:"created,notnull" json:"created"`
}
