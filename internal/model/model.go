package model

import (
	"github.com/uptrace/bun"

	"racesync/internal/timestamp"
)

type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID          int64                `bun:"id,pk,autoincrement" json:"id"`
	Name        string               `bun:"name,notnull" json:"name"`
	Place       string               `bun:"place,notnull" json:"place"`
	Description string               `bun:"description,notnull" json:"description,omitempty"`
	StartTime   *timestamp.Timestamp `bun:"start_time" json:"start_time,omitempty"`
	Owner       string               `bun:"owner,notnull" json:"owner"`
	APIToken    string               `bun:"api_token,notnull,unique" json:"-"`
	Created     timestamp.Timestamp  `bun:"created,notnull" json:"created"`
}

type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID      string              `bun:"id,pk" json:"id"`
	Email   string              `bun:"email,notnull" json:"email"`
	Name    string              `bun:"name,notnull" json:"name"`
	Picture string              `bun:"picture,notnull" json:"picture,omitempty"`
	Created timestamp.Timestamp `bun:"created,notnull" json:"created"`
}

type Class struct {
	bun.BaseModel `bun:"table:classes,alias:c"`

	ID             int64                `bun:"id,pk,autoincrement" json:"id"`
	Name           string               `bun:"name,notnull,unique" json:"name"`
	Length         int64                `bun:"length,notnull" json:"length"`
	Climb          int64                `bun:"climb,notnull" json:"climb"`
	ControlCount   int64                `bun:"control_count,notnull" json:"control_count"`
	StartTime      *timestamp.Timestamp `bun:"start_time" json:"start_time,omitempty"`
	Interval       int64                `bun:"interval,notnull" json:"interval"`
	StartSlotCount int64                `bun:"start_slot_count,notnull" json:"start_slot_count"`
}

// Run ids come from the timing software and are never generated here.
type Run struct {
	bun.BaseModel `bun:"table:runs,alias:r"`

	RunID        int64                `bun:"run_id,pk" json:"run_id" validate:"positive"`
	ClassName    string               `bun:"class_name,notnull" json:"class_name"`
	FirstName    string               `bun:"first_name,notnull" json:"first_name"`
	LastName     string               `bun:"last_name,notnull" json:"last_name"`
	Registration string               `bun:"registration,notnull" json:"registration"`
	SIID         int64                `bun:"si_id,notnull" json:"si_id"`
	StartTime    *timestamp.Timestamp `bun:"start_time" json:"start_time,omitempty"`
	CheckTime    *timestamp.Timestamp `bun:"check_time" json:"check_time,omitempty"`
	FinishTime   *timestamp.Timestamp `bun:"finish_time" json:"finish_time,omitempty"`
	EditedBy     string               `bun:"edited_by,notnull" json:"edited_by,omitempty"`
}

// EventInfo is the per-event copy of the event header kept next to the runs,
// so a start-list import can update start00 in the same transaction.
type EventInfo struct {
	bun.BaseModel `bun:"table:event_info,alias:ei"`

	ID        int64                `bun:"id,pk"`
	StartTime *timestamp.Timestamp `bun:"start_time"`
}

type ChecklistChangeSet struct {
	bun.BaseModel `bun:"table:checklist_change_sets,alias:ocs"`

	ID        int64               `bun:"id,pk,autoincrement" json:"id"`
	ChangeSet string              `bun:"change_set,notnull" json:"change_set"`
	Created   timestamp.Timestamp `bun:"created,notnull" json:"created"`
}

type File struct {
	bun.BaseModel `bun:"table:files,alias:f"`

	ID      int64               `bun:"id,pk,autoincrement" json:"id"`
	Name    string              `bun:"name,notnull,unique" json:"name"`
	Data    []byte              `bun:"data,notnull" json:"-"`
	Size    int64               `bun:"size,scanonly" json:"size"`
	Created timestamp.Timestamp `bun:"created,notnull" json:"created"`
}
