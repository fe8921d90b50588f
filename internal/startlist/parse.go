package startlist

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"

	"racesync/internal/model"
	"racesync/internal/timestamp"
)

const (
	DefaultRunIDType        = "QuickEvent"
	DefaultRegistrationType = "CZE"
)

type Options struct {
	// RunIDType names the Person/Id type carrying the run id.
	RunIDType string
	// RegistrationType names the Person/Id type carrying the registration.
	RegistrationType string
}

func (o Options) withDefaults() Options {
	if o.RunIDType == "" {
		o.RunIDType = DefaultRunIDType
	}
	if o.RegistrationType == "" {
		o.RegistrationType = DefaultRegistrationType
	}
	return o
}

// Anomaly is a registrant left out of the run set because the numbering
// authority id is missing or unusable.
type Anomaly struct {
	ClassName    string `json:"class_name"`
	Registration string `json:"registration"`
	Name         string `json:"name"`
	Reason       string `json:"reason"`
}

type StartList struct {
	EventName string
	Start00   *timestamp.Timestamp
	Classes   []model.Class
	Runs      []model.Run
	Anomalies []Anomaly
	Skipped   int
}

func (s *StartList) RunIDs() []int64 {
	ids := make([]int64, 0, len(s.Runs))
	for _, r := range s.Runs {
		ids = append(ids, r.RunID)
	}
	return ids
}

// Parse reads an IOF XML 3.0 start list.
func Parse(data []byte, opts Options, log *zerolog.Logger) (*StartList, error) {
	opts = opts.withDefaults()

	var doc iofStartList
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&doc); err != nil {
		return nil, &model.ParseError{What: "start list", Err: err}
	}

	out := &StartList{EventName: strings.TrimSpace(doc.Event.Name)}
	var offset *int
	seenClass := make(map[string]int)

	for _, cs := range doc.ClassStart {
		className := strings.TrimSpace(cs.Class.Name)
		idx, ok := seenClass[className]
		if !ok {
			out.Classes = append(out.Classes, model.Class{
				Name:         className,
				Length:       atoi(cs.Course.Length),
				Climb:        atoi(cs.Course.Climb),
				ControlCount: atoi(cs.Course.NumberOfControls),
			})
			idx = len(out.Classes) - 1
			seenClass[className] = idx
		}
		class := &out.Classes[idx]

		var starts []timestamp.Timestamp
		for _, ps := range cs.PersonStart {
			class.StartSlotCount++

			person := ps.Person
			registration, _ := person.id(opts.RegistrationType)
			registration = strings.TrimSpace(registration)
			fullName := strings.TrimSpace(person.Name.Given + " " + person.Name.Family)

			rawID, found := person.id(opts.RunIDType)
			runID, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
			if !found || err != nil || runID <= 0 {
				out.Skipped++
				reason := fmt.Sprintf("%s id not found", opts.RunIDType)
				if found {
					reason = fmt.Sprintf("%s id %q is not a number", opts.RunIDType, rawID)
				}
				if registration == "" {
					// vacant slot
					log.Debug().Str("class", className).Msg(reason + ", vacant start skipped")
					continue
				}
				out.Anomalies = append(out.Anomalies, Anomaly{
					ClassName:    className,
					Registration: registration,
					Name:         fullName,
					Reason:       reason,
				})
				log.Warn().
					Str("class", className).
					Str("registration", registration).
					Str("name", fullName).
					Msg(reason + ", registrant skipped")
				continue
			}

			run := model.Run{
				RunID:        runID,
				ClassName:    className,
				FirstName:    strings.TrimSpace(person.Name.Given),
				LastName:     strings.TrimSpace(person.Name.Family),
				Registration: registration,
				SIID:         atoi(ps.Start.ControlCard),
			}
			if st := strings.TrimSpace(ps.Start.StartTime); st != "" {
				ts, err := timestamp.Parse(st)
				if err != nil {
					log.Warn().Err(err).Int64("run_id", runID).Msg("start time invalid, run kept without start")
				} else {
					if offset == nil {
						off := ts.Offset()
						offset = &off
					}
					run.StartTime = &ts
					starts = append(starts, ts)
				}
			}
			out.Runs = append(out.Runs, run)
		}
		deriveClassStart(class, starts)
	}

	out.Start00 = parseStart00(doc.Event.StartTime, offset, log)
	return out, nil
}

func parseStart00(st iofDateTime, offset *int, log *zerolog.Logger) *timestamp.Timestamp {
	date, clock := strings.TrimSpace(st.Date), strings.TrimSpace(st.Time)
	if date == "" || clock == "" {
		return nil
	}
	text := date + "T" + clock
	var (
		ts  timestamp.Timestamp
		err error
	)
	if offset != nil {
		ts, err = timestamp.ParseInOffset(text, *offset)
	} else {
		ts, err = timestamp.Parse(text)
	}
	if err != nil {
		log.Warn().Str("start00", text).Msg("event start time cannot be resolved")
		return nil
	}
	return &ts
}

// deriveClassStart fills the first start, the smallest gap between
// distinct start times and leaves the slot count as counted.
func deriveClassStart(class *model.Class, starts []timestamp.Timestamp) {
	if len(starts) == 0 {
		return
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	first := starts[0]
	class.StartTime = &first

	var interval int64
	for i := 1; i < len(starts); i++ {
		gap := int64(starts[i].Sub(starts[i-1]).Seconds())
		if gap > 0 && (interval == 0 || gap < interval) {
			interval = gap
		}
	}
	class.Interval = interval
}

func atoi(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
