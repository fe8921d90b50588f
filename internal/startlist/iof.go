package startlist

import "encoding/xml"

// IOF XML 3.0 StartList, reduced to the elements the importer reads.
type iofStartList struct {
	XMLName    xml.Name        `xml:"StartList"`
	Creator    string          `xml:"creator,attr"`
	CreateTime string          `xml:"createTime,attr"`
	Event      iofEvent        `xml:"Event"`
	ClassStart []iofClassStart `xml:"ClassStart"`
}

type iofEvent struct {
	Name      string      `xml:"Name"`
	StartTime iofDateTime `xml:"StartTime"`
}

type iofDateTime struct {
	Date string `xml:"Date"`
	Time string `xml:"Time"`
}

type iofClassStart struct {
	Class       iofClass         `xml:"Class"`
	Course      iofCourse        `xml:"Course"`
	StartName   string           `xml:"StartName"`
	PersonStart []iofPersonStart `xml:"PersonStart"`
}

type iofClass struct {
	ID   string `xml:"Id"`
	Name string `xml:"Name"`
}

type iofCourse struct {
	Length           string `xml:"Length"`
	Climb            string `xml:"Climb"`
	NumberOfControls string `xml:"NumberOfControls"`
}

type iofPersonStart struct {
	Person       iofPerson       `xml:"Person"`
	Organisation iofOrganisation `xml:"Organisation"`
	Start        iofStart        `xml:"Start"`
}

type iofPerson struct {
	IDs  []iofID       `xml:"Id"`
	Name iofPersonName `xml:"Name"`
}

type iofID struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type iofPersonName struct {
	Family string `xml:"Family"`
	Given  string `xml:"Given"`
}

type iofOrganisation struct {
	Name      string `xml:"Name"`
	ShortName string `xml:"ShortName"`
}

type iofStart struct {
	StartTime   string `xml:"StartTime"`
	ControlCard string `xml:"ControlCard"`
}

func (p iofPerson) id(idType string) (string, bool) {
	for _, id := range p.IDs {
		if id.Type == idType {
			return id.Value, true
		}
	}
	return "", false
}
