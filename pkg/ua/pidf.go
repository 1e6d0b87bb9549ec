package ua

import (
	"encoding/xml"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// PidfContentType тип содержимого presence-документа
const PidfContentType = "application/pidf+xml"

const (
	nsPidf      = "urn:ietf:params:xml:ns:pidf"
	nsDataModel = "urn:ietf:params:xml:ns:pidf:data-model"
	nsRpid      = "urn:ietf:params:xml:ns:pidf:rpid"
)

// Статусы, для которых известна заметка
var presenceNotes = map[string]string{
	"dnd":       "Busy (DND)",
	"available": "Online",
	"away":      "Away",
}

type pidfPresence struct {
	XMLName   xml.Name   `xml:"presence"`
	Xmlns     string     `xml:"xmlns,attr"`
	XmlnsDm   string     `xml:"xmlns:dm,attr"`
	XmlnsRpid string     `xml:"xmlns:rpid,attr"`
	Entity    string     `xml:"entity,attr"`
	Tuple     pidfTuple  `xml:"tuple"`
	Person    pidfPerson `xml:"dm:person"`
}

type pidfTuple struct {
	ID      string      `xml:"id,attr"`
	Basic   string      `xml:"status>basic"`
	Contact pidfContact `xml:"contact"`
	Note    string      `xml:"note,omitempty"`
}

type pidfContact struct {
	Priority string `xml:"priority,attr"`
	Value    string `xml:",chardata"`
}

type pidfPerson struct {
	ID         string         `xml:"id,attr"`
	Activities pidfActivities `xml:"rpid:activities"`
}

type pidfActivities struct {
	Activity *pidfActivity
}

type pidfActivity struct {
	XMLName xml.Name
}

// ValidPresenceStatus проверяет, что статус годится как имя rpid-элемента
// (NCName: буква или '_', далее буквы, цифры, '-', '.', '_'). Пустой статус
// допустим: активность тогда не добавляется.
func ValidPresenceStatus(status string) bool {
	for i, r := range status {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// BuildPresenceDocument строит PIDF с расширением RPID (RFC 3863, RFC 4480).
// Для статуса, отличного от "available", он же становится rpid-активностью.
func BuildPresenceDocument(entity, status string) ([]byte, error) {
	if !ValidPresenceStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPresenceStatus, status)
	}
	doc := pidfPresence{
		Xmlns:     nsPidf,
		XmlnsDm:   nsDataModel,
		XmlnsRpid: nsRpid,
		Entity:    entity,
		Tuple: pidfTuple{
			ID:    pidfID(),
			Basic: "open",
			Contact: pidfContact{
				Priority: "1.0",
				Value:    entity,
			},
			Note: presenceNotes[status],
		},
		Person: pidfPerson{
			ID: pidfID(),
		},
	}
	if status != "" && status != "available" {
		doc.Person.Activities.Activity = &pidfActivity{
			XMLName: xml.Name{Local: "rpid:" + status},
		}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func pidfID() string {
	return "ID-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
