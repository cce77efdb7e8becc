package sxapi

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/smaxtec/sxapi/timerange"
)

// Timestamp decodes the Unix seconds the API uses for instants. A JSON null
// decodes to the zero time.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts integer or fractional seconds
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}

	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
	return nil
}

// MarshalJSON encodes whole Unix seconds
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(timerange.Unix(t.Time), 10)), nil
}

// Point is one sensor reading, encoded as [timestamp, value]
type Point struct {
	Timestamp float64
	Value     float64
}

// Time returns the reading's instant in UTC
func (p Point) Time() time.Time {
	whole, frac := math.Modf(p.Timestamp)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
}

// MarshalJSON encodes the point as a two element array
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Timestamp, p.Value})
}

// UnmarshalJSON decodes [timestamp, value]. A null value decodes to NaN.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []*float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("invalid sensor point %s: %w", data, err)
	}
	if len(pair) != 2 || pair[0] == nil {
		return fmt.Errorf("invalid sensor point %s", data)
	}

	p.Timestamp = *pair[0]
	p.Value = math.NaN()
	if pair[1] != nil {
		p.Value = *pair[1]
	}
	return nil
}

// Status is the service status document
type Status map[string]any

// Result is the untyped answer of write and intern endpoints
type Result map[string]any

// UserType distinguishes login users from api key sessions
type UserType string

const (
	UserTypeEmail  UserType = "email"
	UserTypeAPIKey UserType = "apikey"
)

// User is the account behind the current session
type User struct {
	ID        string         `json:"_id,omitempty"`
	Email     string         `json:"email,omitempty"`
	FirstName string         `json:"firstname,omitempty"`
	LastName  string         `json:"lastname,omitempty"`
	Type      UserType       `json:"type"`
	Settings  map[string]any `json:"settings,omitempty"`
}

// DisplayName returns the email of login users and "<type>_user" otherwise
func (u User) DisplayName() string {
	if u.Type == UserTypeEmail && u.Email != "" {
		return u.Email
	}
	if u.Type == "" {
		return "unknown_user"
	}
	return string(u.Type) + "_user"
}

// Organisation is a farm or other account owning animals and devices
type Organisation struct {
	ID             string          `json:"_id"`
	OrganisationID string          `json:"organisation_id,omitempty"`
	Name           string          `json:"name"`
	Timezone       string          `json:"timezone,omitempty"`
	PartnerID      string          `json:"partner_id,omitempty"`
	Devices        []string        `json:"devices,omitempty"`
	Features       json.RawMessage `json:"features,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// Key returns the organisation id, which list endpoints report as
// organisation_id
func (o Organisation) Key() string {
	if o.ID != "" {
		return o.ID
	}
	return o.OrganisationID
}

// Location resolves the organisation timezone, UTC when unset
func (o Organisation) Location() (*time.Location, error) {
	return loadLocation(o.Timezone)
}

// Lactation is the milk production period started by one calving
type Lactation struct {
	ID          string    `json:"_id,omitempty"`
	Number      int       `json:"number"`
	Confirmed   bool      `json:"confirmed"`
	MilkYield   *float64  `json:"milk_yield,omitempty"`
	CalvingDate Timestamp `json:"calving_date"`
}

// Heat is a detected heat of an animal
type Heat struct {
	ID           string    `json:"_id,omitempty"`
	Pregnant     bool      `json:"pregnant"`
	Abort        bool      `json:"abort"`
	Insemination bool      `json:"insemination"`
	HeatDate     Timestamp `json:"heat_date"`
}

// Animal is the animal document
type Animal struct {
	ID             string         `json:"_id"`
	OrganisationID string         `json:"organisation_id"`
	Name           string         `json:"name"`
	Mark           string         `json:"mark"`
	GroupID        string         `json:"group_id,omitempty"`
	Sensor         string         `json:"sensor,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Lactations     []Lactation    `json:"lactations,omitempty"`
	Heats          []Heat         `json:"heats,omitempty"`
}

// Subject returns the animal as a sensor data and event subject
func (a Animal) Subject() Subject {
	return AnimalID(a.ID)
}

// CalvingDates returns the calving instants of all lactations with a known
// calving date, in document order
func (a Animal) CalvingDates() []time.Time {
	dates := make([]time.Time, 0, len(a.Lactations))
	for _, l := range a.Lactations {
		if !l.CalvingDate.IsZero() {
			dates = append(dates, l.CalvingDate.Time)
		}
	}
	return dates
}

// Device is a sensor device document
type Device struct {
	ID             string         `json:"_id"`
	Name           string         `json:"name"`
	OrganisationID string         `json:"organisation_id,omitempty"`
	AnimalID       string         `json:"animal_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Subject returns the device as a sensor data and event subject
func (d Device) Subject() Subject {
	return DeviceID(d.ID)
}

// Event is a detected or inserted event of an animal or device
type Event struct {
	ID             string         `json:"_id"`
	EventType      string         `json:"event_type"`
	Level          int            `json:"level"`
	Timestamp      Timestamp      `json:"timestamp"`
	OrganisationID string         `json:"organisation_id,omitempty"`
	AnimalID       string         `json:"animal_id,omitempty"`
	DeviceID       string         `json:"device_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Annotation labels a time span of an animal
type Annotation struct {
	ID             string         `json:"_id"`
	AnimalID       string         `json:"animal_id,omitempty"`
	OrganisationID string         `json:"organisation_id,omitempty"`
	ReferenceType  string         `json:"reference_type,omitempty"`
	Start          Timestamp      `json:"ts"`
	End            Timestamp      `json:"end_ts"`
	Classes        []string       `json:"classes,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// TestSet groups annotations under a name
type TestSet struct {
	ID            string         `json:"_id"`
	Name          string         `json:"name"`
	MetaData      map[string]any `json:"meta_data,omitempty"`
	AnnotationIDs []string       `json:"annotation_ids,omitempty"`
}

// SensorData is the readings of one metric of one device
type SensorData struct {
	DeviceID string  `json:"device_id"`
	Metric   string  `json:"metric"`
	Data     []Point `json:"data"`
}
