package sxapi

// Subject is anything sensor data and events can be queried for. Animals and
// devices share the query endpoints and differ only in the id parameter.
type Subject interface {
	// QueryKey is the query parameter carrying the id
	QueryKey() string
	// SubjectID is the document id
	SubjectID() string
}

// AnimalID identifies an animal
type AnimalID string

func (AnimalID) QueryKey() string    { return "animal_id" }
func (a AnimalID) SubjectID() string { return string(a) }

// DeviceID identifies a device
type DeviceID string

func (DeviceID) QueryKey() string    { return "device_id" }
func (d DeviceID) SubjectID() string { return string(d) }
