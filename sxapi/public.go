package sxapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/smaxtec/sxapi/apierr"
	"github.com/smaxtec/sxapi/dim"
	"github.com/smaxtec/sxapi/pagination"
	"github.com/smaxtec/sxapi/timerange"
	"github.com/smaxtec/sxapi/transport"
)

// Status returns the public service status
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.transport.Get(ctx, "/service/status", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// User returns the account of the session. Api key sessions have no user
// document and report UserTypeAPIKey without a request.
func (c *Client) User(ctx context.Context) (User, error) {
	if c.session.Credentials().HasAPIKey() {
		return User{Type: UserTypeAPIKey}, nil
	}

	var user User
	if err := c.transport.Get(ctx, "/user", nil, &user); err != nil {
		return User{}, err
	}
	user.Type = UserTypeEmail
	return user, nil
}

// Organisations lists the organisations of the user. Api key sessions are
// not bound to a user and get an empty list.
func (c *Client) Organisations(ctx context.Context) ([]Organisation, error) {
	if c.session.Credentials().HasAPIKey() {
		return []Organisation{}, nil
	}

	var orgs []Organisation
	if err := c.transport.Get(ctx, "/organisation", nil, &orgs); err != nil {
		return nil, err
	}
	for i := range orgs {
		orgs[i].ID = orgs[i].Key()
	}
	return orgs, nil
}

// OrganisationByID fetches one organisation document
func (c *Client) OrganisationByID(ctx context.Context, organisationID string) (Organisation, error) {
	var org Organisation
	params := url.Values{"organisation_id": {organisationID}}
	if err := c.transport.Get(ctx, "/organisation/by_id", params, &org); err != nil {
		return Organisation{}, err
	}
	return org, nil
}

// OrganisationAnimalIDs lists the ids of all animals of an organisation
func (c *Client) OrganisationAnimalIDs(ctx context.Context, organisationID string) ([]string, error) {
	var docs []struct {
		ID string `json:"_id"`
	}
	params := url.Values{"organisation_id": {organisationID}}
	if err := c.transport.Get(ctx, "/animal/ids_by_organisation", params, &docs); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// AnimalByID fetches one animal document including its lactations
func (c *Client) AnimalByID(ctx context.Context, animalID string) (Animal, error) {
	var animal Animal
	params := url.Values{"animal_id": {animalID}}
	if err := c.transport.Get(ctx, "/animal/by_id", params, &animal); err != nil {
		return Animal{}, err
	}
	return animal, nil
}

// DeviceByID fetches one device document
func (c *Client) DeviceByID(ctx context.Context, deviceID string) (Device, error) {
	var device Device
	params := url.Values{"device_id": {deviceID}}
	if err := c.transport.Get(ctx, "/device/by_id", params, &device); err != nil {
		return Device{}, err
	}
	return device, nil
}

// SensorData returns the readings of one metric of an animal or device. The
// range is requested in windows of at most ChunkDays days and the readings
// are concatenated in window order.
func (c *Client) SensorData(ctx context.Context, subject Subject, q SensorDataQuery) ([]Point, error) {
	if err := checkSubject(subject); err != nil {
		return nil, err
	}
	from, to, err := q.window(c.now())
	if err != nil {
		return nil, err
	}

	windows, err := timerange.Split(timerange.Unix(from), timerange.Unix(to), c.chunkDays)
	if err != nil {
		return nil, err
	}

	var points []Point
	for w := range windows {
		params := url.Values{}
		params.Set(subject.QueryKey(), subject.SubjectID())
		params.Set("metric", q.Metric)
		params.Set("from_date", strconv.FormatInt(w.Start, 10))
		params.Set("to_date", strconv.FormatInt(w.End, 10))

		var resp struct {
			Data []Point `json:"data"`
		}
		if err := c.transport.Get(ctx, "/data/query", params, &resp); err != nil {
			return nil, err
		}
		points = append(points, resp.Data...)
	}

	c.logger.Debug().
		Str(subject.QueryKey(), subject.SubjectID()).
		Str("metric", q.Metric).
		Int("points", len(points)).
		Msg("Fetched sensor data")

	return points, nil
}

// Events returns all events of an animal or device in server order
func (c *Client) Events(ctx context.Context, subject Subject, q EventQuery) ([]Event, error) {
	params, err := q.params(subject)
	if err != nil {
		return nil, err
	}
	return pagination.FetchAll[Event](ctx, c.transport, "/event/query", params, c.pageOptions()...)
}

// OrganisationEvents returns all events of an organisation in server order
func (c *Client) OrganisationEvents(ctx context.Context, organisationID string, q OrganisationEventQuery) ([]Event, error) {
	params, err := q.params(organisationID)
	if err != nil {
		return nil, err
	}
	return pagination.FetchAll[Event](ctx, c.transport, "/event/by_organisation", params, c.pageOptions()...)
}

// AnnotationByID fetches one annotation
func (c *Client) AnnotationByID(ctx context.Context, annotationID string) (Annotation, error) {
	var a Annotation
	params := url.Values{"annotation_id": {annotationID}}
	if err := c.transport.Get(ctx, "/annotation/id", params, &a); err != nil {
		return Annotation{}, err
	}
	return a, nil
}

// Annotations returns all annotations matching q in server order
func (c *Client) Annotations(ctx context.Context, q AnnotationQuery) ([]Annotation, error) {
	params, err := q.params()
	if err != nil {
		return nil, err
	}
	return pagination.FetchAll[Annotation](ctx, c.transport, "/annotation/query", params, c.pageOptions()...)
}

// AnnotationDefinitions returns the annotation class definitions as sent by
// the server
func (c *Client) AnnotationDefinitions(ctx context.Context) (json.RawMessage, error) {
	var defs json.RawMessage
	if err := c.transport.Get(ctx, "/annotation/definition", nil, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// NewAnnotation is the payload of InsertAnimalAnnotation
type NewAnnotation struct {
	AnimalID   string
	Start      time.Time
	End        time.Time
	Classes    []string
	Attributes map[string]any
}

// InsertAnimalAnnotation creates an annotation on an animal
func (c *Client) InsertAnimalAnnotation(ctx context.Context, a NewAnnotation) (Annotation, error) {
	if a.AnimalID == "" {
		return Annotation{}, &apierr.ValidationError{Field: "animal_id", Reason: "must not be empty"}
	}
	if err := checkRange(a.Start, a.End); err != nil {
		return Annotation{}, err
	}

	body := map[string]any{
		"animal_id": a.AnimalID,
		"ts":        timerange.Unix(a.Start),
		"end_ts":    timerange.Unix(a.End),
	}
	if a.Classes != nil {
		body["classes"] = a.Classes
	}
	if a.Attributes != nil {
		body["attributes"] = a.Attributes
	}

	var out Annotation
	if err := c.transport.Put(ctx, "/annotation/animal", body, &out); err != nil {
		return Annotation{}, err
	}
	return out, nil
}

// AnnotationUpdate lists the fields to change. Nil fields are left as they
// are on the server.
type AnnotationUpdate struct {
	Start      *time.Time
	End        *time.Time
	Classes    []string
	Attributes map[string]any
}

// UpdateAnnotation changes the given fields of an annotation
func (c *Client) UpdateAnnotation(ctx context.Context, annotationID string, u AnnotationUpdate) (Annotation, error) {
	if annotationID == "" {
		return Annotation{}, &apierr.ValidationError{Field: "annotation_id", Reason: "must not be empty"}
	}

	body := map[string]any{"annotation_id": annotationID}
	if u.Start != nil {
		body["ts"] = timerange.Unix(*u.Start)
	}
	if u.End != nil {
		body["end_ts"] = timerange.Unix(*u.End)
	}
	if u.Classes != nil {
		body["classes"] = u.Classes
	}
	if u.Attributes != nil {
		body["attributes"] = u.Attributes
	}

	var out Annotation
	if err := c.transport.Post(ctx, "/annotation/id", body, &out); err != nil {
		return Annotation{}, err
	}
	return out, nil
}

// InsertTestSet creates a named test set of annotations
func (c *Client) InsertTestSet(ctx context.Context, name string, metaData map[string]any, annotationIDs []string) (TestSet, error) {
	if name == "" {
		return TestSet{}, &apierr.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if annotationIDs == nil {
		annotationIDs = []string{}
	}

	body := map[string]any{
		"name":           name,
		"meta_data":      metaData,
		"annotation_ids": annotationIDs,
	}

	var out TestSet
	if err := c.transport.Put(ctx, "/annotation/testset", body, &out, transport.Timeout(writeTimeout)); err != nil {
		return TestSet{}, err
	}
	return out, nil
}

// UpdateTestSet replaces the annotations of a test set
func (c *Client) UpdateTestSet(ctx context.Context, testSetID string, annotationIDs []string) (TestSet, error) {
	if annotationIDs == nil {
		annotationIDs = []string{}
	}
	body := map[string]any{"testset_id": testSetID, "annotation_ids": annotationIDs}

	var out TestSet
	if err := c.transport.Post(ctx, "/annotation/testset", body, &out); err != nil {
		return TestSet{}, err
	}
	return out, nil
}

// TestSetByID fetches one test set
func (c *Client) TestSetByID(ctx context.Context, testSetID string) (TestSet, error) {
	var out TestSet
	params := url.Values{"testset_id": {testSetID}}
	if err := c.transport.Get(ctx, "/annotation/testset", params, &out); err != nil {
		return TestSet{}, err
	}
	return out, nil
}

// TestSetByName fetches one test set by its name
func (c *Client) TestSetByName(ctx context.Context, name string) (TestSet, error) {
	var out TestSet
	params := url.Values{"name": {name}}
	if err := c.transport.Get(ctx, "/annotation/testset/by_name", params, &out); err != nil {
		return TestSet{}, err
	}
	return out, nil
}

// OrganisationTimezone returns the timezone name of an organisation, empty
// when the organisation has none. The first lookup per organisation fetches
// the document; later lookups are served from the timezone map.
func (c *Client) OrganisationTimezone(ctx context.Context, organisationID string) (string, error) {
	return c.timezones.Lookup(ctx, organisationID, func(ctx context.Context) (string, error) {
		org, err := c.OrganisationByID(ctx, organisationID)
		if err != nil {
			return "", err
		}
		return org.Timezone, nil
	})
}

// OrganisationLocation resolves OrganisationTimezone, UTC when unset
func (c *Client) OrganisationLocation(ctx context.Context, organisationID string) (*time.Location, error) {
	tz, err := c.OrganisationTimezone(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q of organisation %s: %w", tz, organisationID, err)
	}
	return loc, nil
}

// AnimalDIM fetches an animal and samples its days in milk over [from, to]
func (c *Client) AnimalDIM(ctx context.Context, animalID string, from, to time.Time, interval time.Duration) ([]dim.Sample, error) {
	animal, err := c.AnimalByID(ctx, animalID)
	if err != nil {
		return nil, err
	}
	return dim.Series(animal.CalvingDates(), from, to, interval)
}

func (c *Client) pageOptions() []pagination.Option {
	return []pagination.Option{pagination.WithLimit(c.pageSize)}
}
