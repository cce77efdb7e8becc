package sxapi

import (
	"net/url"
	"strconv"
	"time"

	"github.com/smaxtec/sxapi/apierr"
	"github.com/smaxtec/sxapi/timerange"
)

// DefaultDaysBack is the look-back of sensor data queries without a range
const DefaultDaysBack = 30

// EventQuery filters the events of an animal or device. Nil bounds are not
// sent and leave the range open on that side.
type EventQuery struct {
	From *time.Time
	To   *time.Time
}

func (q EventQuery) params(subject Subject) (url.Values, error) {
	if err := checkSubject(subject); err != nil {
		return nil, err
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return nil, invalidRange(*q.From, *q.To)
	}

	params := url.Values{}
	params.Set(subject.QueryKey(), subject.SubjectID())
	if q.From != nil {
		setTime(params, "from_date", *q.From)
	}
	if q.To != nil {
		setTime(params, "to_date", *q.To)
	}
	return params, nil
}

// OrganisationEventQuery filters the events of a whole organisation. Both
// bounds are required; no categories means all categories.
type OrganisationEventQuery struct {
	From       time.Time
	To         time.Time
	Categories []string
}

func (q OrganisationEventQuery) params(organisationID string) (url.Values, error) {
	if organisationID == "" {
		return nil, &apierr.ValidationError{Field: "organisation_id", Reason: "must not be empty"}
	}
	if err := checkRange(q.From, q.To); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("organisation_id", organisationID)
	setTime(params, "from_date", q.From)
	setTime(params, "to_date", q.To)
	for _, c := range q.Categories {
		params.Add("categories", c)
	}
	return params, nil
}

// AnnotationQuery selects annotations by exactly one of animal, organisation
// or annotation class within [From, To].
type AnnotationQuery struct {
	AnimalID       string
	OrganisationID string
	Class          string
	From           time.Time
	To             time.Time
}

func (q AnnotationQuery) params() (url.Values, error) {
	params := url.Values{}
	selectors := 0
	for key, value := range map[string]string{
		"animal_id":        q.AnimalID,
		"organisation_id":  q.OrganisationID,
		"annotation_class": q.Class,
	} {
		if value != "" {
			params.Set(key, value)
			selectors++
		}
	}
	if selectors != 1 {
		return nil, &apierr.ValidationError{
			Field:  "selector",
			Reason: "exactly one of animal id, organisation id or class is required",
		}
	}
	if err := checkRange(q.From, q.To); err != nil {
		return nil, err
	}

	setTime(params, "from_date", q.From)
	setTime(params, "to_date", q.To)
	return params, nil
}

// SensorDataQuery selects one metric within [From, To]. When both bounds are
// zero the range is the last DefaultDaysBack days up to one day ahead.
type SensorDataQuery struct {
	Metric string
	From   time.Time
	To     time.Time
}

// window resolves the query range against now
func (q SensorDataQuery) window(now time.Time) (time.Time, time.Time, error) {
	if q.Metric == "" {
		return time.Time{}, time.Time{}, &apierr.ValidationError{Field: "metric", Reason: "must not be empty"}
	}
	from, to := q.From, q.To
	if from.IsZero() && to.IsZero() {
		to = now.Add(24 * time.Hour)
		from = now.AddDate(0, 0, -DefaultDaysBack)
	}
	if err := checkRange(from, to); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func checkSubject(subject Subject) error {
	if subject == nil || subject.SubjectID() == "" {
		return &apierr.ValidationError{Field: "subject", Reason: "animal or device id required"}
	}
	return nil
}

func checkRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return &apierr.ValidationError{Field: "range", Reason: "from and to are required"}
	}
	if from.After(to) {
		return invalidRange(from, to)
	}
	return nil
}

func invalidRange(from, to time.Time) error {
	return &apierr.InvalidRangeError{
		Start:  timerange.Unix(from),
		End:    timerange.Unix(to),
		Reason: "from is after to",
	}
}

func setTime(params url.Values, key string, t time.Time) {
	params.Set(key, strconv.FormatInt(timerange.Unix(t), 10))
}
