package sxapi

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/smaxtec/sxapi/apierr"
	"github.com/smaxtec/sxapi/pagination"
	"github.com/smaxtec/sxapi/session"
	"github.com/smaxtec/sxapi/timerange"
	"github.com/smaxtec/sxapi/transport"
)

// DefaultEventLevel is the level of inserted events unless set
const DefaultEventLevel = 10

// InternClient talks to the intern API. It authenticates with an api key
// only.
type InternClient struct {
	transport *transport.Client
	logger    zerolog.Logger
}

// NewInternClient creates an intern API client for endpoint
func NewInternClient(endpoint, apiKey string, logger zerolog.Logger, opts ...transport.Option) (*InternClient, error) {
	if endpoint == "" {
		return nil, &apierr.ValidationError{Field: "intern_endpoint", Reason: "endpoint needed for the intern api"}
	}
	if err := checkEndpoint(endpoint); err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, &apierr.ValidationError{Field: "api_key", Reason: "api key needed for the intern api"}
	}

	tokens := session.New(endpoint, session.Credentials{APIKey: apiKey}, logger)
	return &InternClient{
		transport: transport.New(endpoint, tokens, logger, opts...),
		logger:    logger,
	}, nil
}

// Transport returns the underlying transport
func (c *InternClient) Transport() *transport.Client {
	return c.transport
}

// Stats renders the recorded call history
func (c *InternClient) Stats() []string {
	return c.transport.Tracker().Stats()
}

// Status returns the intern service status
func (c *InternClient) Status(ctx context.Context) (Result, error) {
	var out Result
	if err := c.transport.Get(ctx, "/", url.Values{"foo": {"bar"}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Healthy reports whether Status succeeds with a non-empty answer
func (c *InternClient) Healthy(ctx context.Context) bool {
	status, err := c.Status(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Status not ok")
		return false
	}
	if len(status) == 0 {
		c.logger.Error().Msg("Status not ok: empty answer")
		return false
	}
	return true
}

// ValidateSensorData checks every reading before a write. Timestamps and
// values must be finite and device and metric must be set.
func ValidateSensorData(batch []SensorData) error {
	if len(batch) == 0 {
		return &apierr.ValidationError{Field: "sensordata", Reason: "no sensor data given"}
	}

	for i, s := range batch {
		if s.DeviceID == "" {
			return &apierr.ValidationError{Field: fmt.Sprintf("sensordata[%d].device_id", i), Reason: "must not be empty"}
		}
		if s.Metric == "" {
			return &apierr.ValidationError{Field: fmt.Sprintf("sensordata[%d].metric", i), Reason: "must not be empty"}
		}
		for j, p := range s.Data {
			if !finite(p.Timestamp) {
				return &apierr.ValidationError{
					Field:  fmt.Sprintf("sensordata[%d].data[%d]", i, j),
					Reason: fmt.Sprintf("invalid timestamp %v of metric %s", p.Timestamp, s.Metric),
				}
			}
			if !finite(p.Value) {
				return &apierr.ValidationError{
					Field:  fmt.Sprintf("sensordata[%d].data[%d]", i, j),
					Reason: fmt.Sprintf("invalid value %v of metric %s", p.Value, s.Metric),
				}
			}
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// InsertSensorData writes readings of one metric
func (c *InternClient) InsertSensorData(ctx context.Context, deviceID, metric string, data []Point) (Result, error) {
	res, err := c.InsertSensorDataBulk(ctx, []SensorData{{DeviceID: deviceID, Metric: metric, Data: data}})
	return first(res, err)
}

// InsertSensorDataBulk writes readings of several metrics in one request
func (c *InternClient) InsertSensorDataBulk(ctx context.Context, batch []SensorData) ([]Result, error) {
	return c.writeSensorData(ctx, batch, c.transport.Put)
}

// UpdateSensorData overwrites readings of one metric
func (c *InternClient) UpdateSensorData(ctx context.Context, deviceID, metric string, data []Point) (Result, error) {
	res, err := c.UpdateSensorDataBulk(ctx, []SensorData{{DeviceID: deviceID, Metric: metric, Data: data}})
	return first(res, err)
}

// UpdateSensorDataBulk overwrites readings of several metrics in one request
func (c *InternClient) UpdateSensorDataBulk(ctx context.Context, batch []SensorData) ([]Result, error) {
	return c.writeSensorData(ctx, batch, c.transport.Post)
}

type writeFunc func(ctx context.Context, path string, body, out any, opts ...transport.CallOption) error

func (c *InternClient) writeSensorData(ctx context.Context, batch []SensorData, write writeFunc) ([]Result, error) {
	if err := ValidateSensorData(batch); err != nil {
		return nil, err
	}

	body := map[string]any{"sensordata": batch}
	var out []Result
	if err := write(ctx, "/sensordatabulk", body, &out, transport.Timeout(writeTimeout)); err != nil {
		return nil, err
	}
	return out, nil
}

// SensorData reads one metric of a device
func (c *InternClient) SensorData(ctx context.Context, deviceID, metric string, from, to time.Time) (SensorData, error) {
	res, err := c.SensorDataBulk(ctx, deviceID, []string{metric}, from, to)
	if err != nil {
		return SensorData{}, err
	}
	if len(res) == 0 {
		return SensorData{}, &apierr.ProtocolError{URL: "/sensordatabulk", Reason: "empty bulk answer"}
	}
	return res[0], nil
}

// SensorDataBulk reads several metrics of a device
func (c *InternClient) SensorDataBulk(ctx context.Context, deviceID string, metrics []string, from, to time.Time) ([]SensorData, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}

	params := url.Values{"device_id": {deviceID}, "metrics": metrics}
	setTime(params, "from_date", from)
	setTime(params, "to_date", to)

	var out []SensorData
	if err := c.transport.Get(ctx, "/sensordatabulk", params, &out, transport.Timeout(bulkTimeout)); err != nil {
		return nil, err
	}
	return out, nil
}

// SensorDataRange returns the first and last reading time of a metric
func (c *InternClient) SensorDataRange(ctx context.Context, deviceID, metric string) (Result, error) {
	var out Result
	params := url.Values{"device_id": {deviceID}, "metric": {metric}}
	if err := c.transport.Get(ctx, "/sensordatarange", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LastSensorData returns the latest reading of one metric
func (c *InternClient) LastSensorData(ctx context.Context, deviceID, metric string) (Result, error) {
	return first(c.LastSensorDataBulk(ctx, deviceID, []string{metric}))
}

// LastSensorDataBulk returns the latest readings of several metrics
func (c *InternClient) LastSensorDataBulk(ctx context.Context, deviceID string, metrics []string) ([]Result, error) {
	var out []Result
	params := url.Values{"device_id": {deviceID}, "metrics": metrics}
	if err := c.transport.Get(ctx, "/lastsensordata", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewEvent is the payload of InsertEvent
type NewEvent struct {
	DeviceID             string
	EventType            string
	Timestamp            time.Time
	Value                any
	Metadata             map[string]any
	Level                int // DefaultEventLevel when zero
	DisableNotifications bool
}

// InsertEvent creates an event on a device. Value is stored in the metadata
// under "value".
func (c *InternClient) InsertEvent(ctx context.Context, e NewEvent) (Result, error) {
	if e.DeviceID == "" {
		return nil, &apierr.ValidationError{Field: "device_id", Reason: "must not be empty"}
	}
	if e.EventType == "" {
		return nil, &apierr.ValidationError{Field: "event_type", Reason: "must not be empty"}
	}

	metadata := maps.Clone(e.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["value"] = e.Value

	level := e.Level
	if level == 0 {
		level = DefaultEventLevel
	}
	hooks := 0
	if e.DisableNotifications {
		hooks = 1
	}

	body := map[string]any{
		"device_id":     e.DeviceID,
		"event_type":    e.EventType,
		"timestamp":     timerange.Unix(e.Timestamp),
		"metadata":      metadata,
		"level":         level,
		"disable_hooks": hooks,
	}

	var out Result
	if err := c.transport.Put(ctx, "/event", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateEventMeta replaces the metadata of an event
func (c *InternClient) UpdateEventMeta(ctx context.Context, eventID string, metadata map[string]any) (Result, error) {
	var out Result
	body := map[string]any{"event_id": eventID, "metadata": metadata}
	if err := c.transport.Post(ctx, "/event", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEvent removes an event
func (c *InternClient) DeleteEvent(ctx context.Context, eventID string) (Result, error) {
	var out Result
	if err := c.transport.Delete(ctx, "/event", url.Values{"event_id": {eventID}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LastEventTimestamps returns the latest event time per event type of a device
func (c *InternClient) LastEventTimestamps(ctx context.Context, deviceID string) (Result, error) {
	var out Result
	if err := c.transport.Get(ctx, "/lasteventtimestamps", url.Values{"device_id": {deviceID}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetDeviceMeta stores device metadata in the anthill namespace
func (c *InternClient) SetDeviceMeta(ctx context.Context, deviceID string, metadata map[string]any) (Result, error) {
	var out Result
	body := map[string]any{"device_id": deviceID, "metadata": metadata, "namespace": "anthill"}
	if err := c.transport.Post(ctx, "/devicemetadata", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SensorInfo returns hardware information of a device
func (c *InternClient) SensorInfo(ctx context.Context, deviceID string) (Result, error) {
	var out Result
	if err := c.transport.Get(ctx, "/sensorinfo", url.Values{"device_id": {deviceID}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeviceOptions selects the documents embedded by Device
type DeviceOptions struct {
	WithAnimal       bool
	WithOrganisation bool
	WithAllMeta      bool
}

// Device fetches the intern device document
func (c *InternClient) Device(ctx context.Context, deviceID string, opts DeviceOptions) (Result, error) {
	params := url.Values{
		"device_id":         {deviceID},
		"with_animal":       {flag(opts.WithAnimal)},
		"with_organisation": {flag(opts.WithOrganisation)},
		"with_allmeta":      {flag(opts.WithAllMeta)},
	}

	var out Result
	if err := c.transport.Get(ctx, "/device", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchDevices finds devices by a search string
func (c *InternClient) SearchDevices(ctx context.Context, search string) ([]Result, error) {
	var out []Result
	if err := c.transport.Get(ctx, "/devicesearch", url.Values{"search_string": {search}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AnimalsByOrganisation lists the animal documents of an organisation
func (c *InternClient) AnimalsByOrganisation(ctx context.Context, organisationID string) ([]Animal, error) {
	var out []Animal
	if err := c.transport.Get(ctx, "/animallist", url.Values{"organisation_id": {organisationID}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Animal fetches the intern animal document
func (c *InternClient) Animal(ctx context.Context, animalID string) (Animal, error) {
	var out Animal
	if err := c.transport.Get(ctx, "/animal", url.Values{"animal_id": {animalID}}, &out); err != nil {
		return Animal{}, err
	}
	return out, nil
}

// OrganisationList lists every organisation known to the intern api
func (c *InternClient) OrganisationList(ctx context.Context) ([]Organisation, error) {
	var out []Organisation
	if err := c.transport.Get(ctx, "/organisationlist", nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ID = out[i].Key()
	}
	return out, nil
}

// DevicesSeenQuery selects the window of DevicesSeen
type DevicesSeenQuery struct {
	HoursBack int       // 24 when zero
	PerHour   bool      // hourly counts instead of one sum
	To        time.Time // now on the server when zero
}

// DevicesSeen reports which devices a base station received recently. The
// answer is passed through as sent.
func (c *InternClient) DevicesSeen(ctx context.Context, deviceID string, q DevicesSeenQuery) (json.RawMessage, error) {
	hours := q.HoursBack
	if hours <= 0 {
		hours = 24
	}

	params := url.Values{
		"device_id":  {deviceID},
		"hours_back": {strconv.Itoa(hours)},
		"return_sum": {flag(!q.PerHour)},
	}
	if !q.To.IsZero() {
		setTime(params, "to_ts", q.To)
	}

	var out json.RawMessage
	if err := c.transport.Get(ctx, "/devicesonline", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NodeInfos returns the node information reports of a device within [from, to]
func (c *InternClient) NodeInfos(ctx context.Context, deviceID string, from, to time.Time) ([]Result, error) {
	return c.deviceRange(ctx, "/nodeinfobulk", deviceID, from, to)
}

// Uploads returns the uploads of a base station within [from, to]
func (c *InternClient) Uploads(ctx context.Context, deviceID string, from, to time.Time) ([]Result, error) {
	return c.deviceRange(ctx, "/anthilluploadbulk", deviceID, from, to)
}

func (c *InternClient) deviceRange(ctx context.Context, path, deviceID string, from, to time.Time) ([]Result, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}

	params := url.Values{"device_id": {deviceID}}
	setTime(params, "from_date", from)
	setTime(params, "to_date", to)

	var out []Result
	if err := c.transport.Get(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProductionEvents lists the latest production events, newest first. An
// empty deviceID lists all devices; limit defaults to 10.
func (c *InternClient) ProductionEvents(ctx context.Context, deviceID string, skip, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"skip":  {strconv.Itoa(max(skip, 0))},
		"limit": {strconv.Itoa(limit)},
	}
	if deviceID != "" {
		params.Set("device_id", deviceID)
	}

	var out []Result
	if err := c.transport.Get(ctx, "/productionevents", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HiddenShares lists the hidden organisation shares of a user
func (c *InternClient) HiddenShares(ctx context.Context, userID string) ([]Result, error) {
	var out []Result
	params := url.Values{"user_id": {userID}}
	if err := c.transport.Get(ctx, "/user/hidden_shares_by_user", params, &out, transport.Version("v1")); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateHiddenShare shares an organisation with a user without notifying them
func (c *InternClient) CreateHiddenShare(ctx context.Context, organisationID, userID string) (Result, error) {
	var out Result
	body := map[string]any{"organisation_id": organisationID, "user_id": userID}
	if err := c.transport.Put(ctx, "/user/hidden_share", body, &out, transport.Version("v1")); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteHiddenShare removes a hidden share
func (c *InternClient) DeleteHiddenShare(ctx context.Context, shareID string) (Result, error) {
	var out Result
	params := url.Values{"share_id": {shareID}}
	if err := c.transport.Delete(ctx, "/user/hidden_share", params, &out, transport.Version("v1")); err != nil {
		return nil, err
	}
	return out, nil
}

// ActivateUser activates the account registered for email
func (c *InternClient) ActivateUser(ctx context.Context, email string) (Result, error) {
	if email == "" {
		return nil, &apierr.ValidationError{Field: "user_email", Reason: "must not be empty"}
	}
	var out Result
	body := map[string]any{"user_email": email}
	if err := c.transport.Put(ctx, "/user/activate", body, &out, transport.Version("v1")); err != nil {
		return nil, err
	}
	return out, nil
}

// Organisation fetches an organisation from the v1 intern api
func (c *InternClient) Organisation(ctx context.Context, organisationID string) (Organisation, error) {
	var out Organisation
	params := url.Values{"organisation_id": {organisationID}}
	if err := c.transport.Get(ctx, "/organisation/by_id", params, &out, transport.Version("v1")); err != nil {
		return Organisation{}, err
	}
	return out, nil
}

// User fetches a user from the v1 intern api
func (c *InternClient) User(ctx context.Context, userID string) (User, error) {
	var out User
	if err := c.transport.Get(ctx, "/user/by_id", url.Values{"user_id": {userID}}, &out, transport.Version("v1")); err != nil {
		return User{}, err
	}
	return out, nil
}

// QueryOrganisations searches organisations by name and partner. Empty
// arguments are not sent.
func (c *InternClient) QueryOrganisations(ctx context.Context, nameSearch, partnerID string) ([]Organisation, error) {
	params := url.Values{}
	if nameSearch != "" {
		params.Set("name_search_string", nameSearch)
	}
	if partnerID != "" {
		params.Set("partner_id", partnerID)
	}

	orgs, err := pagination.FetchAll[Organisation](ctx, c.transport, "/organisation/list", params,
		pagination.WithCallOptions(transport.Version("v1")))
	if err != nil {
		return nil, err
	}
	for i := range orgs {
		orgs[i].ID = orgs[i].Key()
	}
	return orgs, nil
}

// QueryUsers searches users by email
func (c *InternClient) QueryUsers(ctx context.Context, emailSearch string) ([]User, error) {
	params := url.Values{}
	if emailSearch != "" {
		params.Set("email_search_string", emailSearch)
	}
	return pagination.FetchAll[User](ctx, c.transport, "/user/list", params,
		pagination.WithCallOptions(transport.Version("v1")))
}

// UpdateOrganisationPartner assigns an organisation to a partner
func (c *InternClient) UpdateOrganisationPartner(ctx context.Context, organisationID, partnerID string) (Result, error) {
	return c.postV1(ctx, "/organisation/partner_id", map[string]any{
		"organisation_id": organisationID,
		"partner_id":      partnerID,
	})
}

// MoveDevice moves a device to another organisation
func (c *InternClient) MoveDevice(ctx context.Context, deviceID, organisationID string) (Result, error) {
	return c.postV1(ctx, "/organisation/move_device", map[string]any{
		"device_id":       deviceID,
		"organisation_id": organisationID,
	})
}

// MoveAnimal moves an animal to another organisation
func (c *InternClient) MoveAnimal(ctx context.Context, animalID, organisationID string) (Result, error) {
	return c.postV1(ctx, "/organisation/move_animal", map[string]any{
		"animal_id":       animalID,
		"organisation_id": organisationID,
	})
}

// DeactivateDevice deactivates a device with its activation code
func (c *InternClient) DeactivateDevice(ctx context.Context, deviceID, activationCode string) (Result, error) {
	return c.postV1(ctx, "/organisation/deactivate_device", map[string]any{
		"device_id":       deviceID,
		"activation_code": activationCode,
	})
}

func (c *InternClient) postV1(ctx context.Context, path string, body map[string]any) (Result, error) {
	var out Result
	if err := c.transport.Post(ctx, path, body, &out, transport.Version("v1")); err != nil {
		return nil, err
	}
	return out, nil
}

// first returns the single element of a bulk answer
func first(res []Result, err error) (Result, error) {
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, &apierr.ProtocolError{Reason: "empty bulk answer"}
	}
	return res[0], nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
