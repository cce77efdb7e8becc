// Package sxapi is a client for the smaXtec public and intern APIs.
//
// A Client authenticates through a session.Manager, sends every call through
// a transport.Client and follows the pagination and time window rules of
// the API, so callers get complete results:
//
//	client, err := sxapi.NewClient(sxapi.ClientConfig{
//		Credentials: session.Credentials{Email: email, Password: password},
//	}, logger)
//	if err != nil {
//		return err
//	}
//
//	events, err := client.Events(ctx, sxapi.AnimalID(id), sxapi.EventQuery{})
//
// Animals and devices are both Subjects: sensor data and event queries take
// either.
//
// The intern API requires an api key. It is available through
// Client.Intern when ClientConfig.InternEndpoint is set, or standalone via
// NewInternClient.
package sxapi
