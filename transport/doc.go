// Package transport performs the authenticated HTTP calls every sxapi
// operation funnels through.
//
// Before each call the Client asks its TokenSource for a valid token and
// sends it as "Authorization: Bearer <token>". A failing token source aborts
// the call before anything reaches the network.
//
// Responses are classified into the apierr taxonomy:
//
//   - 2xx: the JSON body is decoded into the caller's value
//   - 3xx on POST or PUT: *apierr.RedirectError; writes never follow redirects
//   - 4xx: *apierr.ClientError with the body's "message" field ("unknown" if absent)
//   - 5xx, unfollowed 3xx on GET or DELETE and network failures: *apierr.ServerError
//
// Every call that reached the network, successful or not, is recorded in the
// client's Tracker before the result is returned, so the call history is
// available for diagnostics after a failure:
//
//	for _, line := range client.Tracker().Stats() {
//		fmt.Println(line)
//	}
//
// Per-call options rewrite the API version segment of the URL or bound the
// call's duration:
//
//	err := client.Get(ctx, "/organisation/list", params, &page,
//		transport.Version("v1"), transport.Timeout(15*time.Second))
package transport
