// Package inject exposes command dispatch to operators.
//
// Two surfaces share one request shape, CommandRequest:
//
//   - NewHTTPHandler serves POST /command with a base64-encoded JSON body,
//     plus GET /clients, GET /healthz and GET /metrics.
//   - BusBridge consumes plain JSON requests from a bus subject and answers
//     with a Reply when the message carries a reply subject.
//
// Status mapping for HTTP: bad encoding or a missing command is 400, an
// unknown target is 404, and signing or dispatch failures are 500.
package inject
