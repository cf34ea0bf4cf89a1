// Package api exposes an Engine over HTTP with a chi router.
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /task/{id}
//	POST   /task/{id}/claim            {"userId": "..."}; missing or null unclaims
//	POST   /task/{id}/unclaim
//	POST   /task/{id}/complete         {"variables": {...}}
//	GET    /execution                  query parameters
//	POST   /execution                  JSON query
//	GET    /execution/count
//	POST   /execution/count
//	GET    /execution/{id}
//	GET    /execution/{id}/localVariables
//	POST   /execution/{id}/{enable|disable|reenable|manual-start}
//	GET    /job
//	GET    /job/count
//	GET    /job/{id}
//	PUT    /job/{id}/retries           {"retries": n}
//	DELETE /job/{id}
//	GET    /incident
//
// Errors are written as {"type": "<Kind>", "message": "..."} with the
// status chosen by [StatusFor].
package api
