package api

// Links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var Links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/endpoints>; rel="endpoints"`,
		`</api/v1/sessions>; rel="sessions"`,
		`</openapi.json>; rel="service-desc"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
	},
	"/api/v1/endpoints": {
		`</api/v1/sessions>; rel="sessions"`,
	},
	"/api/v1/endpoints/{id}": {
		`</api/v1/endpoints>; rel="collection"`,
	},
	"/api/v1/sessions": {
		`</api/v1/endpoints>; rel="endpoints"`,
	},
	"/api/v1/sessions/{id}": {
		`</api/v1/sessions>; rel="collection"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="search"`,
	},
}
