package types

import "context"

// Requester is the contract between the data layer and the REST backend.
type Requester interface {

	/*
		Do performs one HTTP call and decodes the JSON response into out.

		1. body (if non-nil) is encoded as JSON
		2. a non-2xx response becomes an error carrying status and backend message
		3. out (if non-nil) receives the decoded body

		Authentication and base URL are the implementation's business.
	*/
	Do(ctx context.Context, method, path string, body, out any) error
}
