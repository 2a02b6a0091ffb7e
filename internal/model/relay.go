// Package model defines shared types for the relay.
package model

// FetchResult is the outcome of one upstream fetch. Exactly one of Success
// and Failure is set; use the constructors rather than building it by hand.
type FetchResult struct {
	Success *Success
	Failure *Failure
}

// Success carries an upstream 2xx response body, already decoded to UTF-8.
type Success struct {
	StatusCode int
	Body       []byte
	// Charset is the encoding the upstream declared, empty if none.
	Charset string
}

// Failure describes why the upstream could not be fetched.
type Failure struct {
	Message string
	Err     error
}

// Succeeded returns a successful FetchResult.
func Succeeded(status int, body []byte, charset string) FetchResult {
	return FetchResult{Success: &Success{StatusCode: status, Body: body, Charset: charset}}
}

// Failed returns a failed FetchResult whose message is the error text.
func Failed(err error) FetchResult {
	return FetchResult{Failure: &Failure{Message: err.Error(), Err: err}}
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool {
	return r.Success != nil
}

// Rates is the JSON document served by the rates endpoint.
type Rates struct {
	Base  string             `json:"base"`
	Date  *string            `json:"date"`
	Rates map[string]float64 `json:"rates"`
}
