// Package remote holds the HTTP plumbing shared by the engine clients.
package remote

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response ends up in an error.
const maxErrorBody = 512

// StatusError reports a non-2xx response from an engine.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error: status=%d body=%s", e.Service, e.Status, e.Body)
}

// CheckStatus returns a *StatusError for non-2xx responses, reading at most
// maxErrorBody bytes of the body. The caller still closes the body.
func CheckStatus(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Service: service,
		Status:  resp.StatusCode,
		Body:    strings.TrimSpace(string(b)),
	}
}
