package manager

import "fmt"

// ServerNotFoundError is returned when a tool call targets a kind with
// no running client.
type ServerNotFoundError struct {
	Name string
}

func (e *ServerNotFoundError) Error() string {
	return fmt.Sprintf("no running server for %s", e.Name)
}
