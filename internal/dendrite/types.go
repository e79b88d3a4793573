package dendrite

import (
	"net/http"
	"reflect"
	"strings"
)

const (
	SignatureHeader = "x-signature"
	HotkeyHeader    = "x-hotkey"
	MessageHeader   = "x-message"

	DefaultQueryTimeout = 10 // seconds
)

// Prompting is the wire synapse exchanged with miners. The validator
// fills Roles/Messages (plus the character and criteria fields on
// roleplay tasks), the miner echoes the synapse back with Completion
// set.
type Prompting struct {
	TaskType      string   `json:"taskType"`
	Roles         []string `json:"roles"`
	Messages      []string `json:"messages"`
	CharacterName string   `json:"characterName,omitempty"`
	CharacterInfo string   `json:"characterInfo,omitempty"`
	CharNames     []string `json:"charNames,omitempty"`
	UserNames     []string `json:"userNames,omitempty"`
	Criteria      []string `json:"criteria,omitempty"`
	Completion    string   `json:"completion"`
	Timeout       float64  `json:"timeout"`
}

// Endpoint locates one queryable peer.
type Endpoint struct {
	UID    int64
	Hotkey string
	URL    string
}

// Response is the per-slot outcome of a dispatch. Failed queries still
// occupy their slot so reward indexing stays aligned with query order.
type Response struct {
	UID           int64   `json:"uid"`
	Hotkey        string  `json:"hotkey"`
	Completion    string  `json:"completion"`
	StatusCode    int     `json:"statusCode"`
	StatusMessage string  `json:"statusMessage"`
	ProcessTime   float64 `json:"processTime"`
}

// Success reports whether the peer answered within the round's timeout.
func (r Response) Success() bool {
	return r.StatusCode == http.StatusOK
}

// StdResponse is the standardized envelope miners reply with.
type StdResponse[T any] struct {
	Body  T       `json:"body"`
	Error *string `json:"error,omitempty"`
}

// RouteFor derives the HTTP route for a synapse type from its type
// name, so both ends agree on the path without a shared route table.
func RouteFor(v any) string {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return "/" + strings.TrimPrefix(t.Name(), "*")
}
