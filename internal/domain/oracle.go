package domain

import (
	"net/http"
	"strings"
)

// OracleReply is a completed oracle call. Status is the HTTP status; Text is
// the model output for 200 replies and empty otherwise.
type OracleReply struct {
	Status int
	Text   string
	Body   []byte
}

// OK reports a 200 reply with non-blank output.
func (r *OracleReply) OK() bool {
	return r != nil && r.Status == http.StatusOK && strings.TrimSpace(r.Text) != ""
}
