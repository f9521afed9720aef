package natsgath

import (
	"github.com/nats-io/nats.go"
)

// New creates a NATS gatherer that streams grading events to the given inbox
// subject.
func New(nc *nats.Conn, jobID string, inbox string) *natsGatherer {
	return &natsGatherer{
		nc:    nc,
		inbox: inbox,
		jobID: jobID,
	}
}
