package domain

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is a scheduled execution time in seconds since the epoch.
type Timestamp int64

func TimestampOf(t time.Time) Timestamp { return Timestamp(t.Unix()) }

func (ts Timestamp) Time() time.Time { return time.Unix(int64(ts), 0).UTC() }

func (ts Timestamp) String() string { return strconv.FormatInt(int64(ts), 10) }

// Record is a job waiting in the deferred index for its timestamp to pass.
type Record struct {
	Queue string         `json:"queue"`
	Class string         `json:"class"`
	Args  map[string]any `json:"args"`

	// Raw holds the encoded form the record was read from, if any.
	Raw []byte `json:"-"`
	// DecodeErr is set when Raw could not be fully decoded.
	DecodeErr error `json:"-"`
}

// ArgsOrEmpty returns the argument payload, never nil.
func (r *Record) ArgsOrEmpty() map[string]any {
	if r.Args == nil {
		return map[string]any{}
	}
	return r.Args
}

// Validate reports a *MalformedError when the record could not be decoded or
// has no destination queue or no job class.
func (r *Record) Validate() error {
	switch {
	case r.DecodeErr != nil:
		return &MalformedError{Record: r, Reason: "undecodable: " + r.DecodeErr.Error()}
	case r.Queue == "" && r.Class == "":
		return &MalformedError{Record: r, Reason: "missing queue and class"}
	case r.Queue == "":
		return &MalformedError{Record: r, Reason: "missing queue"}
	case r.Class == "":
		return &MalformedError{Record: r, Reason: "missing class"}
	}
	return nil
}

func (r *Record) String() string {
	return fmt.Sprintf("%s(%s)", r.Class, r.Queue)
}

// DelayedStore is the storage engine the drainer works against.
type DelayedStore interface {
	// NextDueTimestamp returns the earliest timestamp <= now that still holds
	// records. ok is false when nothing is due.
	NextDueTimestamp(ctx context.Context) (ts Timestamp, ok bool, err error)
	// NextItemForTimestamp atomically removes and returns one record stored at
	// ts. A nil record means the bucket is exhausted.
	NextItemForTimestamp(ctx context.Context, ts Timestamp) (*Record, error)
	// Enqueue appends a ready job to the named queue.
	Enqueue(ctx context.Context, queue, class string, args map[string]any) error
	// Reconnect re-establishes the connection to the storage engine.
	Reconnect(ctx context.Context) error
}

// Rejecter is implemented by stores that can quarantine malformed records
// instead of dropping them.
type Rejecter interface {
	Reject(ctx context.Context, ts Timestamp, rec *Record, reason string) error
}
