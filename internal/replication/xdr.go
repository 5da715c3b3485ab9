package replication

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"kvnode/internal/logging"
)

// XDRShipper ships pickled records to a remote RESP-compatible sink via
// RESTORE, standing in for the out-of-scope cross-DC fabric transport
// (§1). Grounded on the teacher's direct go-redis usage
// (internal/comparator/simple.go): plain *redis.Client, context per call,
// no connection pool tuning beyond the library defaults.
type XDRShipper struct {
	client *redis.Client
	log    *logging.Facility
}

// NewXDRShipper dials a remote target for cross-DC shipping.
func NewXDRShipper(addr, password string, log *logging.Facility) *XDRShipper {
	return &XDRShipper{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		log:    log,
	}
}

// ShipEvent is the cross-DC write event produced alongside a replica pickle
// (§4.8): carries the same record identity plus a delete flag, independent
// of whether the local replica write succeeded.
type ShipEvent struct {
	Key     string
	Pickle  []byte
	Deleted bool
}

// Ship restores the pickle at the remote sink, or deletes the key there if
// the local operation was a delete. The storage record is closed before
// this is called (§4.8: "closed before any cross-DC emission").
func (x *XDRShipper) Ship(ctx context.Context, ev ShipEvent) error {
	if ev.Deleted {
		if err := x.client.Del(ctx, ev.Key).Err(); err != nil {
			return fmt.Errorf("replication: xdr delete %q: %w", ev.Key, err)
		}
		return nil
	}
	// TTL 0 means "no expiry" to RESTORE; void-time policy is carried inside
	// the pickle itself and reapplied by the remote sink's own record model.
	if err := x.client.RestoreReplace(ctx, ev.Key, 0, string(ev.Pickle)).Err(); err != nil {
		return fmt.Errorf("replication: xdr restore %q: %w", ev.Key, err)
	}
	return nil
}

// Close releases the underlying client connection.
func (x *XDRShipper) Close() error {
	return x.client.Close()
}
