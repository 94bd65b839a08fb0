// Package kvstore provides key/value persistence for bridge state: ghost
// records, ghost user mappings, channel links and event correlations.
package kvstore

// KVStore is the interface all bridge persistence goes through. A missing key
// returns (nil, nil) so callers can distinguish absence from failure.
type KVStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	ListKeys(page, perPage int) ([]string, error)
}
