//go:build !rocksdb
// +build !rocksdb

package db

import "errors"

var ErrRocksDBUnavailable = errors.New("RocksDB support not compiled in, build with -tags rocksdb")

// NewRocksDBProvider reports that the binary was built without cgo RocksDB.
func NewRocksDBProvider(directory string) (DatabaseProvider, error) {
	return nil, ErrRocksDBUnavailable
}
