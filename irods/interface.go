package irods

import (
	irodsclient_fs "github.com/cyverse/go-irodsclient/fs"
	irodsclient_types "github.com/cyverse/go-irodsclient/irods/types"
)

// IRODSFSClient is the part of an iRODS file system the file cache reads through
type IRODSFSClient interface {
	Release()

	GetAccount() *irodsclient_types.IRODSAccount
	GetApplicationName() string

	// API
	Stat(path string) (*irodsclient_fs.Entry, error)
	OpenFile(path string, resource string, mode string) (IRODSFSFileHandle, error)
}

// IRODSFSFileHandle is an open iRODS file. ReadAt may be called from any goroutine.
type IRODSFSFileHandle interface {
	GetID() string
	GetEntry() *irodsclient_fs.Entry
	ReadAt(buffer []byte, offset int64) (int, error)
	Close() error
}
