package irods

import (
	irodsclient_fs "github.com/cyverse/go-irodsclient/fs"
	irodsclient_types "github.com/cyverse/go-irodsclient/irods/types"
	"github.com/cyverse/rubbercache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// IRODSFSClientDirect implements IRODSFSClient with go-irodsclient
// direct access to iRODS server
type IRODSFSClientDirect struct {
	config  *irodsclient_fs.FileSystemConfig
	account *irodsclient_types.IRODSAccount
	fs      *irodsclient_fs.FileSystem
}

// NewIRODSFSClientDirect creates IRODSFSClient using IRODSFSClientDirect
func NewIRODSFSClientDirect(account *irodsclient_types.IRODSAccount, config *irodsclient_fs.FileSystemConfig) (IRODSFSClient, error) {
	logger := log.WithFields(log.Fields{
		"package":  "irods",
		"function": "NewIRODSFSClientDirect",
	})

	defer utils.StackTraceFromPanic(logger)

	fs, err := irodsclient_fs.NewFileSystem(account, config)
	if err != nil {
		return nil, xerrors.Errorf("failed to connect to iRODS as %s: %w", account.ClientUser, err)
	}

	return &IRODSFSClientDirect{
		config:  config,
		account: account,
		fs:      fs,
	}, nil
}

// GetAccount returns iRODS Account info
func (client *IRODSFSClientDirect) GetAccount() *irodsclient_types.IRODSAccount {
	return client.account
}

// GetApplicationName returns application name
func (client *IRODSFSClientDirect) GetApplicationName() string {
	return client.config.ApplicationName
}

// Release releases resources
func (client *IRODSFSClientDirect) Release() {
	logger := log.WithFields(log.Fields{
		"package":  "irods",
		"struct":   "IRODSFSClientDirect",
		"function": "Release",
	})

	defer utils.StackTraceFromPanic(logger)

	if client.fs != nil {
		client.fs.Release()
		client.fs = nil
	}
}

// Stat stats fs entry
func (client *IRODSFSClientDirect) Stat(path string) (*irodsclient_fs.Entry, error) {
	if client.fs == nil {
		return nil, xerrors.Errorf("FSClient is nil")
	}

	logger := log.WithFields(log.Fields{
		"package":  "irods",
		"struct":   "IRODSFSClientDirect",
		"function": "Stat",
	})

	defer utils.StackTraceFromPanic(logger)

	entry, err := client.fs.Stat(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to stat %s: %w", path, err)
	}
	return entry, nil
}

// OpenFile opens a file
func (client *IRODSFSClientDirect) OpenFile(path string, resource string, mode string) (IRODSFSFileHandle, error) {
	if client.fs == nil {
		return nil, xerrors.Errorf("FSClient is nil")
	}

	logger := log.WithFields(log.Fields{
		"package":  "irods",
		"struct":   "IRODSFSClientDirect",
		"function": "OpenFile",
	})

	defer utils.StackTraceFromPanic(logger)

	handle, err := client.fs.OpenFile(path, resource, mode)
	if err != nil {
		return nil, xerrors.Errorf("failed to open %s: %w", path, err)
	}

	return &IRODSFSClientDirectFileHandle{
		handle: handle,
	}, nil
}

// IRODSFSClientDirectFileHandle implements IRODSFSFileHandle
type IRODSFSClientDirectFileHandle struct {
	handle *irodsclient_fs.FileHandle
}

// GetID returns the handle id
func (handle *IRODSFSClientDirectFileHandle) GetID() string {
	return handle.handle.GetID()
}

// GetEntry returns the entry of the open file
func (handle *IRODSFSClientDirectFileHandle) GetEntry() *irodsclient_fs.Entry {
	return handle.handle.GetEntry()
}

// ReadAt reads data at offset
func (handle *IRODSFSClientDirectFileHandle) ReadAt(buffer []byte, offset int64) (int, error) {
	logger := log.WithFields(log.Fields{
		"package":  "irods",
		"struct":   "IRODSFSClientDirectFileHandle",
		"function": "ReadAt",
	})

	defer utils.StackTraceFromPanic(logger)

	return handle.handle.ReadAt(buffer, offset)
}

// Close closes the file
func (handle *IRODSFSClientDirectFileHandle) Close() error {
	logger := log.WithFields(log.Fields{
		"package":  "irods",
		"struct":   "IRODSFSClientDirectFileHandle",
		"function": "Close",
	})

	defer utils.StackTraceFromPanic(logger)

	return handle.handle.Close()
}
