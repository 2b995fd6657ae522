package irods

import (
	"fmt"
	"io"
	"sync"
	"time"

	irodsclient_fs "github.com/cyverse/go-irodsclient/fs"
	irodsclient_types "github.com/cyverse/go-irodsclient/irods/types"
	"github.com/cyverse/rubbercache/utils"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	dummyIDStart int64 = 90000000
)

// IRODSFSClientDummy implements IRODSFSClient with in-memory files
type IRODSFSClientDummy struct {
	account          *irodsclient_types.IRODSAccount
	dummyIDCount     int64
	dummyEntry       map[string]*irodsclient_fs.Entry
	dummyFileContent map[string][]byte
	brokenPath       string

	statCount  int
	openCount  int
	closeCount int
	mutex      sync.Mutex
}

// NewIRODSFSClientDummy creates IRODSFSClientDummy with a home directory and a broken file
func NewIRODSFSClientDummy(account *irodsclient_types.IRODSAccount) (*IRODSFSClientDummy, error) {
	logger := log.WithFields(log.Fields{
		"package":  "irods",
		"function": "NewIRODSFSClientDummy",
	})

	defer utils.StackTraceFromPanic(logger)

	client := &IRODSFSClientDummy{
		account:          account,
		dummyIDCount:     0,
		dummyEntry:       map[string]*irodsclient_fs.Entry{},
		dummyFileContent: map[string][]byte{},
	}

	client.fillDummy()

	return client, nil
}

// GetAccount returns iRODS Account info
func (client *IRODSFSClientDummy) GetAccount() *irodsclient_types.IRODSAccount {
	return client.account
}

// GetApplicationName returns application name
func (client *IRODSFSClientDummy) GetApplicationName() string {
	return "dummy"
}

// Release releases resources
func (client *IRODSFSClientDummy) Release() {
}

// GetHomePath returns the home directory of the account
func (client *IRODSFSClientDummy) GetHomePath() string {
	return fmt.Sprintf("/%s/home/%s", client.account.ClientZone, client.account.ClientUser)
}

// GetBrokenFilePath returns the path of a file whose reads always fail
func (client *IRODSFSClientDummy) GetBrokenFilePath() string {
	return client.brokenPath
}

// GetStatCount returns the number of Stat calls
func (client *IRODSFSClientDummy) GetStatCount() int {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	return client.statCount
}

// GetOpenCount returns the number of OpenFile calls that returned a handle
func (client *IRODSFSClientDummy) GetOpenCount() int {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	return client.openCount
}

// GetCloseCount returns the number of closed handles
func (client *IRODSFSClientDummy) GetCloseCount() int {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	return client.closeCount
}

// SetDummyFile creates or replaces a file, its modify time is set to now
func (client *IRODSFSClientDummy) SetDummyFile(path string, content []byte) *irodsclient_fs.Entry {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.dummyFileContent[path] = append([]byte{}, content...)

	entry := client.makeDummyFile(path, int64(len(content)))
	if old, ok := client.dummyEntry[path]; ok {
		entry.ID = old.ID
		entry.CreateTime = old.CreateTime
	}

	client.dummyEntry[path] = entry
	return entry
}

func (client *IRODSFSClientDummy) makeDummyDir(path string) *irodsclient_fs.Entry {
	client.dummyIDCount++

	return &irodsclient_fs.Entry{
		ID:         dummyIDStart + client.dummyIDCount,
		Type:       irodsclient_fs.DirectoryEntry,
		Name:       utils.GetFileName(path),
		Path:       path,
		Owner:      client.account.ClientUser,
		Size:       0,
		CreateTime: time.Now(),
		ModifyTime: time.Now(),
	}
}

func (client *IRODSFSClientDummy) makeDummyFile(path string, size int64) *irodsclient_fs.Entry {
	client.dummyIDCount++

	return &irodsclient_fs.Entry{
		ID:         dummyIDStart + client.dummyIDCount,
		Type:       irodsclient_fs.FileEntry,
		Name:       utils.GetFileName(path),
		Path:       path,
		Owner:      client.account.ClientUser,
		Size:       size,
		CreateTime: time.Now(),
		ModifyTime: time.Now(),
	}
}

func (client *IRODSFSClientDummy) fillDummy() {
	rootPath := "/"
	zonePath := fmt.Sprintf("/%s", client.account.ClientZone)
	homePath := fmt.Sprintf("/%s/home", client.account.ClientZone)
	userHomePath := client.GetHomePath()
	brokenPath := utils.JoinPath(userHomePath, "broken_connection")

	client.dummyEntry[rootPath] = client.makeDummyDir(rootPath)
	client.dummyEntry[zonePath] = client.makeDummyDir(zonePath)
	client.dummyEntry[homePath] = client.makeDummyDir(homePath)
	client.dummyEntry[userHomePath] = client.makeDummyDir(userHomePath)

	// reads of this file fail after the first block
	client.dummyEntry[brokenPath] = client.makeDummyFile(brokenPath, 1024*1024)
	client.dummyFileContent[brokenPath] = make([]byte, 1024*1024)
	client.brokenPath = brokenPath
}

// Stat stats fs entry
func (client *IRODSFSClientDummy) Stat(path string) (*irodsclient_fs.Entry, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.statCount++

	if entry, ok := client.dummyEntry[path]; ok {
		entryCopy := *entry
		return &entryCopy, nil
	}

	return nil, xerrors.Errorf("failed to find the file or directory for path %s: %w", path, irodsclient_types.NewFileNotFoundError(path))
}

// OpenFile opens a file for read
func (client *IRODSFSClientDummy) OpenFile(path string, resource string, mode string) (IRODSFSFileHandle, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if mode != string(irodsclient_types.FileOpenModeReadOnly) {
		return nil, xerrors.Errorf("failed to open file %s with mode %s", path, mode)
	}

	entry, ok := client.dummyEntry[path]
	if !ok || entry.Type != irodsclient_fs.FileEntry {
		return nil, xerrors.Errorf("failed to open the file for path %s: %w", path, irodsclient_types.NewFileNotFoundError(path))
	}

	client.openCount++

	entryCopy := *entry
	return &IRODSFSClientDummyFileHandle{
		client:  client,
		id:      xid.New().String(),
		entry:   &entryCopy,
		content: client.dummyFileContent[path],
		broken:  path == client.brokenPath,
	}, nil
}

// IRODSFSClientDummyFileHandle implements IRODSFSFileHandle
type IRODSFSClientDummyFileHandle struct {
	client  *IRODSFSClientDummy
	id      string
	entry   *irodsclient_fs.Entry
	content []byte
	broken  bool
	closed  bool
}

// GetID returns the handle id
func (handle *IRODSFSClientDummyFileHandle) GetID() string {
	return handle.id
}

// GetEntry returns the entry of the open file
func (handle *IRODSFSClientDummyFileHandle) GetEntry() *irodsclient_fs.Entry {
	return handle.entry
}

// ReadAt reads data at offset, io.EOF is returned with the last bytes
func (handle *IRODSFSClientDummyFileHandle) ReadAt(buffer []byte, offset int64) (int, error) {
	if handle.broken && offset > 0 {
		return 0, xerrors.Errorf("failed to read %s at offset %d: connection broken", handle.entry.Path, offset)
	}

	if int(offset) < len(handle.content) {
		copied := copy(buffer, handle.content[offset:])
		if int(offset)+copied == len(handle.content) {
			return copied, io.EOF
		}

		return copied, nil
	}

	return 0, io.EOF
}

// Close closes the handle
func (handle *IRODSFSClientDummyFileHandle) Close() error {
	handle.client.mutex.Lock()
	defer handle.client.mutex.Unlock()

	if handle.closed {
		return xerrors.Errorf("file handle %s is already closed", handle.id)
	}

	handle.closed = true
	handle.client.closeCount++
	return nil
}
