package irods

import (
	"errors"
	"io"
	"testing"
	"time"

	irodsclient_fs "github.com/cyverse/go-irodsclient/fs"
	irodsclient_types "github.com/cyverse/go-irodsclient/irods/types"
	"github.com/cyverse/rubbercache/event"
	rubbercache_io "github.com/cyverse/rubbercache/io"
	"github.com/cyverse/rubbercache/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFileHandle struct {
	mock.Mock
}

func (handle *mockFileHandle) GetID() string {
	args := handle.Called()
	return args.String(0)
}

func (handle *mockFileHandle) GetEntry() *irodsclient_fs.Entry {
	args := handle.Called()
	return args.Get(0).(*irodsclient_fs.Entry)
}

func (handle *mockFileHandle) ReadAt(buffer []byte, offset int64) (int, error) {
	args := handle.Called(buffer, offset)
	return args.Int(0), args.Error(1)
}

func (handle *mockFileHandle) Close() error {
	args := handle.Called()
	return args.Error(0)
}

func newTestClient(t *testing.T) *IRODSFSClientDummy {
	account := &irodsclient_types.IRODSAccount{
		ClientUser: "testuser",
		ClientZone: "testzone",
	}

	client, err := NewIRODSFSClientDummy(account)
	require.NoError(t, err)
	return client
}

func makeTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i * 13) % 241)
	}
	return data
}

func runUntil(t *testing.T, loop *event.Loop, condition func() bool) {
	require.Eventually(t, func() bool {
		loop.RunPending()
		return condition()
	}, 5*time.Second, time.Millisecond)
}

func TestIRODS(t *testing.T) {
	t.Run("test DummyStat", testDummyStat)
	t.Run("test DummyOpenFile", testDummyOpenFile)
	t.Run("test FileSource", testFileSource)
	t.Run("test FileSourceSlowConsumer", testFileSourceSlowConsumer)
	t.Run("test FileSourceBroken", testFileSourceBroken)
	t.Run("test FileSourceNoProgress", testFileSourceNoProgress)
	t.Run("test FileSourceClose", testFileSourceClose)
	t.Run("test DirectClientReleased", testDirectClientReleased)
}

func testDummyStat(t *testing.T) {
	client := newTestClient(t)

	home, err := client.Stat(client.GetHomePath())
	require.NoError(t, err)
	assert.Equal(t, irodsclient_fs.DirectoryEntry, home.Type)
	assert.Equal(t, "testuser", home.Name)

	path := utils.JoinPath(client.GetHomePath(), "data.bin")
	_, err = client.Stat(path)
	assert.Error(t, err)

	entry := client.SetDummyFile(path, makeTestData(100))
	assert.Equal(t, int64(100), entry.Size)

	stat, err := client.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stat.Size)
	assert.Equal(t, "data.bin", stat.Name)
	assert.Equal(t, 3, client.GetStatCount())
}

func testDummyOpenFile(t *testing.T) {
	client := newTestClient(t)
	data := makeTestData(100)
	path := utils.JoinPath(client.GetHomePath(), "data.bin")
	client.SetDummyFile(path, data)

	_, err := client.OpenFile(path, "", string(irodsclient_types.FileOpenModeWriteOnly))
	assert.Error(t, err)

	handle, err := client.OpenFile(path, "", string(irodsclient_types.FileOpenModeReadOnly))
	require.NoError(t, err)
	assert.NotEmpty(t, handle.GetID())
	assert.Equal(t, path, handle.GetEntry().Path)

	buffer := make([]byte, 60)
	readLen, err := handle.ReadAt(buffer, 0)
	assert.NoError(t, err)
	assert.Equal(t, 60, readLen)
	assert.Equal(t, data[:60], buffer)

	readLen, err = handle.ReadAt(buffer, 60)
	assert.Error(t, err)
	assert.Equal(t, 40, readLen)
	assert.Equal(t, data[60:], buffer[:40])

	assert.NoError(t, handle.Close())
	assert.Error(t, handle.Close())
	assert.Equal(t, 1, client.GetOpenCount())
	assert.Equal(t, 1, client.GetCloseCount())
}

func testFileSource(t *testing.T) {
	client := newTestClient(t)
	data := makeTestData(100*1024 + 7)
	path := utils.JoinPath(client.GetHomePath(), "data.bin")
	client.SetDummyFile(path, data)

	loop := event.NewLoop(nil)
	defer loop.Release()

	handle, err := client.OpenFile(path, "", string(irodsclient_types.FileOpenModeReadOnly))
	require.NoError(t, err)

	source := NewFileSource(loop, handle, 4096)
	assert.Equal(t, path, source.GetPath())
	assert.Equal(t, int64(len(data)), source.GetAvailable(false))

	sink := rubbercache_io.NewBufferSink(source, nil)
	sink.Start()

	runUntil(t, loop, sink.IsDone)
	assert.NoError(t, sink.GetError())
	assert.Equal(t, data, sink.GetData())

	require.Eventually(t, func() bool {
		return client.GetCloseCount() == 1
	}, 5*time.Second, time.Millisecond)
}

func testFileSourceSlowConsumer(t *testing.T) {
	client := newTestClient(t)
	data := makeTestData(64 * 1024)
	path := utils.JoinPath(client.GetHomePath(), "data.bin")
	client.SetDummyFile(path, data)

	loop := event.NewLoop(nil)
	defer loop.Release()

	handle, err := client.OpenFile(path, "", string(irodsclient_types.FileOpenModeReadOnly))
	require.NoError(t, err)

	source := NewFileSource(loop, handle, 1024)
	sink := rubbercache_io.NewBufferSink(source, nil)
	sink.SetChunkLimit(100)

	runUntil(t, loop, func() bool {
		sink.Start()
		return sink.IsDone()
	})
	assert.Equal(t, data, sink.GetData())
}

func testFileSourceBroken(t *testing.T) {
	client := newTestClient(t)

	loop := event.NewLoop(nil)
	defer loop.Release()

	handle, err := client.OpenFile(client.GetBrokenFilePath(), "", string(irodsclient_types.FileOpenModeReadOnly))
	require.NoError(t, err)

	source := NewFileSource(loop, handle, 4096)
	sink := rubbercache_io.NewBufferSink(source, nil)
	sink.Start()

	runUntil(t, loop, sink.IsDone)
	assert.Error(t, sink.GetError())
	assert.Equal(t, 4096, sink.GetSize())
}

func testFileSourceNoProgress(t *testing.T) {
	closed := make(chan struct{})

	handle := &mockFileHandle{}
	handle.On("GetID").Return("stalled").Maybe()
	handle.On("GetEntry").Return(&irodsclient_fs.Entry{
		Type: irodsclient_fs.FileEntry,
		Path: "/testzone/home/testuser/stalled.bin",
		Size: 100,
	})
	handle.On("ReadAt", mock.Anything, int64(0)).Return(0, nil).Once()
	handle.On("Close").Return(nil).Run(func(args mock.Arguments) { close(closed) }).Once()

	loop := event.NewLoop(nil)
	defer loop.Release()

	source := NewFileSource(loop, handle, 4096)
	sink := rubbercache_io.NewBufferSink(source, nil)
	sink.Start()

	runUntil(t, loop, sink.IsDone)
	assert.True(t, errors.Is(sink.GetError(), io.ErrUnexpectedEOF))
	assert.Equal(t, 0, sink.GetSize())

	require.Eventually(t, func() bool {
		select {
		case <-closed:
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)

	handle.AssertExpectations(t)
}

func testFileSourceClose(t *testing.T) {
	client := newTestClient(t)
	path := utils.JoinPath(client.GetHomePath(), "data.bin")
	client.SetDummyFile(path, makeTestData(1024*1024))

	loop := event.NewLoop(nil)
	defer loop.Release()

	handle, err := client.OpenFile(path, "", string(irodsclient_types.FileOpenModeReadOnly))
	require.NoError(t, err)

	source := NewFileSource(loop, handle, 4096)
	sink := rubbercache_io.NewBufferSink(source, nil)
	sink.Start()

	runUntil(t, loop, func() bool {
		return sink.GetSize() > 0
	})
	sink.Cancel()

	runUntil(t, loop, func() bool {
		return client.GetCloseCount() == 1
	})
	assert.Less(t, sink.GetSize(), 1024*1024)
}

func testDirectClientReleased(t *testing.T) {
	var client IRODSFSClient = &IRODSFSClientDirect{
		config: &irodsclient_fs.FileSystemConfig{
			ApplicationName: "rubbercache",
		},
		account: &irodsclient_types.IRODSAccount{
			ClientUser: "testuser",
		},
	}

	assert.Equal(t, "rubbercache", client.GetApplicationName())
	assert.Equal(t, "testuser", client.GetAccount().ClientUser)

	// released clients refuse calls instead of dereferencing the file system
	client.Release()

	_, err := client.Stat("/testzone/home/testuser")
	assert.Error(t, err)

	_, err = client.OpenFile("/testzone/home/testuser/data.bin", "", string(irodsclient_types.FileOpenModeReadOnly))
	assert.Error(t, err)
}
