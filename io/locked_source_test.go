package io

import (
	"testing"
	"time"

	"github.com/cyverse/rubbercache/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/xerrors"
)

type testItem struct {
	cache.ItemBase

	destroyCount int
}

func newTestItem(size int64) *testItem {
	return &testItem{
		ItemBase: cache.NewItemBase(time.Time{}, size),
	}
}

func (item *testItem) Destroy() {
	item.destroyCount++
}

func TestLockedSource(t *testing.T) {
	t.Run("test UnlockOnEOF", testUnlockOnEOF)
	t.Run("test UnlockOnError", testUnlockOnError)
	t.Run("test UnlockOnClose", testUnlockOnClose)
	t.Run("test UnlockExactlyOnce", testUnlockExactlyOnce)
}

func testUnlockOnEOF(t *testing.T) {
	c := cache.NewCache(16, 1024)
	item := newTestItem(10)
	c.Put("foo", item)

	source := NewLockedSource(c, item, NewMemorySource([]byte("0123456789")))
	assert.Equal(t, 1, item.GetLockCount())
	assert.Equal(t, int64(10), source.GetAvailable(false))

	// evicted while being read
	c.Remove("foo")
	assert.Equal(t, 0, item.destroyCount)

	handler := &mockHandler{}
	handler.On("OnData", mock.Anything).Return(10).Once()
	handler.On("OnEOF").Run(func(args mock.Arguments) {
		assert.Equal(t, 0, item.GetLockCount())
		assert.Equal(t, 1, item.destroyCount)
	}).Return().Once()
	source.SetHandler(handler)

	source.Read()

	handler.AssertExpectations(t)
	assert.False(t, source.IsLocked())
}

func testUnlockOnError(t *testing.T) {
	c := cache.NewCache(16, 1024)
	item := newTestItem(10)
	c.Put("foo", item)

	inner := NewFeedSource(10)
	source := NewLockedSource(c, item, inner)

	readErr := xerrors.New("read failed")
	handler := &mockHandler{}
	handler.On("OnError", readErr).Run(func(args mock.Arguments) {
		assert.Equal(t, 0, item.GetLockCount())
	}).Return().Once()
	source.SetHandler(handler)
	source.Read()

	inner.Fail(readErr)

	handler.AssertExpectations(t)
	assert.Equal(t, 0, item.destroyCount)
	assert.Equal(t, item, c.Get("foo"))
}

func testUnlockOnClose(t *testing.T) {
	c := cache.NewCache(16, 1024)
	item := newTestItem(10)
	c.Put("foo", item)

	inner := NewFeedSource(10)
	source := NewLockedSource(c, item, inner)
	c.Remove("foo")

	handler := &mockHandler{}
	source.SetHandler(handler)

	source.Close()
	source.Close()

	assert.Equal(t, 0, item.GetLockCount())
	assert.Equal(t, 1, item.destroyCount)
	assert.True(t, inner.IsFinished())
	handler.AssertNotCalled(t, "OnEOF")
	handler.AssertNotCalled(t, "OnError", mock.Anything)
}

func testUnlockExactlyOnce(t *testing.T) {
	c := cache.NewCache(16, 1024)
	item := newTestItem(10)
	c.Put("foo", item)

	// a second reader holds its own pin
	c.Lock(item)

	source := NewLockedSource(c, item, NewMemorySource([]byte("abc")))
	assert.Equal(t, 2, item.GetLockCount())

	sink := NewBufferSink(source, nil)
	sink.Start()
	assert.True(t, sink.IsDone())
	assert.Equal(t, 1, item.GetLockCount())

	source.Close()
	assert.Equal(t, 1, item.GetLockCount())

	c.Unlock(item)
	assert.Equal(t, 0, item.GetLockCount())
}
