package io

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestTee(t *testing.T) {
	t.Run("test IdenticalBytes", testTeeIdenticalBytes)
	t.Run("test IndependentProgress", testTeeIndependentProgress)
	t.Run("test StrongCloseAbortsWeak", testTeeStrongCloseAbortsWeak)
	t.Run("test WeakCloseKeepsStrong", testTeeWeakCloseKeepsStrong)
	t.Run("test InputError", testTeeInputError)
	t.Run("test CloseBoth", testTeeCloseBoth)
	t.Run("test EOFBeforeHandler", testTeeEOFBeforeHandler)
}

func testTeeIdenticalBytes(t *testing.T) {
	data := makeTestData(10000)
	tee := NewTee(NewMemorySource(data), false, true)

	first := NewBufferSink(tee.GetFirst(), nil)
	first.SetChunkLimit(333)
	second := NewBufferSink(tee.GetSecond(), nil)

	assert.Equal(t, int64(10000), tee.GetFirst().GetAvailable(false))

	second.Start()
	// the fast branch got everything the input offered
	assert.Equal(t, 10000, second.GetSize())
	assert.False(t, second.IsDone())
	assert.Equal(t, int64(0), tee.GetSecond().GetAvailable(false))
	assert.Equal(t, int64(10000-333), tee.GetFirst().GetAvailable(false))

	readUntilDone(t, first)
	assert.True(t, second.IsDone())

	assert.Equal(t, data, first.GetData())
	assert.Equal(t, data, second.GetData())
	assert.NoError(t, first.GetError())
	assert.NoError(t, second.GetError())
}

func testTeeIndependentProgress(t *testing.T) {
	input := NewFeedSource(-1)
	tee := NewTee(input, false, true)

	first := NewBufferSink(tee.GetFirst(), nil)
	first.SetChunkLimit(1)
	second := NewBufferSink(tee.GetSecond(), nil)
	first.Start()

	input.Feed([]byte("abcdef"))
	assert.Equal(t, "a", string(first.GetData()))
	assert.Equal(t, "abcdef", string(second.GetData()))

	input.Feed([]byte("ghi"))
	assert.Equal(t, "ab", string(first.GetData()))
	assert.Equal(t, "abcdefghi", string(second.GetData()))

	input.Finish()
	readUntilDone(t, first)
	assert.Equal(t, "abcdefghi", string(first.GetData()))
	assert.True(t, second.IsDone())
}

func testTeeStrongCloseAbortsWeak(t *testing.T) {
	input := NewMemorySource(makeTestData(100))
	tee := NewTee(input, false, true)

	first := NewBufferSink(tee.GetFirst(), nil)
	first.SetChunkLimit(10)
	second := NewBufferSink(tee.GetSecond(), nil)
	first.Start()

	first.Cancel()

	assert.True(t, second.IsDone())
	assert.ErrorIs(t, second.GetError(), ErrTeeWeakAbort)
	assert.True(t, input.IsFinished())
}

func testTeeWeakCloseKeepsStrong(t *testing.T) {
	data := makeTestData(100)
	input := NewMemorySource(data)
	tee := NewTee(input, false, true)

	first := NewBufferSink(tee.GetFirst(), nil)
	first.SetChunkLimit(10)
	second := NewBufferSink(tee.GetSecond(), nil)
	second.SetChunkLimit(5)
	first.Start()

	assert.Equal(t, 10, first.GetSize())
	assert.Equal(t, 5, second.GetSize())

	second.Cancel()
	assert.False(t, input.IsFinished())

	readUntilDone(t, first)
	assert.Equal(t, data, first.GetData())
	assert.NoError(t, first.GetError())
}

func testTeeInputError(t *testing.T) {
	input := NewFeedSource(-1)
	tee := NewTee(input, false, true)

	first := NewBufferSink(tee.GetFirst(), nil)
	second := NewBufferSink(tee.GetSecond(), nil)
	first.Start()

	upstreamErr := xerrors.New("upstream broke")
	input.Feed([]byte("partial"))
	input.Fail(upstreamErr)

	require.True(t, first.IsDone())
	require.True(t, second.IsDone())
	assert.ErrorIs(t, first.GetError(), upstreamErr)
	assert.ErrorIs(t, second.GetError(), upstreamErr)
	assert.Equal(t, "partial", string(second.GetData()))
}

func testTeeCloseBoth(t *testing.T) {
	input := NewFeedSource(-1)
	tee := NewTee(input, false, false)

	first := NewBufferSink(tee.GetFirst(), nil)
	second := NewBufferSink(tee.GetSecond(), nil)

	first.Cancel()
	assert.False(t, input.IsFinished())
	assert.False(t, second.IsDone())

	second.Cancel()
	assert.True(t, input.IsFinished())
}

func testTeeEOFBeforeHandler(t *testing.T) {
	tee := NewTee(NewNilSource(), false, true)

	second := NewBufferSink(tee.GetSecond(), nil)
	second.Start()
	assert.True(t, second.IsDone())

	// the first branch had no handler when the input ended
	first := NewBufferSink(tee.GetFirst(), nil)
	assert.False(t, first.IsDone())
	first.Start()
	assert.True(t, first.IsDone())
	assert.NoError(t, first.GetError())
	assert.Empty(t, first.GetData())
}
