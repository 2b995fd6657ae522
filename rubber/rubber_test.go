package rubber

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCapacity int = 1024 * 1024
)

func TestRubber(t *testing.T) {
	t.Run("test AddReadWrite", testAddReadWrite)
	t.Run("test QuartersAndCompress", testQuartersAndCompress)
	t.Run("test Shrink", testShrink)
	t.Run("test ShrinkWholeArena", testShrinkWholeArena)
	t.Run("test SlotExhaustion", testSlotExhaustion)
	t.Run("test OversizedAdd", testOversizedAdd)
	t.Run("test SlotReuseIsFirstFit", testSlotReuseIsFirstFit)
	t.Run("test HoleReuse", testHoleReuse)
	t.Run("test NettoBrutto", testNettoBrutto)
	t.Run("test InvalidID", testInvalidID)
	t.Run("test InvalidConfig", testInvalidConfig)
	t.Run("test RandomOperations", testRandomOperations)
}

func fillPattern(buffer []byte, seed byte) {
	for i := range buffer {
		buffer[i] = seed + byte(i*7)
	}
}

func makePattern(size int, seed byte) []byte {
	buffer := make([]byte, size)
	fillPattern(buffer, seed)
	return buffer
}

func testAddReadWrite(t *testing.T) {
	rubber, err := NewRubber(testCapacity)
	require.NoError(t, err)
	defer rubber.Release()

	id, err := rubber.Add(100)
	require.NoError(t, err)
	assert.NotEqual(t, NoID, id)
	assert.Equal(t, 100, rubber.Size(id))

	fillPattern(rubber.Write(id), 3)
	assert.Equal(t, makePattern(100, 3), rubber.Read(id))
	assert.Equal(t, 100, cap(rubber.Read(id)))
	assert.Equal(t, 1, rubber.GetObjectCount())
}

func testQuartersAndCompress(t *testing.T) {
	rubber, err := NewRubber(testCapacity)
	require.NoError(t, err)
	defer rubber.Release()

	quarter := testCapacity / 4
	ids := []ID{}
	for i := 0; i < 4; i++ {
		id, err := rubber.Add(quarter)
		require.NoError(t, err)
		fillPattern(rubber.Write(id), byte(i+1))
		ids = append(ids, id)
	}

	id, err := rubber.Add(1)
	assert.Equal(t, NoID, id)
	assert.True(t, errors.Is(err, ErrAllocationExhausted))
	assert.True(t, errors.Is(err, ErrNoSpace))

	// non-adjacent
	rubber.Remove(ids[0])
	rubber.Remove(ids[2])

	// holes are too small until compressed
	id, err = rubber.Add(testCapacity / 2)
	assert.Equal(t, NoID, id)
	assert.Error(t, err)

	rubber.Compress()

	id, err = rubber.Add(testCapacity / 2)
	require.NoError(t, err)
	assert.NotEqual(t, NoID, id)

	assert.Equal(t, makePattern(quarter, 2), rubber.Read(ids[1]))
	assert.Equal(t, makePattern(quarter, 4), rubber.Read(ids[3]))
}

func testShrink(t *testing.T) {
	rubber, err := NewRubber(testCapacity)
	require.NoError(t, err)
	defer rubber.Release()

	first, err := rubber.Add(4096)
	require.NoError(t, err)
	fillPattern(rubber.Write(first), 9)

	second, err := rubber.Add(512)
	require.NoError(t, err)
	fillPattern(rubber.Write(second), 11)

	nettoBefore := rubber.GetNettoSize()
	bruttoBefore := rubber.GetBruttoSize()

	rubber.Shrink(first, 1000)
	assert.Equal(t, 1000, rubber.Size(first))
	assert.Equal(t, makePattern(4096, 9)[:1000], rubber.Read(first))
	assert.Equal(t, nettoBefore-3096, rubber.GetNettoSize())
	// in place, the freed part is a hole until compressed
	assert.Equal(t, bruttoBefore, rubber.GetBruttoSize())
	assert.True(t, rubber.GetFragmentation() > 0)

	rubber.Compress()
	assert.Equal(t, int64(0), rubber.GetFragmentation())
	assert.Equal(t, makePattern(4096, 9)[:1000], rubber.Read(first))
	assert.Equal(t, makePattern(512, 11), rubber.Read(second))
	assert.True(t, rubber.GetBruttoSize() < bruttoBefore)

	assert.Panics(t, func() {
		rubber.Shrink(first, 2000)
	})
}

func testShrinkWholeArena(t *testing.T) {
	rubber, err := NewRubber(4096)
	require.NoError(t, err)
	defer rubber.Release()

	id, err := rubber.Add(4096)
	require.NoError(t, err)

	_, err = rubber.Add(1)
	assert.Error(t, err)

	rubber.Shrink(id, 1024)

	other, err := rubber.Add(3072)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	assert.Equal(t, int64(4096), rubber.GetNettoSize())
}

func testSlotExhaustion(t *testing.T) {
	rubber, err := NewRubberWithConfig(&Config{
		Capacity:   64 * 1024 * 1024,
		MaxObjects: 8,
	})
	require.NoError(t, err)
	defer rubber.Release()

	ids := []ID{}
	for i := 0; i < 8; i++ {
		id, err := rubber.Add(16)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	id, err := rubber.Add(16)
	assert.Equal(t, NoID, id)
	assert.True(t, errors.Is(err, ErrAllocationExhausted))
	assert.True(t, errors.Is(err, ErrNoSlot))
	assert.False(t, errors.Is(err, ErrNoSpace))

	// plenty of bytes remain
	assert.True(t, int64(rubber.GetCapacity())-rubber.GetBruttoSize() > 60*1024*1024)

	rubber.Remove(ids[4])

	id, err = rubber.Add(1024 * 1024)
	require.NoError(t, err)
	assert.Equal(t, ids[4], id)
}

func testOversizedAdd(t *testing.T) {
	rubber, err := NewRubber(4096)
	require.NoError(t, err)
	defer rubber.Release()

	for _, size := range []int{4097, math.MaxInt32, math.MaxInt - 3, math.MaxInt} {
		id, err := rubber.Add(size)
		assert.Equal(t, NoID, id)
		assert.True(t, errors.Is(err, ErrNoSpace))
	}

	assert.Equal(t, 0, rubber.GetObjectCount())
	assert.Equal(t, int64(0), rubber.GetNettoSize())
	assert.Equal(t, int64(0), rubber.GetBruttoSize())

	// the whole capacity is still available
	id, err := rubber.Add(4096)
	require.NoError(t, err)
	assert.Len(t, rubber.Read(id), 4096)
	assert.Equal(t, int64(4096), rubber.GetBruttoSize())
}

func testSlotReuseIsFirstFit(t *testing.T) {
	rubber, err := NewRubber(testCapacity)
	require.NoError(t, err)
	defer rubber.Release()

	ids := []ID{}
	for i := 0; i < 6; i++ {
		id, err := rubber.Add(32)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	rubber.Remove(ids[4])
	rubber.Remove(ids[1])
	rubber.Compress()

	id, err := rubber.Add(32)
	require.NoError(t, err)
	assert.Equal(t, ids[1], id)

	id, err = rubber.Add(32)
	require.NoError(t, err)
	assert.Equal(t, ids[4], id)

	id, err = rubber.Add(32)
	require.NoError(t, err)
	assert.Equal(t, ids[5]+1, id)
}

func testHoleReuse(t *testing.T) {
	rubber, err := NewRubber(testCapacity)
	require.NoError(t, err)
	defer rubber.Release()

	first, err := rubber.Add(1024)
	require.NoError(t, err)
	second, err := rubber.Add(1024)
	require.NoError(t, err)
	fillPattern(rubber.Write(second), 5)

	bruttoBefore := rubber.GetBruttoSize()
	rubber.Remove(first)

	third, err := rubber.Add(512)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Equal(t, bruttoBefore, rubber.GetBruttoSize())
	assert.Equal(t, makePattern(1024, 5), rubber.Read(second))
}

func testNettoBrutto(t *testing.T) {
	rubber, err := NewRubber(testCapacity)
	require.NoError(t, err)
	defer rubber.Release()

	ids := []ID{}
	for i := 0; i < 10; i++ {
		id, err := rubber.Add(Alignment * (i + 1))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	assert.Equal(t, int64(Alignment*55), rubber.GetNettoSize())
	assert.Equal(t, rubber.GetNettoSize(), rubber.GetBruttoSize())

	rubber.Remove(ids[2])
	rubber.Remove(ids[5])
	assert.True(t, rubber.GetBruttoSize() > rubber.GetNettoSize())

	rubber.Compress()
	assert.Equal(t, rubber.GetNettoSize(), rubber.GetBruttoSize())

	// removing the last allocation gives the space back to the tail
	rubber.Remove(ids[9])
	assert.Equal(t, rubber.GetNettoSize(), rubber.GetBruttoSize())
}

func testInvalidID(t *testing.T) {
	rubber, err := NewRubber(testCapacity)
	require.NoError(t, err)
	defer rubber.Release()

	id, err := rubber.Add(10)
	require.NoError(t, err)
	rubber.Remove(id)

	assert.Panics(t, func() { rubber.Read(id) })
	assert.Panics(t, func() { rubber.Write(id) })
	assert.Panics(t, func() { rubber.Remove(id) })
	assert.Panics(t, func() { rubber.Read(NoID) })
	assert.Panics(t, func() { rubber.Read(ID(12345)) })
}

func testInvalidConfig(t *testing.T) {
	_, err := NewRubber(0)
	assert.Error(t, err)

	_, err = NewRubberWithConfig(&Config{Capacity: 1024, MaxObjects: 0})
	assert.Error(t, err)

	rubber, err := NewRubber(1000)
	require.NoError(t, err)
	assert.Equal(t, 1008, rubber.GetCapacity())
}

type rubberOperation struct {
	Kind uint8
	Size uint16
	Pick uint16
}

func testRandomOperations(t *testing.T) {
	rubber, err := NewRubberWithConfig(&Config{
		Capacity:   256 * 1024,
		MaxObjects: 128,
	})
	require.NoError(t, err)
	defer rubber.Release()

	operations := []rubberOperation{}
	fuzzer := fuzz.New().NilChance(0).NumElements(500, 1000).RandSource(rand.NewSource(42))
	fuzzer.Fuzz(&operations)

	model := map[ID][]byte{}
	live := []ID{}

	pick := func(op rubberOperation) (ID, int) {
		i := int(op.Pick) % len(live)
		return live[i], i
	}

	for n, op := range operations {
		switch op.Kind % 4 {
		case 0:
			size := int(op.Size) % 8192
			id, err := rubber.Add(size)
			if err != nil {
				assert.True(t, errors.Is(err, ErrAllocationExhausted))
				continue
			}

			_, exists := model[id]
			require.False(t, exists, "id %d handed out twice", id)

			content := makePattern(size, byte(n))
			copy(rubber.Write(id), content)
			model[id] = content
			live = append(live, id)
		case 1:
			if len(live) == 0 {
				continue
			}
			id, i := pick(op)
			rubber.Remove(id)
			delete(model, id)
			live = append(live[:i], live[i+1:]...)
		case 2:
			if len(live) == 0 {
				continue
			}
			id, _ := pick(op)
			newSize := 0
			if len(model[id]) > 0 {
				newSize = int(op.Size) % len(model[id])
			}
			rubber.Shrink(id, newSize)
			model[id] = model[id][:newSize]
		case 3:
			rubber.Compress()
		}

		var netto int64
		for id, content := range model {
			netto += int64(len(content))
			require.True(t, bytes.Equal(content, rubber.Read(id)), "content of %d differs after operation %d", id, n)
		}
		require.Equal(t, netto, rubber.GetNettoSize())
		require.True(t, rubber.GetBruttoSize() >= rubber.GetNettoSize())
		require.Equal(t, len(model), rubber.GetObjectCount())
	}
}
