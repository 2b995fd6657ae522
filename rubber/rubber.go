package rubber

import (
	"errors"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	// Alignment is the granularity of reserved arena space
	Alignment int = 16

	bytesPerObject    int = 1024
	minDefaultObjects int = 64
	maxDefaultObjects int = 1 << 20
)

var (
	// ErrAllocationExhausted is wrapped by every Add failure. It is recoverable.
	ErrAllocationExhausted = errors.New("rubber allocation exhausted")
	// ErrNoSpace is returned when the byte budget can not hold the allocation
	ErrNoSpace = xerrors.Errorf("no space left in arena: %w", ErrAllocationExhausted)
	// ErrNoSlot is returned when all object slots are in use, regardless of free bytes
	ErrNoSlot = xerrors.Errorf("no free object slot: %w", ErrAllocationExhausted)
)

// ID is an opaque handle of an allocation. IDs stay stable across Compress.
type ID uint32

// NoID is the reserved "no allocation" id
const NoID ID = 0

// Config holds the arena dimensions
type Config struct {
	Capacity   int `yaml:"capacity"`
	MaxObjects int `yaml:"max_objects"`
}

// NewDefaultConfig creates a Config for the given capacity with a derived object limit
func NewDefaultConfig(capacity int) *Config {
	maxObjects := capacity / bytesPerObject
	if maxObjects < minDefaultObjects {
		maxObjects = minDefaultObjects
	}
	if maxObjects > maxDefaultObjects {
		maxObjects = maxDefaultObjects
	}

	return &Config{
		Capacity:   capacity,
		MaxObjects: maxObjects,
	}
}

// Validate validates the config
func (config *Config) Validate() error {
	if config.Capacity <= 0 {
		return xerrors.Errorf("invalid rubber capacity %d", config.Capacity)
	}

	if config.MaxObjects <= 0 {
		return xerrors.Errorf("invalid rubber object limit %d", config.MaxObjects)
	}

	if uint64(config.MaxObjects) >= uint64(^ID(0)) {
		return xerrors.Errorf("rubber object limit %d exceeds id range", config.MaxObjects)
	}
	return nil
}

type object struct {
	offset int
	size   int
	span   int // reserved, aligned length
	live   bool
}

type hole struct {
	offset int
	size   int
}

// Rubber stores variable-sized blobs in one pre-sized region, addressed by ID.
// It is owned by exactly one goroutine and provides no locking.
type Rubber struct {
	data       []byte
	capacity   int
	maxObjects int

	objects   []object // index is the ID, slot 0 is never used
	firstFree int      // lowest slot that may be free
	count     int

	holes []hole // sorted by offset, below tail
	tail  int
	netto int
}

// NewRubber creates a new Rubber with a default object limit
func NewRubber(capacity int) (*Rubber, error) {
	return NewRubberWithConfig(NewDefaultConfig(capacity))
}

// NewRubberWithConfig creates a new Rubber
func NewRubberWithConfig(config *Config) (*Rubber, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	capacity := alignUp(config.Capacity)

	return &Rubber{
		data:       make([]byte, capacity),
		capacity:   capacity,
		maxObjects: config.MaxObjects,

		objects:   make([]object, 1, minInt(config.MaxObjects+1, minDefaultObjects)),
		firstFree: 1,
		count:     0,

		holes: []hole{},
		tail:  0,
		netto: 0,
	}, nil
}

// Release releases the arena. All ids become invalid.
func (rubber *Rubber) Release() {
	rubber.data = nil
	rubber.capacity = 0
	rubber.objects = []object{{}}
	rubber.holes = []hole{}
	rubber.firstFree = 1
	rubber.count = 0
	rubber.tail = 0
	rubber.netto = 0
}

// GetCapacity returns the arena size in bytes
func (rubber *Rubber) GetCapacity() int {
	return rubber.capacity
}

// GetMaxObjects returns the number of object slots
func (rubber *Rubber) GetMaxObjects() int {
	return rubber.maxObjects
}

// GetObjectCount returns the number of live allocations
func (rubber *Rubber) GetObjectCount() int {
	return rubber.count
}

// GetNettoSize returns the sum of live requested sizes
func (rubber *Rubber) GetNettoSize() int64 {
	return int64(rubber.netto)
}

// GetBruttoSize returns the bytes reserved in the arena, including holes and padding
func (rubber *Rubber) GetBruttoSize() int64 {
	return int64(rubber.tail)
}

// GetFragmentation returns the bytes held by holes, reclaimable by Compress
func (rubber *Rubber) GetFragmentation() int64 {
	total := 0
	for _, h := range rubber.holes {
		total += h.size
	}
	return int64(total)
}

// Add allocates size bytes. Returns NoID and an error wrapping ErrAllocationExhausted
// when either the byte budget or the object slots are exhausted.
func (rubber *Rubber) Add(size int) (ID, error) {
	if size < 0 {
		panic(xerrors.Errorf("negative rubber allocation size %d", size))
	}

	slot, ok := rubber.findSlot()
	if !ok {
		return NoID, xerrors.Errorf("failed to allocate %d bytes, %d objects in use: %w", size, rubber.count, ErrNoSlot)
	}

	// checked before alignment, alignUp overflows for sizes near math.MaxInt
	if size > rubber.capacity {
		return NoID, xerrors.Errorf("failed to allocate %d bytes, larger than capacity %d: %w", size, rubber.capacity, ErrNoSpace)
	}

	span := alignUp(size)
	offset, ok := rubber.reserve(span)
	if !ok {
		return NoID, xerrors.Errorf("failed to allocate %d bytes, brutto %d of %d: %w", size, rubber.tail, rubber.capacity, ErrNoSpace)
	}

	obj := object{
		offset: offset,
		size:   size,
		span:   span,
		live:   true,
	}

	if slot == len(rubber.objects) {
		rubber.objects = append(rubber.objects, obj)
	} else {
		rubber.objects[slot] = obj
	}

	rubber.firstFree = slot + 1
	rubber.count++
	rubber.netto += size
	return ID(slot), nil
}

// Size returns the current size of the allocation
func (rubber *Rubber) Size(id ID) int {
	return rubber.get(id).size
}

// Read returns a read view over the allocation. The view is invalidated by Compress.
func (rubber *Rubber) Read(id ID) []byte {
	obj := rubber.get(id)
	end := obj.offset + obj.size
	return rubber.data[obj.offset:end:end]
}

// Write returns a writable view over the allocation. The view is invalidated by Compress.
func (rubber *Rubber) Write(id ID) []byte {
	obj := rubber.get(id)
	end := obj.offset + obj.size
	return rubber.data[obj.offset:end:end]
}

// Shrink truncates the allocation in place. The released tail becomes a hole.
func (rubber *Rubber) Shrink(id ID, newSize int) {
	obj := rubber.get(id)
	if newSize < 0 || newSize > obj.size {
		panic(xerrors.Errorf("invalid shrink of rubber object %d from %d to %d bytes", id, obj.size, newSize))
	}

	rubber.netto -= obj.size - newSize
	obj.size = newSize

	newSpan := alignUp(newSize)
	if newSpan < obj.span {
		rubber.addHole(obj.offset+newSpan, obj.span-newSpan)
		obj.span = newSpan
	}
}

// Remove frees the allocation. The id is invalid immediately.
func (rubber *Rubber) Remove(id ID) {
	obj := rubber.get(id)

	rubber.addHole(obj.offset, obj.span)
	rubber.netto -= obj.size
	rubber.count--
	*obj = object{}

	if int(id) < rubber.firstFree {
		rubber.firstFree = int(id)
	}
}

// Compress moves all live allocations to the start of the arena, removing all holes.
// IDs are kept, views obtained before are invalid.
func (rubber *Rubber) Compress() {
	logger := log.WithFields(log.Fields{
		"package":  "rubber",
		"struct":   "Rubber",
		"function": "Compress",
	})

	if len(rubber.holes) == 0 {
		return
	}

	before := rubber.tail

	ids := make([]int, 0, rubber.count)
	for slot := 1; slot < len(rubber.objects); slot++ {
		if rubber.objects[slot].live {
			ids = append(ids, slot)
		}
	}

	sort.Slice(ids, func(i int, j int) bool {
		return rubber.objects[ids[i]].offset < rubber.objects[ids[j]].offset
	})

	cursor := 0
	for _, slot := range ids {
		obj := &rubber.objects[slot]
		if obj.offset != cursor {
			copy(rubber.data[cursor:cursor+obj.size], rubber.data[obj.offset:obj.offset+obj.size])
			obj.offset = cursor
		}
		cursor += obj.span
	}

	rubber.tail = cursor
	rubber.holes = rubber.holes[:0]

	logger.Debugf("compressed rubber from %d to %d bytes, %d objects", before, rubber.tail, len(ids))
}

func (rubber *Rubber) get(id ID) *object {
	if id == NoID || int(id) >= len(rubber.objects) || !rubber.objects[id].live {
		panic(xerrors.Errorf("invalid rubber object id %d", id))
	}
	return &rubber.objects[id]
}

// returns the lowest free slot
func (rubber *Rubber) findSlot() (int, bool) {
	for slot := rubber.firstFree; slot < len(rubber.objects); slot++ {
		if !rubber.objects[slot].live {
			return slot, true
		}
	}

	if len(rubber.objects) <= rubber.maxObjects {
		return len(rubber.objects), true
	}
	return 0, false
}

// first fit over holes, then the tail
func (rubber *Rubber) reserve(span int) (int, bool) {
	for i := range rubber.holes {
		h := &rubber.holes[i]
		if h.size < span {
			continue
		}

		offset := h.offset
		h.offset += span
		h.size -= span
		if h.size == 0 {
			rubber.holes = append(rubber.holes[:i], rubber.holes[i+1:]...)
		}
		return offset, true
	}

	if rubber.tail+span > rubber.capacity {
		return 0, false
	}

	offset := rubber.tail
	rubber.tail += span
	return offset, true
}

// inserts a hole, merges it with neighbours, and gives space at the end back to the tail
func (rubber *Rubber) addHole(offset int, size int) {
	if size == 0 {
		return
	}

	i := sort.Search(len(rubber.holes), func(i int) bool {
		return rubber.holes[i].offset > offset
	})

	rubber.holes = append(rubber.holes, hole{})
	copy(rubber.holes[i+1:], rubber.holes[i:])
	rubber.holes[i] = hole{offset: offset, size: size}

	// merge with next
	if i+1 < len(rubber.holes) && rubber.holes[i].offset+rubber.holes[i].size == rubber.holes[i+1].offset {
		rubber.holes[i].size += rubber.holes[i+1].size
		rubber.holes = append(rubber.holes[:i+1], rubber.holes[i+2:]...)
	}

	// merge with previous
	if i > 0 && rubber.holes[i-1].offset+rubber.holes[i-1].size == rubber.holes[i].offset {
		rubber.holes[i-1].size += rubber.holes[i].size
		rubber.holes = append(rubber.holes[:i], rubber.holes[i+1:]...)
	}

	last := len(rubber.holes) - 1
	if last >= 0 && rubber.holes[last].offset+rubber.holes[last].size == rubber.tail {
		rubber.tail = rubber.holes[last].offset
		rubber.holes = rubber.holes[:last]
	}
}

func alignUp(size int) int {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

func minInt(a int, b int) int {
	if a < b {
		return a
	}
	return b
}
