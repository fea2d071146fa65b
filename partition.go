package parallelize

import "fmt"

// Batch is a contiguous slice of a collection which is run concurrently.
// Offset is the collection index of the first unit.
type Batch struct {
	Index  int
	Offset int
	Units  []Unit
}

// Partition splits units into consecutive batches of the given size. The last
// batch may be smaller. The concatenation of the batches equals units.
func Partition(units []Unit, size int) ([]Batch, error) {
	chunks, err := chunk(units, size)
	if err != nil {
		return nil, err
	}
	batches := make([]Batch, len(chunks))
	offset := 0
	for i, c := range chunks {
		batches[i] = Batch{Index: i, Offset: offset, Units: c}
		offset += len(c)
	}
	return batches, nil
}

func chunk[T any](items []T, size int) ([][]T, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfiguration, size)
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks, nil
}
