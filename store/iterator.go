package store

import (
	"github.com/iov-one/gkel/errors"
)

// sliceIterator iterates over a snapshot of models. Taking a snapshot
// releases any store lock before the caller starts consuming the data.
type sliceIterator struct {
	data []Model
	idx  int
}

var _ Iterator = (*sliceIterator)(nil)

func newSliceIterator(data []Model) *sliceIterator {
	return &sliceIterator{data: data}
}

func (s *sliceIterator) Next() ([]byte, []byte, error) {
	if s.idx >= len(s.data) {
		return nil, nil, errors.ErrIteratorDone
	}
	m := s.data[s.idx]
	s.idx++
	return m.Key, m.Value, nil
}

func (s *sliceIterator) Release() {
	s.data = nil
}

// reversed returns models in the opposite order.
func reversed(data []Model) []Model {
	for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
		data[i], data[j] = data[j], data[i]
	}
	return data
}

// ReadAll consumes given iterator and returns all models it produced. The
// iterator is released.
func ReadAll(it Iterator) ([]Model, error) {
	defer it.Release()
	var res []Model
	for {
		k, v, err := it.Next()
		if errors.ErrIteratorDone.Is(err) {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		res = append(res, Model{Key: k, Value: v})
	}
}
