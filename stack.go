package bindb

// stack holds node ids, used for the root-to-node path of a cursor.
type stack struct {
	list []uint64
}

func (s *stack) push(id uint64) {
	s.list = append(s.list, id)
}

func (s *stack) pop() (uint64, bool) {
	if len(s.list) == 0 {
		return 0, false
	}
	v := s.list[len(s.list)-1]
	s.list = s.list[:len(s.list)-1]
	return v, true
}

func (s *stack) peek() (uint64, bool) {
	if len(s.list) == 0 {
		return 0, false
	}
	return s.list[len(s.list)-1], true
}

func (s *stack) len() int {
	return len(s.list)
}

func (s *stack) truncate(n int) {
	s.list = s.list[:n]
}

func (s *stack) reset() {
	s.list = s.list[:0]
}
