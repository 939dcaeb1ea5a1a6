package pathfind

// openSet is a binary min-heap of pool indexes ordered by f, then h, then
// insertion sequence. Hand-rolled so pushes never box into interfaces.
type openSet struct {
	items []int32
	pool  *pool
}

func (o *openSet) len() int { return len(o.items) }

func (o *openSet) reset() { o.items = o.items[:0] }

func (o *openSet) less(i, j int) bool {
	a, b := o.pool.at(o.items[i]), o.pool.at(o.items[j])
	if af, bf := a.f(), b.f(); af != bf {
		return af < bf
	}
	if a.h != b.h {
		return a.h < b.h
	}
	return a.seq < b.seq
}

func (o *openSet) swap(i, j int) {
	o.items[i], o.items[j] = o.items[j], o.items[i]
	o.pool.at(o.items[i]).heapIdx = int32(i)
	o.pool.at(o.items[j]).heapIdx = int32(j)
}

func (o *openSet) push(idx int32) {
	o.pool.at(idx).heapIdx = int32(len(o.items))
	o.items = append(o.items, idx)
	o.up(len(o.items) - 1)
}

func (o *openSet) pop() int32 {
	last := len(o.items) - 1
	o.swap(0, last)
	idx := o.items[last]
	o.items = o.items[:last]
	o.pool.at(idx).heapIdx = -1
	if last > 0 {
		o.down(0)
	}
	return idx
}

// fix restores order after the node at idx had its cost lowered.
func (o *openSet) fix(idx int32) {
	i := int(o.pool.at(idx).heapIdx)
	if i < 0 {
		return
	}
	o.up(i)
}

func (o *openSet) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !o.less(i, parent) {
			return
		}
		o.swap(i, parent)
		i = parent
	}
}

func (o *openSet) down(i int) {
	n := len(o.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		smallest := l
		if r := l + 1; r < n && o.less(r, l) {
			smallest = r
		}
		if !o.less(smallest, i) {
			return
		}
		o.swap(i, smallest)
		i = smallest
	}
}
