package session

// activityHeap is a min-heap of records on LastActivity, giving the
// eviction sweep sub-linear access to the stalest sessions instead of a
// full cache scan.
type activityHeap []*Record

func (h activityHeap) Len() int { return len(h) }

func (h activityHeap) Less(i, j int) bool {
	return h[i].LastActivity.Before(h[j].LastActivity)
}

func (h activityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *activityHeap) Push(x interface{}) {
	rec := x.(*Record)
	rec.heapIndex = len(*h)
	*h = append(*h, rec)
}

func (h *activityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	rec.heapIndex = -1
	*h = old[:n-1]
	return rec
}
