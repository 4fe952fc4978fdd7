// This file implements LFU eviction.

package eviction

import "container/list"

type lfuEntry struct {
	key  string
	freq int
}

/*
lfu drops the key read the fewest times. Keys with the same count sit in one
bucket, front = most recently touched, so ties go to the oldest.
*/
type lfu struct {
	items   map[string]*list.Element
	buckets map[int]*list.List

	// minFreq may be stale after Remove; Evict recomputes it then.
	minFreq int
}

func newLFU() *lfu {
	return &lfu{
		items:   make(map[string]*list.Element),
		buckets: make(map[int]*list.List),
	}
}

func (l *lfu) OnGet(k string) {
	el, ok := l.items[k]
	if !ok {
		return
	}
	e := l.unlink(el)
	e.freq++
	l.items[k] = l.bucket(e.freq).PushFront(e)
}

// OnPut tracks a new key with count 1. Overwrites keep their count.
func (l *lfu) OnPut(k string) {
	if _, ok := l.items[k]; ok {
		return
	}
	l.items[k] = l.bucket(1).PushFront(&lfuEntry{key: k, freq: 1})
	l.minFreq = 1
}

func (l *lfu) Remove(k string) {
	if el, ok := l.items[k]; ok {
		l.unlink(el)
		delete(l.items, k)
	}
}

func (l *lfu) Evict() string {
	if len(l.items) == 0 {
		return ""
	}
	b, ok := l.buckets[l.minFreq]
	if !ok {
		l.minFreq = l.lowest()
		b = l.buckets[l.minFreq]
	}
	e := l.unlink(b.Back())
	delete(l.items, e.key)
	return e.key
}

func (l *lfu) Len() int {
	return len(l.items)
}

func (l *lfu) bucket(freq int) *list.List {
	b, ok := l.buckets[freq]
	if !ok {
		b = list.New()
		l.buckets[freq] = b
	}
	return b
}

// unlink takes el out of its bucket and drops the bucket once empty.
func (l *lfu) unlink(el *list.Element) *lfuEntry {
	e := el.Value.(*lfuEntry)
	b := l.buckets[e.freq]
	b.Remove(el)
	if b.Len() == 0 {
		delete(l.buckets, e.freq)
		if l.minFreq == e.freq {
			l.minFreq++
		}
	}
	return e
}

func (l *lfu) lowest() int {
	lowest := 0
	for f := range l.buckets {
		if lowest == 0 || f < lowest {
			lowest = f
		}
	}
	return lowest
}
