// This file implements LRU and FIFO eviction on one ordered list.

package eviction

import "container/list"

/*
ordered keeps keys in a list, front = newest, back = the next victim.

LRU and FIFO differ only in whether a read moves a key back to the front.
*/
type ordered struct {
	items       map[string]*list.Element
	order       *list.List
	promoteRead bool
}

func newOrdered(promoteRead bool) *ordered {
	return &ordered{
		items:       make(map[string]*list.Element),
		order:       list.New(),
		promoteRead: promoteRead,
	}
}

func (o *ordered) OnGet(k string) {
	if !o.promoteRead {
		return
	}
	if el, ok := o.items[k]; ok {
		o.order.MoveToFront(el)
	}
}

// OnPut tracks a new key. An overwrite counts as use for LRU only.
func (o *ordered) OnPut(k string) {
	if el, ok := o.items[k]; ok {
		if o.promoteRead {
			o.order.MoveToFront(el)
		}
		return
	}
	o.items[k] = o.order.PushFront(k)
}

func (o *ordered) Remove(k string) {
	if el, ok := o.items[k]; ok {
		o.order.Remove(el)
		delete(o.items, k)
	}
}

func (o *ordered) Evict() string {
	el := o.order.Back()
	if el == nil {
		return ""
	}
	k := el.Value.(string)
	o.order.Remove(el)
	delete(o.items, k)
	return k
}

func (o *ordered) Len() int {
	return o.order.Len()
}
