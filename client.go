package kefexcan

// ClientHandle identifies a client registered with a Dispatcher.
type ClientHandle uint32

// dispatchClient is one subscriber of a Dispatcher. The queue is a ring
// buffer of fixed capacity, only touched while holding the dispatcher lock.
type dispatchClient struct {
	handle   ClientHandle
	filter   RxFilter
	queue    []RxFrame
	head     int
	count    int
	overflow bool
	dropped  uint64
}

func newDispatchClient(handle ClientHandle, filter RxFilter, size int) *dispatchClient {
	return &dispatchClient{
		handle: handle,
		filter: filter,
		queue:  make([]RxFrame, size),
	}
}

// push queues f, a full queue drops f and sets the sticky overflow flag.
func (c *dispatchClient) push(f RxFrame) bool {
	if c.count == len(c.queue) {
		c.overflow = true
		c.dropped++
		return false
	}
	c.queue[(c.head+c.count)%len(c.queue)] = f
	c.count++
	return true
}

func (c *dispatchClient) pop() (RxFrame, bool) {
	if c.count == 0 {
		return RxFrame{}, false
	}
	f := c.queue[c.head]
	c.queue[c.head] = RxFrame{}
	c.head = (c.head + 1) % len(c.queue)
	c.count--
	return f, true
}

func (c *dispatchClient) clear() {
	for i := range c.queue {
		c.queue[i] = RxFrame{}
	}
	c.head = 0
	c.count = 0
}
