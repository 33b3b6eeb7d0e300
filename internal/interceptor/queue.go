package interceptor

// Queue 全局的延迟发送队列。闭包执行时直接调用传输层发送，不再检查阻塞状态。
type Queue struct {
	items []func()
}

func (q *Queue) push(fn func()) {
	q.items = append(q.items, fn)
}

// Len 当前排队数量
func (q *Queue) Len() int { return len(q.items) }

// drain 按 FIFO 执行直到队列为空；执行过程中追加的闭包在同一轮内被消费
func (q *Queue) drain() int {
	n := 0
	for len(q.items) > 0 {
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		fn()
		n++
	}
	return n
}

func (q *Queue) reset() {
	q.items = nil
}
