package interceptor

// eventBuffer 请求处于拦截窗口时暂存的 load 通知。
// closed 的缓冲表示本轮响应已被丢弃，之后到达的通知直接丢掉，直到下一次 Opened
type eventBuffer struct {
	fns    []func()
	closed bool
}

func (b *eventBuffer) push(fn func()) {
	if b.closed {
		return
	}
	b.fns = append(b.fns, fn)
}

// flush relay 为 true 时按到达顺序重放，否则全部丢弃
func (b *eventBuffer) flush(relay bool) int {
	n := 0
	for len(b.fns) > 0 {
		fn := b.fns[0]
		b.fns = b.fns[1:]
		if relay {
			fn()
		}
		n++
	}
	return n
}
