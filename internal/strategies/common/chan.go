package common

// TrySend 非阻塞发送；队列满时返回 false
func TrySend[T any](ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}

// SendLatest 队列满时丢掉最旧的一条再放入 v，保证消费者总能拿到最新值。
// 返回被丢弃的条数（0 或 1）；并发生产者竞争时 v 本身也可能被丢弃。
func SendLatest[T any](ch chan T, v T) int {
	if TrySend(ch, v) {
		return 0
	}
	select {
	case <-ch:
	default:
	}
	TrySend(ch, v)
	return 1
}
