package sigchan

// Chan 非阻塞的信号 channel：只通知事件发生，不传数据，多次通知会合并
type Chan struct {
	c chan struct{}
}

func New(bufferSize int) *Chan {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号；缓冲已满时丢弃，返回是否送达
func (c *Chan) Emit() bool {
	select {
	case c.c <- struct{}{}:
		return true
	default:
		return false
	}
}

// Drain 清空未处理的信号
func (c *Chan) Drain() {
	for {
		select {
		case <-c.c:
		default:
			return
		}
	}
}

func (c *Chan) C() <-chan struct{} {
	return c.c
}
