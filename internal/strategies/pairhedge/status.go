package pairhedge

import "fmt"

// Status 单个市场仓位的状态
type Status int

const (
	StatusScanning Status = iota
	StatusArbLocked
	StatusExiting
	StatusPartialUnwind
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusScanning:
		return "Scanning"
	case StatusArbLocked:
		return "ArbLocked"
	case StatusExiting:
		return "Exiting"
	case StatusPartialUnwind:
		return "PartialUnwind"
	case StatusComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for st := StatusScanning; st <= StatusComplete; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// transitions 合法边；Complete 为吸收态，任何非 Complete 都可以到 Complete
var transitions = map[Status][]Status{
	StatusScanning:      {StatusArbLocked, StatusExiting, StatusPartialUnwind},
	StatusArbLocked:     {StatusExiting, StatusPartialUnwind},
	StatusExiting:       {StatusScanning, StatusArbLocked},
	StatusPartialUnwind: {StatusScanning, StatusArbLocked},
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to Status) bool {
	if from == StatusComplete {
		return false
	}
	if to == StatusComplete {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// exitable 退出瀑布可以运行的状态
func (s Status) exitable() bool {
	return s == StatusScanning || s == StatusArbLocked
}
