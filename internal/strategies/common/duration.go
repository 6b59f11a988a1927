package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 策略配置里的时长：
// - 字符串按 time.ParseDuration 解析（"4s"、"2500ms"、"1m30s"）
// - 数字按秒解释（`leg2Timeout: 90`）
type Duration struct {
	time.Duration
}

// Seconds 构造辅助（测试和默认值用）
func Seconds(v float64) Duration {
	return Duration{time.Duration(v * float64(time.Second))}
}

func parseDuration(s string, numeric bool) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if numeric {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration seconds %q: %w", s, err)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node: kind=%d value=%q", value.Kind, value.Value)
	}
	var numeric bool
	switch value.Tag {
	case "!!int", "!!float":
		numeric = true
	case "!!str", "!!null":
	default:
		return fmt.Errorf("unsupported duration tag %s (%q)", value.Tag, value.Value)
	}
	if value.Tag == "!!null" {
		d.Duration = 0
		return nil
	}
	v, err := parseDuration(value.Value, numeric)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := parseDuration(str, false)
		if err != nil {
			return err
		}
		d.Duration = v
		return nil
	}
	v, err := parseDuration(s, true)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}
