package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

func argString(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k]; ok && v != nil {
			switch s := v.(type) {
			case string:
				return strings.TrimSpace(s)
			default:
				return strings.TrimSpace(fmt.Sprint(s))
			}
		}
	}
	return ""
}

func argInt(args map[string]any, key string) (int, bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, true, fmt.Errorf("%s must be a whole number", key)
		}
		return int(n), true, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, true, fmt.Errorf("%s must be a number", key)
		}
		return i, true, nil
	}
	return 0, true, fmt.Errorf("%s must be a number", key)
}
