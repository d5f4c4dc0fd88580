package util

import "strconv"

// ParseUintParam 解析路径参数为 uint
func ParseUintParam(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

func UintPtr(v uint) *uint    { return &v }
func BoolPtr(v bool) *bool    { return &v }
func IntPtr(v int) *int       { return &v }
func StrPtr(s string) *string { return &s }
