package ir

import (
	"fmt"
	"sync/atomic"
)

// validity caches the outcome of Validate until the owning level is mutated.
// 0 = unknown, 1 = valid, 2 = invalid.
type validity struct {
	state atomic.Uint32
}

func (v *validity) reset() { v.state.Store(0) }

func (v *validity) check(validate func() error) bool {
	switch v.state.Load() {
	case 1:
		return true
	case 2:
		return false
	}
	if validate() != nil {
		v.state.Store(2)
		return false
	}
	v.state.Store(1)
	return true
}

// Structured-form keys shared by all levels.
const (
	keyLevel    = "level"
	keyMetadata = "metadata"
)

func checkLevel(obj IRObject, want Level) error {
	if obj == nil {
		return fmt.Errorf("%s: nil structured form", want)
	}
	raw, ok := obj[keyLevel]
	if !ok {
		return nil
	}
	got, ok := raw.(IRString)
	if !ok || Level(got) != want {
		return fmt.Errorf("structured form is %v, expected %s", raw, want)
	}
	return nil
}

func getString(obj IRObject, key string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", nil
	}
	s, ok := raw.(IRString)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, raw)
	}
	return string(s), nil
}

func getObject(obj IRObject, key string) (IRObject, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, nil
	}
	switch o := raw.(type) {
	case IRObject:
		if len(o) == 0 {
			return nil, nil
		}
		return o.Clone(), nil
	case IRNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("field %q: expected object, got %T", key, raw)
	}
}

func getFloat(obj IRObject, key string) (float64, bool, error) {
	raw, ok := obj[key]
	if !ok {
		return 0, false, nil
	}
	f, ok := AsFloat(raw)
	if !ok {
		return 0, false, fmt.Errorf("field %q: expected number, got %T", key, raw)
	}
	return f, true, nil
}

func getStrings(obj IRObject, key string) ([]string, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, nil
	}
	arr, ok := raw.(IRArray)
	if !ok {
		return nil, fmt.Errorf("field %q: expected array, got %T", key, raw)
	}
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, ok := e.(IRString)
		if !ok {
			return nil, fmt.Errorf("field %q[%d]: expected string, got %T", key, i, e)
		}
		out[i] = string(s)
	}
	return out, nil
}

func putMetadata(obj IRObject, md IRObject) {
	if len(md) > 0 {
		obj[keyMetadata] = md.Clone()
	}
}

// FromStrings converts a string slice to an IRArray of IRString.
func FromStrings(ss []string) IRArray {
	arr := make(IRArray, len(ss))
	for i, s := range ss {
		arr[i] = IRString(s)
	}
	return arr
}
