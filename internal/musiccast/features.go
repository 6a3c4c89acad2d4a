package musiccast

import "fmt"

// Pair is a path element for Features.Get meaning "find the array element
// whose field Key equals Value".
type Pair struct {
	Key   string
	Value string
}

// Features is a device's capability tree as returned by getFeatures.
// Built once at device initialization; read-only afterward.
type Features struct {
	tree map[string]any
}

// NewFeatures wraps a decoded getFeatures body.
func NewFeatures(tree map[string]any) *Features {
	return &Features{tree: tree}
}

// Get walks the capability tree along path. A string element descends into
// a map by key; a Pair element searches an array for the element whose
// field Key equals Value.
//
// Error classification follows the shape-vs-absence rule: a node of the
// wrong shape means the device sent a malformed tree (comms error); a
// missing key or unmatched pair means the requested capability does not
// exist (config error).
func (f *Features) Get(path ...any) (any, error) {
	var node any = f.tree
	for _, elem := range path {
		switch key := elem.(type) {
		case string:
			m, ok := node.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: feature node at %q is not an object", ErrComms, key)
			}
			child, ok := m[key]
			if !ok {
				return nil, fmt.Errorf("%w: feature key %q not found", ErrConfig, key)
			}
			node = child
		case Pair:
			list, ok := node.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: feature node at (%s=%s) is not an array", ErrComms, key.Key, key.Value)
			}
			var found any
			for _, item := range list {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%w: feature array element at (%s=%s) is not an object", ErrComms, key.Key, key.Value)
				}
				if v, ok := m[key.Key].(string); ok && v == key.Value {
					found = item
					break
				}
			}
			if found == nil {
				return nil, fmt.Errorf("%w: no feature element with %s=%s", ErrConfig, key.Key, key.Value)
			}
			node = found
		default:
			return nil, fmt.Errorf("%w: unsupported feature path element %T", ErrConfig, elem)
		}
	}
	return node, nil
}

// GetString returns the string at path.
func (f *Features) GetString(path ...any) (string, error) {
	v, err := f.Get(path...)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: feature value is %T, want string", ErrComms, v)
	}
	return s, nil
}

// GetInt returns the integer at path. JSON numbers decode as float64;
// both shapes are accepted.
func (f *Features) GetInt(path ...any) (int, error) {
	v, err := f.Get(path...)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("%w: feature value is %T, want number", ErrComms, v)
	}
}

// GetList returns the array at path.
func (f *Features) GetList(path ...any) ([]any, error) {
	v, err := f.Get(path...)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: feature value is %T, want array", ErrComms, v)
	}
	return list, nil
}

// GetStringList returns the array of strings at path.
func (f *Features) GetStringList(path ...any) ([]string, error) {
	list, err := f.GetList(path...)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: feature list element is %T, want string", ErrComms, item)
		}
		out = append(out, s)
	}
	return out, nil
}
