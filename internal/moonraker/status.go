package moonraker

// Float extracts a numeric field from one object's status entry. Moonraker
// serializes all numbers as JSON numbers, decoded by encoding/json as
// float64 regardless of source precision.
func (s Status) Float(object, field string) (float64, bool) {
	obj, ok := s[object]
	if !ok {
		return 0, false
	}
	v, ok := obj[field]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Bool extracts a boolean field from one object's status entry.
func (s Status) Bool(object, field string) (bool, bool) {
	obj, ok := s[object]
	if !ok {
		return false, false
	}
	v, ok := obj[field]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// ColorData extracts the "color_data" field of an LED object as a slice of
// [r,g,b] triples.
func (s Status) ColorData(object string) ([][3]float64, bool) {
	obj, ok := s[object]
	if !ok {
		return nil, false
	}
	raw, ok := obj["color_data"].([]interface{})
	if !ok {
		return nil, false
	}
	out := make([][3]float64, 0, len(raw))
	for _, entry := range raw {
		triple, ok := entry.([]interface{})
		if !ok || len(triple) < 3 {
			continue
		}
		var rgb [3]float64
		for i := 0; i < 3; i++ {
			f, ok := triple[i].(float64)
			if !ok {
				continue
			}
			rgb[i] = f
		}
		out = append(out, rgb)
	}
	return out, true
}
