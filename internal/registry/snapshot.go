package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// snapshot serializes records as a JSON object whose key order follows
// order, so the file mirrors registry iteration order.
type snapshot struct {
	order   []string
	records map[string]Record
}

func (s snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.records[key])
		if err != nil {
			return nil, fmt.Errorf("encoding %q: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *snapshot) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("registry snapshot must be a JSON object")
	}

	s.order = s.order[:0]
	s.records = make(map[string]Record)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("decoding %q: %w", key, err)
		}
		if _, dup := s.records[key]; !dup {
			s.order = append(s.order, key)
		}
		s.records[key] = rec
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func encodeSnapshot(s snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling registry: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (snapshot, error) {
	var s snapshot
	if len(bytes.TrimSpace(data)) == 0 {
		return snapshot{records: make(map[string]Record)}, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return snapshot{}, fmt.Errorf("parsing registry: %w", err)
	}
	return s, nil
}
