package configstore

import (
	"fmt"
	"strconv"
)

// The provisioning messages arrive over a 20-byte-MTU link that reassembles
// into small, flat JSON objects. The scanner below handles exactly that
// shape: one object, string keys, string/number/array-of-number values. It
// is strict about the keys it needs (ssid, pass, params) and skips anything
// else, so companion-app additions don't break older devices.
//
// Escape handling is minimal: a backslash copies the following byte
// verbatim. Enough for \" and \\ in passwords; \uXXXX is not supported.

// scanner is a cursor over an immutable message buffer.
type scanner struct {
	data []byte
	pos  int
}

// ParseMessage extracts a DeviceConfig from a provisioning message.
//
// The message must be a JSON object containing at least "ssid" and "pass"
// as strings. An optional "params" key carries a flat array of numbers.
// Unknown keys are skipped without error.
//
// Returns:
//   - DeviceConfig: Parsed credentials and parameters
//   - error: ErrMalformed, ErrMissingSSID, ErrMissingPassword or
//     ErrTooManyParams
func ParseMessage(data []byte) (DeviceConfig, error) {
	var cfg DeviceConfig
	var foundSSID, foundPass bool

	err := scanObject(data, func(s *scanner, key string) error {
		switch key {
		case "ssid":
			v, err := s.parseString()
			if err != nil {
				return err
			}
			cfg.SSID = v
			foundSSID = true
		case "pass":
			v, err := s.parseString()
			if err != nil {
				return err
			}
			cfg.Password = v
			foundPass = true
		case "params":
			v, err := s.parseNumberArray()
			if err != nil {
				return err
			}
			cfg.Params = v
		default:
			return s.skipValue()
		}
		return nil
	})
	if err != nil {
		return DeviceConfig{}, err
	}

	if !foundSSID {
		return DeviceConfig{}, ErrMissingSSID
	}
	if !foundPass {
		return DeviceConfig{}, ErrMissingPassword
	}
	return cfg, nil
}

// Command extracts the "cmd" string from a BLE message.
//
// Returns:
//   - string: The command name
//   - error: ErrMalformed if the message is not an object or carries no cmd
func Command(data []byte) (string, error) {
	var cmd string
	var found bool

	err := scanObject(data, func(s *scanner, key string) error {
		if key != "cmd" {
			return s.skipValue()
		}
		v, err := s.parseString()
		if err != nil {
			return err
		}
		cmd = v
		found = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: no cmd key", ErrMalformed)
	}
	return cmd, nil
}

// scanObject walks the key/value pairs of a single JSON object, calling
// visit with the cursor positioned at each value. visit must consume the
// value completely.
func scanObject(data []byte, visit func(s *scanner, key string) error) error {
	s := &scanner{data: data}

	s.skipSpace()
	if !s.consume('{') {
		return fmt.Errorf("%w: expected object", ErrMalformed)
	}

	s.skipSpace()
	if s.consume('}') {
		return nil
	}

	for {
		s.skipSpace()
		key, err := s.parseString()
		if err != nil {
			return err
		}
		s.skipSpace()
		if !s.consume(':') {
			return fmt.Errorf("%w: expected ':' after %q", ErrMalformed, key)
		}
		s.skipSpace()
		if err := visit(s, key); err != nil {
			return err
		}
		s.skipSpace()
		if s.consume(',') {
			continue
		}
		if s.consume('}') {
			return nil
		}
		return fmt.Errorf("%w: expected ',' or '}'", ErrMalformed)
	}
}

// skipSpace advances past whitespace.
func (s *scanner) skipSpace() {
	for s.pos < len(s.data) {
		switch s.data[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

// consume advances past c if it is the next byte.
func (s *scanner) consume(c byte) bool {
	if s.pos < len(s.data) && s.data[s.pos] == c {
		s.pos++
		return true
	}
	return false
}

// parseString reads a double-quoted string. A backslash copies the next
// byte verbatim.
func (s *scanner) parseString() (string, error) {
	if !s.consume('"') {
		return "", fmt.Errorf("%w: expected string", ErrMalformed)
	}
	var out []byte
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch c {
		case '"':
			s.pos++
			return string(out), nil
		case '\\':
			s.pos++
			if s.pos >= len(s.data) {
				return "", fmt.Errorf("%w: truncated escape", ErrMalformed)
			}
			out = append(out, s.data[s.pos])
			s.pos++
		default:
			out = append(out, c)
			s.pos++
		}
	}
	return "", fmt.Errorf("%w: unclosed string", ErrMalformed)
}

// parseNumber reads a float. Sign, decimal point and exponent are accepted.
func (s *scanner) parseNumber() (float32, error) {
	start := s.pos
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			s.pos++
			continue
		}
		break
	}
	if s.pos == start {
		return 0, fmt.Errorf("%w: expected number", ErrMalformed)
	}
	v, err := strconv.ParseFloat(string(s.data[start:s.pos]), 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrMalformed, s.data[start:s.pos])
	}
	return float32(v), nil
}

// parseNumberArray reads a flat array of numbers, capped at MaxParams.
func (s *scanner) parseNumberArray() ([]float32, error) {
	if !s.consume('[') {
		return nil, fmt.Errorf("%w: expected array", ErrMalformed)
	}
	s.skipSpace()
	if s.consume(']') {
		return nil, nil
	}

	var out []float32
	for {
		s.skipSpace()
		v, err := s.parseNumber()
		if err != nil {
			return nil, err
		}
		if len(out) >= MaxParams {
			return nil, ErrTooManyParams
		}
		out = append(out, v)
		s.skipSpace()
		if s.consume(',') {
			continue
		}
		if s.consume(']') {
			return out, nil
		}
		return nil, fmt.Errorf("%w: expected ',' or ']'", ErrMalformed)
	}
}

// skipValue consumes an unknown value: string, number or flat array.
// Nested objects are not part of the protocol and read as malformed.
func (s *scanner) skipValue() error {
	if s.pos >= len(s.data) {
		return fmt.Errorf("%w: expected value", ErrMalformed)
	}
	switch s.data[s.pos] {
	case '"':
		_, err := s.parseString()
		return err
	case '[':
		_, err := s.parseNumberArray()
		return err
	default:
		_, err := s.parseNumber()
		return err
	}
}
