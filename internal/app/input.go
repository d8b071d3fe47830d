package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const maxLineBytes = 4 << 20

// readPayloadFile reads candidates from path, or stdin when path is "-".
func readPayloadFile(path string) ([]json.RawMessage, error) {
	if path == "-" {
		return readPayloads(os.Stdin, false)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return readPayloads(f, isNDJSON(path))
}

func isNDJSON(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		return true
	default:
		return false
	}
}

// readPayloads splits r into raw candidate payloads. JSON input may be an array of
// candidates or a single object; NDJSON input holds one candidate per non-blank line.
// Payloads are not validated here.
func readPayloads(r io.Reader, ndjson bool) ([]json.RawMessage, error) {
	if ndjson {
		return readNDJSON(r)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("input is empty")
	}

	switch trimmed[0] {
	case '[':
		var payloads []json.RawMessage
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return payloads, nil
	case '{':
		if json.Valid(trimmed) {
			return []json.RawMessage{json.RawMessage(trimmed)}, nil
		}
		// Stdin has no extension to go by, so several objects mean NDJSON.
		return readNDJSON(bytes.NewReader(trimmed))
	default:
		return nil, errors.New("expected a JSON array, object or NDJSON lines")
	}
}

func readNDJSON(r io.Reader) ([]json.RawMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var payloads []json.RawMessage
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		// Malformed lines are kept so the pipeline reports them at their index.
		payloads = append(payloads, json.RawMessage(append([]byte(nil), text...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", line+1, err)
	}
	if len(payloads) == 0 {
		return nil, errors.New("input is empty")
	}
	return payloads, nil
}
