package handler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kiwari-pos/kds/internal/order"
)

// legacyCodes are the numeric statuses older displays still send.
var legacyCodes = map[int]order.Status{
	1: order.StatusNew,
	2: order.StatusPreparing,
	3: order.StatusReady,
	4: order.StatusServed,
	5: order.StatusClosed,
}

// parseStatus accepts a canonical status name or a legacy numeric code.
// Numeric codes never travel past the HTTP boundary.
func parseStatus(raw string) (order.Status, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		st, ok := legacyCodes[n]
		if !ok {
			return "", fmt.Errorf("%w: code %d", order.ErrUnknownStatus, n)
		}
		return st, nil
	}
	return order.ParseStatus(strings.ToLower(raw))
}

// parseStatusList parses a comma-separated status query value.
func parseStatusList(raw string) ([]order.Status, error) {
	if raw == "" {
		return nil, nil
	}
	var out []order.Status
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := parseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// wireStatus decodes a status sent as "ready", "3" or 3.
type wireStatus order.Status

func (s *wireStatus) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	var raw string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("status must be a string or a number")
		}
		raw = n.String()
	}
	st, err := parseStatus(raw)
	if err != nil {
		return err
	}
	*s = wireStatus(st)
	return nil
}
