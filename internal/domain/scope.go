package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// OutletScope says where a stock counter lives: the factory-wide pool
// (Global) or a single outlet. The zero value is Global.
type OutletScope struct {
	outletID string
}

func GlobalScope() OutletScope {
	return OutletScope{}
}

// ParseOutletScope is the only place legacy outlet markers are interpreted.
// nil, "", "0", "null" and "factory" all mean factory-wide stock.
func ParseOutletScope(raw *string) OutletScope {
	if raw == nil {
		return GlobalScope()
	}
	id := strings.TrimSpace(*raw)
	switch strings.ToLower(id) {
	case "", "0", "null", "factory":
		return GlobalScope()
	}
	return OutletScope{outletID: id}
}

func ScopeFromString(raw string) OutletScope {
	return ParseOutletScope(&raw)
}

func (s OutletScope) IsGlobal() bool {
	return s.outletID == ""
}

func (s OutletScope) OutletID() (string, bool) {
	return s.outletID, s.outletID != ""
}

// Key is a stable identifier usable in cache keys and event partitions.
func (s OutletScope) Key() string {
	if s.IsGlobal() {
		return "global"
	}
	return "outlet:" + s.outletID
}

func (s OutletScope) String() string {
	return s.Key()
}

func (s OutletScope) MarshalJSON() ([]byte, error) {
	if s.IsGlobal() {
		return []byte("null"), nil
	}
	return json.Marshal(s.outletID)
}

func (s *OutletScope) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*s = GlobalScope()
	case string:
		*s = ParseOutletScope(&v)
	case float64:
		id := strconv.FormatFloat(v, 'f', -1, 64)
		*s = ParseOutletScope(&id)
	default:
		return fmt.Errorf("outlet scope: unsupported value %s", string(data))
	}
	return nil
}
