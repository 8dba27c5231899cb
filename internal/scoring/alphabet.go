package scoring

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StateID identifies one selectable value of a cell: either a sentinel or a
// concrete character state (any positive id).
type StateID int64

const (
	// Unscored marks a cell that has never been scored ("?").
	Unscored StateID = -1
	// NotApplicable marks a character that does not apply to the taxon ("-").
	NotApplicable StateID = 0
	// NPA is "not presently available". It exports as "?" but is not Unscored.
	NPA StateID = -2
)

// IsSentinel reports whether id is one of the exclusive non-state markers.
func IsSentinel(id StateID) bool {
	switch id {
	case Unscored, NotApplicable, NPA:
		return true
	default:
		return false
	}
}

func (id StateID) Valid() bool {
	return id > 0 || IsSentinel(id)
}

// Label is the display form used in cells and CLI output.
func (id StateID) Label() string {
	switch id {
	case Unscored:
		return "?"
	case NotApplicable:
		return "-"
	case NPA:
		return "NPA"
	default:
		return strconv.FormatInt(int64(id), 10)
	}
}

// ExportLabel is the form written to interchange formats, where NPA has no
// symbol of its own.
func (id StateID) ExportLabel() string {
	if id == NPA {
		return "?"
	}
	return id.Label()
}

func (id StateID) String() string { return id.Label() }

// MarshalJSON encodes Unscored as null, matching the remote contract where a
// null state id means "?".
func (id StateID) MarshalJSON() ([]byte, error) {
	if id == Unscored {
		return []byte("null"), nil
	}
	return json.Marshal(int64(id))
}

func (id *StateID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = Unscored
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v := StateID(n)
	if !v.Valid() {
		return fmt.Errorf("invalid state id: %d", n)
	}
	*id = v
	return nil
}

// ParseStateID accepts "?", "-", "NPA" (any case) or a positive integer.
func ParseStateID(s string) (StateID, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "?", "UNSCORED":
		return Unscored, nil
	case "-", "NA", "INAPPLICABLE":
		return NotApplicable, nil
	case "NPA":
		return NPA, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid state: %q (expected ?, -, NPA or a positive state id)", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid state: %q (state ids are positive)", s)
	}
	return StateID(n), nil
}

// ParseStateIDs parses a comma separated list, e.g. "5,7" or "?".
func ParseStateIDs(s string) ([]StateID, error) {
	var out []StateID
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := ParseStateID(part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func sentinelRank(id StateID) int {
	switch id {
	case Unscored:
		return 0
	case NotApplicable:
		return 1
	case NPA:
		return 2
	default:
		return 3
	}
}

// Less orders sentinels first ("?", "-", "NPA") and then concrete states
// ascending.
func Less(a, b StateID) bool {
	ra, rb := sentinelRank(a), sentinelRank(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}

// SortStates returns a sorted copy of ids with duplicates removed.
func SortStates(ids []StateID) []StateID {
	out := make([]StateID, 0, len(ids))
	seen := make(map[StateID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}
