package stream

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// repairToolArgs accumulates a truncated streamed JSON fragment for a tool
// call's arguments and attempts to parse it into a map, repairing common
// mid-stream truncations (unterminated strings, dangling commas, missing
// closing brackets) before giving up.
func repairToolArgs(accumulated string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(accumulated), &args); err == nil {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(accumulated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, err
	}
	return args, nil
}
