package feed

import (
	"encoding/json"
	"fmt"
	"log"
)

// ControllerState holds the latest config values reported by the controller
// and is intentionally package-level so admin routes or tests can inspect it.
var ControllerState map[string]any

// HandleConfigReport merges a JSON config report from the controller into
// ControllerState. Controllers emit one after every accepted configuration
// command and on request.
func HandleConfigReport(payload string) error {
	var configValues map[string]any

	if err := json.Unmarshal([]byte(payload), &configValues); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %v", err)
	}

	if ControllerState == nil {
		ControllerState = make(map[string]any)
	}
	for k, v := range configValues {
		ControllerState[k] = v
	}

	log.Printf("Config Line: %+v", payload)

	return nil
}
