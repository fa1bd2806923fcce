// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package programmer

import "fmt"

// State is the position of a session in the programming sequence
type State int

const (
	StateIdle State = iota
	StatePortOpened
	StateDetected
	StateModelIdentified
	StateProtocolResolved
	StateBaudSwitched
	StateHostBaudSet
	StateVerified
	StateErased
	StateWritten
	StateDone
)

var stateNames = map[State]string{
	StateIdle:             "IDLE",
	StatePortOpened:       "PORT_OPENED",
	StateDetected:         "DETECTED",
	StateModelIdentified:  "MODEL_IDENTIFIED",
	StateProtocolResolved: "PROTOCOL_RESOLVED",
	StateBaudSwitched:     "BAUD_SWITCHED",
	StateHostBaudSet:      "HOST_BAUD_SET",
	StateVerified:         "VERIFIED",
	StateErased:           "ERASED",
	StateWritten:          "WRITTEN",
	StateDone:             "DONE",
}

// String returns the state name
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", int(s))
}
