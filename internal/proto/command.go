package proto

import "fmt"

// Command is an OpenRGB SDK packet id.
type Command uint32

// Command IDs
const (
	CmdRequestControllerCount Command = 0
	CmdRequestControllerData  Command = 1
	CmdSetClientName          Command = 50
	CmdResizeZone             Command = 1000
	CmdUpdateLeds             Command = 1050
	CmdUpdateZoneLeds         Command = 1051
	CmdUpdateSingleLed        Command = 1052
	CmdSetCustomMode          Command = 1100
	CmdUpdateMode             Command = 1101
)

var commandNames = map[Command]string{
	CmdRequestControllerCount: "RequestControllerCount",
	CmdRequestControllerData:  "RequestControllerData",
	CmdSetClientName:          "SetClientName",
	CmdResizeZone:             "ResizeZone",
	CmdUpdateLeds:             "UpdateLeds",
	CmdUpdateZoneLeds:         "UpdateZoneLeds",
	CmdUpdateSingleLed:        "UpdateSingleLed",
	CmdSetCustomMode:          "SetCustomMode",
	CmdUpdateMode:             "UpdateMode",
}

// Commands returns every registered command in id order.
func Commands() []Command {
	return []Command{
		CmdRequestControllerCount,
		CmdRequestControllerData,
		CmdSetClientName,
		CmdResizeZone,
		CmdUpdateLeds,
		CmdUpdateZoneLeds,
		CmdUpdateSingleLed,
		CmdSetCustomMode,
		CmdUpdateMode,
	}
}

// ID returns the wire id of c.
func (c Command) ID() uint32 { return uint32(c) }

// Known reports whether c is in the registry.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint32(c))
}

// CommandFromID maps a wire id to its Command. Ids outside the registry
// return an *UnknownCommandError.
func CommandFromID(id uint32) (Command, error) {
	c := Command(id)
	if !c.Known() {
		return 0, &UnknownCommandError{ID: id}
	}
	return c, nil
}
