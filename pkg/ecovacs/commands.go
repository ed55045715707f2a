package ecovacs

const (
	cmdClean          = "clean"
	cmdCharge         = "charge"
	cmdPlaySound      = "playSound"
	cmdGetBatteryInfo = "getBatteryInfo"
	cmdGetCleanInfo   = "getCleanInfo"

	cleanActStart  = "start"
	cleanActStop   = "stop"
	cleanActPause  = "pause"
	cleanTypeAuto  = "auto"
	chargeActGo    = "go"
	locateSoundSid = 30
)

func CleanStart() Command {
	return cleanCommand(cleanActStart)
}

func CleanStop() Command {
	return cleanCommand(cleanActStop)
}

func CleanPause() Command {
	return cleanCommand(cleanActPause)
}

// Charge sends the robot back to its dock.
func Charge() Command {
	return Command{
		Name: cmdCharge,
		Payload: map[string]any{
			"act": chargeActGo,
		},
	}
}

// PlaySound makes the robot chime so it can be located.
func PlaySound() Command {
	return Command{
		Name: cmdPlaySound,
		Payload: map[string]any{
			"sid":   locateSoundSid,
			"count": 1,
		},
	}
}

// GetBatteryInfo asks the robot to publish a battery report.
func GetBatteryInfo() Command {
	return Command{Name: cmdGetBatteryInfo}
}

// GetCleanInfo asks the robot to publish a clean-state report.
func GetCleanInfo() Command {
	return Command{Name: cmdGetCleanInfo}
}

func cleanCommand(act string) Command {
	return Command{
		Name: cmdClean,
		Payload: map[string]any{
			"act":  act,
			"type": cleanTypeAuto,
		},
	}
}
