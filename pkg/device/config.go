package device

import (
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/dispatcher/pkg/types"
)

// Configured sets up the inverter channel based on flags.
func Configured() Channel {
	provider := lflag.String("device-provider", "givenergy", "Inverter provider to use (available: givenergy, mock)")
	baseURL := lflag.String("givenergy-base-url", givEnergyBaseURL, "GivEnergy cloud API base URL")
	serial := lflag.String("givenergy-serial", "", "Serial number of the inverter to control")
	token := lflag.String("givenergy-token", "", "GivEnergy API token")

	var c struct{ Channel }

	lflag.Do(func() {
		switch *provider {
		case "givenergy":
			if *serial == "" || *token == "" {
				panic("givenergy-serial and givenergy-token are required for the givenergy provider")
			}
			c.Channel = NewGivEnergy(*baseURL, *serial, *token)
		case "mock":
			c.Channel = NewMock(types.DeviceStatus{BatteryPercent: 50})
		default:
			panic(fmt.Sprintf("unknown device provider: %s", *provider))
		}
	})

	return &c
}
