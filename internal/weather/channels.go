// SPDX-License-Identifier: LGPL-3.0-or-later

// Package weather provides the forecast component and the canonical set of
// weather channels served by a weather connector.
package weather

import (
	"time"

	"github.com/isc-konstanz/loris/internal/core"
)

// Definition describes one canonical weather channel. Address is the field
// name of the weather provider the channel maps to.
type Definition struct {
	Key     string
	Name    string
	Address string
	Type    core.ValueType
}

// Definitions lists the canonical weather channels in a stable order.
var Definitions = []Definition{
	{Key: "ghi", Name: "Global Horizontal Irradiance [W/m^2]", Address: "solar", Type: core.TypeFloat},
	{Key: "temp_air", Name: "Air Temperature [°C]", Address: "temperature", Type: core.TypeFloat},
	{Key: "temp_dew_point", Name: "Dew Point Temperature [°C]", Address: "dew_point", Type: core.TypeFloat},
	{Key: "humidity_rel", Name: "Relative Humidity [%]", Address: "relative_humidity", Type: core.TypeFloat},
	{Key: "pressure_sea", Name: "Sea Level Pressure [hPa]", Address: "pressure_msl", Type: core.TypeFloat},
	{Key: "wind_speed", Name: "Wind Speed [km/h]", Address: "wind_speed", Type: core.TypeFloat},
	{Key: "wind_speed_gust", Name: "Wind Gust Speed [km/h]", Address: "wind_gust_speed", Type: core.TypeFloat},
	{Key: "wind_direction", Name: "Wind Direction [°]", Address: "wind_direction", Type: core.TypeFloat},
	{Key: "cloud_cover", Name: "Cloud Cover [%]", Address: "cloud_cover", Type: core.TypeFloat},
	{Key: "sunshine", Name: "Sunshine Duration [min]", Address: "sunshine", Type: core.TypeFloat},
	{Key: "visibility", Name: "Visibility [m]", Address: "visibility", Type: core.TypeFloat},
	{Key: "precipitation", Name: "Precipitation [mm]", Address: "precipitation", Type: core.TypeFloat},
	{Key: "precipitation_prob", Name: "Precipitation Probability [%]", Address: "precipitation_probability", Type: core.TypeFloat},
	{Key: "condition", Name: "Weather Condition", Address: "condition", Type: core.TypeString},
	{Key: "icon", Name: "Weather Icon", Address: "icon", Type: core.TypeString},
}

// Channels builds the canonical weather channels for a system, bound to the
// given weather connector. The sampling interval keeps the regular read
// cycle from polling the provider between forecast runs.
func Channels(systemID, connectorID string, freq time.Duration) core.Channels {
	channels := make(core.Channels, 0, len(Definitions))
	for _, def := range Definitions {
		ch := core.NewChannel(systemID+".weather."+def.Key, "weather_"+def.Key, def.Type)
		ch.Name = def.Name
		ch.Freq = freq
		ch.Connector = core.Binding{
			Connector: connectorID,
			Enabled:   true,
			Address:   def.Address,
		}
		channels = append(channels, ch)
	}
	return channels
}
