package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// wirePayload mirrors RawWeatherResponse with pointer fields so absent and
// null values can be told apart from zeros.
type wirePayload struct {
	Name    *string `json:"name"`
	Weather []struct {
		Description *string `json:"description"`
	} `json:"weather"`
	Main *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		TempMin   *float64 `json:"temp_min"`
		TempMax   *float64 `json:"temp_max"`
		Pressure  *float64 `json:"pressure"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Dt       *int64 `json:"dt"`
	Timezone *int64 `json:"timezone"`
	Sys      *struct {
		Sunrise *int64 `json:"sunrise"`
		Sunset  *int64 `json:"sunset"`
	} `json:"sys"`
}

// KelvinToFahrenheit converts a Kelvin temperature to Fahrenheit.
func KelvinToFahrenheit(k float64) float64 {
	// float64() keeps the multiply and add from fusing into an FMA.
	return float64((k-273.15)*(9.0/5.0)) + 32
}

// ParseRawResponse decodes a current-weather payload and checks that every
// field the transform reads is present and well typed. All problems are
// reported together in a single *MalformedInputError.
func ParseRawResponse(data []byte) (RawWeatherResponse, error) {
	var wire wirePayload
	var typeErr *json.UnmarshalTypeError
	if err := json.Unmarshal(data, &wire); err != nil && !errors.As(err, &typeErr) {
		return RawWeatherResponse{}, &MalformedInputError{Err: err}
	}

	var missing []string
	need := func(ok bool, path string) {
		if !ok {
			missing = append(missing, path)
		}
	}

	need(wire.Name != nil, "name")

	switch {
	case wire.Weather == nil:
		missing = append(missing, "weather")
	case len(wire.Weather) == 0:
		missing = append(missing, "weather[0]")
	default:
		need(wire.Weather[0].Description != nil, "weather[0].description")
	}

	if wire.Main == nil {
		missing = append(missing, "main")
	} else {
		need(wire.Main.Temp != nil, "main.temp")
		need(wire.Main.FeelsLike != nil, "main.feels_like")
		need(wire.Main.TempMin != nil, "main.temp_min")
		need(wire.Main.TempMax != nil, "main.temp_max")
		need(wire.Main.Pressure != nil, "main.pressure")
		need(wire.Main.Humidity != nil, "main.humidity")
	}

	if wire.Wind == nil {
		missing = append(missing, "wind")
	} else {
		need(wire.Wind.Speed != nil, "wind.speed")
	}

	need(wire.Dt != nil, "dt")
	need(wire.Timezone != nil, "timezone")

	if wire.Sys == nil {
		missing = append(missing, "sys")
	} else {
		need(wire.Sys.Sunrise != nil, "sys.sunrise")
		need(wire.Sys.Sunset != nil, "sys.sunset")
	}

	if typeErr != nil {
		missing = appendTypeErrorPath(missing, typeErr.Field)
	}
	if len(missing) > 0 {
		var cause error
		if typeErr != nil {
			cause = typeErr
		}
		return RawWeatherResponse{}, &MalformedInputError{Fields: missing, Err: cause}
	}

	conditions := make([]Condition, len(wire.Weather))
	for i, w := range wire.Weather {
		if w.Description != nil {
			conditions[i] = Condition{Description: *w.Description}
		}
	}

	return RawWeatherResponse{
		Name:    *wire.Name,
		Weather: conditions,
		Main: MainReadings{
			Temp:      *wire.Main.Temp,
			FeelsLike: *wire.Main.FeelsLike,
			TempMin:   *wire.Main.TempMin,
			TempMax:   *wire.Main.TempMax,
			Pressure:  *wire.Main.Pressure,
			Humidity:  *wire.Main.Humidity,
		},
		Wind:     Wind{Speed: *wire.Wind.Speed},
		Dt:       *wire.Dt,
		Timezone: *wire.Timezone,
		Sys:      Sys{Sunrise: *wire.Sys.Sunrise, Sunset: *wire.Sys.Sunset},
	}, nil
}

// Transform flattens a parsed payload into a WeatherRecord. Temperatures are
// converted to Fahrenheit and timestamps are shifted into the city's local
// wall clock. The only failure is an empty weather list.
func Transform(raw RawWeatherResponse) (WeatherRecord, error) {
	if len(raw.Weather) == 0 {
		return WeatherRecord{}, &MalformedInputError{Fields: []string{"weather[0]"}}
	}

	return WeatherRecord{
		City:         raw.Name,
		Description:  raw.Weather[0].Description,
		TempF:        KelvinToFahrenheit(raw.Main.Temp),
		FeelsLikeF:   KelvinToFahrenheit(raw.Main.FeelsLike),
		MinTempF:     KelvinToFahrenheit(raw.Main.TempMin),
		MaxTempF:     KelvinToFahrenheit(raw.Main.TempMax),
		Pressure:     raw.Main.Pressure,
		Humidity:     raw.Main.Humidity,
		WindSpeed:    raw.Wind.Speed,
		TimeOfRecord: localTime(raw.Dt, raw.Timezone),
		Sunrise:      localTime(raw.Sys.Sunrise, raw.Timezone),
		Sunset:       localTime(raw.Sys.Sunset, raw.Timezone),
	}, nil
}

// TransformJSON parses a raw payload and transforms it in one step.
func TransformJSON(data []byte) (WeatherRecord, error) {
	raw, err := ParseRawResponse(data)
	if err != nil {
		return WeatherRecord{}, err
	}
	return Transform(raw)
}

// localTime shifts a Unix timestamp by a UTC offset and reads it back as UTC.
func localTime(epoch, offset int64) time.Time {
	return time.Unix(epoch+offset, 0).UTC()
}

// appendTypeErrorPath adds the path of a json type error unless a presence
// check already reported it. json omits slice indexes ("weather.description"),
// so paths are compared with indexes stripped.
func appendTypeErrorPath(paths []string, path string) []string {
	if path == "" {
		return paths
	}
	for _, p := range paths {
		if stripIndexes(p) == path {
			return paths
		}
	}
	return append(paths, path)
}

// stripIndexes turns "weather[0].description" into "weather.description".
func stripIndexes(path string) string {
	var b strings.Builder
	depth := 0
	for _, r := range path {
		switch {
		case r == '[':
			depth++
		case r == ']':
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
