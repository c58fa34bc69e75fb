package domain

import (
	"fmt"
	"strings"
	"time"
)

// Condition is one entry of the payload's weather list.
type Condition struct {
	Description string `json:"description"`
}

// MainReadings holds the main block of the payload. Temperatures are Kelvin.
type MainReadings struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	Pressure  float64 `json:"pressure"`
	Humidity  float64 `json:"humidity"`
}

// Wind holds the wind block of the payload.
type Wind struct {
	Speed float64 `json:"speed"`
}

// Sys holds the sys block of the payload.
type Sys struct {
	Sunrise int64 `json:"sunrise"`
	Sunset  int64 `json:"sunset"`
}

// RawWeatherResponse is the validated subset of a current-weather payload.
// Values are produced by ParseRawResponse; every field was present in the source.
type RawWeatherResponse struct {
	Name     string       `json:"name"`
	Weather  []Condition  `json:"weather"`
	Main     MainReadings `json:"main"`
	Wind     Wind         `json:"wind"`
	Dt       int64        `json:"dt"`
	Timezone int64        `json:"timezone"`
	Sys      Sys          `json:"sys"`
}

// WeatherRecord is the flattened, unit-converted output of one run.
type WeatherRecord struct {
	City         string    `json:"city"`
	Description  string    `json:"description"`
	TempF        float64   `json:"temperature_f"`
	FeelsLikeF   float64   `json:"feels_like_f"`
	MinTempF     float64   `json:"min_temp_f"`
	MaxTempF     float64   `json:"max_temp_f"`
	Pressure     float64   `json:"pressure"`
	Humidity     float64   `json:"humidity"`
	WindSpeed    float64   `json:"wind_speed"`
	TimeOfRecord time.Time `json:"time_of_record"`
	Sunrise      time.Time `json:"sunrise_local"`
	Sunset       time.Time `json:"sunset_local"`
}

// MalformedInputError reports a payload that lacks a required field or
// carries one with the wrong shape. Fields lists the offending JSON paths.
type MalformedInputError struct {
	Fields []string
	Err    error
}

func (e *MalformedInputError) Error() string {
	var b strings.Builder
	b.WriteString("malformed weather response")
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, ": missing or invalid %s", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}
