// Package domain models the OpenWeatherMap current-weather payload and the
// flat record the ETL writes out.
//
// # Data Source
//
// Raw payloads come from the OpenWeatherMap current weather endpoint,
// GET /data/2.5/weather?q=<city>&appid=<key>. The service requests the
// default ("standard") units, so every temperature arrives in Kelvin.
//
// # Payload Conventions
//
// Only a subset of the payload is read:
//
//	name                  city name, e.g. "Madison"
//	weather[0].description  human-readable condition, e.g. "light rain"
//	main.temp, main.feels_like, main.temp_min, main.temp_max   Kelvin
//	main.pressure          hPa at sea level
//	main.humidity          percent
//	wind.speed             metre/sec
//	dt                     Unix seconds, time of data calculation (UTC)
//	timezone               seconds of shift from UTC, e.g. -21600 for CST
//	sys.sunrise, sys.sunset  Unix seconds (UTC)
//
// weather is an ordered list; when more than one condition is reported the
// first one is the primary condition and is the only one kept.
//
// # Local Times
//
// The record carries local wall-clock times, derived by shifting the epoch
// value by the city's timezone offset and reading it back as UTC:
//
//	time.Unix(dt + timezone, 0).UTC()
//
// The resulting time.Time is tagged UTC but its fields read as the city's
// local clock. The same rule applies to dt, sys.sunrise and sys.sunset.
//
// # Malformed Input
//
// The boundary parser [ParseRawResponse] checks every field above and
// reports all missing or wrongly typed paths in one [MalformedInputError].
// Nothing downstream of the parser looks fields up dynamically.
package domain
