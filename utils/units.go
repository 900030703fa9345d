package utils

const (
	// MillimetersPerMile is exact by definition of the international mile.
	MillimetersPerMile = 1609344.0
	// MetersPerMile is the number of meters in one mile.
	MetersPerMile = MillimetersPerMile / 1000.0
	// SecondsPerMinute is the number of seconds in a minute.
	SecondsPerMinute = 60
	// MinutesPerHour is the number of minutes in an hour.
	MinutesPerHour = 60
	// SecondsPerHour is the number of seconds in an hour.
	SecondsPerHour = SecondsPerMinute * MinutesPerHour
)

// MPHToMPS converts miles per hour to meters per second.
func MPHToMPS(mph float64) float64 {
	return mph * MetersPerMile / SecondsPerHour
}

// MPSToMPH converts meters per second to miles per hour.
func MPSToMPH(mps float64) float64 {
	return mps * SecondsPerHour / MetersPerMile
}
