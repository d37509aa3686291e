package domain

import "context"

// Location is a geocoded place.
type Location struct {
	Name    string
	Country string
	Lat     float64
	Lon     float64
}

// Found reports whether the geocoder matched anything.
func (l Location) Found() bool {
	return l.Name != "" || l.Lat != 0 || l.Lon != 0
}

// Geocoder resolves a city name to coordinates. A zero Location with a nil
// error means the provider had no match.
type Geocoder interface {
	Geocode(ctx context.Context, city string) (Location, error)
}

// Archiver persists a raw upstream payload and returns where it was written.
type Archiver interface {
	Save(api string, payload any) (string, error)
}
