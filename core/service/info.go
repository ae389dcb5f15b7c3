package service

// Info is the runtime identity the controller publishes for a service. It is embedded verbatim
// in every configuration message, and services copy it into the data messages they emit.
type Info struct {
	Topic     string  `json:"topic"`
	Apartment string  `json:"apartment"`
	Location  string  `json:"location"`
	UUID      UUID    `json:"uuid"`
	Type      string  `json:"type"`
	Sensor    *string `json:"sensor"`
	// Version is bumped each time the controller (re)starts the service.
	Version int `json:"version"`
}

// NewInfo builds the identity of a not yet started service.
func NewInfo(apartment string, entry *ServiceEntry, topic string) Info {
	return Info{
		Topic:     topic,
		Apartment: apartment,
		Location:  entry.Location(),
		UUID:      entry.UUID,
		Type:      entry.Type,
		Sensor:    nil,
		Version:   0,
	}
}
