package service

import "fmt"

const (
	configTopicPrefix  = "conf"
	dataTopicPrefix    = "data"
	failureTopicPrefix = "fail"
)

// BuildTopic creates the topic of a service instance: <apartment>/<room|global>/<type><uuid>.
func BuildTopic(apartment string, entry *ServiceEntry) string {
	return fmt.Sprintf("%s/%s/%s%s", apartment, entry.Location(), entry.Type, entry.UUID)
}

// ConfigTopic is the topic the controller publishes configuration messages for topic on.
func ConfigTopic(topic string) string {
	return configTopicPrefix + "/" + topic
}

// DataTopic is the topic a service publishes its device state on.
func DataTopic(topic string) string {
	return dataTopicPrefix + "/" + topic
}

// DataTopicFilter matches the data topics of every service in the apartment.
func DataTopicFilter(apartment string) string {
	return fmt.Sprintf("%s/%s/#", dataTopicPrefix, apartment)
}

// FailureTopics returns the failure topic filters for the apartment: the global failure topic
// plus one wildcard per monitored room.
func FailureTopics(apartment string, rooms []string) []string {
	topics := []string{fmt.Sprintf("%s/%s/%s", failureTopicPrefix, apartment, GlobalLocation)}
	for _, room := range rooms {
		topics = append(topics, fmt.Sprintf("%s/%s/%s/+", failureTopicPrefix, apartment, room))
	}
	return topics
}
