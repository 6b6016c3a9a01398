// Package mqtt exchanges messages through a broker: scooters publish on
// scooter/{id}/{kind} and receive commands on scooter/{id}/command.
package mqtt

import (
	"strings"

	"scooterlab/internal/message"
)

const (
	topicPrefix = "scooter"

	// ServerFilter is the wildcard the server subscribes to.
	ServerFilter = topicPrefix + "/+/+"

	// QoS is at-most-once on every topic.
	QoS byte = 0
)

// Topic builds scooter/{id}/{kind}.
func Topic(scooterID string, kind message.Type) string {
	return topicPrefix + "/" + scooterID + "/" + string(kind)
}

// CommandTopic is where the server publishes commands for scooterID.
func CommandTopic(scooterID string) string {
	return Topic(scooterID, message.TypeCommand)
}

// ParseTopic splits scooter/{id}/{kind}.
func ParseTopic(topic string) (scooterID string, kind message.Type, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], message.Type(parts[2]), true
}
