package kafka

import (
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// EnsureTopicsExist creates the service's topics if they are missing.
// Creation errors for individual topics are logged but do not stop the
// remaining topics from being attempted.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err = controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			log.Printf("Error creating topic %s: %v", topic, err)
		}
	}

	// Give the broker a moment to settle new topics.
	time.Sleep(1 * time.Second)
	return nil
}
